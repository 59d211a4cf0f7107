package response

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	aspatial "github.com/jengzang/geotrust/internal/analysis/spatial"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/repository"
	"github.com/jengzang/geotrust/internal/service"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Response represents a standard API response
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Page wraps a page of results with its total count
type Page struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

var statusBySentinel = []struct {
	err    error
	status int
}{
	{models.ErrReadingOutOfRange, http.StatusBadRequest},
	{spatial.ErrInvalidGeometry, http.StatusBadRequest},
	{service.ErrBatchUserMismatch, http.StatusBadRequest},
	{service.ErrInvalidWindow, http.StatusBadRequest},
	{aspatial.ErrVisitNotFound, http.StatusNotFound},
	{repository.ErrTaskNotFound, http.StatusNotFound},
	{aspatial.ErrVisitClosed, http.StatusConflict},
	{aspatial.ErrVisitAlreadyOpen, http.StatusConflict},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Accepted sends a 202 response for work continuing in the background
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{
		Code:    0,
		Message: "accepted",
		Data:    data,
	})
}

// Error sends an error response
func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest sends a 400 bad request response
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// NotFound sends a 404 not found response
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

// InternalError sends a 500 internal server error response
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

// StatusFor maps a domain error onto an HTTP status code
func StatusFor(err error) int {
	for _, s := range statusBySentinel {
		if eris.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// FromError sends the response matching err. Server errors are logged and
// their details withheld.
func FromError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("error", eris.ToString(err, true)),
		)
		_ = c.Error(err)
		Error(c, status, http.StatusText(status))
		return
	}
	Error(c, status, err.Error())
}
