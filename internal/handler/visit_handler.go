package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/service"
	"github.com/jengzang/geotrust/pkg/response"
)

// VisitHandler handles HTTP requests for visits
type VisitHandler struct {
	service *service.VisitService
}

// NewVisitHandler creates a new visit handler
func NewVisitHandler(service *service.VisitService) *VisitHandler {
	return &VisitHandler{service: service}
}

// CloseVisitRequest optionally fixes the end time of a visit
type CloseVisitRequest struct {
	EndedAt time.Time `json:"ended_at"`
}

// List returns a page of a user's visits
// GET /api/v1/users/:userID/visits
func (h *VisitHandler) List(c *gin.Context) {
	userID, ok := int64Param(c, "userID")
	if !ok {
		return
	}
	var filter models.VisitFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	filter.Normalize()

	visits, total, err := h.service.List(c.Request.Context(), userID, filter)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, response.Page{Items: visits, Total: total, Page: filter.Page, PageSize: filter.PageSize})
}

// Close ends an open visit
// POST /api/v1/visits/:id/close
func (h *VisitHandler) Close(c *gin.Context) {
	var req CloseVisitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
	}

	visit, err := h.service.Close(c.Request.Context(), c.Param("id"), req.EndedAt)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, visit)
}
