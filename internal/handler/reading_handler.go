package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/service"
	"github.com/jengzang/geotrust/pkg/response"
)

// ReadingHandler handles HTTP requests for location readings
type ReadingHandler struct {
	service *service.IngestService
}

// NewReadingHandler creates a new reading handler
func NewReadingHandler(service *service.IngestService) *ReadingHandler {
	return &ReadingHandler{service: service}
}

// BatchRequest is an offline sync batch of one user
type BatchRequest struct {
	UserID   int64            `json:"user_id" binding:"required"`
	Readings []models.Reading `json:"readings" binding:"required,min=1"`
}

// Ingest runs one reading through the live pipeline
// POST /api/v1/readings
func (h *ReadingHandler) Ingest(c *gin.Context) {
	var reading models.Reading
	if err := c.ShouldBindJSON(&reading); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.service.Ingest(c.Request.Context(), reading)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// IngestBatch replays an offline batch
// POST /api/v1/readings/batch
func (h *ReadingHandler) IngestBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.service.IngestBatch(c.Request.Context(), req.UserID, req.Readings)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// Classify scores a reading without storing it
// POST /api/v1/readings/classify
func (h *ReadingHandler) Classify(c *gin.Context) {
	var reading models.Reading
	if err := c.ShouldBindJSON(&reading); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	classified, err := h.service.Classify(c.Request.Context(), reading)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, classified)
}

// VerifySession re-scores a stored session
// GET /api/v1/sessions/:id/verification
func (h *ReadingHandler) VerifySession(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}

	report, err := h.service.VerifySession(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}

// EndSession drops a finished session's trajectory buffer
// POST /api/v1/users/:userID/sessions/:id/end
func (h *ReadingHandler) EndSession(c *gin.Context) {
	userID, ok := int64Param(c, "userID")
	if !ok {
		return
	}
	sessionID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	h.service.EndSession(userID, sessionID)
	response.Success(c, gin.H{"user_id": userID, "session_id": sessionID})
}
