package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/service"
	"github.com/jengzang/geotrust/pkg/response"
)

// HomeWorkHandler handles HTTP requests for home/work estimates and their
// analysis tasks
type HomeWorkHandler struct {
	service *service.HomeWorkService
}

// NewHomeWorkHandler creates a new home/work handler
func NewHomeWorkHandler(service *service.HomeWorkService) *HomeWorkHandler {
	return &HomeWorkHandler{service: service}
}

// AnalyzeRequest selects the analysis window. Zero values use the defaults.
type AnalyzeRequest struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Wait        bool      `json:"wait"`
}

// Estimates lists a user's home/work estimates
// GET /api/v1/users/:userID/home-work
func (h *HomeWorkHandler) Estimates(c *gin.Context) {
	userID, ok := int64Param(c, "userID")
	if !ok {
		return
	}
	estimates, err := h.service.Estimates(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, estimates)
}

// Analyze starts a home/work analysis. With wait set the request blocks
// until it finishes.
// POST /api/v1/users/:userID/home-work/analyze
func (h *HomeWorkHandler) Analyze(c *gin.Context) {
	userID, ok := int64Param(c, "userID")
	if !ok {
		return
	}
	var req AnalyzeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
	}

	ctx := c.Request.Context()
	if req.Wait {
		task, estimates, err := h.service.Analyze(ctx, userID, req.WindowStart, req.WindowEnd)
		if err != nil {
			response.FromError(c, err)
			return
		}
		response.Success(c, gin.H{"task": task, "estimates": estimates})
		return
	}

	task, err := h.service.StartAnalysis(ctx, userID, req.WindowStart, req.WindowEnd)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Accepted(c, task)
}

// Confirm marks an estimate as confirmed by the user
// POST /api/v1/users/:userID/home-work/confirm/:kind
func (h *HomeWorkHandler) Confirm(c *gin.Context) {
	userID, ok := int64Param(c, "userID")
	if !ok {
		return
	}
	kind := models.LocationKind(c.Param("kind"))
	if kind != models.LocationKindHome && kind != models.LocationKindWork {
		response.BadRequest(c, "Invalid kind")
		return
	}

	found, err := h.service.Confirm(c.Request.Context(), userID, kind)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if !found {
		response.NotFound(c, "No "+string(kind)+" estimate")
		return
	}
	response.Success(c, gin.H{"user_id": userID, "kind": kind, "confirmed": true})
}

// GetTask retrieves a task by ID
// GET /api/v1/tasks/:id
func (h *HomeWorkHandler) GetTask(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	task, err := h.service.Task(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, task)
}

// ListTasks retrieves home/work tasks
// GET /api/v1/tasks
func (h *HomeWorkHandler) ListTasks(c *gin.Context) {
	status := c.Query("status")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	tasks, err := h.service.Tasks(c.Request.Context(), status, limit, offset)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"tasks":  tasks,
		"limit":  limit,
		"offset": offset,
	})
}
