package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/service"
	"github.com/jengzang/geotrust/pkg/response"
)

// DiscoveryHandler handles HTTP requests for area discoveries
type DiscoveryHandler struct {
	service *service.DiscoveryService
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(service *service.DiscoveryService) *DiscoveryHandler {
	return &DiscoveryHandler{service: service}
}

// List returns a page of a user's discoveries
// GET /api/v1/users/:userID/discoveries
func (h *DiscoveryHandler) List(c *gin.Context) {
	userID, ok := int64Param(c, "userID")
	if !ok {
		return
	}
	var filter models.DiscoveryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	if filter.Status != "" && models.DiscoveryStatus(filter.Status).Rank() == 0 {
		response.BadRequest(c, "Invalid status")
		return
	}
	filter.Normalize()

	discoveries, total, err := h.service.ForUser(c.Request.Context(), userID, filter)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, response.Page{Items: discoveries, Total: total, Page: filter.Page, PageSize: filter.PageSize})
}
