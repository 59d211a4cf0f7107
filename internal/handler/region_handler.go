package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/service"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/jengzang/geotrust/pkg/response"
)

// RegionHandler handles HTTP requests for the region catalog
type RegionHandler struct {
	regions     *service.RegionService
	discoveries *service.DiscoveryService
}

// NewRegionHandler creates a new region handler
func NewRegionHandler(regions *service.RegionService, discoveries *service.DiscoveryService) *RegionHandler {
	return &RegionHandler{regions: regions, discoveries: discoveries}
}

// List returns the indexed regions
// GET /api/v1/regions?kind=area
func (h *RegionHandler) List(c *gin.Context) {
	kind := models.RegionKind(c.Query("kind"))
	if kind != "" && kind != models.RegionKindSimple && kind != models.RegionKindArea {
		response.BadRequest(c, "Invalid kind")
		return
	}
	regions := h.regions.List(kind)
	response.Success(c, gin.H{"regions": regions, "count": len(regions)})
}

// Containing returns the regions containing a point
// GET /api/v1/regions/containing?lat=..&lon=..
func (h *RegionHandler) Containing(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	p := spatial.Point{Lat: lat, Lon: lon}
	if errLat != nil || errLon != nil || !p.Valid() {
		response.BadRequest(c, "Invalid lat/lon")
		return
	}
	response.Success(c, h.regions.Containing(p))
}

// Reload rebuilds the index from the catalog
// POST /api/v1/regions/reload
func (h *RegionHandler) Reload(c *gin.Context) {
	report, err := h.regions.Reload(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}

// Discoveries lists every user's discovery of a region
// GET /api/v1/regions/:id/discoveries
func (h *RegionHandler) Discoveries(c *gin.Context) {
	discoveries, err := h.discoveries.ForRegion(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, discoveries)
}
