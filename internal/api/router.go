package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/geotrust/internal/handler"
	"github.com/jengzang/geotrust/internal/middleware"
	"github.com/jengzang/geotrust/internal/service"
)

// Services groups what the HTTP layer calls into
type Services struct {
	Ingest      *service.IngestService
	Regions     *service.RegionService
	Visits      *service.VisitService
	Discoveries *service.DiscoveryService
	HomeWork    *service.HomeWorkService
}

// SetupRouter builds the gin engine with every route under /api/v1
func SetupRouter(mode string, svc Services, limiter *middleware.RateLimiter) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.UserHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"regions": svc.Regions.Count(),
		})
	})

	readings := handler.NewReadingHandler(svc.Ingest)
	regions := handler.NewRegionHandler(svc.Regions, svc.Discoveries)
	visits := handler.NewVisitHandler(svc.Visits)
	discoveries := handler.NewDiscoveryHandler(svc.Discoveries)
	homeWork := handler.NewHomeWorkHandler(svc.HomeWork)

	v1 := r.Group("/api/v1")
	{
		ingest := v1.Group("/readings")
		if limiter != nil {
			ingest.Use(middleware.RateLimit(limiter))
		}
		{
			ingest.POST("", readings.Ingest)
			ingest.POST("/batch", readings.IngestBatch)
			ingest.POST("/classify", readings.Classify)
		}

		v1.GET("/sessions/:id/verification", readings.VerifySession)

		regionGroup := v1.Group("/regions")
		{
			regionGroup.GET("", regions.List)
			regionGroup.GET("/containing", regions.Containing)
			regionGroup.POST("/reload", regions.Reload)
			regionGroup.GET("/:id/discoveries", regions.Discoveries)
		}

		v1.POST("/visits/:id/close", visits.Close)

		users := v1.Group("/users/:userID")
		if limiter != nil {
			users.Use(middleware.RateLimit(limiter))
		}
		{
			users.GET("/visits", visits.List)
			users.GET("/discoveries", discoveries.List)
			users.POST("/sessions/:id/end", readings.EndSession)
			users.GET("/home-work", homeWork.Estimates)
			users.POST("/home-work/analyze", homeWork.Analyze)
			users.POST("/home-work/confirm/:kind", homeWork.Confirm)
		}

		v1.GET("/tasks", homeWork.ListTasks)
		v1.GET("/tasks/:id", homeWork.GetTask)
	}

	return r
}
