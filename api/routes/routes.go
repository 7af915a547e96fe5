package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feichai0017/migration-orchestrator/api/handlers"
	"github.com/feichai0017/migration-orchestrator/api/middleware"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
)

// SetupRoutes registers every route on r.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, log logger.Logger) {
	r.Use(middleware.CORS())
	r.Use(middleware.RequestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")

	migrations := v1.Group("/migrations")
	{
		migrations.POST("/plan", h.Migration.Plan)
		migrations.POST("/runs", h.Migration.StartRun)
		migrations.GET("/runs/:runId", h.Migration.GetStatus)
		migrations.GET("/runs/:runId/report", h.Migration.GetReport)
		migrations.DELETE("/runs/:runId", h.Migration.CancelRun)
		migrations.DELETE("/reports", h.Migration.CleanupReports)
	}

	v1.GET("/objects", h.Migration.ListObjects)
	v1.GET("/objects/:objectId/impact", h.Migration.Impact)
	v1.GET("/graph/validate", h.Migration.ValidateGraph)

	events := v1.Group("/events")
	{
		events.GET("", h.Events.Stream)
		events.GET("/history", h.Events.History)
	}
}
