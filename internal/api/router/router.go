package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/voice-relay/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	runHandler := handler.NewRunHandler(deps)

	// Health check endpoint
	r.GET("/health", runHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/status - Live worker state
		v1.GET("/status", runHandler.Status)

		// GET /api/v1/summary - Run totals by status
		v1.GET("/summary", runHandler.Summary)

		runs := v1.Group("/runs")
		{
			// GET /api/v1/runs - List runs with filtering and pagination
			runs.GET("", runHandler.ListRuns)

			// GET /api/v1/runs/:run_id - Get run details
			runs.GET("/:run_id", runHandler.GetRun)
		}
	}

	return r
}
