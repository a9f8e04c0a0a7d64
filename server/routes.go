package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes of the server
func SetupRoutes(router *gin.Engine, s *Server) {
	router.Use(RecoveryMiddleware(s.logger))
	router.Use(SecurityHeadersMiddleware(s.getenv("GIN_MODE") == "release"))
	router.Use(CORSMiddleware(LoadCORSConfig(s.getenv, s.logger)))
	router.Use(LoggingMiddleware(s.logger))
	router.Use(ErrorHandlingMiddleware())

	api := router.Group("/api")
	{
		api.Use(RequestValidationMiddleware())

		api.GET("/health", s.HealthHandler)
		api.GET("/status", s.SystemStatusHandler)
		api.GET("/models", s.ModelsHandler)
		api.GET("/questions", s.QuestionsHandler)

		api.POST("/suites", s.StartSuite)

		api.GET("/jobs", s.ListJobs)
		api.GET("/jobs/:jobId", s.GetJobStatus)
		api.POST("/jobs/:jobId/cancel", s.CancelJob)
		api.GET("/jobs/:jobId/stream", s.StreamJobProgress)

		api.GET("/history", s.ListHistory)
		api.GET("/history/:runId", s.GetHistoryRun)
		api.GET("/history/:runId/report", s.GetHistoryReport)
	}

	router.GET("/ws", s.hub.ServeWS)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Ollama Benchmark API",
			"version": Version,
			"status":  "ok",
			"endpoints": gin.H{
				"health":  "/api/health",
				"models":  "/api/models",
				"suites":  "/api/suites",
				"jobs":    "/api/jobs",
				"history": "/api/history",
				"ws":      "/ws",
			},
		})
	})

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "Not Found",
				Message: "The requested endpoint does not exist",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "The requested resource does not exist",
		})
	})
}
