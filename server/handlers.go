package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ollamabenchmark/internal/api"
	"ollamabenchmark/internal/logging"
	"ollamabenchmark/internal/speed"
	"ollamabenchmark/internal/store"
)

// HealthHandler returns server health status
func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    Version,
		Timestamp:  time.Now(),
		ActiveJobs: s.jobs.GetActiveJobCount(),
	})
}

// SystemStatusHandler returns the global job status
func (s *Server) SystemStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.jobs.GetSystemStatus())
}

// ModelsHandler lists the models of the serving endpoint
func (s *Server) ModelsHandler(c *gin.Context) {
	models, err := s.client.ListModels(c.Request.Context())
	if err != nil {
		status := http.StatusBadGateway
		if api.KindOf(err) == api.KindTimeout {
			status = http.StatusGatewayTimeout
		}
		s.logger.Error("Model discovery failed: %v", err)
		c.JSON(status, ErrorResponse{
			Error:   http.StatusText(status),
			Message: err.Error(),
			Code:    status,
		})
		return
	}
	if models == nil {
		models = []api.ModelInfo{}
	}
	c.JSON(http.StatusOK, ModelsResponse{Models: models, Count: len(models)})
}

// QuestionsHandler lists the question ids available to suites
func (s *Server) QuestionsHandler(c *gin.Context) {
	ids := s.questions.IDs()
	c.JSON(http.StatusOK, gin.H{"questions": ids, "count": len(ids)})
}

// StartSuite starts a new suite job and returns the job ID
func (s *Server) StartSuite(c *gin.Context) {
	var request SuiteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		s.logger.Warn("StartSuite failed to bind JSON: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	job, err := s.startSuite(request)
	if err != nil {
		s.logger.Warn("StartSuite rejected: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid suite",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}
	s.logger.InfoWithContext(&logging.LogContext{JobID: job.ID, Model: request.Model}, "Started suite job with %d tasks", job.Total)

	c.JSON(http.StatusAccepted, gin.H{
		"jobId":   job.ID,
		"message": "Suite job started successfully",
		"status":  "started",
		"sse": gin.H{
			"url":     "/api/jobs/" + job.ID + "/stream",
			"message": "Connect to SSE endpoint for real-time progress updates",
		},
	})
}

// GetJobStatus returns the current status of a job
func (s *Server) GetJobStatus(c *gin.Context) {
	job, exists := s.jobs.GetJob(c.Param("jobId"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs returns all jobs
func (s *Server) ListJobs(c *gin.Context) {
	jobs := s.jobs.ListJobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJob cancels a running job
func (s *Server) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")

	if s.jobs.CancelJob(jobID) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Job cancelled successfully",
			"jobId":   jobID,
			"status":  StatusCancelled,
		})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error":  "Job not found or not cancellable",
		"jobId":  jobID,
		"status": "not_found",
	})
}

// ListHistory returns stored run summaries, newest first. Supports the
// model and limit query parameters.
func (s *Server) ListHistory(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Not Found",
			Message: "No history store configured",
			Code:    http.StatusNotFound,
		})
		return
	}

	opts := store.ListOptions{Model: c.Query("model")}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request",
				Message: "limit must be a non-negative integer",
				Code:    http.StatusBadRequest,
			})
			return
		}
		opts.Limit = n
	}

	runs, err := s.store.List(c.Request.Context(), opts)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetHistoryRun returns one stored run
func (s *Server) GetHistoryRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No history store configured"})
		return
	}

	run, err := s.store.Get(c.Request.Context(), c.Param("runId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetHistoryReport renders a stored run as the plain text report
func (s *Server) GetHistoryReport(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No history store configured"})
		return
	}

	run, err := s.store.Get(c.Request.Context(), c.Param("runId"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}
	if err != nil {
		c.Error(err)
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	if _, err := (&speed.Report{Run: run, Logger: s.logger}).WriteTo(c.Writer); err != nil {
		s.logger.Error("Failed to write report: %v", err)
	}
}
