package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"ollamabenchmark/internal/logging"
)

// StreamJobProgress streams job updates via SSE until the job finishes or
// the client disconnects
func (s *Server) StreamJobProgress(c *gin.Context) {
	jobID := c.Param("jobId")

	// register before reading the state so no update is missed
	updates := s.jobs.RegisterListener(jobID)
	defer s.jobs.UnregisterListener(jobID, updates)

	job, exists := s.jobs.GetJob(jobID)
	if !exists {
		c.JSON(404, gin.H{"error": "Job not found"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Expose-Headers", "Content-Type")

	c.Writer.WriteString(job.ToSSEMessage())
	c.Writer.Flush()
	if job.Finished() {
		return
	}

	ctx := c.Request.Context()
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.DebugWithContext(&logging.LogContext{JobID: jobID}, "SSE connection closed for job")
			return
		case <-ticker.C:
			c.Writer.WriteString("data: {\"type\":\"ping\",\"timestamp\":\"" + time.Now().Format(time.RFC3339) + "\"}\n\n")
			c.Writer.Flush()
		case updated, ok := <-updates:
			if !ok {
				return
			}
			c.Writer.WriteString(updated.ToSSEMessage())
			c.Writer.Flush()
			if updated.Finished() {
				return
			}
		}
	}
}
