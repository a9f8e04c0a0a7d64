package server

import (
	"time"

	"ollamabenchmark/internal/api"
	"ollamabenchmark/internal/config"
	"ollamabenchmark/internal/speed"
)

// SuiteRequest is the payload of POST /api/suites
type SuiteRequest struct {
	Model          string         `json:"model" binding:"required"`
	Questions      []string       `json:"questions"`
	MaxWorkers     int            `json:"maxWorkers" binding:"min=0,max=256"`
	MaxTurns       int            `json:"maxTurns" binding:"min=0"`
	Options        map[string]any `json:"options,omitempty"`
	Pull           bool           `json:"pull"`
	Prewarm        bool           `json:"prewarm"`
	TokenizerModel string         `json:"tokenizerModel,omitempty"`
	Monitoring     bool           `json:"monitoring"`
	// MonitoringInterval is in seconds; 0 uses the monitor default
	MonitoringInterval float64 `json:"monitoringInterval" binding:"min=0"`
}

// SuiteConfig converts the request to a runner configuration, filling in
// the defaults for omitted fields.
func (r SuiteRequest) SuiteConfig() speed.Config {
	ids := r.Questions
	if len(ids) == 0 {
		ids = config.DefaultQuestions
	}
	workers := r.MaxWorkers
	if workers == 0 {
		workers = 1
	}
	return speed.Config{
		Model:              r.Model,
		QuestionIDs:        append([]string(nil), ids...),
		MaxWorkers:         workers,
		MaxTurns:           r.MaxTurns,
		Options:            api.Options(r.Options),
		Pull:               r.Pull,
		Prewarm:            r.Prewarm,
		MonitoringEnabled:  r.Monitoring,
		MonitoringInterval: time.Duration(r.MonitoringInterval * float64(time.Second)),
		TokenizerModel:     r.TokenizerModel,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
	ActiveJobs int       `json:"activeJobs"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ModelsResponse represents the response for model discovery
type ModelsResponse struct {
	Models []api.ModelInfo `json:"models"`
	Count  int             `json:"count"`
}
