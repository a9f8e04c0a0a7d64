package server

import (
	"encoding/json"
	"time"
)

// WebSocket message types
const (
	MessageTypeProgress  = "progress"
	MessageTypeStatus    = "status"
	MessageTypeError     = "error"
	MessageTypeComplete  = "complete"
	MessageTypeCancelled = "cancelled"
)

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Type      string      `json:"type"`
	JobID     string      `json:"jobId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ProgressUpdate represents suite progress information
type ProgressUpdate struct {
	JobID       string  `json:"jobId"`
	Status      string  `json:"status"`
	Model       string  `json:"model,omitempty"`
	Progress    int     `json:"progress"` // 0-100
	Completed   int     `json:"completed"`
	Total       int     `json:"total"`
	ElapsedTime float64 `json:"elapsedTime"` // seconds
	Message     string  `json:"message,omitempty"`
}

// ErrorMessage represents error information
type ErrorMessage struct {
	JobID   string `json:"jobId"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CompletionMessage represents suite completion information
type CompletionMessage struct {
	JobID        string    `json:"jobId"`
	SuiteID      string    `json:"suiteId,omitempty"`
	Status       string    `json:"status"`
	Failures     int       `json:"failures"`
	RealDuration float64   `json:"realDuration"` // seconds
	Completed    time.Time `json:"completed"`
}

// NewJobMessage converts a job snapshot to the websocket message matching
// its state.
func NewJobMessage(job Job) *WebSocketMessage {
	msg := &WebSocketMessage{JobID: job.ID, Timestamp: time.Now()}
	switch job.Status {
	case StatusCompleted:
		msg.Type = MessageTypeComplete
		completion := CompletionMessage{JobID: job.ID, Status: job.Status}
		if job.Result != nil {
			completion.SuiteID = job.Result.ID
			completion.Failures = job.Result.Failures()
			completion.RealDuration = job.Result.RealDuration
		}
		if job.CompletedAt != nil {
			completion.Completed = *job.CompletedAt
		}
		msg.Data = completion
	case StatusFailed:
		msg.Type = MessageTypeError
		msg.Data = ErrorMessage{JobID: job.ID, Error: job.Error, Message: job.Message}
	case StatusCancelled:
		msg.Type = MessageTypeCancelled
		msg.Data = ErrorMessage{JobID: job.ID, Error: job.Error, Message: job.Message}
	default:
		msg.Type = MessageTypeProgress
		msg.Data = ProgressUpdate{
			JobID:       job.ID,
			Status:      job.Status,
			Model:       job.Request.Model,
			Progress:    job.Progress,
			Completed:   job.Completed,
			Total:       job.Total,
			ElapsedTime: time.Since(job.CreatedAt).Seconds(),
			Message:     job.Message,
		}
	}
	return msg
}

// ToJSON converts a WebSocket message to JSON bytes
func (m *WebSocketMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON creates a WebSocket message from JSON bytes
func FromJSON(data []byte) (*WebSocketMessage, error) {
	var msg WebSocketMessage
	err := json.Unmarshal(data, &msg)
	return &msg, err
}
