package api

import (
	"context"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Client is the opaque chat RPC consumed by the suite runner.
// Implementations must be safe for concurrent use.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
	Pull(ctx context.Context, model string) error
	Ping(ctx context.Context) error
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// RunningModelLister reports the models currently loaded by the serving endpoint.
type RunningModelLister interface {
	RunningModels(ctx context.Context) ([]RunningModel, error)
}

// Message is one entry of the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are generation parameters passed verbatim to the serving endpoint.
type Options map[string]any

// ChatRequest is one conversational exchange. Messages carry the whole
// conversation so far, the last entry being the new user turn.
type ChatRequest struct {
	Model    string
	Messages []Message
	Options  Options
}

// ChatResult holds the reply and the server reported counters of one exchange.
type ChatResult struct {
	Message            Message
	TotalDuration      time.Duration
	LoadDuration       time.Duration
	PromptEvalDuration time.Duration
	EvalDuration       time.Duration
	PromptEvalCount    int
	EvalCount          int
}

// ModelInfo describes a model available on the serving endpoint.
type ModelInfo struct {
	Name       string       `json:"name" yaml:"name"`
	ModifiedAt time.Time    `json:"modified_at" yaml:"modified-at"`
	Size       int64        `json:"size" yaml:"size"`
	Digest     string       `json:"digest" yaml:"digest"`
	Details    ModelDetails `json:"details" yaml:"details"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string `json:"format,omitempty" yaml:"format,omitempty"`
	Family            string `json:"family,omitempty" yaml:"family,omitempty"`
	ParameterSize     string `json:"parameter_size,omitempty" yaml:"parameter-size,omitempty"`
	QuantizationLevel string `json:"quantization_level,omitempty" yaml:"quantization-level,omitempty"`
}

// RunningModel is an entry of /api/ps.
type RunningModel struct {
	Name      string    `json:"name" yaml:"name"`
	Size      int64     `json:"size" yaml:"size"`
	SizeVRAM  int64     `json:"size_vram" yaml:"size-vram"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires-at"`
}

// wire types of the native protocol

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  Options   `json:"options,omitempty"`
}

type chatResponse struct {
	Model              string  `json:"model"`
	Message            Message `json:"message"`
	Done               bool    `json:"done"`
	TotalDuration      int64   `json:"total_duration"`
	LoadDuration       int64   `json:"load_duration"`
	PromptEvalCount    int     `json:"prompt_eval_count"`
	PromptEvalDuration int64   `json:"prompt_eval_duration"`
	EvalCount          int     `json:"eval_count"`
	EvalDuration       int64   `json:"eval_duration"`
}

type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type pullResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

type listModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

type runningModelsResponse struct {
	Models []RunningModel `json:"models"`
}

type serverError struct {
	Error string `json:"error"`
}
