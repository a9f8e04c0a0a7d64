package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ollamabenchmark/internal/logging"
)

const (
	DefaultHost    = "http://127.0.0.1:11434"
	DefaultTimeout = 300 * time.Second
)

// ClientConfig holds configuration options for the model clients.
type ClientConfig struct {
	// Host is the serving endpoint base URL (default: http://127.0.0.1:11434)
	Host string

	// Timeout for a single request, including the full generation (default: 300s)
	Timeout time.Duration

	// APIKey is sent as a bearer token when set
	APIKey string

	Logger *logging.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Host:    DefaultHost,
		Timeout: DefaultTimeout,
	}
}

func (c *ClientConfig) withDefaults() *ClientConfig {
	out := DefaultConfig()
	if c == nil {
		out.Logger = logging.Discard()
		return out
	}
	*out = *c
	if out.Host == "" {
		out.Host = DefaultHost
	}
	out.Host = strings.TrimRight(out.Host, "/")
	if !strings.Contains(out.Host, "://") {
		out.Host = "http://" + out.Host
	}
	if out.Timeout == 0 {
		out.Timeout = DefaultTimeout
	}
	if out.Logger == nil {
		out.Logger = logging.Discard()
	}
	return out
}

// OllamaClient talks the native Ollama HTTP protocol.
// It is safe for concurrent use.
type OllamaClient struct {
	config     *ClientConfig
	httpClient *http.Client
	// pullClient has no overall timeout; a download is bounded only by the context.
	pullClient *http.Client
}

// NewOllamaClient creates a client for the native protocol.
func NewOllamaClient(config *ClientConfig) *OllamaClient {
	config = config.withDefaults()
	return &OllamaClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		pullClient: &http.Client{},
	}
}

// Host returns the normalized base URL.
func (c *OllamaClient) Host() string {
	return c.config.Host
}

// Chat sends one non-streaming exchange to /api/chat.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	body := chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   false,
		Options:  req.Options,
	}

	var resp chatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Done {
		return nil, &ClientError{Kind: KindInvalidResponse, Message: "chat response not marked done"}
	}

	c.config.Logger.DebugWithFields("chat exchange completed", map[string]interface{}{
		"model":      req.Model,
		"eval_count": resp.EvalCount,
		"turns":      len(req.Messages),
	})

	return &ChatResult{
		Message:            resp.Message,
		TotalDuration:      time.Duration(resp.TotalDuration),
		LoadDuration:       time.Duration(resp.LoadDuration),
		PromptEvalDuration: time.Duration(resp.PromptEvalDuration),
		EvalDuration:       time.Duration(resp.EvalDuration),
		PromptEvalCount:    resp.PromptEvalCount,
		EvalCount:          resp.EvalCount,
	}, nil
}

// Pull downloads the model, following the streamed progress of /api/pull.
// It is a no-op on the server side when the model is already present.
func (c *OllamaClient) Pull(ctx context.Context, model string) error {
	resp, err := c.send(ctx, c.pullClient, http.MethodPost, "/api/pull", pullRequest{Model: model, Stream: true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var last pullResponse
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var progress pullResponse
		if err := json.Unmarshal(line, &progress); err != nil {
			return &ClientError{Kind: KindInvalidResponse, Message: "failed to decode pull progress", Cause: err}
		}
		if progress.Error != "" {
			return &ClientError{Kind: KindInvalidResponse, Message: progress.Error}
		}
		if progress.Status != last.Status {
			c.config.Logger.Debug("pull %s: %s", model, progress.Status)
		}
		last = progress
	}
	if err := scanner.Err(); err != nil {
		return transportError("reading pull progress", err)
	}
	if last.Status != "success" {
		return &ClientError{Kind: KindInvalidResponse, Message: fmt.Sprintf("pull of %s ended with status %q", model, last.Status)}
	}
	return nil
}

// Ping verifies that the endpoint is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/version", nil, nil)
}

// ListModels retrieves all locally available models from /api/tags.
func (c *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var resp listModelsResponse
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// RunningModels retrieves the models loaded in memory from /api/ps.
func (c *OllamaClient) RunningModels(ctx context.Context) ([]RunningModel, error) {
	var resp runningModelsResponse
	if err := c.do(ctx, http.MethodGet, "/api/ps", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

func (c *OllamaClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	resp, err := c.send(ctx, c.httpClient, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if isTimeout(err) {
			return transportError("reading response", err)
		}
		return &ClientError{Kind: KindInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// send performs the request and returns the response when the status is 200.
// The caller closes the body.
func (c *OllamaClient) send(ctx context.Context, client *http.Client, method, path string, in interface{}) (*http.Response, error) {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return nil, &ClientError{Kind: KindUnknown, Message: "failed to marshal request", Cause: err}
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.Host+path, reader)
	if err != nil {
		return nil, &ClientError{Kind: KindConnection, Message: "failed to create request", Cause: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, transportError(fmt.Sprintf("%s %s failed", method, path), err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		message := fmt.Sprintf("%s %s: %s", method, path, resp.Status)
		var se serverError
		if err := json.NewDecoder(resp.Body).Decode(&se); err == nil && se.Error != "" {
			message = se.Error
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, &ClientError{Kind: KindModelNotFound, Message: message}
		}
		return nil, &ClientError{Kind: KindInvalidResponse, Message: message}
	}
	return resp, nil
}
