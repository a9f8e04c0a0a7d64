package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to an OpenAI-compatible endpoint (Ollama serves one under /v1).
// Durations are measured client side: the prompt evaluation is the time to the
// first streamed token and the evaluation is the rest of the stream.
type OpenAIClient struct {
	config *ClientConfig
	client *openai.Client
}

// NewOpenAIClient creates a streaming OpenAI-compatible client.
func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	config = config.withDefaults()

	oc := openai.DefaultConfig(config.APIKey)
	baseURL := config.Host
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}
	oc.BaseURL = baseURL
	oc.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &OpenAIClient{
		config: config,
		client: openai.NewClientWithConfig(oc),
	}
}

// Chat sends the conversation, processes the response stream and returns stats on it.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	start := time.Now()

	var (
		timeToFirstToken time.Duration
		firstTokenSeen   bool
		lastUsage        *openai.Usage
		content          strings.Builder
		estimatedTokens  int
	)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	completion := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	applyOptions(&completion, req.Options)

	stream, err := c.client.CreateChatCompletionStream(ctx, completion)
	if err != nil {
		return nil, classifyOpenAIError("chat completion request failed", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classifyOpenAIError("stream error", err)
		}

		if len(resp.Choices) > 0 {
			delta := resp.Choices[0].Delta.Content
			if !firstTokenSeen && strings.TrimSpace(delta) != "" {
				timeToFirstToken = time.Since(start)
				firstTokenSeen = true
			}
			if delta != "" {
				content.WriteString(delta)
				estimatedTokens += estimateTokens(delta)
			}
		}

		if resp.Usage != nil {
			lastUsage = resp.Usage
		}
	}
	total := time.Since(start)

	result := &ChatResult{
		Message:            Message{Role: RoleAssistant, Content: content.String()},
		TotalDuration:      total,
		PromptEvalDuration: timeToFirstToken,
		EvalDuration:       total - timeToFirstToken,
		EvalCount:          estimatedTokens,
	}
	if lastUsage != nil {
		result.PromptEvalCount = lastUsage.PromptTokens
		result.EvalCount = lastUsage.CompletionTokens
	} else {
		c.config.Logger.Debug("no usage reported by %s, using estimated completion tokens", c.config.Host)
	}
	return result, nil
}

// Pull is not part of the OpenAI protocol; the model has to be present already.
func (c *OpenAIClient) Pull(ctx context.Context, model string) error {
	c.config.Logger.Warn("pull is not supported by the openai api, skipping %s", model)
	return nil
}

// Ping verifies that the endpoint answers a model listing.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// ListModels retrieves the models exposed on /v1/models.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	modelList, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, classifyOpenAIError("failed to list models", err)
	}

	models := make([]ModelInfo, 0, len(modelList.Models))
	for _, m := range modelList.Models {
		models = append(models, ModelInfo{
			Name:       m.ID,
			ModifiedAt: time.Unix(m.CreatedAt, 0).UTC(),
		})
	}
	return models, nil
}

// applyOptions maps the Ollama options that have an OpenAI equivalent.
// The rest (top_k, repeat_penalty, mirostat, ...) are not sent: the OpenAI
// penalties are additive and do not share their scale.
func applyOptions(req *openai.ChatCompletionRequest, opts Options) {
	for key, value := range opts {
		switch key {
		case "temperature":
			if f, ok := toFloat(value); ok {
				req.Temperature = float32(f)
			}
		case "top_p":
			if f, ok := toFloat(value); ok {
				req.TopP = float32(f)
			}
		case "seed":
			if f, ok := toFloat(value); ok {
				seed := int(f)
				req.Seed = &seed
			}
		case "num_predict":
			if f, ok := toFloat(value); ok {
				// Add the deprecated `MaxTokens` for backward compatibility with some older API servers.
				req.MaxTokens = int(f)
				req.MaxCompletionTokens = int(f)
			}
		case "stop":
			switch s := value.(type) {
			case string:
				req.Stop = []string{s}
			case []string:
				req.Stop = s
			}
		}
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func classifyOpenAIError(message string, err error) *ClientError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusNotFound {
			return &ClientError{Kind: KindModelNotFound, Message: message, Cause: err}
		}
		return &ClientError{Kind: KindInvalidResponse, Message: message, Cause: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusNotFound {
			return &ClientError{Kind: KindModelNotFound, Message: message, Cause: err}
		}
		return &ClientError{Kind: KindInvalidResponse, Message: fmt.Sprintf("%s (status %d)", message, reqErr.HTTPStatusCode), Cause: err}
	}
	return transportError(message, err)
}

func estimateTokens(content string) int {
	content = strings.TrimSpace(content)
	if len(content) == 0 {
		return 0
	}

	words := strings.Fields(content)
	wordCount := len(words)

	// ~1.3 tokens per word accounts for subword tokenization
	if wordCount > 0 {
		return max(1, int(float64(wordCount)*1.3))
	}
	// ~3 characters per token for punctuation and single chars
	return max(1, int(float64(len(content))/3.0))
}
