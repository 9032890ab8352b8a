// Package genai wraps the OpenAI-compatible chat completion API used for
// generating replies. The default endpoint is OpenRouter, which speaks the
// OpenAI wire protocol.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/haven-labs/mindhaven/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default completion configuration.
const (
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultModel       = "x-ai/grok-4-fast:free"
	DefaultTemperature = 0.6
)

// ClientInterface defines the completion operations the conversation
// controller depends on. Implemented by Client and by test fakes.
type ClientInterface interface {
	// Complete performs one non-streaming completion request.
	Complete(ctx context.Context, req models.CompletionRequest) (string, error)

	// Stream opens a streaming completion. The returned channel yields text
	// deltas in order and is closed after the final delta; a delta with a
	// non-nil Err terminates the stream.
	Stream(ctx context.Context, req models.CompletionRequest) (<-chan models.StreamDelta, error)
}

// Opts holds configuration options for the completion client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

// Option defines a configuration option for the completion client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL sets the API base URL (e.g. an OpenRouter or proxy endpoint).
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the completion model identifier.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	oa          openai.Client
	model       string
	temperature float64
}

// NewClient initializes a completion client. The API key falls back to the
// OPENROUTER_API_KEY and OPENAI_API_KEY environment variables.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion API key not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	slog.Debug("genai.NewClient: completion client configured", "model", cfg.Model, "baseURL", cfg.BaseURL, "temperature", cfg.Temperature)
	return &Client{
		oa:          openai.NewClient(reqOpts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// buildParams converts a CompletionRequest into OpenAI chat parameters.
func (c *Client) buildParams(req models.CompletionRequest) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	return params
}

// Complete performs one non-streaming completion request.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	slog.Debug("genai.Complete: sending completion request", "model", c.model, "messages", len(req.Messages), "maxTokens", req.MaxTokens)
	resp, err := c.oa.Chat.Completions.New(ctx, c.buildParams(req))
	if err != nil {
		slog.Error("genai.Complete: completion request failed", "error", err, "model", c.model)
		return "", fmt.Errorf("%w: %v", models.ErrUpstreamService, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		slog.Warn("genai.Complete: completion returned no usable text", "model", c.model)
		return "", models.ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream opens a streaming completion and fans chunks into a delta channel.
// The goroutine exits when the upstream stream ends or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, req models.CompletionRequest) (<-chan models.StreamDelta, error) {
	slog.Debug("genai.Stream: opening completion stream", "model", c.model, "messages", len(req.Messages), "maxTokens", req.MaxTokens)
	stream := c.oa.Chat.Completions.NewStreaming(ctx, c.buildParams(req))

	out := make(chan models.StreamDelta)
	go func() {
		defer close(out)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			select {
			case out <- models.StreamDelta{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			slog.Error("genai.Stream: completion stream failed", "error", err, "model", c.model)
			select {
			case out <- models.StreamDelta{Err: fmt.Errorf("%w: %v", models.ErrUpstreamService, err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}
