// Package genai provides GenAI-enhanced operations using the OpenAI API.
//
// It wraps the OpenAI chat completion service behind a small interface so
// the interview flow can be tested with deterministic fakes. Two call paths
// are exposed: a deterministic one (temperature 0) used for classification
// and a creative one used for follow-up question generation.
package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default model and temperature settings, matching the behavior the
// interview was tuned against.
const (
	DefaultModel = openai.ChatModelGPT4o
	// DefaultClassifyTemperature keeps criterion verdicts deterministic.
	DefaultClassifyTemperature = 0.0
	// DefaultGenerateTemperature leaves room for natural follow-up phrasing.
	DefaultGenerateTemperature = 0.7
)

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey        string
	ClassifyModel string
	GenerateModel string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding $OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithClassifyModel sets the model used for deterministic classification calls.
func WithClassifyModel(model string) Option {
	return func(o *Opts) { o.ClassifyModel = model }
}

// WithGenerateModel sets the model used for follow-up generation calls.
func WithGenerateModel(model string) Option {
	return func(o *Opts) { o.GenerateModel = model }
}

// ClientInterface defines the chat completion operations the flow depends on.
type ClientInterface interface {
	// GenerateWithMessages runs a creative chat completion and returns the text content.
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	// ClassifyWithMessages runs a deterministic chat completion and returns the text content.
	ClassifyWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	client        openai.Client
	classifyModel string
	generateModel string
}

// NewClient initializes a new GenAI client. The API key comes from options
// or the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("GenAI client API key not set")
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	classifyModel := cfg.ClassifyModel
	if classifyModel == "" {
		classifyModel = DefaultModel
	}
	generateModel := cfg.GenerateModel
	if generateModel == "" {
		generateModel = DefaultModel
	}

	slog.Debug("GenAI client initialized", "classifyModel", classifyModel, "generateModel", generateModel)
	return &Client{
		client:        openai.NewClient(option.WithAPIKey(apiKey)),
		classifyModel: classifyModel,
		generateModel: generateModel,
	}, nil
}

// GenerateWithMessages runs a chat completion with the generation model and
// creative temperature.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return c.complete(ctx, c.generateModel, DefaultGenerateTemperature, messages)
}

// ClassifyWithMessages runs a chat completion with the classification model
// at temperature 0 so verdicts are reproducible.
func (c *Client) ClassifyWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	return c.complete(ctx, c.classifyModel, DefaultClassifyTemperature, messages)
}

func (c *Client) complete(ctx context.Context, model string, temperature float64, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    messages,
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		slog.Error("GenAI chat completion failed", "error", err, "model", model)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("GenAI chat completion returned no choices", "model", model)
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
