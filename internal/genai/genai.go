// Package genai provides optional GenAI-polished suggestion text using the
// OpenAI API.
//
// The engine works fully without it; when configured, it rewrites a moment's
// suggestion line before dispatch. Failures fall back to the static phrasing.
package genai

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const systemPrompt = "You write one-line, friendly, actionable phone tips. " +
	"Reply with a single sentence under 120 characters and no quotes."

// completionService defines the minimal chat-completion surface used by the
// client, kept narrow so tests can substitute a fake.
type completionService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// Client wraps the OpenAI chat completion service for suggestion phrasing.
type Client struct {
	completions completionService
}

// NewClient initializes a GenAI client, falling back to the OPENAI_API_KEY
// environment variable when no key option is provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{completions: &cli.Chat.Completions}, nil
}

// PolishSuggestion rewrites a suggestion line in context of the moment title.
func (c *Client) PolishSuggestion(ctx context.Context, title, suggestion string) (string, error) {
	user := fmt.Sprintf("Moment: %s\nCurrent tip: %s\nRewrite the tip.", title, suggestion)
	resp, err := c.completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModelGPT4oMini,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
