package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/DracoR22/InvoiceIQ/internal/llm"
)

// Config for the OpenAI backend.
type Config struct {
	BaseURL string        // empty keeps the SDK default
	Timeout time.Duration // http client timeout
}

type Client struct {
	client openai.Client
	logger *slog.Logger
}

// NewFactory returns a factory that builds one client per credential. SDK
// retries are disabled; the gateway owns the retry policy.
func NewFactory(cfg Config, logger *slog.Logger) llm.BackendFactory {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return func(apiKey string) (llm.Backend, error) {
		opts := []option.RequestOption{
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
			option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		return &Client{client: openai.NewClient(opts...), logger: logger}, nil
	}
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Temperature: openai.Float(req.Temperature),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &llm.ProviderError{Provider: llm.ProviderOpenAI, StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", fmt.Errorf("openai: chat.completions.new: %w", err)
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("llm.openai.no_choices", "model", req.Model)
		return "", fmt.Errorf("openai: response contained no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
