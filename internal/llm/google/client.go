package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	googleoption "google.golang.org/api/option"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/DracoR22/InvoiceIQ/internal/llm"
)

// Client keeps only the credential; a genai.Client is created per call so the
// caller's context governs the connection and it is always closed.
type Client struct {
	apiKey string
}

func NewFactory() llm.BackendFactory {
	return func(apiKey string) (llm.Backend, error) {
		return &Client{apiKey: apiKey}, nil
	}
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	client, err := genai.NewClient(ctx, googleoption.WithAPIKey(c.apiKey))
	if err != nil {
		return "", fmt.Errorf("google: genai client: %w", err)
	}
	defer client.Close()

	m := client.GenerativeModel(string(req.Model))
	temp := float32(req.Temperature)
	m.Temperature = &temp
	if req.MaxTokens > 0 {
		maxOut := int32(req.MaxTokens)
		m.MaxOutputTokens = &maxOut
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		if code, ok := httpStatus(err); ok {
			return "", &llm.ProviderError{Provider: llm.ProviderGoogle, StatusCode: code, Err: err}
		}
		return "", fmt.Errorf("google: generate content: %w", err)
	}

	var parts []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				parts = append(parts, string(t))
			}
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("google: response contained no text content")
	}
	return strings.TrimSpace(strings.Join(parts, "")), nil
}

// httpStatus recovers an HTTP-like status from REST or gRPC flavoured errors.
func httpStatus(err error) (int, bool) {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code, true
	}
	st, ok := status.FromError(err)
	if !ok {
		return 0, false
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return http.StatusUnauthorized, true
	case codes.InvalidArgument, codes.FailedPrecondition:
		return http.StatusBadRequest, true
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests, true
	case codes.Unavailable, codes.Internal:
		return http.StatusServiceUnavailable, true
	default:
		return 0, false
	}
}
