package llm

import "context"

// Request is a single completion call. Prompts are sent as one user message.
type Request struct {
	Model       ModelName
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Backend performs one completion against a provider. Implementations must
// report provider HTTP failures as *ProviderError and must not retry.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// BackendFactory builds a backend bound to one credential.
type BackendFactory func(apiKey string) (Backend, error)

// BackendFunc adapts a plain function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
