package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Provider identifies the vendor behind a model.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// ModelName is the closed set of models the gateway can resolve.
type ModelName string

const (
	GPT35Turbo    ModelName = "gpt-3.5-turbo"
	GPT35Turbo16K ModelName = "gpt-3.5-turbo-16k"
	GPT4          ModelName = "gpt-4"
	Claude3Haiku  ModelName = "claude-3-haiku-20240307"
	Gemini15Flash ModelName = "gemini-1.5-flash"
)

type modelSpec struct {
	provider    Provider
	requiresKey bool
	maxTokens   int // completion budget; 0 lets the provider decide
}

var supportedModels = map[ModelName]modelSpec{
	GPT35Turbo:    {provider: ProviderOpenAI, requiresKey: true},
	GPT35Turbo16K: {provider: ProviderOpenAI, requiresKey: true},
	GPT4:          {provider: ProviderOpenAI, requiresKey: true},
	Claude3Haiku:  {provider: ProviderAnthropic, requiresKey: true, maxTokens: 4096},
	Gemini15Flash: {provider: ProviderGoogle, requiresKey: true, maxTokens: 8192},
}

// SupportedModels lists every resolvable model, sorted.
func SupportedModels() []ModelName {
	out := make([]ModelName, 0, len(supportedModels))
	for name := range supportedModels {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseModelName maps a raw identifier onto the enum.
func ParseModelName(s string) (ModelName, error) {
	name := ModelName(strings.TrimSpace(s))
	if _, ok := supportedModels[name]; !ok {
		return "", &ModelNotAvailableError{Model: s}
	}
	return name, nil
}

// Provider returns the vendor for m, or "" when m is unsupported.
func (m ModelName) Provider() Provider {
	return supportedModels[m].provider
}

// ModelRef is what a caller asks for: a model plus an optional credential.
type ModelRef struct {
	Name   ModelName
	APIKey string
}

// NewModelRef parses name and pairs it with apiKey.
func NewModelRef(name, apiKey string) (ModelRef, error) {
	m, err := ParseModelName(name)
	if err != nil {
		return ModelRef{}, err
	}
	return ModelRef{Name: m, APIKey: apiKey}, nil
}

func (r ModelRef) String() string {
	return fmt.Sprintf("%s(key=%t)", r.Name, r.APIKey != "")
}

// LogValue keeps credentials out of logs.
func (r ModelRef) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", string(r.Name)),
		slog.Bool("has_key", r.APIKey != ""),
	)
}
