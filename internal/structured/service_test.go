package structured

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DracoR22/InvoiceIQ/internal/chain"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/llm"
)

// scripted replies with the next canned answer and keeps every prompt.
type scripted struct {
	mu      sync.Mutex
	answers []string
	err     error
	prompts []string
}

func (s *scripted) complete(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.answers) == 0 {
		return "", errors.New("no scripted answer left")
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestService(t *testing.T, s *scripted) *Service {
	t.Helper()
	factory := func(string) (llm.Backend, error) { return llm.BackendFunc(s.complete), nil }
	gw := llm.NewGateway(
		map[llm.Provider]llm.BackendFactory{llm.ProviderOpenAI: factory},
		llm.WithRetryBase(time.Millisecond),
		llm.WithMaxRetries(0),
		// a fresh cache per test keeps scripted answers in order
		llm.WithCache(llm.NewMemoryCache(time.Minute, 16)),
		llm.WithLogger(quiet),
	)
	svc, err := NewService(gw, WithLogger(quiet), WithRequestTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

var testOpts = Options{Model: llm.ModelRef{Name: llm.GPT35Turbo, APIKey: "sk-test"}}

const receiptSchema = `{"type":"object","properties":{"total":{"type":"number"}},"required":["total"]}`

func TestExtractWithSchema(t *testing.T) {
	s := &scripted{answers: []string{"```json\n{\"total\": 12.5}\n```"}}
	svc := newTestService(t, s)

	res, err := svc.ExtractWithSchema(context.Background(), testOpts, "TOTAL 12.50", receiptSchema)
	if err != nil {
		t.Fatalf("ExtractWithSchema() error = %v", err)
	}
	doc, ok := res.JSON.(map[string]any)
	if !ok || doc["total"] != 12.5 {
		t.Errorf("JSON = %#v", res.JSON)
	}
	if res.Refine != nil || res.Debug != nil {
		t.Errorf("unexpected refine/debug: %+v", res)
	}
	if !strings.Contains(s.prompts[0], "TOTAL 12.50") || !strings.Contains(s.prompts[0], receiptSchema) {
		t.Errorf("prompt does not carry text and schema: %q", s.prompts[0])
	}
}

func TestExtractWithSchemaMalformedJSON(t *testing.T) {
	svc := newTestService(t, &scripted{answers: []string{`{"a": 1`}})
	_, err := svc.ExtractWithSchema(context.Background(), testOpts, "text", receiptSchema)
	var ij *InvalidJSONOutputError
	if !errors.As(err, &ij) {
		t.Fatalf("error = %v, want InvalidJSONOutputError", err)
	}
	if common.HTTPStatus(err) != http.StatusUnprocessableEntity {
		t.Errorf("HTTPStatus = %d", common.HTTPStatus(err))
	}
}

func TestExtractWithSchemaStrict(t *testing.T) {
	svc := newTestService(t, &scripted{answers: []string{`{"total": "twelve"}`}})
	opts := testOpts
	opts.Strict = true
	_, err := svc.ExtractWithSchema(context.Background(), opts, "text", receiptSchema)
	var ij *InvalidJSONOutputError
	if !errors.As(err, &ij) {
		t.Fatalf("error = %v, want InvalidJSONOutputError", err)
	}
}

func TestExtractWithSchemaRejectsBadSchemaBeforeCalling(t *testing.T) {
	s := &scripted{answers: []string{`{}`}}
	svc := newTestService(t, s)
	_, err := svc.ExtractWithSchema(context.Background(), testOpts, "text", "{not json")
	var bs *BadSchemaError
	if !errors.As(err, &bs) {
		t.Fatalf("error = %v, want BadSchemaError", err)
	}
	if s.calls() != 0 {
		t.Errorf("model called %d times", s.calls())
	}
}

func TestProviderErrorsPassThrough(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		err    error
		target func(error) bool
	}{
		{
			name: "missing key",
			opts: Options{Model: llm.ModelRef{Name: llm.GPT4}},
			target: func(err error) bool {
				var e *llm.APIKeyMissingError
				return errors.As(err, &e)
			},
		},
		{
			name: "unknown model",
			opts: Options{Model: llm.ModelRef{Name: "davinci", APIKey: "k"}},
			target: func(err error) bool {
				var e *llm.ModelNotAvailableError
				return errors.As(err, &e)
			},
		},
		{
			name: "rejected key",
			opts: testOpts,
			err:  &llm.ProviderError{Provider: llm.ProviderOpenAI, StatusCode: http.StatusUnauthorized, Err: errors.New("bad key")},
			target: func(err error) bool {
				var e *llm.APIKeyInvalidError
				return errors.As(err, &e)
			},
		},
		{
			name: "bad request",
			opts: testOpts,
			err:  &llm.ProviderError{Provider: llm.ProviderOpenAI, StatusCode: http.StatusBadRequest, Err: errors.New("context length")},
			target: func(err error) bool {
				var e *llm.BadRequestReceivedError
				return errors.As(err, &e)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, &scripted{err: tt.err})
			_, err := svc.ExtractWithSchema(context.Background(), tt.opts, "text", receiptSchema)
			if !tt.target(err) {
				t.Fatalf("error = %v", err)
			}
			var ij *InvalidJSONOutputError
			if errors.As(err, &ij) {
				t.Error("provider error reported as InvalidJSONOutputError")
			}
		})
	}
}

func TestExtractWithSchemaAndRefine(t *testing.T) {
	s := &scripted{answers: []string{`{"total": 1}`, `{"total": 2}`, `{"total": 3}`}}
	svc := newTestService(t, s)

	text := strings.Repeat("a", 90) + "\n\n" + strings.Repeat("b", 90) + "\n\n" + strings.Repeat("c", 90)
	opts := testOpts
	opts.Debug = true
	res, err := svc.ExtractWithSchemaAndRefine(context.Background(), opts, text, receiptSchema, &chain.RefineParams{ChunkSize: 100, Overlap: 0})
	if err != nil {
		t.Fatalf("ExtractWithSchemaAndRefine() error = %v", err)
	}
	want := RefineRecap{ChunkSize: 100, Overlap: 0, LLMCallCount: 3}
	if res.Refine == nil || *res.Refine != want {
		t.Errorf("Refine = %+v, want %+v", res.Refine, want)
	}
	if doc := res.JSON.(map[string]any); doc["total"] != float64(3) {
		t.Errorf("JSON = %v, want the last refined answer", doc)
	}
	if res.Debug == nil || res.Debug.LLMCallCount != 3 {
		t.Errorf("Debug = %+v", res.Debug)
	}
	if !strings.Contains(s.prompts[1], `{"total": 1}`) {
		t.Errorf("second prompt does not carry the previous answer: %q", s.prompts[1])
	}
}

func TestExtractWithSchemaAndRefineDefaults(t *testing.T) {
	svc := newTestService(t, &scripted{answers: []string{`{"total": 9}`}})
	res, err := svc.ExtractWithSchemaAndRefine(context.Background(), testOpts, "short text", receiptSchema, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := RefineRecap{ChunkSize: 2000, Overlap: 100, LLMCallCount: 1}
	if *res.Refine != want {
		t.Errorf("Refine = %+v, want %+v", *res.Refine, want)
	}
}

func TestExtractWithExample(t *testing.T) {
	s := &scripted{answers: []string{`{"name": "ACME"}`}}
	svc := newTestService(t, s)
	res, err := svc.ExtractWithExample(context.Background(), testOpts, "ACME Corp", Example{Input: "Foo Inc", Output: `{"name":"Foo"}`})
	if err != nil {
		t.Fatal(err)
	}
	if res.JSON.(map[string]any)["name"] != "ACME" {
		t.Errorf("JSON = %v", res.JSON)
	}
	if !strings.Contains(s.prompts[0], `{"name":"Foo"}`) {
		t.Errorf("prompt does not carry the example: %q", s.prompts[0])
	}
}

func TestAnalyzeJSONOutput(t *testing.T) {
	valid := `{"corrections":[{"field":"total","issue":"wrong","description":"sum is 12","suggestion":"12"}],"textAnalysis":"# Review\n\nThe **total** is wrong."}`
	missingSuggestion := `{"corrections":[{"field":"total","issue":"wrong","description":"sum is 12"}],"textAnalysis":"x"}`
	numericField := `{"corrections":[{"field":1,"issue":"wrong","description":"d","suggestion":"s"}]}`
	notArray := `{"corrections":{"field":"total"}}`

	svc := newTestService(t, &scripted{answers: []string{valid}})
	res, err := svc.AnalyzeJSONOutput(context.Background(), testOpts, `{"total": 10}`, "TOTAL 12", receiptSchema)
	if err != nil {
		t.Fatalf("AnalyzeJSONOutput() error = %v", err)
	}
	if len(res.Corrections) != 1 || res.Corrections[0].Suggestion != "12" {
		t.Errorf("Corrections = %+v", res.Corrections)
	}
	if !strings.Contains(res.TextAnalysisHTML, "<strong>total</strong>") {
		t.Errorf("TextAnalysisHTML = %q", res.TextAnalysisHTML)
	}

	for _, bad := range []string{missingSuggestion, numericField, notArray, "not json"} {
		svc := newTestService(t, &scripted{answers: []string{bad}})
		_, err := svc.AnalyzeJSONOutput(context.Background(), testOpts, `{"total": 10}`, "TOTAL 12", receiptSchema)
		var ij *InvalidJSONOutputError
		if !errors.As(err, &ij) {
			t.Errorf("answer %s: error = %v, want InvalidJSONOutputError", bad, err)
		}
	}
}

func TestClassifyText(t *testing.T) {
	categories := []string{"positive", "negative"}
	tests := []struct {
		name       string
		answer     string
		want       string
		confidence float64
		wantErr    bool
	}{
		{name: "known label", answer: `{"classification":"Negative","confidence":87}`, want: "negative", confidence: 87},
		{name: "string confidence", answer: `{"classification":"positive","confidence":"92"}`, want: "positive", confidence: 92},
		{name: "neutral falls back to other", answer: `{"classification":"neutral","confidence":70}`, want: "other", confidence: 70},
		{name: "missing confidence", answer: `{"classification":"positive"}`, wantErr: true},
		{name: "zero confidence", answer: `{"classification":"positive","confidence":0}`, wantErr: true},
		{name: "full confidence", answer: `{"classification":"positive","confidence":100}`, want: "positive", confidence: 100},
		{name: "negative confidence", answer: `{"classification":"positive","confidence":-5}`, wantErr: true},
		{name: "confidence above 100", answer: `{"classification":"positive","confidence":250}`, wantErr: true},
		{name: "percent string above 100", answer: `{"classification":"positive","confidence":"150%"}`, wantErr: true},
		{name: "empty label", answer: `{"classification":"","confidence":50}`, wantErr: true},
		{name: "not json", answer: `positive`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, &scripted{answers: []string{tt.answer}})
			res, err := svc.ClassifyText(context.Background(), testOpts, "The weather is mild today.", categories)
			if tt.wantErr {
				var ij *InvalidJSONOutputError
				if !errors.As(err, &ij) {
					t.Fatalf("error = %v, want InvalidJSONOutputError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ClassifyText() error = %v", err)
			}
			if res.Classification != tt.want || res.Confidence != tt.confidence {
				t.Errorf("got %+v, want %s/%v", res, tt.want, tt.confidence)
			}
		})
	}
}

func TestHandleGenericPrompt(t *testing.T) {
	s := &scripted{answers: []string{"Paris"}}
	svc := newTestService(t, s)
	opts := testOpts
	opts.Debug = true
	res, err := svc.HandleGenericPrompt(context.Background(), opts, "Capital of France? Answer {briefly}.")
	if err != nil {
		t.Fatal(err)
	}
	if res.Output != "Paris" {
		t.Errorf("Output = %q", res.Output)
	}
	if s.prompts[0] != "Capital of France? Answer {briefly}." {
		t.Errorf("prompt was altered: %q", s.prompts[0])
	}
	if res.Debug == nil || res.Debug.ChainCallCount != 1 || res.Debug.LLMCallCount != 1 {
		t.Errorf("Debug = %+v", res.Debug)
	}
}

func TestRequiredInputs(t *testing.T) {
	s := &scripted{}
	svc := newTestService(t, s)
	_, err := svc.ExtractWithSchema(context.Background(), testOpts, "  ", receiptSchema)
	if common.HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("blank text: error = %v", err)
	}
	_, err = svc.ClassifyText(context.Background(), testOpts, "text", nil)
	if common.HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("no categories: error = %v", err)
	}
	if s.calls() != 0 {
		t.Errorf("model called %d times", s.calls())
	}
}

func TestCatalogRejectsBrokenPrompt(t *testing.T) {
	_, err := LoadCatalog([]byte("prompts:\n  - name: generic\n    input_variables: [prompt]\n    template: \"{other}\"\n"))
	if err == nil {
		t.Fatal("LoadCatalog() accepted a template with an undeclared variable")
	}
}
