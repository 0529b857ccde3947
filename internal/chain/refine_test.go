package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/DracoR22/InvoiceIQ/internal/llm"
)

// countingCompleter echoes a numbered answer and records every prompt.
type countingCompleter struct {
	prompts []string
	failAt  int // 1-based call that fails; 0 never fails
	err     error
}

func (c *countingCompleter) Model() llm.ModelName { return llm.GPT35Turbo }

func (c *countingCompleter) Complete(_ context.Context, prompt string) (llm.Completion, error) {
	c.prompts = append(c.prompts, prompt)
	n := len(c.prompts)
	if c.failAt == n {
		return llm.Completion{}, c.err
	}
	return llm.Completion{Text: fmt.Sprintf("answer-%d", n)}, nil
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testRefineChain(llmc Completer, dbg *Collector) *RefineChain {
	return &RefineChain{
		LLM:     llmc,
		Initial: MustPromptTemplate("schema={jsonSchema} first={context}", "context", "jsonSchema"),
		Refine:  MustPromptTemplate("schema={jsonSchema} prev={existing_answer} next={context}", "context", "existing_answer", "jsonSchema"),
		Debug:   dbg,
		Logger:  quiet,
	}
}

func chunksOf(contents ...string) []Chunk {
	out := make([]Chunk, len(contents))
	for i, c := range contents {
		out[i] = Chunk{Content: c, Index: i}
	}
	return out
}

func TestRefineRunMakesOneCallPerChunk(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("%d chunks", n), func(t *testing.T) {
			contents := make([]string, n)
			for i := range contents {
				contents[i] = fmt.Sprintf("c%d", i)
			}
			fake := &countingCompleter{}
			out, err := testRefineChain(fake, nil).Run(context.Background(), chunksOf(contents...), Values{"jsonSchema": "{}"})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if out.CallCount != n || len(fake.prompts) != n {
				t.Errorf("CallCount = %d, calls = %d, want %d", out.CallCount, len(fake.prompts), n)
			}
			if out.Answer != fmt.Sprintf("answer-%d", n) {
				t.Errorf("Answer = %q", out.Answer)
			}
		})
	}
}

func TestRefineRunFoldsPreviousAnswer(t *testing.T) {
	fake := &countingCompleter{}
	// Out-of-order input is processed in source order.
	chunks := []Chunk{{Content: "B", Index: 1}, {Content: "A", Index: 0}, {Content: "C", Index: 2}}
	if _, err := testRefineChain(fake, nil).Run(context.Background(), chunks, Values{"jsonSchema": "S"}); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"schema=S first=A",
		"schema=S prev=answer-1 next=B",
		"schema=S prev=answer-2 next=C",
	}
	for i, p := range fake.prompts {
		if p != want[i] {
			t.Errorf("prompt %d = %q, want %q", i, p, want[i])
		}
	}
}

func TestRefineRunRejectsReservedValues(t *testing.T) {
	for _, key := range []string{ContextKey, ExistingAnswerKey} {
		fake := &countingCompleter{}
		_, err := testRefineChain(fake, nil).Run(context.Background(), chunksOf("a", "b"), Values{"jsonSchema": "S", key: "x"})
		var rerr *ReservedChainValuesError
		if !errors.As(err, &rerr) {
			t.Fatalf("Run() with %s error = %v, want ReservedChainValuesError", key, err)
		}
		if len(fake.prompts) != 0 {
			t.Errorf("model called %d times", len(fake.prompts))
		}
	}
}

func TestRefineRunChecksTemplateShape(t *testing.T) {
	tests := []struct {
		name     string
		initial  *PromptTemplate
		refine   *PromptTemplate
		template string
		variable string
	}{
		{
			name:     "initial without context",
			initial:  MustPromptTemplate("{text}", "text"),
			refine:   MustPromptTemplate("{context}{existing_answer}", "context", "existing_answer"),
			template: "initial", variable: ContextKey,
		},
		{
			name:     "refine without existing answer",
			initial:  MustPromptTemplate("{context}", "context"),
			refine:   MustPromptTemplate("{context}", "context"),
			template: "refine", variable: ExistingAnswerKey,
		},
		{
			name:     "refine without context",
			initial:  MustPromptTemplate("{context}", "context"),
			refine:   MustPromptTemplate("{existing_answer}", "existing_answer"),
			template: "refine", variable: ContextKey,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &countingCompleter{}
			rc := &RefineChain{LLM: fake, Initial: tt.initial, Refine: tt.refine, Logger: quiet}
			_, err := rc.Run(context.Background(), chunksOf("a"), nil)
			var perr *RefinePromptInputVariablesError
			if !errors.As(err, &perr) {
				t.Fatalf("Run() error = %v", err)
			}
			if perr.Template != tt.template || perr.Variable != tt.variable {
				t.Errorf("error = %+v, want %s/%s", perr, tt.template, tt.variable)
			}
			if len(fake.prompts) != 0 {
				t.Errorf("model called %d times", len(fake.prompts))
			}
		})
	}
}

func TestRefineRunMissingValueMakesNoCalls(t *testing.T) {
	fake := &countingCompleter{}
	_, err := testRefineChain(fake, nil).Run(context.Background(), chunksOf("a", "b"), Values{})
	var tfe *TemplateFormatError
	if !errors.As(err, &tfe) {
		t.Fatalf("Run() error = %v, want TemplateFormatError", err)
	}
	if len(fake.prompts) != 0 {
		t.Errorf("model called %d times", len(fake.prompts))
	}
}

func TestRefineRunAbortsOnModelError(t *testing.T) {
	invalid := &llm.APIKeyInvalidError{Model: llm.GPT35Turbo}
	fake := &countingCompleter{failAt: 2, err: invalid}
	dbg := NewCollector()
	out, err := testRefineChain(fake, dbg).Run(context.Background(), chunksOf("a", "b", "c"), Values{"jsonSchema": "S"})
	if !errors.Is(err, invalid) {
		t.Fatalf("Run() error = %v, want the provider error unchanged", err)
	}
	if out != (RefineOutput{}) {
		t.Errorf("partial output returned: %+v", out)
	}
	if len(fake.prompts) != 2 {
		t.Errorf("calls = %d, want 2", len(fake.prompts))
	}
	if r := dbg.Report(); r.LLMCallCount != 0 || r.ChainCallCount != 0 {
		t.Errorf("debug kept counts from an aborted run: %+v", r)
	}
}

func TestRefineRunNoChunks(t *testing.T) {
	_, err := testRefineChain(&countingCompleter{}, nil).Run(context.Background(), nil, Values{"jsonSchema": "S"})
	if !errors.Is(err, ErrNoChunks) {
		t.Errorf("Run() error = %v, want ErrNoChunks", err)
	}
}

func TestRefineRunRecordsDebug(t *testing.T) {
	dbg := NewCollector()
	fake := &countingCompleter{}
	if _, err := testRefineChain(fake, dbg).Run(context.Background(), chunksOf("a", "b", "c"), Values{"jsonSchema": "S"}); err != nil {
		t.Fatal(err)
	}
	r := dbg.Report()
	if r.LLMCallCount != 3 {
		t.Errorf("LLMCallCount = %d, want 3", r.LLMCallCount)
	}
	if r.ChainCallCount != 4 {
		t.Errorf("ChainCallCount = %d, want 4 (one refine run plus three steps)", r.ChainCallCount)
	}
	if r.Chains[0].Name != "refine_documents" {
		t.Errorf("first chain = %q", r.Chains[0].Name)
	}
	if !strings.Contains(r.LLMs[2].Prompt, "prev=answer-2") {
		t.Errorf("last prompt = %q", r.LLMs[2].Prompt)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.RecordChain(ChainRun{Name: "x"})
	c.RecordLLM(LLMRun{})
	c.Merge(NewCollector())
	if c.Report() != nil {
		t.Error("nil collector produced a report")
	}
}
