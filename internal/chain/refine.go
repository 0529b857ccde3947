package chain

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

const (
	ContextKey        = "context"
	ExistingAnswerKey = "existing_answer"
)

// RefineOutput is the final answer of a refine run and how many model calls
// produced it.
type RefineOutput struct {
	Answer    string
	CallCount int
}

// RefineChain answers over a sequence of chunks: the initial prompt sees the
// first chunk, then the refine prompt folds each following chunk into the
// running answer. Steps are strictly sequential.
type RefineChain struct {
	LLM     Completer
	Initial *PromptTemplate
	Refine  *PromptTemplate
	Debug   *Collector
	Logger  *slog.Logger
}

// Validate checks the chain and the caller values without calling the model.
func (r *RefineChain) Validate(values Values) error {
	var reserved []string
	for _, k := range []string{ContextKey, ExistingAnswerKey} {
		if _, ok := values[k]; ok {
			reserved = append(reserved, k)
		}
	}
	if len(reserved) > 0 {
		return &ReservedChainValuesError{Keys: reserved}
	}

	if !r.Initial.Requires(ContextKey) {
		return &RefinePromptInputVariablesError{Template: "initial", Variable: ContextKey}
	}
	for _, v := range []string{ContextKey, ExistingAnswerKey} {
		if !r.Refine.Requires(v) {
			return &RefinePromptInputVariablesError{Template: "refine", Variable: v}
		}
	}

	probe := values.Merge(Values{ContextKey: "", ExistingAnswerKey: ""})
	if _, err := r.Initial.Format(probe); err != nil {
		return err
	}
	if _, err := r.Refine.Format(probe); err != nil {
		return err
	}
	return nil
}

// Run executes the chain. Any failure aborts the run and nothing recorded by
// its steps reaches the request collector.
func (r *RefineChain) Run(ctx context.Context, chunks []Chunk, values Values) (RefineOutput, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := r.Validate(values); err != nil {
		return RefineOutput{}, err
	}
	if len(chunks) == 0 {
		return RefineOutput{}, ErrNoChunks
	}

	ordered := append([]Chunk(nil), chunks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var steps *Collector
	if r.Debug != nil {
		steps = NewCollector()
	}
	start := time.Now()

	initial := &LLMChain{Name: "refine.initial", Prompt: r.Initial, LLM: r.LLM, Debug: steps, Logger: logger}
	answer, err := initial.Run(ctx, values.Merge(Values{ContextKey: ordered[0].Content}))
	if err != nil {
		logger.Error("chain.refine.error", "step", 0, "error", err)
		return RefineOutput{}, err
	}
	calls := 1

	refine := &LLMChain{Name: "refine.step", Prompt: r.Refine, LLM: r.LLM, Debug: steps, Logger: logger}
	for _, c := range ordered[1:] {
		if err := ctx.Err(); err != nil {
			return RefineOutput{}, err
		}
		answer, err = refine.Run(ctx, values.Merge(Values{
			ContextKey:        c.Content,
			ExistingAnswerKey: answer,
		}))
		if err != nil {
			logger.Error("chain.refine.error", "step", calls, "error", err)
			return RefineOutput{}, err
		}
		calls++
		logger.Debug("chain.refine.step", "step", calls, "of", len(ordered))
	}

	if r.Debug != nil {
		r.Debug.RecordChain(ChainRun{
			Name:      "refine_documents",
			Output:    answer,
			ElapsedMS: since(start),
		})
		r.Debug.Merge(steps)
	}
	logger.Info("chain.refine.ok", "calls", calls, "elapsed_ms", since(start))
	return RefineOutput{Answer: answer, CallCount: calls}, nil
}
