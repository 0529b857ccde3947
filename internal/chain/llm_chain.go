package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/DracoR22/InvoiceIQ/internal/llm"
)

// Completer is the part of a resolved model the chains need.
type Completer interface {
	Model() llm.ModelName
	Complete(ctx context.Context, prompt string) (llm.Completion, error)
}

// LLMChain renders one prompt and sends it to one model.
type LLMChain struct {
	Name   string
	Prompt *PromptTemplate
	LLM    Completer
	Debug  *Collector
	Logger *slog.Logger
}

// Run formats the prompt and completes it. Formatting errors return before
// the model is called; model errors are returned as they are.
func (c *LLMChain) Run(ctx context.Context, values Values) (string, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prompt, err := c.Prompt.Format(values)
	if err != nil {
		logger.Error("chain.format_error", "chain", c.Name, "error", err)
		return "", err
	}

	start := time.Now()
	out, err := c.LLM.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	c.Debug.RecordLLM(LLMRun{
		Model:      string(c.LLM.Model()),
		Prompt:     prompt,
		Completion: out.Text,
		Cached:     out.Cached,
		ElapsedMS:  since(start),
	})
	if c.Debug != nil {
		c.Debug.RecordChain(ChainRun{
			Name:      c.Name,
			Inputs:    debugInputs(values, c.Prompt.vars),
			Output:    out.Text,
			ElapsedMS: since(start),
		})
	}
	return out.Text, nil
}

func debugInputs(values Values, vars []string) map[string]string {
	in := make(map[string]string, len(vars))
	for _, v := range vars {
		in[v] = render(values[v])
	}
	return in
}
