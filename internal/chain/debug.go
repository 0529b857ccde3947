package chain

import (
	"sync"
	"time"
)

// ChainRun is one chain invocation as seen by the collector.
type ChainRun struct {
	Name      string            `json:"name"`
	Inputs    map[string]string `json:"inputs,omitempty"`
	Output    string            `json:"output"`
	ElapsedMS int64             `json:"elapsedMs"`
}

// LLMRun is one raw model invocation.
type LLMRun struct {
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
	Cached     bool   `json:"cached"`
	ElapsedMS  int64  `json:"elapsedMs"`
}

// DebugReport is the per-request trace returned when debug mode is on.
type DebugReport struct {
	ChainCallCount int        `json:"chainCallCount"`
	LLMCallCount   int        `json:"llmCallCount"`
	Chains         []ChainRun `json:"chains"`
	LLMs           []LLMRun   `json:"llms"`
}

// Collector accumulates a DebugReport for exactly one request. A nil
// *Collector is valid and records nothing.
type Collector struct {
	mu     sync.Mutex
	report DebugReport
}

func NewCollector() *Collector {
	return &Collector{report: DebugReport{Chains: []ChainRun{}, LLMs: []LLMRun{}}}
}

func (c *Collector) RecordChain(run ChainRun) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.ChainCallCount++
	c.report.Chains = append(c.report.Chains, run)
}

func (c *Collector) RecordLLM(run LLMRun) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.LLMCallCount++
	c.report.LLMs = append(c.report.LLMs, run)
}

// Merge folds a finished child collector into c.
func (c *Collector) Merge(child *Collector) {
	if c == nil || child == nil {
		return
	}
	r := child.Report()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.ChainCallCount += r.ChainCallCount
	c.report.LLMCallCount += r.LLMCallCount
	c.report.Chains = append(c.report.Chains, r.Chains...)
	c.report.LLMs = append(c.report.LLMs, r.LLMs...)
}

// Report returns a snapshot, or nil for a nil collector.
func (c *Collector) Report() *DebugReport {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := DebugReport{
		ChainCallCount: c.report.ChainCallCount,
		LLMCallCount:   c.report.LLMCallCount,
		Chains:         append([]ChainRun{}, c.report.Chains...),
		LLMs:           append([]LLMRun{}, c.report.LLMs...),
	}
	return &out
}

func since(start time.Time) int64 { return time.Since(start).Milliseconds() }
