package structured

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/DracoR22/InvoiceIQ/internal/chain"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/llm"
)

// Options apply to a single request.
type Options struct {
	Model  llm.ModelRef
	Debug  bool
	Strict bool // validate extracted JSON against the request schema
}

// Example is a worked input/output pair for one-shot extraction.
type Example struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// RefineRecap describes how a refine extraction was chunked.
type RefineRecap struct {
	ChunkSize    int `json:"chunkSize"`
	Overlap      int `json:"overlap"`
	LLMCallCount int `json:"llmCallCount"`
}

type ExtractionResult struct {
	JSON   any                `json:"json"`
	Raw    string             `json:"-"`
	Refine *RefineRecap       `json:"refine,omitempty"`
	Debug  *chain.DebugReport `json:"debug,omitempty"`
}

type AnalysisResult struct {
	Corrections      []Correction       `json:"corrections"`
	TextAnalysis     string             `json:"textAnalysis"`
	TextAnalysisHTML string             `json:"textAnalysisHtml,omitempty"`
	Debug            *chain.DebugReport `json:"debug,omitempty"`
}

type ClassificationResult struct {
	Classification string             `json:"classification"`
	Confidence     float64            `json:"confidence"`
	Debug          *chain.DebugReport `json:"debug,omitempty"`
}

type GenericResult struct {
	Output string             `json:"output"`
	Debug  *chain.DebugReport `json:"debug,omitempty"`
}

// Service turns text into structured output through the LLM gateway.
type Service struct {
	gateway        *llm.Gateway
	prompts        Catalog
	requestTimeout time.Duration
	logger         *slog.Logger
}

type ServiceOption func(*Service)

func WithRequestTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.requestTimeout = d }
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(gateway *llm.Gateway, opts ...ServiceOption) (*Service, error) {
	prompts, err := LoadCatalog(promptCatalogYAML)
	if err != nil {
		return nil, err
	}
	s := &Service{
		gateway:        gateway,
		prompts:        prompts,
		requestTimeout: 2 * time.Minute,
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// request is the per-call state shared by every operation.
type request struct {
	ctx    context.Context
	cancel context.CancelFunc
	client *llm.Client
	debug  *chain.Collector
	log    *slog.Logger
	start  time.Time
}

func (s *Service) begin(ctx context.Context, op string, opts Options) (*request, error) {
	ctx, rid := common.EnsureRequestID(ctx)
	log := s.logger.With("op", op, "req_id", rid, "model", opts.Model.Name)

	client, err := s.gateway.Resolve(opts.Model)
	if err != nil {
		log.Warn("structured.resolve_error", "error", err)
		return nil, err
	}
	ctx, cancel := common.WithTimeout(ctx, s.requestTimeout)
	r := &request{ctx: ctx, cancel: cancel, client: client, log: log, start: time.Now()}
	if opts.Debug {
		r.debug = chain.NewCollector()
	}
	return r, nil
}

func (r *request) run(name string, prompt *chain.PromptTemplate, values chain.Values) (string, error) {
	c := &chain.LLMChain{Name: name, Prompt: prompt, LLM: r.client, Debug: r.debug, Logger: r.log}
	return c.Run(r.ctx, values)
}

func (r *request) done(err error) {
	defer r.cancel()
	if err != nil {
		r.log.Error("structured.error", "error", err, "elapsed_ms", time.Since(r.start).Milliseconds())
		return
	}
	r.log.Info("structured.ok", "elapsed_ms", time.Since(r.start).Milliseconds())
}

// checkSchema rejects a schema that is not JSON, or in strict mode one that
// does not compile. The compiled schema is nil outside strict mode.
func checkSchema(schema string, strict bool) (*jsonschema.Schema, error) {
	if !strict {
		if !json.Valid([]byte(schema)) {
			return nil, &BadSchemaError{Err: fmt.Errorf("schema is not a JSON document")}
		}
		return nil, nil
	}
	return CompileSchema(schema)
}

func conform(compiled *jsonschema.Schema, doc any) error {
	if compiled == nil {
		return nil
	}
	if err := compiled.Validate(doc); err != nil {
		return &InvalidJSONOutputError{Reason: err.Error()}
	}
	return nil
}

// ExtractWithSchema makes a single zero-shot call and parses the answer as JSON.
func (s *Service) ExtractWithSchema(ctx context.Context, opts Options, text, schema string) (res *ExtractionResult, err error) {
	if err := common.NewValidator().
		Field("text", text, common.Required).
		Field("jsonSchema", schema, common.Required).
		Err(); err != nil {
		return nil, err
	}
	compiled, err := checkSchema(schema, opts.Strict)
	if err != nil {
		return nil, err
	}

	r, err := s.begin(ctx, "extract_schema", opts)
	if err != nil {
		return nil, err
	}
	defer func() { r.done(err) }()

	raw, err := r.run(promptZeroShot, s.prompts[promptZeroShot], chain.Values{
		"context":    text,
		"jsonSchema": schema,
	})
	if err != nil {
		return nil, err
	}
	doc, err := parseJSON(raw)
	if err != nil {
		return nil, err
	}
	if err := conform(compiled, doc); err != nil {
		return nil, err
	}
	return &ExtractionResult{JSON: doc, Raw: raw, Debug: r.debug.Report()}, nil
}

// ExtractWithSchemaAndRefine splits text into chunks and refines one JSON
// answer across them. A nil params uses chain.DefaultRefineParams.
func (s *Service) ExtractWithSchemaAndRefine(ctx context.Context, opts Options, text, schema string, params *chain.RefineParams) (res *ExtractionResult, err error) {
	if err := common.NewValidator().
		Field("text", text, common.Required).
		Field("jsonSchema", schema, common.Required).
		Err(); err != nil {
		return nil, err
	}
	p := chain.DefaultRefineParams
	if params != nil {
		p = *params
	}
	chunks, err := chain.Split(text, p)
	if err != nil {
		return nil, err
	}
	compiled, err := checkSchema(schema, opts.Strict)
	if err != nil {
		return nil, err
	}

	r, err := s.begin(ctx, "extract_schema_refine", opts)
	if err != nil {
		return nil, err
	}
	defer func() { r.done(err) }()

	rc := &chain.RefineChain{
		LLM:     r.client,
		Initial: s.prompts[promptZeroShot],
		Refine:  s.prompts[promptZeroShotRefine],
		Debug:   r.debug,
		Logger:  r.log,
	}
	out, err := rc.Run(r.ctx, chunks, chain.Values{"jsonSchema": schema})
	if err != nil {
		return nil, err
	}
	doc, err := parseJSON(out.Answer)
	if err != nil {
		return nil, err
	}
	if err := conform(compiled, doc); err != nil {
		return nil, err
	}
	return &ExtractionResult{
		JSON:   doc,
		Raw:    out.Answer,
		Refine: &RefineRecap{ChunkSize: p.ChunkSize, Overlap: p.Overlap, LLMCallCount: out.CallCount},
		Debug:  r.debug.Report(),
	}, nil
}

// ExtractWithExample extracts JSON shaped like a single worked example.
func (s *Service) ExtractWithExample(ctx context.Context, opts Options, text string, example Example) (res *ExtractionResult, err error) {
	if err := common.NewValidator().
		Field("text", text, common.Required).
		Field("example.input", example.Input, common.Required).
		Field("example.output", example.Output, common.Required).
		Err(); err != nil {
		return nil, err
	}

	r, err := s.begin(ctx, "extract_example", opts)
	if err != nil {
		return nil, err
	}
	defer func() { r.done(err) }()

	raw, err := r.run(promptOneShot, s.prompts[promptOneShot], chain.Values{
		"context":       text,
		"exampleInput":  example.Input,
		"exampleOutput": example.Output,
	})
	if err != nil {
		return nil, err
	}
	doc, err := parseJSON(raw)
	if err != nil {
		return nil, err
	}
	return &ExtractionResult{JSON: doc, Raw: raw, Debug: r.debug.Report()}, nil
}

var analysisOutputFormat = mustJSON(map[string]any{
	"corrections": []map[string]string{{
		"field":       "the field in the generated JSON that needs to be corrected",
		"issue":       "the issue you identified",
		"description": "your description of the issue, give your full reasoning for why it is an issue",
		"suggestion":  "your suggestion for correction",
	}},
	"textAnalysis": "Your detailed and precise analysis, exposing your whole thought process, step by step. Do not provide a corrected JSON output in this field. Generate a readable text in markdown.",
})

// AnalyzeJSONOutput asks the model to critique a generated JSON document.
func (s *Service) AnalyzeJSONOutput(ctx context.Context, opts Options, jsonOutput, originalText, schema string) (res *AnalysisResult, err error) {
	if err := common.NewValidator().
		Field("jsonOutput", jsonOutput, common.Required).
		Field("originalText", originalText, common.Required).
		Field("jsonSchema", schema, common.Required).
		Err(); err != nil {
		return nil, err
	}

	r, err := s.begin(ctx, "analyze", opts)
	if err != nil {
		return nil, err
	}
	defer func() { r.done(err) }()

	raw, err := r.run(promptAnalysis, s.prompts[promptAnalysis], chain.Values{
		"jsonSchema":   schema,
		"originalText": originalText,
		"jsonOutput":   jsonOutput,
		"outputFormat": analysisOutputFormat,
	})
	if err != nil {
		return nil, err
	}
	corrections, text, err := parseAnalysis(raw)
	if err != nil {
		return nil, err
	}
	html, err := renderMarkdown(text)
	if err != nil {
		r.log.Warn("structured.analysis.markdown_error", "error", err)
	}
	return &AnalysisResult{
		Corrections:      corrections,
		TextAnalysis:     text,
		TextAnalysisHTML: html,
		Debug:            r.debug.Report(),
	}, nil
}

var classificationOutputFormat = mustJSON(map[string]string{
	"classification": "classification of the text",
	"confidence":     "number representing your confidence of the classification in percentage. display only the number, not the percentage sign",
})

// ClassifyText picks one of categories for text, or "other".
func (s *Service) ClassifyText(ctx context.Context, opts Options, text string, categories []string) (res *ClassificationResult, err error) {
	if err := common.NewValidator().
		Field("text", text, common.Required).
		Field("categories", categories, common.Required).
		Err(); err != nil {
		return nil, err
	}

	r, err := s.begin(ctx, "classify", opts)
	if err != nil {
		return nil, err
	}
	defer func() { r.done(err) }()

	raw, err := r.run(promptClassification, s.prompts[promptClassification], chain.Values{
		"categories":   categories,
		"text":         text,
		"outputFormat": classificationOutputFormat,
	})
	if err != nil {
		return nil, err
	}
	label, confidence, err := parseClassification(raw, categories)
	if err != nil {
		return nil, err
	}
	return &ClassificationResult{Classification: label, Confidence: confidence, Debug: r.debug.Report()}, nil
}

// HandleGenericPrompt sends prompt as is and returns the raw answer.
func (s *Service) HandleGenericPrompt(ctx context.Context, opts Options, prompt string) (res *GenericResult, err error) {
	if err := common.NewValidator().Field("prompt", prompt, common.Required).Err(); err != nil {
		return nil, err
	}

	r, err := s.begin(ctx, "generic", opts)
	if err != nil {
		return nil, err
	}
	defer func() { r.done(err) }()

	out, err := r.run(promptGeneric, s.prompts[promptGeneric], chain.Values{"prompt": prompt})
	if err != nil {
		return nil, err
	}
	return &GenericResult{Output: out, Debug: r.debug.Report()}, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
