package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/chain"
	"github.com/DracoR22/InvoiceIQ/internal/entity"
	"github.com/DracoR22/InvoiceIQ/internal/llm"
	"github.com/DracoR22/InvoiceIQ/internal/structured"
)

// ModelParam names a model and optionally the caller's own credential.
type ModelParam struct {
	Name   string `json:"name"`
	APIKey string `json:"apiKey,omitempty"`
}

// Credentials are server-side API keys, used when a request carries none.
type Credentials map[llm.Provider]string

// resolve turns p into a model reference. An empty name selects fallback.
func (c Credentials) resolve(p ModelParam, fallback llm.ModelName) (llm.ModelRef, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = string(fallback)
	}
	ref, err := llm.NewModelRef(name, p.APIKey)
	if err != nil {
		return llm.ModelRef{}, err
	}
	if strings.TrimSpace(ref.APIKey) == "" {
		ref.APIKey = c[ref.Name.Provider()]
	}
	return ref, nil
}

// RefineFlag accepts either a boolean or an object of refine parameters.
type RefineFlag struct {
	Enabled bool
	Params  *chain.RefineParams
}

func (f *RefineFlag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = RefineFlag{}
		return nil
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*f = RefineFlag{Enabled: data[0] == 't'}
		return nil
	case len(data) > 0 && data[0] == '{':
		// fields left out keep their defaults
		p := chain.DefaultRefineParams
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("refine: %w", err)
		}
		*f = RefineFlag{Enabled: true, Params: &p}
		return nil
	}
	return fmt.Errorf("refine must be a boolean or an object, got %s", data)
}

func (f RefineFlag) MarshalJSON() ([]byte, error) {
	if f.Params != nil {
		return json.Marshal(f.Params)
	}
	return json.Marshal(f.Enabled)
}

type ExtractJSONRequest struct {
	Model         ModelParam `json:"model"`
	Text          string     `json:"text"`
	JSONSchema    string     `json:"jsonSchema,omitempty"`
	ExampleInput  string     `json:"exampleInput,omitempty"`
	ExampleOutput string     `json:"exampleOutput,omitempty"`
	Refine        RefineFlag `json:"refine"`
	Strict        bool       `json:"strict,omitempty"`
	Debug         bool       `json:"debug,omitempty"`
}

// ExtractJSONResponse carries the document as a JSON string. Refine is false
// or the recap of the refine run.
type ExtractJSONResponse struct {
	Model  string             `json:"model"`
	Refine any                `json:"refine"`
	Output string             `json:"output"`
	Debug  *chain.DebugReport `json:"debug,omitempty"`
}

type AnalyzeJSONRequest struct {
	Model        ModelParam `json:"model"`
	JSONOutput   string     `json:"jsonOutput"`
	OriginalText string     `json:"originalText"`
	JSONSchema   string     `json:"jsonSchema"`
	Debug        bool       `json:"debug,omitempty"`
}

type Analysis struct {
	Corrections      []structured.Correction `json:"corrections"`
	TextAnalysis     string                  `json:"textAnalysis"`
	TextAnalysisHTML string                  `json:"textAnalysisHtml,omitempty"`
}

type AnalyzeJSONResponse struct {
	Model    string             `json:"model"`
	Analysis Analysis           `json:"analysis"`
	Debug    *chain.DebugReport `json:"debug,omitempty"`
}

type ClassifyRequest struct {
	Model ModelParam `json:"model"`
	Text  string     `json:"text"`
	// Categories defaults to the document categories InvoiceIQ knows.
	Categories []string `json:"categories,omitempty"`
	Debug      bool     `json:"debug,omitempty"`
}

type ClassifyResponse struct {
	Model          string             `json:"model"`
	Classification string             `json:"classification"`
	Confidence     float64            `json:"confidence"`
	Debug          *chain.DebugReport `json:"debug,omitempty"`
}

type GenerateRequest struct {
	Model  ModelParam `json:"model"`
	Prompt string     `json:"prompt"`
	Debug  bool       `json:"debug,omitempty"`
}

type GenerateResponse struct {
	Model  string             `json:"model"`
	Output string             `json:"output"`
	Debug  *chain.DebugReport `json:"debug,omitempty"`
}

type ParseUploadRequest struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

type ParseUploadResponse struct {
	OriginalFileName string `json:"originalFileName"`
	Content          string `json:"content"`
}

type ParseURLRequest struct {
	URL string `json:"url"`
}

type ParseURLResponse struct {
	OriginalURL string `json:"originalUrl"`
	Content     string `json:"content"`
}

type CreateExtractionRequest struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
	// Process queues recognition and extraction right after the upload.
	Process bool `json:"process,omitempty"`
}

type GetExtractionRequest struct {
	ID string `json:"id"`
}

type ListExtractionsRequest struct {
	Status   constants.ExtractionStatus `json:"status,omitempty"`
	Category string                     `json:"category,omitempty"`
	Limit    int                        `json:"limit,omitempty"`
}

type ListExtractionsResponse struct {
	Extractions []*entity.Extraction `json:"extractions"`
}

type ProcessExtractionRequest struct {
	ID    string      `json:"id"`
	Model *ModelParam `json:"model,omitempty"`
	// Async hands the work to the background queue and returns at once.
	Async bool `json:"async,omitempty"`
}

type VerifyExtractionRequest struct {
	ID   string          `json:"id"`
	JSON json.RawMessage `json:"json"`
}

type ExportExtractionsRequest struct {
	Category string `json:"category,omitempty"`
}

type ExportExtractionsResponse struct {
	Filename string `json:"filename"`
	XLSX     []byte `json:"xlsx"`
}
