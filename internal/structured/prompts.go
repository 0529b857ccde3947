package structured

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/DracoR22/InvoiceIQ/internal/chain"
)

const (
	promptZeroShot       = "extraction_zero_shot"
	promptZeroShotRefine = "extraction_zero_shot_refine"
	promptOneShot        = "extraction_one_shot"
	promptAnalysis       = "analysis"
	promptClassification = "classification"
	promptGeneric        = "generic"
)

//go:embed prompts.yaml
var promptCatalogYAML []byte

type promptEntry struct {
	Name           string   `yaml:"name"`
	InputVariables []string `yaml:"input_variables"`
	Template       string   `yaml:"template"`
}

// Catalog holds the compiled prompt templates by name.
type Catalog map[string]*chain.PromptTemplate

// LoadCatalog compiles a YAML prompt catalog. Every required prompt must be
// present.
func LoadCatalog(data []byte) (Catalog, error) {
	var doc struct {
		Prompts []promptEntry `yaml:"prompts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	cat := make(Catalog, len(doc.Prompts))
	for _, p := range doc.Prompts {
		if _, dup := cat[p.Name]; dup {
			return nil, fmt.Errorf("prompt catalog: duplicate prompt %q", p.Name)
		}
		tmpl, err := chain.NewPromptTemplate(p.Template, p.InputVariables...)
		if err != nil {
			return nil, fmt.Errorf("prompt %q: %w", p.Name, err)
		}
		cat[p.Name] = tmpl
	}
	for _, name := range []string{promptZeroShot, promptZeroShotRefine, promptOneShot, promptAnalysis, promptClassification, promptGeneric} {
		if _, ok := cat[name]; !ok {
			return nil, fmt.Errorf("prompt catalog: missing prompt %q", name)
		}
	}
	return cat, nil
}
