package structured

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/DracoR22/InvoiceIQ/constants"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// CategorySchema returns the JSON schema documents of category c are
// extracted with.
func CategorySchema(c constants.Category) (string, error) {
	b, err := schemaFS.ReadFile("schemas/" + c.Slug() + ".json")
	if err != nil {
		return "", fmt.Errorf("no schema for category %q: %w", c, err)
	}
	return string(b), nil
}

// CompileSchema compiles a JSON schema document. Any failure is a
// *BadSchemaError.
func CompileSchema(schema string) (*jsonschema.Schema, error) {
	if !json.Valid([]byte(schema)) {
		return nil, &BadSchemaError{Err: fmt.Errorf("schema is not a JSON document")}
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schema)); err != nil {
		return nil, &BadSchemaError{Err: fmt.Errorf("add schema: %w", err)}
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, &BadSchemaError{Err: fmt.Errorf("compile schema: %w", err)}
	}
	return compiled, nil
}

var (
	categorySchemasOnce sync.Once
	categorySchemas     map[constants.Category]*jsonschema.Schema
	categorySchemasErr  error
)

// ValidateCategory checks a decoded JSON document against the schema of c.
func ValidateCategory(c constants.Category, doc any) error {
	categorySchemasOnce.Do(func() {
		categorySchemas = make(map[constants.Category]*jsonschema.Schema)
		for _, name := range constants.AsStringSlice() {
			cat := constants.Category(name)
			raw, err := CategorySchema(cat)
			if err != nil {
				categorySchemasErr = err
				return
			}
			compiled, err := CompileSchema(raw)
			if err != nil {
				categorySchemasErr = fmt.Errorf("category %q: %w", cat, err)
				return
			}
			categorySchemas[cat] = compiled
		}
	})
	if categorySchemasErr != nil {
		return categorySchemasErr
	}
	compiled, ok := categorySchemas[c]
	if !ok {
		return fmt.Errorf("no schema for category %q", c)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("json does not match the %s schema: %w", c, err)
	}
	return nil
}
