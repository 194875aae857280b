package templates

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var templateSchemaRaw []byte

var (
	schemaOnce     sync.Once
	templateSchema *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("template.schema.json", bytes.NewReader(templateSchemaRaw)); err != nil {
			schemaErr = fmt.Errorf("load template schema: %w", err)
			return
		}
		templateSchema, schemaErr = compiler.Compile("template.schema.json")
	})
	return templateSchema, schemaErr
}

// ValidateJSON checks a raw template document against the template schema and
// also rejects duplicate section keys, which the schema cannot express.
func ValidateJSON(raw json.RawMessage) (Template, error) {
	schema, err := compiledSchema()
	if err != nil {
		return Template{}, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Template{}, fmt.Errorf("parse template: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Template{}, fmt.Errorf("template does not match schema: %w", err)
	}

	var tpl Template
	if err := json.Unmarshal(raw, &tpl); err != nil {
		return Template{}, fmt.Errorf("decode template: %w", err)
	}

	seen := make(map[string]bool, len(tpl.Sections))
	for _, section := range tpl.Sections {
		if seen[section.Key] {
			return Template{}, fmt.Errorf("duplicate section key: %s", section.Key)
		}
		seen[section.Key] = true
	}
	return tpl, nil
}
