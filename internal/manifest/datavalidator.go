package manifest

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator validates data against action schemas, caching compiled
// schemas by id. Safe for concurrent use.
type SchemaValidator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator creates an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cache: make(map[string]*jsonschema.Schema)}
}

func (v *SchemaValidator) compiled(schemaID string, schema json.RawMessage) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.cache[schemaID]; ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	url := "trikhub://schemas/" + schemaID
	if err := compiler.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	v.cache[schemaID] = s
	return s, nil
}

// Validate checks data against the schema registered under schemaID. The
// schema is compiled on first use. Returns nil when the data conforms.
func (v *SchemaValidator) Validate(schemaID string, schema json.RawMessage, data any) []Issue {
	s, err := v.compiled(schemaID, schema)
	if err != nil {
		return []Issue{{Kind: KindStructural, Message: "cannot compile schema: " + err.Error()}}
	}

	err = s.Validate(data)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []Issue{{Kind: KindStructural, Message: err.Error()}}
	}
	var issues []Issue
	flattenValidationError(verr, &issues)
	return issues
}

// Clear drops the compiled-schema cache.
func (v *SchemaValidator) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache = make(map[string]*jsonschema.Schema)
}
