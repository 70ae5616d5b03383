// Package schemas validates ledger and site-hint documents against the embedded JSON Schemas.
package schemas

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	schemafiles "github.com/jonathan/apply-agent/schemas"
)

// ValidationError lists every schema violation of one document.
type ValidationError struct {
	Schema string
	Errors []FieldError
}

// FieldError is one violation. Field is a dotted path, "(root)" for the document itself.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s validation failed:\n", ve.Schema)
	for i, err := range ve.Errors {
		fmt.Fprintf(&sb, "  %d. %s: %s\n", i+1, err.Field, err.Message)
	}
	return sb.String()
}

// SchemaLoadError means the schema itself could not be read or compiled.
type SchemaLoadError struct {
	Schema string
	Cause  error
}

func (e *SchemaLoadError) Error() string {
	return fmt.Sprintf("failed to load schema %s: %v", e.Schema, e.Cause)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

var (
	compiledMu sync.Mutex
	compiled   = make(map[string]*gojsonschema.Schema)
)

// compile returns the parsed schema, compiling each embedded file at most once.
func compile(name string) (*gojsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()
	if s, ok := compiled[name]; ok {
		return s, nil
	}
	raw, err := schemafiles.Files.ReadFile(name)
	if err != nil {
		return nil, &SchemaLoadError{Schema: name, Cause: err}
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, &SchemaLoadError{Schema: name, Cause: err}
	}
	compiled[name] = s
	return s, nil
}

// ValidateBytes validates a JSON document against one of the embedded schemas,
// e.g. ValidateBytes(schemafiles.Ledger, data).
func ValidateBytes(schemaName string, document []byte) error {
	return validate(schemaName, gojsonschema.NewBytesLoader(document))
}

// ValidateValue validates an already-decoded document (for example one read from YAML).
func ValidateValue(schemaName string, document any) error {
	return validate(schemaName, gojsonschema.NewGoLoader(document))
}

func validate(schemaName string, document gojsonschema.JSONLoader) error {
	s, err := compile(schemaName)
	if err != nil {
		return err
	}
	result, err := s.Validate(document)
	if err != nil {
		return fmt.Errorf("%s: document is not valid JSON: %w", schemaName, err)
	}
	if result.Valid() {
		return nil
	}

	ve := &ValidationError{Schema: schemaName, Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		ve.Errors = append(ve.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return ve
}
