package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"xianyuwatch/internal/types"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNoJSON is returned when a response carries no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

const verdictSchema = `{
  "type": "object",
  "required": ["is_recommended", "reason"],
  "properties": {
    "is_recommended": {"type": "boolean"},
    "reason": {"type": "string"},
    "risk_tags": {"type": "array", "items": {"type": "string"}},
    "criteria_analysis": {"type": "object"}
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("verdict.json", strings.NewReader(verdictSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("verdict.json")
	})
	return schema, schemaErr
}

// ExtractJSON returns the text between the first '{' and the last '}'. Text
// without both braces is returned whole.
func ExtractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return strings.TrimSpace(text)
	}
	return text[start : end+1]
}

// ValidateVerdict checks raw JSON against the verdict schema.
func ValidateVerdict(raw []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("verdict does not match schema: %w", err)
	}
	return nil
}

// ParseVerdict extracts, validates and decodes a verdict from model text.
func ParseVerdict(text string) (*types.Verdict, error) {
	raw := []byte(ExtractJSON(text))
	if err := ValidateVerdict(raw); err != nil {
		return nil, err
	}
	var v types.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	return &v, nil
}
