package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformedOutput is returned when model output is not a JSON object
// matching the expected schema.
var ErrMalformedOutput = errors.New("malformed model output")

// Schema is a compiled JSON Schema guarding structured model output.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(name, src string) (*Schema, error) {
	compiled, err := jsonschema.CompileString(name, src)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// MustCompileSchema is CompileSchema for package-level schema constants.
func MustCompileSchema(name, src string) *Schema {
	s, err := CompileSchema(name, src)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode locates the JSON object in raw model output, validates it and
// unmarshals it into out. Every failure wraps ErrMalformedOutput.
func (s *Schema) Decode(raw string, out any) error {
	obj := ExtractJSONObject(raw)
	if obj == "" {
		return fmt.Errorf("%w: no JSON object in %s output", ErrMalformedOutput, s.name)
	}

	var generic any
	if err := json.Unmarshal([]byte(obj), &generic); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedOutput, s.name, err)
	}
	if err := s.compiled.Validate(generic); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedOutput, s.name, err)
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedOutput, s.name, err)
	}
	return nil
}

// ExtractJSONObject returns the outermost {...} span of s, tolerating
// markdown code fences and chatter around it. It returns "" if none.
func ExtractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
