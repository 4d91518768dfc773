package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CompiledSchema wraps a pre-compiled JSON schema for a tool's input so
// repeated validations (one per candidate task) do not re-parse the schema
// document on every call.
type CompiledSchema struct {
	schema *jsonschema.Schema
}

// CompileInputSchema compiles a tool's InputSchema document. Tools without
// a schema (nil/empty InputSchema) accept any JSON-object payload.
func CompileInputSchema(name Ident, raw json.RawMessage) (*CompiledSchema, error) {
	if len(raw) == 0 {
		return &CompiledSchema{}, nil
	}
	c := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tool %s: parse input schema: %w", name, err)
	}
	url := "mem://" + name.String() + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("tool %s: add input schema: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile input schema: %w", name, err)
	}
	return &CompiledSchema{schema: schema}, nil
}

// Validate checks payload (decoded JSON) against the compiled schema and
// returns the set of FieldIssue failures, or nil when the payload is
// schema-compliant.
func (c *CompiledSchema) Validate(payload any) []FieldIssue {
	if c == nil || c.schema == nil {
		return nil
	}
	err := c.schema.Validate(payload)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []FieldIssue{{Field: "", Constraint: "invalid_field_type"}}
	}
	issues := flattenValidationError(ve)
	sort.Slice(issues, func(i, j int) bool { return issues[i].Field < issues[j].Field })
	return issues
}

// flattenValidationError walks the basic-output-style cause tree a
// jsonschema.ValidationError carries and produces one FieldIssue per leaf
// failure. The library does not export a stable typed enum for "kind of
// failure", so the constraint classification is derived from the leaf
// error's rendered message, which is the documented stable surface.
func flattenValidationError(ve *jsonschema.ValidationError) []FieldIssue {
	var issues []FieldIssue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if e == nil {
			return
		}
		if len(e.Causes) == 0 {
			field := "/"
			if len(e.InstanceLocation) > 0 {
				field = "/" + joinPath(e.InstanceLocation)
			}
			issues = append(issues, FieldIssue{
				Field:      field,
				Constraint: constraintFor(e.Error()),
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return issues
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

// constraintFor maps a rendered jsonschema error message onto the
// gateway's constraint vocabulary. Unrecognized messages fall back to
// invalid_field_type.
func constraintFor(msg string) string {
	switch {
	case strings.Contains(msg, "missing properties"):
		return "missing_field"
	case strings.Contains(msg, "value must be one of"):
		return "invalid_enum_value"
	case strings.Contains(msg, "is not valid") && strings.Contains(msg, "format"):
		return "invalid_format"
	case strings.Contains(msg, "does not match pattern"):
		return "invalid_pattern"
	case strings.Contains(msg, "length"):
		return "invalid_length"
	case strings.Contains(msg, "minimum") || strings.Contains(msg, "maximum"):
		return "invalid_range"
	default:
		return "invalid_field_type"
	}
}
