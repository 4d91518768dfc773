// Package tools defines the shared tool identifier and specification types
// used across retrieval, the graph, and execution.
package tools

import "encoding/json"

// Ident is the strong type for a globally unique tool identifier
// (`server:name` per spec.md §3). Use this instead of a bare string so
// maps and APIs cannot accidentally mix tool ids with free-form text.
type Ident string

func (i Ident) String() string { return string(i) }

// Spec describes a registered tool: its routing information, the schema
// its input must satisfy, and the description used to embed it for
// semantic retrieval.
type Spec struct {
	Name        Ident
	ServerID    string
	Description string
	InputSchema json.RawMessage
	Metadata    map[string]string
	// Active is false once a tool is marked inactive; tool_id is never
	// reused (spec.md §3 invariant), so deletion flips this flag instead.
	Active bool
}

// FieldIssue describes one payload validation failure, following the
// constraint vocabulary used by the gateway's JSON-schema validator
// (santhosh-tekuri/jsonschema): missing_field, invalid_enum_value,
// invalid_format, invalid_pattern, invalid_range, invalid_length,
// invalid_field_type.
type FieldIssue struct {
	Field      string
	Constraint string
	Allowed    []string
}
