// Package sandbox implements the Sandbox Bridge (spec.md §4.8): it spawns
// a subprocess worker with an empty environment and the workspace root as
// its working directory (no further OS-level restriction is applied),
// sends it the code and context in an init message that carries no tool
// definitions, and turns every rpc_call the worker sends over the
// length-prefixed JSON-RPC channel into a traced RPC round trip to the
// gateway's MCP clients.
package sandbox

import "encoding/json"

// MessageType enumerates the Sandbox RPC protocol's message kinds
// (spec.md §6.3).
type MessageType string

const (
	MsgInit             MessageType = "init"
	MsgRPCCall          MessageType = "rpc_call"
	MsgRPCResult        MessageType = "rpc_result"
	MsgExecutionComplete MessageType = "execution_complete"
)

// ToolDefinition is the serializable shape of one proxy tool injected into
// the worker (spec.md §4.8).
type ToolDefinition struct {
	Server      string          `json:"server"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Message is the envelope for every Sandbox RPC protocol frame. Exactly
// one of the typed payload fields is populated, selected by Type.
type Message struct {
	Type MessageType `json:"type"`

	// init
	Code            string           `json:"code,omitempty"`
	ToolDefinitions []ToolDefinition `json:"tool_definitions,omitempty"`
	Context         json.RawMessage  `json:"context,omitempty"`

	// rpc_call / rpc_result: id correlates the pair, and equals the
	// trace_id of the tool_start/tool_end events the bridge emits for it.
	ID     string          `json:"id,omitempty"`
	Server string          `json:"server,omitempty"`
	Tool   string           `json:"tool,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`

	// rpc_result / execution_complete
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}
