package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Registry dispatches the gateway's callTool(server, name, args) primitive
// (spec.md §1, §6.1) to one Caller per server_id. It satisfies both the
// Parallel Executor's and the Sandbox Bridge's MCPCaller ports, which share
// this exact method shape.
type Registry struct {
	mu      sync.RWMutex
	callers map[string]Caller
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{callers: make(map[string]Caller)}
}

// Register attaches caller as the transport for server_id. Re-registering
// an id replaces its caller.
func (r *Registry) Register(serverID string, caller Caller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callers[serverID] = caller
}

// CallTool marshals args to JSON, routes to the Caller registered for
// server, and unmarshals the normalized result back into an any so callers
// need not know about the MCP content-block wire format.
func (r *Registry) CallTool(ctx context.Context, server, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	caller, ok := r.callers[server]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcpclient: no caller registered for server %q", server)
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	resp, err := caller.CallTool(ctx, CallRequest{Suite: server, Tool: name, Payload: payload})
	if err != nil {
		return nil, err
	}

	var result any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		// Non-JSON scalar content (e.g. a bare string); surface the raw text.
		return string(resp.Result), nil
	}
	return result, nil
}

// ListTools dispatches the gateway's listTools(server) primitive (spec.md
// §1, §6) to the Caller registered for server, if it implements ToolLister.
func (r *Registry) ListTools(ctx context.Context, server string) ([]ToolInfo, error) {
	r.mu.RLock()
	caller, ok := r.callers[server]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcpclient: no caller registered for server %q", server)
	}

	lister, ok := caller.(ToolLister)
	if !ok {
		return nil, fmt.Errorf("mcpclient: server %q does not support tools/list", server)
	}
	return lister.ListTools(ctx)
}
