package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mcpgw/gateway/internal/mcpclient"
)

// mcpServerSpec describes one MCP server registration: a transport kind
// plus the fields that transport needs. Command servers are spawned as
// subprocesses; http servers are reached over an endpoint URL.
type mcpServerSpec struct {
	ID        string   `json:"id"`
	Transport string   `json:"transport"`
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	Env       []string `json:"env,omitempty"`
	Endpoint  string   `json:"endpoint,omitempty"`
}

// registerMCPServers reads a JSON array of mcpServerSpec from path and
// registers a transport-specific Caller for each into reg.
func registerMCPServers(ctx context.Context, reg *mcpclient.Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var specs []mcpServerSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("unmarshal mcp servers: %w", err)
	}

	for _, s := range specs {
		caller, err := buildCaller(ctx, s)
		if err != nil {
			return fmt.Errorf("server %s: %w", s.ID, err)
		}
		reg.Register(s.ID, caller)
	}
	return nil
}

func buildCaller(ctx context.Context, s mcpServerSpec) (mcpclient.Caller, error) {
	const initTimeout = 10 * time.Second

	switch s.Transport {
	case "stdio":
		return mcpclient.NewStdioCaller(ctx, mcpclient.StdioOptions{
			Command:     s.Command,
			Args:        s.Args,
			Env:         s.Env,
			InitTimeout: initTimeout,
		})
	case "http":
		return mcpclient.NewHTTPCaller(ctx, mcpclient.HTTPOptions{
			Endpoint:    s.Endpoint,
			InitTimeout: initTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", s.Transport)
	}
}
