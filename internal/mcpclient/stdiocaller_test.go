package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const stdioHelperEnv = "MCPGW_STDIO_HELPER"

func TestStdioCallerCallTool(t *testing.T) {
	ctx := context.Background()
	caller, err := NewStdioCaller(ctx, StdioOptions{
		Command:     os.Args[0],
		Args:        []string{"-test.run=TestStdioHelperProcess", "--"},
		Env:         []string{stdioHelperEnv + "=1"},
		InitTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer caller.Close()

	resp, err := caller.CallTool(ctx, CallRequest{Suite: "files", Tool: "echo", Payload: json.RawMessage(`{"msg":"hi"}`)})
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Equal(t, "hi", result["msg"])
}

// TestStdioHelperProcess is not a real test: it is re-exec'd as a
// subprocess by TestStdioCallerCallTool (same pattern as exec.Command's own
// "helper process" idiom) and speaks the stdio MCP wire protocol back to
// the parent over its stdin/stdout.
func TestStdioHelperProcess(t *testing.T) {
	if os.Getenv(stdioHelperEnv) != "1" {
		t.Skip("helper process")
	}
	runStdioHelper()
}

func runStdioHelper() {
	reader := bufio.NewReader(os.Stdin)
	writer := bufio.NewWriter(os.Stdout)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			break
		}
		var req rpcRequest
		if err := json.Unmarshal(frame, &req); err != nil {
			continue
		}
		switch req.Method {
		case "initialize":
			_ = writeFrame(writer, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"capabilities":{}}`)})
		case "tools/call":
			params, _ := req.Params.(map[string]any)
			echoed, _ := params["arguments"].(map[string]any)
			data, _ := json.Marshal(echoed)
			text := string(data)
			mime := "application/json"
			result := toolsCallResult{Content: []contentItem{{Type: "text", Text: &text, MimeType: &mime}}}
			payload, _ := json.Marshal(result)
			_ = writeFrame(writer, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: payload})
		default:
			_ = writeFrame(writer, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: JSONRPCMethodNotFound, Message: "unknown method"}})
		}
	}
	os.Exit(0)
}
