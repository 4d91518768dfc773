package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpgw/gateway/internal/domain"
)

type fakeCaller struct {
	called bool
	result any
	err    error
}

func (f *fakeCaller) CallTool(ctx context.Context, server, name string, args map[string]any) (any, error) {
	f.called = true
	return f.result, f.err
}

func newTestWorker(mcp MCPCaller, root string) (*worker, *bytes.Buffer) {
	var buf bytes.Buffer
	w := &worker{
		stdin:    bufio.NewWriter(&buf),
		mcp:      mcp,
		root:     root,
		workflow: "wf-1",
		sem:      make(chan struct{}, 1),
	}
	return w, &buf
}

func TestHandleRPCCallRejectsPathTraversalBeforeDispatch(t *testing.T) {
	root := t.TempDir()
	caller := &fakeCaller{result: "unused"}
	w, _ := newTestWorker(caller, root)

	args, err := json.Marshal(map[string]any{"path": "../etc/passwd"})
	require.NoError(t, err)

	w.wg.Add(1)
	w.handleRPCCall(context.Background(), Message{Type: MsgRPCCall, ID: "trace-1", Server: "fs", Tool: "read_file", Args: args})
	w.wg.Wait()

	require.False(t, caller.called, "no MCP call should be dispatched for a path-traversal attempt")

	traces := w.traces()
	require.Len(t, traces, 2)
	require.Equal(t, domain.TraceToolStart, traces[0].Type)
	require.Equal(t, "trace-1", traces[0].TraceID)
	require.Equal(t, domain.TraceToolEnd, traces[1].Type)
	require.Equal(t, "trace-1", traces[1].TraceID)
	require.NotNil(t, traces[1].Success)
	require.False(t, *traces[1].Success)
}

func TestHandleRPCCallDispatchesValidPath(t *testing.T) {
	root := t.TempDir()
	caller := &fakeCaller{result: "file contents"}
	w, _ := newTestWorker(caller, root)

	args, err := json.Marshal(map[string]any{"path": "notes.txt"})
	require.NoError(t, err)

	w.wg.Add(1)
	w.handleRPCCall(context.Background(), Message{Type: MsgRPCCall, ID: "trace-2", Server: "fs", Tool: "read_file", Args: args})
	w.wg.Wait()

	require.True(t, caller.called)

	traces := w.traces()
	require.Len(t, traces, 2)
	require.True(t, *traces[1].Success)
}

func TestHandleRPCCallDispatchesWhenNoPathArg(t *testing.T) {
	root := t.TempDir()
	caller := &fakeCaller{result: "ok"}
	w, _ := newTestWorker(caller, root)

	args, err := json.Marshal(map[string]any{"query": "hello"})
	require.NoError(t, err)

	w.wg.Add(1)
	w.handleRPCCall(context.Background(), Message{Type: MsgRPCCall, ID: "trace-3", Server: "search", Tool: "query", Args: args})
	w.wg.Wait()

	require.True(t, caller.called)
}
