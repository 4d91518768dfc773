package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/storage/memstore"
)

type fakeMCP struct {
	mu    sync.Mutex
	calls int
	fail  map[string]bool
}

func (f *fakeMCP) CallTool(ctx context.Context, server, name string, args map[string]any) (any, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail[name] {
		return nil, errors.New("boom")
	}
	return map[string]any{"ok": true}, nil
}

type fakeSandbox struct{}

func (fakeSandbox) RunCode(ctx context.Context, intent, code string, codeCtx map[string]any) (any, []domain.TraceEvent, error) {
	return "ran", nil, nil
}

func TestExecuteRunsDependentTasksAndSucceeds(t *testing.T) {
	ctx := context.Background()
	mcp := &fakeMCP{fail: map[string]bool{}}
	exec := New(mcp, fakeSandbox{}, memstore.New())

	dag := DAG{Tasks: []Task{
		{ID: "task_0", Kind: KindMCPTool, Tool: "files:read", ServerID: "files"},
		{ID: "task_1", Kind: KindMCPTool, Tool: "files:list", ServerID: "files", DependsOn: []string{"task_0"}},
	}}

	outcome, err := exec.Execute(ctx, "wf1", "read then list", dag)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Len(t, outcome.Results, 2)
	require.Equal(t, 2, mcp.calls)
}

func TestExecuteDetectsCycle(t *testing.T) {
	ctx := context.Background()
	exec := New(&fakeMCP{}, fakeSandbox{}, memstore.New())

	dag := DAG{Tasks: []Task{
		{ID: "a", Kind: KindMCPTool, Tool: "x", DependsOn: []string{"b"}},
		{ID: "b", Kind: KindMCPTool, Tool: "y", DependsOn: []string{"a"}},
	}}

	_, err := exec.Execute(ctx, "wf2", "cyclic", dag)
	require.Error(t, err)
}

func TestDownstreamTasksAreSkippedAfterDependencyFailure(t *testing.T) {
	ctx := context.Background()
	mcp := &fakeMCP{fail: map[string]bool{"files:read": true}}
	exec := New(mcp, fakeSandbox{}, memstore.New())

	dag := DAG{Tasks: []Task{
		{ID: "task_0", Kind: KindMCPTool, Tool: "files:read", ServerID: "files", SideEffects: true},
		{ID: "task_1", Kind: KindMCPTool, Tool: "files:write", ServerID: "files", DependsOn: []string{"task_0"}},
	}}

	outcome, err := exec.Execute(ctx, "wf3", "read then write", dag)
	require.NoError(t, err)
	require.False(t, outcome.Success)

	byID := make(map[string]TaskResult, len(outcome.Results))
	for _, r := range outcome.Results {
		byID[r.TaskID] = r
	}
	require.False(t, byID["task_0"].Success)
	require.True(t, byID["task_1"].Skipped)
	require.False(t, byID["task_1"].Success)
}

func TestSideEffectTasksAreNotRetried(t *testing.T) {
	ctx := context.Background()
	mcp := &fakeMCP{fail: map[string]bool{"files:delete": true}}
	exec := New(mcp, fakeSandbox{}, memstore.New())

	dag := DAG{Tasks: []Task{
		{ID: "task_0", Kind: KindMCPTool, Tool: "files:delete", ServerID: "files", SideEffects: true},
	}}

	_, err := exec.Execute(ctx, "wf4", "delete once", dag)
	require.NoError(t, err)
	require.Equal(t, 1, mcp.calls)
}

func TestTraceEventsPairStartAndEndPerTask(t *testing.T) {
	ctx := context.Background()
	mcp := &fakeMCP{}
	exec := New(mcp, fakeSandbox{}, memstore.New())

	dag := DAG{Tasks: []Task{{ID: "task_0", Kind: KindMCPTool, Tool: "files:read", ServerID: "files"}}}

	outcome, err := exec.Execute(ctx, "wf5", "read", dag)
	require.NoError(t, err)

	starts, ends := 0, 0
	for _, tr := range outcome.Traces {
		switch tr.Type {
		case domain.TraceToolStart:
			starts++
		case domain.TraceToolEnd:
			ends++
		}
	}
	require.Equal(t, starts, ends)
	require.Equal(t, 1, starts)
}

type flakyMCP struct {
	mu         sync.Mutex
	failBefore int
	calls      int
}

func (f *flakyMCP) CallTool(ctx context.Context, server, name string, args map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failBefore {
		return nil, errors.New("transient failure")
	}
	return map[string]any{"ok": true}, nil
}

func TestRetriedTaskGetsFreshTraceIDPerAttempt(t *testing.T) {
	ctx := context.Background()
	mcp := &flakyMCP{failBefore: 2}
	exec := New(mcp, fakeSandbox{}, memstore.New())

	dag := DAG{Tasks: []Task{{ID: "task_0", Kind: KindMCPTool, Tool: "files:read", ServerID: "files"}}}

	outcome, err := exec.Execute(ctx, "wf6", "read with retries", dag)
	require.NoError(t, err)
	require.True(t, outcome.Success)
	require.Equal(t, 3, mcp.calls)

	require.Len(t, outcome.Traces, 6)
	seen := make(map[string]int)
	for i := 0; i < len(outcome.Traces); i += 2 {
		start, end := outcome.Traces[i], outcome.Traces[i+1]
		require.Equal(t, domain.TraceToolStart, start.Type)
		require.Equal(t, domain.TraceToolEnd, end.Type)
		require.Equal(t, start.TraceID, end.TraceID, "each attempt's start/end must share a trace_id")
		seen[start.TraceID]++
	}
	require.Len(t, seen, 3, "each retry attempt must get its own fresh trace_id")
	for id, count := range seen {
		require.Equal(t, 1, count, "trace_id %s reused across attempts", id)
	}
}
