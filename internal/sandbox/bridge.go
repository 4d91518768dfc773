package sandbox

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/toolerrors"
)

// rpcTimeout, totalTimeout, and maxInFlightRPCs are the reference limits
// from spec.md §4.8/§5: each RPC and the whole execution carry independent
// deadlines, and in-flight RPCs are capped to bound blast radius.
const (
	rpcTimeout      = 10 * time.Second
	totalTimeout    = 30 * time.Second
	maxInFlightRPCs = 8
)

// MCPCaller is the assumed external callTool(server, name, args) port
// (spec.md §1), used to service rpc_call messages from the worker.
type MCPCaller interface {
	CallTool(ctx context.Context, server, name string, args map[string]any) (any, error)
}

// Bridge runs code_execution tasks in an isolated subprocess worker.
type Bridge struct {
	workerPath    string
	workspaceRoot string
	mcp           MCPCaller
}

// New constructs a Bridge. workerPath is the executable spawned for every
// run; workspaceRoot bounds path validation for any filesystem access the
// worker proxies back through the bridge.
func New(workerPath, workspaceRoot string, mcp MCPCaller) *Bridge {
	return &Bridge{workerPath: workerPath, workspaceRoot: workspaceRoot, mcp: mcp}
}

// RunCode spawns a worker, sends init, services rpc_call messages until
// execution_complete (or a timeout, or the worker crashes), and returns
// the result plus the trace events collected for every proxied tool call
// (spec.md §4.8).
func (b *Bridge) RunCode(ctx context.Context, workflowID, code string, codeCtx map[string]any) (any, []domain.TraceEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.workerPath)
	cmd.Env = []string{} // empty, non-nil: no inherited environment
	cmd.Dir = b.workspaceRoot

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, toolerrors.Wrap(toolerrors.KindRuntimeError, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, toolerrors.Wrap(toolerrors.KindRuntimeError, err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, toolerrors.Wrap(toolerrors.KindRuntimeError, err)
	}
	defer func() { _ = cmd.Process.Kill() }()

	w := &worker{
		stdin:    bufio.NewWriter(stdin),
		stdout:   bufio.NewReader(stdout),
		mcp:      b.mcp,
		root:     b.workspaceRoot,
		workflow: workflowID,
		sem:      make(chan struct{}, maxInFlightRPCs),
	}

	contextRaw, err := json.Marshal(codeCtx)
	if err != nil {
		return nil, nil, toolerrors.Wrap(toolerrors.KindSerializationError, err)
	}
	if err := w.send(Message{Type: MsgInit, Code: code, ToolDefinitions: nil, Context: contextRaw}); err != nil {
		return nil, nil, err
	}

	result, err := w.serve(ctx)
	return result, w.traces(), err
}

// worker tracks one running sandbox session: the framed channel to the
// subprocess, the MCP caller RPCs are routed to, and the trace events
// accumulated for every proxied tool call.
type worker struct {
	stdin    *bufio.Writer
	stdout   *bufio.Reader
	mcp      MCPCaller
	root     string
	workflow string

	sem      chan struct{}
	wg       sync.WaitGroup

	mu          sync.Mutex
	traceEvents []domain.TraceEvent
}

func (w *worker) traces() []domain.TraceEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.TraceEvent, len(w.traceEvents))
	copy(out, w.traceEvents)
	return out
}

func (w *worker) addTrace(ev domain.TraceEvent) {
	w.mu.Lock()
	w.traceEvents = append(w.traceEvents, ev)
	w.mu.Unlock()
}

// serve reads framed messages until execution_complete, the context
// expires, or the stream ends unexpectedly (worker crash).
func (w *worker) serve(ctx context.Context) (any, error) {
	for {
		msg, err := w.recv()
		if err != nil {
			if err == io.EOF {
				return nil, toolerrors.New(toolerrors.KindRuntimeError, "worker terminated: Worker terminated")
			}
			return nil, toolerrors.Wrap(toolerrors.KindRuntimeError, err)
		}

		switch msg.Type {
		case MsgRPCCall:
			w.wg.Add(1)
			go w.handleRPCCall(ctx, msg)
		case MsgExecutionComplete:
			w.wg.Wait()
			if !msg.Success {
				return nil, toolerrors.New(toolerrors.KindRuntimeError, msg.Error)
			}
			var result any
			if len(msg.Result) > 0 {
				if err := json.Unmarshal(msg.Result, &result); err != nil {
					return nil, toolerrors.Wrap(toolerrors.KindSerializationError, err)
				}
			}
			return result, nil
		default:
			// Unrecognized frame: ignore, the worker protocol is forward-compatible.
		}

		select {
		case <-ctx.Done():
			w.wg.Wait()
			return nil, toolerrors.New(toolerrors.KindTimeoutError, "sandbox execution deadline exceeded")
		default:
		}
	}
}

// handleRPCCall services one rpc_call: it records a tool_start/tool_end
// trace pair keyed by the call's id (which doubles as trace_id), enforces
// the per-RPC timeout, validates any path-bearing argument against the
// workspace root before the call reaches the MCP caller, and replies
// rpc_result.
func (w *worker) handleRPCCall(ctx context.Context, msg Message) {
	defer w.wg.Done()

	select {
	case w.sem <- struct{}{}:
		defer func() { <-w.sem }()
	case <-ctx.Done():
		return
	}

	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	toolID := msg.Server + ":" + msg.Tool
	w.addTrace(domain.TraceEvent{
		WorkflowID:         w.workflow,
		Type:               domain.TraceToolStart,
		TraceID:            msg.ID,
		ToolOrCapabilityID: toolID,
		Timestamp:          time.Now(),
	})

	var args map[string]any
	if len(msg.Args) > 0 {
		if err := json.Unmarshal(msg.Args, &args); err != nil {
			w.reply(msg.ID, nil, toolerrors.Wrap(toolerrors.KindSerializationError, err))
			w.endTrace(toolID, msg.ID, false)
			return
		}
	}

	if err := w.validateArgPaths(args); err != nil {
		w.reply(msg.ID, nil, err)
		w.endTrace(toolID, msg.ID, false)
		return
	}

	result, err := w.mcp.CallTool(rpcCtx, msg.Server, msg.Tool, args)
	w.reply(msg.ID, result, err)
	w.endTrace(toolID, msg.ID, err == nil)
}

// pathArgKeys lists the tool argument keys the bridge treats as filesystem
// paths subject to workspace containment (spec.md §4.8): any string value
// under one of these keys is validated against the workspace root before
// the call reaches the MCP caller.
var pathArgKeys = []string{"path", "file_path", "filepath", "directory", "dir"}

// validateArgPaths rejects any path-bearing argument that escapes root,
// before the call is allowed to reach the MCP caller (spec.md §4.8
// scenario 5).
func (w *worker) validateArgPaths(args map[string]any) error {
	for _, key := range pathArgKeys {
		v, ok := args[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if _, err := ValidatePath(w.root, s); err != nil {
			return err
		}
	}
	return nil
}

func (w *worker) endTrace(toolID, traceID string, success bool) {
	s := success
	w.addTrace(domain.TraceEvent{
		WorkflowID:         w.workflow,
		Type:               domain.TraceToolEnd,
		TraceID:            traceID,
		ToolOrCapabilityID: toolID,
		Timestamp:          time.Now(),
		Success:            &s,
	})
}

func (w *worker) reply(id string, result any, err error) {
	out := Message{Type: MsgRPCResult, ID: id}
	if err != nil {
		out.Success = false
		out.Error = err.Error()
	} else {
		out.Success = true
		raw, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			out.Success = false
			out.Error = toolerrors.Wrap(toolerrors.KindSerializationError, marshalErr).Error()
		} else {
			out.Result = raw
		}
	}
	_ = w.send(out)
}

// send writes msg as a 4-byte big-endian length prefix followed by its
// JSON encoding.
func (w *worker) send(msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return toolerrors.Wrap(toolerrors.KindSerializationError, err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	if _, err := w.stdin.Write(lenBuf[:]); err != nil {
		return toolerrors.Wrap(toolerrors.KindRuntimeError, err)
	}
	if _, err := w.stdin.Write(raw); err != nil {
		return toolerrors.Wrap(toolerrors.KindRuntimeError, err)
	}
	return w.stdin.Flush()
}

// recv reads one length-prefixed frame from the worker's stdout.
func (w *worker) recv() (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(w.stdout, lenBuf[:]); err != nil {
		return Message{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(w.stdout, buf); err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal(buf, &msg); err != nil {
		return Message{}, fmt.Errorf("sandbox: decode frame: %w", err)
	}
	return msg, nil
}
