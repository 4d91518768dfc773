// Package executor implements the Parallel Executor (spec.md §4.6): it
// validates a DAG's acyclicity, computes topological layers, and runs each
// layer's tasks concurrently up to a configured fan-out cap, emitting
// task/layer/execution events and persisting the resulting
// workflow-execution record.
package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/eventbus"
	"github.com/mcpgw/gateway/internal/storage"
	"github.com/mcpgw/gateway/internal/telemetry"
	"github.com/mcpgw/gateway/internal/toolerrors"
	"github.com/mcpgw/gateway/internal/tools"
)

// defaultLayerConcurrency is the reference per-layer fan-out cap
// (spec.md §5).
const defaultLayerConcurrency = 16

// retryAttempts and retryBaseDelay implement the reference retry contract
// for idempotent tasks (spec.md §4.6): 3 attempts, 100ms*2^n backoff.
const (
	retryAttempts  = 3
	retryBaseDelay = 100 * time.Millisecond
)

// TaskKind tags a task as either an MCP tool invocation or a sandboxed
// code-execution task (spec.md §4.6, §9 Design Notes: a closed tagged
// union, not an open interface, since the executor must switch on kind to
// pick idempotency and tracing behavior).
type TaskKind string

const (
	KindMCPTool       TaskKind = "mcp_tool"
	KindCodeExecution TaskKind = "code_execution"
)

// Task is one node of the DAG the executor runs.
type Task struct {
	ID          string
	Kind        TaskKind
	Tool        tools.Ident   // set when Kind == KindMCPTool
	ServerID    string        // set when Kind == KindMCPTool
	Args        map[string]any
	Code        string        // set when Kind == KindCodeExecution
	Intent      string        // set when Kind == KindCodeExecution
	DependsOn   []string
	SideEffects bool // true disables automatic retry (spec.md §4.6)
}

// DAG is the executable task graph.
type DAG struct {
	Tasks []Task
}

// Runner invokes a single task. MCPCaller and SandboxRunner below adapt
// the two task kinds to this common shape.
type Runner interface {
	Run(ctx context.Context, t Task) (result any, err error)
}

// MCPCaller is the assumed external callTool(server, name, args) port
// (spec.md §1, §6.1 external interfaces), used for KindMCPTool tasks.
type MCPCaller interface {
	CallTool(ctx context.Context, server, name string, args map[string]any) (any, error)
}

// SandboxRunner is the Sandbox Bridge port (spec.md §4.8), used for
// KindCodeExecution tasks.
type SandboxRunner interface {
	RunCode(ctx context.Context, intent, code string, codeCtx map[string]any) (any, []domain.TraceEvent, error)
}

// TaskResult is one task's terminal outcome.
type TaskResult struct {
	TaskID          string
	Tool            tools.Ident
	Success         bool
	Result          any
	Error           *toolerrors.Result
	ExecutionTimeMS int64
	Skipped         bool // true when a dependency failed (status=failed_safe)
}

// Outcome is the Parallel Executor's terminal result for one DAG run.
type Outcome struct {
	WorkflowID string
	Success    bool
	Results    []TaskResult
	Traces     []domain.TraceEvent
	Deps       []ExecutedDependency // realized dependency edges, for the Learning Loop
}

// ExecutedDependency mirrors graph.ExecutedDependency without importing
// the graph package, keeping the executor decoupled from graph internals.
type ExecutedDependency struct {
	From, To tools.Ident
}

// Executor is the Parallel Executor.
type Executor struct {
	mcp      MCPCaller
	sandbox  SandboxRunner
	storage  storage.Adapter
	bus      *eventbus.Bus
	logger   telemetry.Logger
	layerCap int
}

// Option configures an Executor.
type Option func(*Executor)

// WithBus attaches an event bus the executor publishes task/layer/dag
// events to.
func WithBus(bus *eventbus.Bus) Option { return func(e *Executor) { e.bus = bus } }

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option { return func(e *Executor) { e.logger = l } }

// WithLayerConcurrency overrides the per-layer fan-out cap.
func WithLayerConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.layerCap = n
		}
	}
}

// New constructs an Executor over mcp and sandbox, persisting to store.
func New(mcp MCPCaller, sandbox SandboxRunner, store storage.Adapter, opts ...Option) *Executor {
	e := &Executor{
		mcp:      mcp,
		sandbox:  sandbox,
		storage:  store,
		logger:   telemetry.NewNoopLogger(),
		layerCap: defaultLayerConcurrency,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Executor) publish(name string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Name: name, Payload: payload})
}

// Execute validates dag's acyclicity, runs it layer by layer, and persists
// the resulting workflow-execution record (spec.md §4.6). The returned
// Outcome's Success is true iff every task succeeded; downstream tasks of
// a failed task are marked Skipped rather than aborting the run.
func (e *Executor) Execute(ctx context.Context, workflowID, intentText string, dag DAG) (Outcome, error) {
	layers, err := toposortLayers(dag.Tasks)
	if err != nil {
		return Outcome{}, err
	}

	e.publish("dag.started", map[string]any{"workflow_id": workflowID})

	start := time.Now()
	taskByID := make(map[string]Task, len(dag.Tasks))
	for _, t := range dag.Tasks {
		taskByID[t.ID] = t
	}

	results := make(map[string]TaskResult, len(dag.Tasks))
	var traces []domain.TraceEvent
	var deps []ExecutedDependency

	overallSuccess := true
	for _, layer := range layers {
		layerTraces, err := e.runLayer(ctx, workflowID, layer, taskByID, results)
		traces = append(traces, layerTraces...)
		if err != nil {
			return Outcome{}, err
		}
		for _, t := range layer {
			r := results[t.ID]
			if !r.Success {
				overallSuccess = false
			}
			for _, depID := range t.DependsOn {
				if depTask, ok := taskByID[depID]; ok {
					deps = append(deps, ExecutedDependency{From: depTask.Tool, To: t.Tool})
				}
			}
		}
		e.publish("layer_complete", map[string]any{"workflow_id": workflowID, "layer_size": len(layer)})
	}

	ordered := make([]TaskResult, 0, len(dag.Tasks))
	for _, t := range dag.Tasks {
		ordered = append(ordered, results[t.ID])
	}

	outcome := Outcome{
		WorkflowID: workflowID,
		Success:    overallSuccess,
		Results:    ordered,
		Traces:     traces,
		Deps:       deps,
	}

	exec := domain.WorkflowExecution{
		ExecutionID:     workflowID,
		IntentText:      intentText,
		Success:         overallSuccess,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
		ExecutedAt:      time.Now(),
	}
	if !overallSuccess {
		exec.ErrorMessage = "one or more tasks failed"
	}
	if err := e.storage.AppendWorkflowExecution(ctx, exec); err != nil {
		e.logger.Warn(ctx, "executor: failed to persist workflow execution", "workflow_id", workflowID, "err", err)
	}
	if len(traces) > 0 {
		if err := e.storage.AppendTraceEvents(ctx, traces); err != nil {
			e.logger.Warn(ctx, "executor: failed to persist trace events", "workflow_id", workflowID, "err", err)
		}
	}

	e.publish("dag.completed", map[string]any{"workflow_id": workflowID, "success": overallSuccess})
	return outcome, nil
}

// runLayer executes every task in layer concurrently, capped at
// e.layerCap, skipping tasks whose dependencies already failed
// (status=failed_safe per spec.md §4.6).
func (e *Executor) runLayer(ctx context.Context, workflowID string, layer []Task, taskByID map[string]Task, results map[string]TaskResult) ([]domain.TraceEvent, error) {
	var traceMu sync.Mutex
	var traces []domain.TraceEvent

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.layerCap)

	for _, task := range layer {
		task := task
		if skipped, reason := shouldSkip(task, results); skipped {
			results[task.ID] = TaskResult{TaskID: task.ID, Tool: task.Tool, Success: false, Skipped: true, Error: &toolerrors.Result{Kind: toolerrors.KindRuntimeError, Message: reason}}
			continue
		}
		g.Go(func() error {
			result, taskTraces := e.runTaskWithRetry(gctx, workflowID, task)
			traceMu.Lock()
			results[task.ID] = result
			traces = append(traces, taskTraces...)
			traceMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return traces, err
	}
	return traces, nil
}

// shouldSkip reports whether task must be marked failed_safe because one
// of its dependencies did not succeed.
func shouldSkip(task Task, results map[string]TaskResult) (bool, string) {
	for _, dep := range task.DependsOn {
		if r, ok := results[dep]; ok && !r.Success {
			return true, "dependency " + dep + " failed"
		}
	}
	return false, ""
}

// runTaskWithRetry runs task, retrying up to retryAttempts times with
// exponential backoff unless task.SideEffects is true (spec.md §4.6).
func (e *Executor) runTaskWithRetry(ctx context.Context, workflowID string, task Task) (TaskResult, []domain.TraceEvent) {
	e.publish("task_start", map[string]any{"workflow_id": workflowID, "task_id": task.ID, "tool": task.Tool})

	maxAttempts := retryAttempts
	if task.SideEffects {
		maxAttempts = 1
	}

	var lastErr error
	var result any
	var traces []domain.TraceEvent
	start := time.Now()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(retryBaseDelay * time.Duration(uint(1)<<uint(attempt-1)))
			cancelled := false
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
				cancelled = true
			}
			if cancelled {
				break
			}
		}
		// A fresh trace_id per attempt, not task.ID: §8 requires every
		// tool_start have exactly one matching tool_end sharing its
		// trace_id, which a retried task would violate if every attempt
		// reused the task's own id (mirrors the sandbox bridge, which
		// keys each trace by the per-call id).
		traceID := uuid.NewString()
		traces = append(traces, domain.TraceEvent{
			WorkflowID:         workflowID,
			Type:               traceStartType(task.Kind),
			TraceID:            traceID,
			ToolOrCapabilityID: string(task.Tool),
			Timestamp:          time.Now(),
		})

		result, lastErr = e.dispatch(ctx, task)

		success := lastErr == nil
		traces = append(traces, domain.TraceEvent{
			WorkflowID:         workflowID,
			Type:               traceEndType(task.Kind),
			TraceID:            traceID,
			ToolOrCapabilityID: string(task.Tool),
			Timestamp:          time.Now(),
			Success:            &success,
		})
		if success {
			break
		}
	}

	elapsed := time.Since(start).Milliseconds()
	tr := TaskResult{TaskID: task.ID, Tool: task.Tool, ExecutionTimeMS: elapsed}
	if lastErr != nil {
		tr.Error = toolerrors.ToResult(lastErr)
		e.publish("task_error", map[string]any{"workflow_id": workflowID, "task_id": task.ID, "error": tr.Error})
	} else {
		tr.Success = true
		tr.Result = result
		e.publish("task_complete", map[string]any{"workflow_id": workflowID, "task_id": task.ID})
	}
	return tr, traces
}

func (e *Executor) dispatch(ctx context.Context, task Task) (any, error) {
	switch task.Kind {
	case KindMCPTool:
		res, err := e.mcp.CallTool(ctx, task.ServerID, string(task.Tool), task.Args)
		if err != nil {
			return nil, toolerrors.Wrap(toolerrors.KindToolUnavailable, err)
		}
		return res, nil
	case KindCodeExecution:
		codeCtx := make(map[string]any, len(task.Args))
		for k, v := range task.Args {
			codeCtx[k] = v
		}
		res, _, err := e.sandbox.RunCode(ctx, task.Intent, task.Code, codeCtx)
		if err != nil {
			return nil, toolerrors.Wrap(toolerrors.KindRuntimeError, err)
		}
		return res, nil
	default:
		return nil, toolerrors.Newf(toolerrors.KindValidationError, "unknown task kind %q", task.Kind)
	}
}

func traceStartType(k TaskKind) domain.TraceEventType {
	if k == KindCodeExecution {
		return domain.TraceCapabilityStart
	}
	return domain.TraceToolStart
}

func traceEndType(k TaskKind) domain.TraceEventType {
	if k == KindCodeExecution {
		return domain.TraceCapabilityEnd
	}
	return domain.TraceToolEnd
}

// toposortLayers computes Kahn's-algorithm topological layers: each layer
// holds every task whose dependencies are already satisfied by prior
// layers. Returns a CycleDetected error if any task is unreachable.
func toposortLayers(tasks []Task) ([][]Task, error) {
	byID := make(map[string]Task, len(tasks))
	indeg := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		byID[t.ID] = t
		if _, ok := indeg[t.ID]; !ok {
			indeg[t.ID] = 0
		}
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			indeg[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var layers [][]Task
	remaining := len(tasks)
	current := readyIDs(indeg)
	for len(current) > 0 {
		sort.Strings(current)
		layer := make([]Task, 0, len(current))
		for _, id := range current {
			layer = append(layer, byID[id])
		}
		layers = append(layers, layer)
		remaining -= len(current)

		var next []string
		for _, id := range current {
			for _, dep := range dependents[id] {
				indeg[dep]--
				if indeg[dep] == 0 {
					next = append(next, dep)
				}
			}
			delete(indeg, id)
		}
		current = next
	}

	if remaining != 0 {
		return nil, toolerrors.New(toolerrors.KindCycleDetected, "dag contains a dependency cycle")
	}
	return layers, nil
}

func readyIDs(indeg map[string]int) []string {
	var ready []string
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}
