// Package workflow implements the Workflow Controller (spec.md §4.11): the
// single public entry point that turns an intent into a result, choosing
// between a promoted capability, an executed DAG, or a returned suggestion
// depending on confidence, and always handing the outcome to the Learning
// Loop afterward.
package workflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/mcpgw/gateway/internal/capability"
	"github.com/mcpgw/gateway/internal/dagsuggester"
	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/executor"
	"github.com/mcpgw/gateway/internal/graph"
	"github.com/mcpgw/gateway/internal/learning"
	"github.com/mcpgw/gateway/internal/storage"
	"github.com/mcpgw/gateway/internal/telemetry"
	"github.com/mcpgw/gateway/internal/tools"
)

// warningThreshold and explicitThreshold mirror the confidence bands the
// DAG Suggester itself uses (spec.md §4.5, §4.11).
const (
	warningThreshold  = 0.50
	explicitThreshold = 0.80
)

// Status enumerates the shape of a Result.
type Status string

const (
	StatusCapability    Status = "capability"
	StatusExecuted      Status = "executed"
	StatusSuggested     Status = "suggested"
	StatusLowConfidence Status = "low_confidence"
)

// Options configures one Run call.
type Options struct {
	PreferCapabilities  bool
	AutoExecute         bool
	CapabilityThreshold float64 // <=0 uses the Capability Store's default
	Context             []tools.Ident
}

// Result is the Workflow Controller's terminal outcome.
type Result struct {
	Status       Status
	WorkflowID   string
	CapabilityID string
	Suggestion   *dagsuggester.Suggestion
	Outcome      *executor.Outcome
	Rationale    string
}

// Controller is the Workflow Controller.
type Controller struct {
	suggester    *dagsuggester.Suggester
	capabilities *capability.Store
	executor     *executor.Executor
	sandbox      executor.SandboxRunner
	graph        *graph.Engine
	learning     *learning.Loop
	storage      storage.Adapter
	logger       telemetry.Logger
	idGen        func() string
	now          func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithIDGenerator overrides the workflow_id generator.
func WithIDGenerator(f func() string) Option { return func(c *Controller) { c.idGen = f } }

// New wires a Controller over its collaborators.
func New(
	suggester *dagsuggester.Suggester,
	capabilities *capability.Store,
	exec *executor.Executor,
	sandbox executor.SandboxRunner,
	eng *graph.Engine,
	loop *learning.Loop,
	store storage.Adapter,
	opts ...Option,
) *Controller {
	c := &Controller{
		suggester:    suggester,
		capabilities: capabilities,
		executor:     exec,
		sandbox:      sandbox,
		graph:        eng,
		learning:     loop,
		storage:      store,
		logger:       telemetry.NewNoopLogger(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run implements the §4.11 steps.
func (c *Controller) Run(ctx context.Context, intentText string, opts Options) (Result, error) {
	if opts.PreferCapabilities {
		if res, handled, err := c.tryCapability(ctx, intentText, opts); handled || err != nil {
			return res, err
		}
	}

	suggestion, err := c.suggester.SuggestDAG(ctx, dagsuggester.Intent{Text: intentText, Context: opts.Context})
	if err != nil {
		return Result{}, err
	}

	switch {
	case suggestion.Confidence >= explicitThreshold:
		return c.executeDAG(ctx, intentText, suggestion)
	case suggestion.Confidence >= warningThreshold:
		if !opts.AutoExecute {
			return Result{Status: StatusSuggested, Suggestion: &suggestion, Rationale: suggestion.Rationale}, nil
		}
		return c.executeDAG(ctx, intentText, suggestion)
	default:
		return Result{Status: StatusLowConfidence, Suggestion: &suggestion, Rationale: suggestion.Rationale}, nil
	}
}

// tryCapability implements step 1: a capability match whose reliability
// clears the threshold is executed directly via the Sandbox Bridge and the
// Workflow Controller returns without consulting the DAG Suggester at all.
func (c *Controller) tryCapability(ctx context.Context, intentText string, opts Options) (Result, bool, error) {
	match, _, found, err := c.capabilities.FindMatch(ctx, intentText, opts.CapabilityThreshold)
	if err != nil {
		return Result{}, false, err
	}
	if !found {
		return Result{}, false, nil
	}

	workflowID := c.newID()
	codeCtx := contextToMap(opts.Context)

	started := c.now()
	result, traces, runErr := c.sandbox.RunCode(ctx, workflowID, match.Code, codeCtx)
	elapsed := c.now().Sub(started).Milliseconds()
	success := runErr == nil

	c.persistExecution(ctx, workflowID, intentText, success, elapsed, runErr)

	if recErr := c.capabilities.RecordUsage(ctx, match.CapabilityID, success); recErr != nil {
		c.logger.Warn(ctx, "workflow: recording capability usage failed", "capability_id", match.CapabilityID, "err", recErr)
	}

	if c.learning != nil {
		c.learning.Process(ctx, learning.WorkflowOutcome{
			Traces: traces,
			Tasks: []learning.ExecutedTask{{
				Intent:     intentText,
				Code:       match.Code,
				IsCode:     true,
				Success:    success,
				DurationMS: elapsed,
			}},
		})
	}

	res := Result{Status: StatusCapability, WorkflowID: workflowID, CapabilityID: match.CapabilityID, Rationale: "matched promoted capability " + match.Name}
	if runErr != nil {
		return res, true, runErr
	}
	res.Outcome = &executor.Outcome{WorkflowID: workflowID, Success: true, Results: []executor.TaskResult{{
		TaskID: match.CapabilityID, Success: true, Result: result, ExecutionTimeMS: elapsed,
	}}}
	return res, true, nil
}

// executeDAG implements steps 2b/3/4: the DAG Suggester's output is handed
// to the Parallel Executor, and the realized outcome is handed to the
// Learning Loop regardless of success.
func (c *Controller) executeDAG(ctx context.Context, intentText string, suggestion dagsuggester.Suggestion) (Result, error) {
	workflowID := c.newID()
	dag, err := c.toExecutorDAG(ctx, suggestion.DAG)
	if err != nil {
		return Result{}, err
	}

	outcome, err := c.executor.Execute(ctx, workflowID, intentText, dag)

	if c.learning != nil {
		c.learning.Process(ctx, learning.WorkflowOutcome{
			Deps:   toGraphDeps(outcome.Deps),
			Traces: outcome.Traces,
			Tasks:  tasksFromOutcome(dag, outcome),
		})
	}

	if err != nil {
		return Result{Status: StatusExecuted, WorkflowID: workflowID, Outcome: &outcome, Rationale: suggestion.Rationale}, err
	}
	return Result{Status: StatusExecuted, WorkflowID: workflowID, Outcome: &outcome, Rationale: suggestion.Rationale}, nil
}

// toExecutorDAG resolves each candidate tool's server_id from the tool
// registry so the Parallel Executor can route KindMCPTool tasks.
func (c *Controller) toExecutorDAG(ctx context.Context, dag graph.DAG) (executor.DAG, error) {
	tasks := make([]executor.Task, 0, len(dag.Tasks))
	for _, t := range dag.Tasks {
		serverID := ""
		if tool, ok, err := c.storage.GetTool(ctx, t.Tool); err == nil && ok {
			serverID = tool.ServerID
		}
		tasks = append(tasks, executor.Task{
			ID:        t.ID,
			Kind:      executor.KindMCPTool,
			Tool:      t.Tool,
			ServerID:  serverID,
			Args:      t.Args,
			DependsOn: t.DependsOn,
		})
	}
	return executor.DAG{Tasks: tasks}, nil
}

func (c *Controller) persistExecution(ctx context.Context, workflowID, intentText string, success bool, elapsedMS int64, runErr error) {
	exec := domain.WorkflowExecution{
		ExecutionID:     workflowID,
		IntentText:      intentText,
		Success:         success,
		ExecutionTimeMS: elapsedMS,
		ExecutedAt:      c.now(),
	}
	if runErr != nil {
		exec.ErrorMessage = runErr.Error()
	}
	if err := c.storage.AppendWorkflowExecution(ctx, exec); err != nil {
		c.logger.Warn(ctx, "workflow: persisting execution record failed", "workflow_id", workflowID, "err", err)
	}
}

func (c *Controller) newID() string {
	if c.idGen != nil {
		return c.idGen()
	}
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

func contextToMap(ids []tools.Ident) map[string]any {
	m := make(map[string]any, len(ids))
	for i, id := range ids {
		m[string(id)] = i
	}
	return m
}

func toGraphDeps(deps []executor.ExecutedDependency) []graph.ExecutedDependency {
	out := make([]graph.ExecutedDependency, len(deps))
	for i, d := range deps {
		out[i] = graph.ExecutedDependency{From: d.From, To: d.To}
	}
	return out
}

func tasksFromOutcome(dag executor.DAG, outcome executor.Outcome) []learning.ExecutedTask {
	byID := make(map[string]executor.Task, len(dag.Tasks))
	for _, t := range dag.Tasks {
		byID[t.ID] = t
	}
	tasks := make([]learning.ExecutedTask, 0, len(outcome.Results))
	for _, r := range outcome.Results {
		if r.Skipped {
			continue
		}
		t := byID[r.TaskID]
		tasks = append(tasks, learning.ExecutedTask{
			Tool:       r.Tool,
			IsCode:     t.Kind == executor.KindCodeExecution,
			Intent:     t.Intent,
			Code:       t.Code,
			Success:    r.Success,
			DurationMS: r.ExecutionTimeMS,
		})
	}
	return tasks
}
