// Package learning implements the Learning Loop (spec.md §4.10): after
// every workflow it feeds the Graph Engine from the execution's realized
// dependencies and code traces, eagerly promotes successful code tasks
// into capabilities, and resolves any outstanding predictions made during
// the run. Every internal failure is logged and swallowed — the learning
// loop never fails the workflow that triggered it.
package learning

import (
	"context"

	"github.com/mcpgw/gateway/internal/capability"
	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/graph"
	"github.com/mcpgw/gateway/internal/telemetry"
	"github.com/mcpgw/gateway/internal/tools"
)

// ExecutedTask describes one completed task the Learning Loop considers
// for capability promotion and prediction resolution.
type ExecutedTask struct {
	Tool       tools.Ident
	Intent     string
	Code       string
	IsCode     bool
	Success    bool
	DurationMS int64
}

// WorkflowOutcome is everything the Learning Loop needs from a finished
// workflow run.
type WorkflowOutcome struct {
	Deps       []graph.ExecutedDependency
	Traces     []domain.TraceEvent
	Tasks      []ExecutedTask
	Predictions []domain.Prediction
}

// PredictionStore persists Prediction rows and their resolution. The
// gateway keeps predictions in the Storage Adapter's kv_blob space under
// an implementation-owned key scheme; this narrow port lets the Learning
// Loop resolve them without depending on that encoding.
type PredictionStore interface {
	ResolvePrediction(ctx context.Context, predictionID string, wasCorrect bool) error
}

// Loop is the Learning Loop.
type Loop struct {
	graph        *graph.Engine
	capabilities *capability.Store
	predictions  PredictionStore
	logger       telemetry.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(l telemetry.Logger) Option { return func(loop *Loop) { loop.logger = l } }

// WithPredictionStore attaches the port used to resolve outstanding
// predictions; without it, prediction resolution is skipped.
func WithPredictionStore(p PredictionStore) Option { return func(loop *Loop) { loop.predictions = p } }

// New constructs a Loop over the Graph Engine and Capability Store.
func New(eng *graph.Engine, capabilities *capability.Store, opts ...Option) *Loop {
	loop := &Loop{graph: eng, capabilities: capabilities, logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(loop)
	}
	return loop
}

// Process runs the §4.10 steps against outcome. It never returns an error
// to the caller: every internal failure is logged and skipped so the
// learning loop can never fail the workflow it is learning from.
func (l *Loop) Process(ctx context.Context, outcome WorkflowOutcome) {
	if err := l.graph.UpdateFromExecution(ctx, outcome.Deps); err != nil {
		l.logger.Warn(ctx, "learning: updateFromExecution failed", "err", err)
	}
	if err := l.graph.UpdateFromCodeTraces(ctx, outcome.Traces); err != nil {
		l.logger.Warn(ctx, "learning: updateFromCodeTraces failed", "err", err)
	}

	for _, task := range outcome.Tasks {
		if !task.IsCode || !task.Success {
			continue
		}
		if _, err := l.capabilities.Promote(ctx, capability.PromoteInput{
			Intent:     task.Intent,
			Code:       task.Code,
			DurationMS: task.DurationMS,
			Success:    task.Success,
		}); err != nil {
			l.logger.Warn(ctx, "learning: capability promotion failed", "err", err)
		}
	}

	l.resolvePredictions(ctx, outcome)
}

// resolvePredictions sets was_correct = predicted_tool in executed_tools
// for every outstanding prediction tied to this workflow (spec.md §4.10).
func (l *Loop) resolvePredictions(ctx context.Context, outcome WorkflowOutcome) {
	if l.predictions == nil || len(outcome.Predictions) == 0 {
		return
	}
	executed := make(map[tools.Ident]bool, len(outcome.Tasks))
	for _, t := range outcome.Tasks {
		executed[t.Tool] = true
	}
	for _, p := range outcome.Predictions {
		wasCorrect := executed[p.ToolID]
		if err := l.predictions.ResolvePrediction(ctx, p.PredictionID, wasCorrect); err != nil {
			l.logger.Warn(ctx, "learning: resolving prediction failed", "prediction_id", p.PredictionID, "err", err)
		}
	}
}
