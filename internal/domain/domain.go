// Package domain holds the entity types shared across storage, the graph
// engine, retrieval, suggestion, execution, and learning (spec.md §3).
// Keeping them in one leaf package lets every component reference the same
// struct without creating import cycles between e.g. graph and storage.
package domain

import (
	"encoding/json"
	"time"

	"github.com/mcpgw/gateway/internal/tools"
)

// EdgeType enumerates the three kinds of edge the graph tracks.
type EdgeType string

const (
	EdgeContains   EdgeType = "contains"
	EdgeSequence   EdgeType = "sequence"
	EdgeDependency EdgeType = "dependency"
)

// EdgeSource enumerates how an edge was learned.
type EdgeSource string

const (
	SourceObserved EdgeSource = "observed"
	SourceInferred EdgeSource = "inferred"
	SourceTemplate EdgeSource = "template"
)

// TypeWeight is the fixed type_weight table from spec.md §3.
var TypeWeight = map[EdgeType]float64{
	EdgeContains:   0.8,
	EdgeSequence:   0.5,
	EdgeDependency: 1.0,
}

// SourceModifier is the fixed source_modifier table from spec.md §3.
var SourceModifier = map[EdgeSource]float64{
	SourceObserved: 1.0,
	SourceInferred: 0.7,
	SourceTemplate: 0.5,
}

// CombinedWeight computes the authoritative edge weight used by every
// graph algorithm: type_weight(edge_type) x source_modifier(edge_source).
func CombinedWeight(t EdgeType, s EdgeSource) float64 {
	return TypeWeight[t] * SourceModifier[s]
}

// Tool mirrors the `tool` row (spec.md §3, §6.2).
type Tool struct {
	ID          tools.Ident
	ServerID    string
	Name        string
	Description string
	Schema      json.RawMessage
	Metadata    map[string]string
	Active      bool
}

// ToolEmbedding mirrors the `tool_embedding` row.
type ToolEmbedding struct {
	ToolID   tools.Ident
	Vector   []float32
	TextHash string
}

// Edge mirrors the `tool_dependency` row. Confidence is always kept in
// [0.05, 1.0] per the spec.md §3 invariant.
type Edge struct {
	From           tools.Ident
	To             tools.Ident
	Type           EdgeType
	Source         EdgeSource
	Confidence     float64
	ObservedCount  int
	LastObserved   time.Time
}

// MinConfidence is the floor any observed edge's confidence is clamped to.
const MinConfidence = 0.05

// ObservedCountPromotion is the observation count at which an edge's
// source upgrades from inferred to observed.
const ObservedCountPromotion = 3

// WorkflowExecution mirrors the `workflow_execution` row.
type WorkflowExecution struct {
	ExecutionID     string
	IntentText      string
	DAG             json.RawMessage
	Success         bool
	ExecutionTimeMS int64
	ErrorMessage    string
	ExecutedAt      time.Time
}

// TraceEventType enumerates the four trace event kinds (spec.md §3).
type TraceEventType string

const (
	TraceToolStart        TraceEventType = "tool_start"
	TraceToolEnd           TraceEventType = "tool_end"
	TraceCapabilityStart   TraceEventType = "capability_start"
	TraceCapabilityEnd     TraceEventType = "capability_end"
)

// TraceEvent mirrors an append-only `trace_event` row.
type TraceEvent struct {
	WorkflowID         string
	Type               TraceEventType
	TraceID            string
	ParentTraceID      string
	ToolOrCapabilityID string
	Timestamp          time.Time
	Success            *bool
	DurationMS         *int64
	Error              string
}

// Capability mirrors a `workflow_pattern` row.
type Capability struct {
	CapabilityID     string
	Name             string
	IntentEmbedding  []float32
	Code             string
	ParametersSchema json.RawMessage
	UsageCount       int
	SuccessCount     int
	LastUsed         time.Time
	PatternHash      string
	Active           bool
}

// Reliability computes success_count/usage_count with Laplace smoothing
// for usage_count < 5 (spec.md §4.7).
func (c Capability) Reliability() float64 {
	if c.UsageCount < 5 {
		return (float64(c.SuccessCount) + 1) / (float64(c.UsageCount) + 2)
	}
	if c.UsageCount == 0 {
		return 0
	}
	return float64(c.SuccessCount) / float64(c.UsageCount)
}

// PredictionSource enumerates where a Prediction originated.
type PredictionSource string

const (
	PredictionCommunity   PredictionSource = "community"
	PredictionCoOccurrence PredictionSource = "co-occurrence"
	PredictionHint        PredictionSource = "hint"
	PredictionLearned     PredictionSource = "learned"
)

// Prediction mirrors a speculative next-tool prediction row.
type Prediction struct {
	PredictionID string
	Source       PredictionSource
	ToolID       tools.Ident
	Confidence   float64
	WasCorrect   *bool
}
