// Package memstore is an in-memory storage.Adapter, safe for concurrent
// use, for tests and single-node development where Postgres is overkill.
// Modeled on the teacher's registry/store/memory mutex-guarded map store:
// every method checks ctx.Done() before taking the lock.
package memstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/storage"
	"github.com/mcpgw/gateway/internal/tools"
)

// Store is an in-memory storage.Adapter.
type Store struct {
	mu sync.RWMutex

	blobs        map[string][]byte
	toolsByID    map[tools.Ident]domain.Tool
	embeddings   map[tools.Ident]domain.ToolEmbedding
	edges        map[string]domain.Edge
	executions   map[string]domain.WorkflowExecution
	traces       map[string][]domain.TraceEvent
	capabilities map[string]domain.Capability // keyed by capability_id
	byHash       map[string]string            // pattern_hash -> capability_id
	metrics      []storage.MetricSample
}

var _ storage.Adapter = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{
		blobs:        make(map[string][]byte),
		toolsByID:    make(map[tools.Ident]domain.Tool),
		embeddings:   make(map[tools.Ident]domain.ToolEmbedding),
		edges:        make(map[string]domain.Edge),
		executions:   make(map[string]domain.WorkflowExecution),
		traces:       make(map[string][]domain.TraceEvent),
		capabilities: make(map[string]domain.Capability),
		byHash:       make(map[string]string),
	}
}

func edgeKey(from, to tools.Ident, t domain.EdgeType) string {
	return string(from) + "\x00" + string(to) + "\x00" + string(t)
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.blobs[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.blobs[key] = cp
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *Store) UpsertTool(ctx context.Context, t domain.Tool) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolsByID[t.ID] = t
	return nil
}

func (s *Store) GetTool(ctx context.Context, id tools.Ident) (domain.Tool, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return domain.Tool{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.toolsByID[id]
	return t, ok, nil
}

func (s *Store) ListTools(ctx context.Context) ([]domain.Tool, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Tool, 0, len(s.toolsByID))
	for _, t := range s.toolsByID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertToolEmbedding(ctx context.Context, e domain.ToolEmbedding) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[e.ToolID] = e
	return nil
}

// UpsertEdgesBatch is all-or-nothing in-memory: a single lock guards the
// whole batch, so a concurrent reader never observes a partial update, and
// there is nothing to roll back since no validation can fail mid-batch.
func (s *Store) UpsertEdgesBatch(ctx context.Context, edges []domain.Edge) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		s.edges[edgeKey(e.From, e.To, e.Type)] = e
	}
	return nil
}

func (s *Store) ListEdges(ctx context.Context) ([]domain.Edge, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].To != out[j].To {
			return out[i].To < out[j].To
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func (s *Store) AppendWorkflowExecution(ctx context.Context, exec domain.WorkflowExecution) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ExecutionID] = exec
	return nil
}

func (s *Store) AppendTraceEvents(ctx context.Context, events []domain.TraceEvent) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		s.traces[ev.WorkflowID] = append(s.traces[ev.WorkflowID], ev)
	}
	return nil
}

func (s *Store) TraceEventsByWorkflow(ctx context.Context, workflowID string) ([]domain.TraceEvent, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.traces[workflowID]
	out := make([]domain.TraceEvent, len(src))
	copy(out, src)
	return out, nil
}

func (s *Store) UpsertCapability(ctx context.Context, c domain.Capability) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[c.CapabilityID] = c
	s.byHash[c.PatternHash] = c.CapabilityID
	return nil
}

func (s *Store) GetCapabilityByHash(ctx context.Context, hash string) (domain.Capability, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return domain.Capability{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return domain.Capability{}, false, nil
	}
	c, ok := s.capabilities[id]
	return c, ok, nil
}

func (s *Store) ListActiveCapabilities(ctx context.Context) ([]domain.Capability, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Capability
	for _, c := range s.capabilities {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapabilityID < out[j].CapabilityID })
	return out, nil
}

// TopK performs a brute-force cosine-similarity scan. Fine for the
// in-memory adapter's scale (tests, small deployments); Postgres uses an
// ivfflat index for the same query.
func (s *Store) TopK(ctx context.Context, vector []float32, k int, minScore float64) ([]storage.ScoredTool, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var scored []storage.ScoredTool
	for id, e := range s.embeddings {
		score := cosineSimilarity(vector, e.Vector)
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		if score >= minScore {
			scored = append(scored, storage.ScoredTool{ToolID: id, Score: score})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ToolID < scored[j].ToolID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *Store) RecordMetric(ctx context.Context, name string, value float64, meta map[string]string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, storage.MetricSample{Name: name, Timestamp: timeNow(), Value: value, Metadata: meta})
	return nil
}

func (s *Store) MetricsRange(ctx context.Context, name string, from, to time.Time) ([]storage.MetricSample, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.MetricSample
	for _, m := range s.metrics {
		if m.Name != name {
			continue
		}
		if m.Timestamp.Before(from) || m.Timestamp.After(to) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// timeNow exists so RecordMetric has a single seam; production code always
// calls through it rather than time.Now() directly at each call site.
func timeNow() time.Time { return time.Now() }

// NewID returns a random hex identifier, used by callers (e.g. capability
// promotion) that need a key with no natural business identifier.
func NewID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
