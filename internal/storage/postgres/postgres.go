// Package postgres implements storage.Adapter on top of Postgres+pgvector,
// following the DBPool/pgxpool/InitSchema/ON CONFLICT upsert shape used by
// the pack's langgraphgo Postgres checkpoint store, generalized from a
// single checkpoints table to the gateway's tool/edge/execution/trace/
// capability schema plus a pgvector similarity query.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/embedding"
	"github.com/mcpgw/gateway/internal/storage"
	"github.com/mcpgw/gateway/internal/tools"
)

// DBPool is the subset of *pgxpool.Pool this package depends on, narrowed
// so tests can substitute a pgxmock or embedded instance.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Options configures the Postgres-backed adapter.
type Options struct {
	ConnString string
	// Schema is the Postgres schema all tables are created under. Defaults to "public".
	Schema string
}

// Store implements storage.Adapter.
type Store struct {
	pool   DBPool
	schema string
}

var _ storage.Adapter = (*Store)(nil)

// New opens a connection pool against opts.ConnString.
func New(ctx context.Context, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: create pool: %w", err)
	}
	return NewWithPool(pool, opts.Schema), nil
}

// NewWithPool wraps an existing pool, useful for tests against a
// testcontainers-managed Postgres instance.
func NewWithPool(pool DBPool, schema string) *Store {
	if schema == "" {
		schema = "public"
	}
	return &Store{pool: pool, schema: schema}
}

// Close releases the underlying pool.
func (s *Store) Close() { s.pool.Close() }

// InitSchema creates every table the adapter needs, plus the pgvector
// extension and an ivfflat index on tool_embedding for TopK queries.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.kv_blob (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.tool (
			id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			schema JSONB,
			metadata JSONB,
			active BOOLEAN NOT NULL DEFAULT true
		)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.tool_embedding (
			tool_id TEXT PRIMARY KEY REFERENCES %s.tool(id) ON DELETE CASCADE,
			vector VECTOR(%d) NOT NULL,
			text_hash TEXT NOT NULL
		)`, s.schema, s.schema, embedding.Dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_tool_embedding_vector ON %s.tool_embedding
			USING ivfflat (vector vector_cosine_ops)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.tool_dependency (
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			edge_type TEXT NOT NULL,
			source TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			observed_count INTEGER NOT NULL DEFAULT 0,
			last_observed TIMESTAMPTZ,
			PRIMARY KEY (from_id, to_id, edge_type)
		)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.workflow_execution (
			execution_id TEXT PRIMARY KEY,
			intent_text TEXT NOT NULL,
			dag JSONB,
			success BOOLEAN NOT NULL,
			execution_time_ms BIGINT NOT NULL,
			error_message TEXT,
			executed_at TIMESTAMPTZ NOT NULL
		)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trace_event (
			workflow_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			trace_id TEXT NOT NULL,
			parent_trace_id TEXT,
			ref_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			success BOOLEAN,
			duration_ms BIGINT,
			error TEXT
		)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_trace_event_workflow ON %s.trace_event (workflow_id)`, s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.workflow_pattern (
			capability_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			intent_embedding VECTOR(%d),
			code TEXT NOT NULL,
			parameters_schema JSONB,
			usage_count INTEGER NOT NULL DEFAULT 0,
			success_count INTEGER NOT NULL DEFAULT 0,
			last_used TIMESTAMPTZ,
			pattern_hash TEXT NOT NULL UNIQUE,
			active BOOLEAN NOT NULL DEFAULT true
		)`, s.schema, embedding.Dimension),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.metric_sample (
			name TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			metadata JSONB
		)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_metric_sample_name_ts ON %s.metric_sample (name, timestamp)`, s.schema),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("storage/postgres: init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) t(name string) string { return s.schema + "." + name }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.t("kv_blob")), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage/postgres: get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, s.t("kv_blob")), key, value)
	if err != nil {
		return fmt.Errorf("storage/postgres: set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.t("kv_blob")), key)
	if err != nil {
		return fmt.Errorf("storage/postgres: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) UpsertTool(ctx context.Context, tl domain.Tool) error {
	meta, err := json.Marshal(tl.Metadata)
	if err != nil {
		return fmt.Errorf("storage/postgres: marshal tool metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, server_id, name, description, schema, metadata, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			server_id = EXCLUDED.server_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			schema = EXCLUDED.schema,
			metadata = EXCLUDED.metadata,
			active = EXCLUDED.active
	`, s.t("tool")), string(tl.ID), tl.ServerID, tl.Name, tl.Description, nullableJSON(tl.Schema), meta, tl.Active)
	if err != nil {
		return fmt.Errorf("storage/postgres: upsert tool %s: %w", tl.ID, err)
	}
	return nil
}

func (s *Store) GetTool(ctx context.Context, id tools.Ident) (domain.Tool, bool, error) {
	var (
		t         domain.Tool
		idStr     string
		schemaRaw []byte
		metaRaw   []byte
	)
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, server_id, name, description, schema, metadata, active FROM %s WHERE id = $1
	`, s.t("tool")), string(id))
	if err := row.Scan(&idStr, &t.ServerID, &t.Name, &t.Description, &schemaRaw, &metaRaw, &t.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tool{}, false, nil
		}
		return domain.Tool{}, false, fmt.Errorf("storage/postgres: get tool %s: %w", id, err)
	}
	t.ID = tools.Ident(idStr)
	t.Schema = schemaRaw
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &t.Metadata); err != nil {
			return domain.Tool{}, false, fmt.Errorf("storage/postgres: unmarshal tool metadata: %w", err)
		}
	}
	return t, true, nil
}

func (s *Store) ListTools(ctx context.Context) ([]domain.Tool, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, server_id, name, description, schema, metadata, active FROM %s ORDER BY id
	`, s.t("tool")))
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: list tools: %w", err)
	}
	defer rows.Close()

	var out []domain.Tool
	for rows.Next() {
		var (
			t         domain.Tool
			idStr     string
			schemaRaw []byte
			metaRaw   []byte
		)
		if err := rows.Scan(&idStr, &t.ServerID, &t.Name, &t.Description, &schemaRaw, &metaRaw, &t.Active); err != nil {
			return nil, fmt.Errorf("storage/postgres: scan tool: %w", err)
		}
		t.ID = tools.Ident(idStr)
		t.Schema = schemaRaw
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &t.Metadata); err != nil {
				return nil, fmt.Errorf("storage/postgres: unmarshal tool metadata: %w", err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpsertToolEmbedding(ctx context.Context, e domain.ToolEmbedding) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (tool_id, vector, text_hash) VALUES ($1, $2, $3)
		ON CONFLICT (tool_id) DO UPDATE SET vector = EXCLUDED.vector, text_hash = EXCLUDED.text_hash
	`, s.t("tool_embedding")), string(e.ToolID), vectorLiteral(e.Vector), e.TextHash)
	if err != nil {
		return fmt.Errorf("storage/postgres: upsert tool embedding %s: %w", e.ToolID, err)
	}
	return nil
}

// UpsertEdgesBatch applies edges inside a single transaction: either every
// row commits or none do.
func (s *Store) UpsertEdgesBatch(ctx context.Context, edges []domain.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage/postgres: begin edge batch: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (from_id, to_id, edge_type, source, confidence, observed_count, last_observed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (from_id, to_id, edge_type) DO UPDATE SET
			source = EXCLUDED.source,
			confidence = EXCLUDED.confidence,
			observed_count = EXCLUDED.observed_count,
			last_observed = EXCLUDED.last_observed
	`, s.t("tool_dependency"))
	for _, e := range edges {
		if _, err := tx.Exec(ctx, stmt, string(e.From), string(e.To), string(e.Type), string(e.Source), e.Confidence, e.ObservedCount, e.LastObserved); err != nil {
			return fmt.Errorf("storage/postgres: upsert edge %s->%s: %w", e.From, e.To, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage/postgres: commit edge batch: %w", err)
	}
	return nil
}

func (s *Store) ListEdges(ctx context.Context) ([]domain.Edge, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT from_id, to_id, edge_type, source, confidence, observed_count, last_observed FROM %s
	`, s.t("tool_dependency")))
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: list edges: %w", err)
	}
	defer rows.Close()

	var out []domain.Edge
	for rows.Next() {
		var (
			e              domain.Edge
			from, to       string
			edgeType, src  string
		)
		if err := rows.Scan(&from, &to, &edgeType, &src, &e.Confidence, &e.ObservedCount, &e.LastObserved); err != nil {
			return nil, fmt.Errorf("storage/postgres: scan edge: %w", err)
		}
		e.From, e.To = tools.Ident(from), tools.Ident(to)
		e.Type, e.Source = domain.EdgeType(edgeType), domain.EdgeSource(src)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AppendWorkflowExecution(ctx context.Context, exec domain.WorkflowExecution) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (execution_id, intent_text, dag, success, execution_time_ms, error_message, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id) DO UPDATE SET
			success = EXCLUDED.success,
			execution_time_ms = EXCLUDED.execution_time_ms,
			error_message = EXCLUDED.error_message
	`, s.t("workflow_execution")), exec.ExecutionID, exec.IntentText, nullableJSON(exec.DAG), exec.Success, exec.ExecutionTimeMS, exec.ErrorMessage, exec.ExecutedAt)
	if err != nil {
		return fmt.Errorf("storage/postgres: append workflow execution %s: %w", exec.ExecutionID, err)
	}
	return nil
}

func (s *Store) AppendTraceEvents(ctx context.Context, events []domain.TraceEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage/postgres: begin trace append: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (workflow_id, event_type, trace_id, parent_trace_id, ref_id, timestamp, success, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.t("trace_event"))
	for _, ev := range events {
		if _, err := tx.Exec(ctx, stmt, ev.WorkflowID, string(ev.Type), ev.TraceID, ev.ParentTraceID, ev.ToolOrCapabilityID, ev.Timestamp, ev.Success, ev.DurationMS, ev.Error); err != nil {
			return fmt.Errorf("storage/postgres: append trace event: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage/postgres: commit trace append: %w", err)
	}
	return nil
}

func (s *Store) TraceEventsByWorkflow(ctx context.Context, workflowID string) ([]domain.TraceEvent, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT workflow_id, event_type, trace_id, parent_trace_id, ref_id, timestamp, success, duration_ms, error
		FROM %s WHERE workflow_id = $1 ORDER BY timestamp ASC
	`, s.t("trace_event")), workflowID)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: trace events for %s: %w", workflowID, err)
	}
	defer rows.Close()

	var out []domain.TraceEvent
	for rows.Next() {
		var (
			ev        domain.TraceEvent
			eventType string
		)
		if err := rows.Scan(&ev.WorkflowID, &eventType, &ev.TraceID, &ev.ParentTraceID, &ev.ToolOrCapabilityID, &ev.Timestamp, &ev.Success, &ev.DurationMS, &ev.Error); err != nil {
			return nil, fmt.Errorf("storage/postgres: scan trace event: %w", err)
		}
		ev.Type = domain.TraceEventType(eventType)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCapability(ctx context.Context, c domain.Capability) error {
	params, err := json.Marshal(c.ParametersSchema)
	if err != nil {
		return fmt.Errorf("storage/postgres: marshal capability params: %w", err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (capability_id, name, intent_embedding, code, parameters_schema, usage_count, success_count, last_used, pattern_hash, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (capability_id) DO UPDATE SET
			name = EXCLUDED.name,
			intent_embedding = EXCLUDED.intent_embedding,
			code = EXCLUDED.code,
			parameters_schema = EXCLUDED.parameters_schema,
			usage_count = EXCLUDED.usage_count,
			success_count = EXCLUDED.success_count,
			last_used = EXCLUDED.last_used,
			active = EXCLUDED.active
	`, s.t("workflow_pattern")), c.CapabilityID, c.Name, vectorLiteral(c.IntentEmbedding), c.Code, params, c.UsageCount, c.SuccessCount, c.LastUsed, c.PatternHash, c.Active)
	if err != nil {
		return fmt.Errorf("storage/postgres: upsert capability %s: %w", c.CapabilityID, err)
	}
	return nil
}

func (s *Store) GetCapabilityByHash(ctx context.Context, hash string) (domain.Capability, bool, error) {
	var (
		c       domain.Capability
		params  []byte
	)
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT capability_id, name, code, parameters_schema, usage_count, success_count, last_used, pattern_hash, active
		FROM %s WHERE pattern_hash = $1
	`, s.t("workflow_pattern")), hash)
	err := row.Scan(&c.CapabilityID, &c.Name, &c.Code, &params, &c.UsageCount, &c.SuccessCount, &c.LastUsed, &c.PatternHash, &c.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Capability{}, false, nil
	}
	if err != nil {
		return domain.Capability{}, false, fmt.Errorf("storage/postgres: get capability by hash: %w", err)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &c.ParametersSchema); err != nil {
			return domain.Capability{}, false, fmt.Errorf("storage/postgres: unmarshal capability params: %w", err)
		}
	}
	return c, true, nil
}

func (s *Store) ListActiveCapabilities(ctx context.Context) ([]domain.Capability, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT capability_id, name, code, parameters_schema, usage_count, success_count, last_used, pattern_hash, active
		FROM %s WHERE active = true
	`, s.t("workflow_pattern")))
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: list active capabilities: %w", err)
	}
	defer rows.Close()

	var out []domain.Capability
	for rows.Next() {
		var (
			c      domain.Capability
			params []byte
		)
		if err := rows.Scan(&c.CapabilityID, &c.Name, &c.Code, &params, &c.UsageCount, &c.SuccessCount, &c.LastUsed, &c.PatternHash, &c.Active); err != nil {
			return nil, fmt.Errorf("storage/postgres: scan capability: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &c.ParametersSchema); err != nil {
				return nil, fmt.Errorf("storage/postgres: unmarshal capability params: %w", err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TopK runs a pgvector cosine-distance nearest-neighbor query, converting
// distance to a similarity score (1 - distance) and filtering by minScore.
// Ties are broken by tool_id ascending.
func (s *Store) TopK(ctx context.Context, vector []float32, k int, minScore float64) ([]storage.ScoredTool, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT tool_id, 1 - (vector <=> $1) AS score
		FROM %s
		WHERE 1 - (vector <=> $1) >= $3
		ORDER BY score DESC, tool_id ASC
		LIMIT $2
	`, s.t("tool_embedding")), vectorLiteral(vector), k, minScore)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: top-k query: %w", err)
	}
	defer rows.Close()

	var out []storage.ScoredTool
	for rows.Next() {
		var (
			id    string
			score float64
		)
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("storage/postgres: scan top-k row: %w", err)
		}
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		out = append(out, storage.ScoredTool{ToolID: tools.Ident(id), Score: score})
	}
	return out, rows.Err()
}

func (s *Store) RecordMetric(ctx context.Context, name string, value float64, meta map[string]string) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("storage/postgres: marshal metric metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, timestamp, value, metadata) VALUES ($1, now(), $2, $3)
	`, s.t("metric_sample")), name, value, metaJSON)
	if err != nil {
		return fmt.Errorf("storage/postgres: record metric %s: %w", name, err)
	}
	return nil
}

func (s *Store) MetricsRange(ctx context.Context, name string, from, to time.Time) ([]storage.MetricSample, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT name, timestamp, value, metadata FROM %s
		WHERE name = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC
	`, s.t("metric_sample")), name, from, to)
	if err != nil {
		return nil, fmt.Errorf("storage/postgres: metrics range %s: %w", name, err)
	}
	defer rows.Close()

	var out []storage.MetricSample
	for rows.Next() {
		var (
			m       storage.MetricSample
			metaRaw []byte
		)
		if err := rows.Scan(&m.Name, &m.Timestamp, &m.Value, &metaRaw); err != nil {
			return nil, fmt.Errorf("storage/postgres: scan metric sample: %w", err)
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &m.Metadata); err != nil {
				return nil, fmt.Errorf("storage/postgres: unmarshal metric metadata: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// vectorLiteral renders a float32 slice as the pgvector text literal, e.g.
// "[0.1,0.2,0.3]", which pgx passes through as a plain string parameter.
func vectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
