package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/i2y/llmgateway/provider"
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is an Exporter persisting events to a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating telemetry dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry db: %w", err)
	}
	// One connection keeps ":memory:" databases shared between calls.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	ddl := `
CREATE TABLE IF NOT EXISTS gateway_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  request_id TEXT NOT NULL DEFAULT '',
  trace_id TEXT NOT NULL DEFAULT '',
  parent_span_id TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  provider TEXT NOT NULL DEFAULT '',
  provider_model TEXT NOT NULL DEFAULT '',
  attempt INTEGER NOT NULL DEFAULT 0,
  prompt_tokens INTEGER NOT NULL DEFAULT 0,
  completion_tokens INTEGER NOT NULL DEFAULT 0,
  total_tokens INTEGER NOT NULL DEFAULT 0,
  cached_tokens INTEGER NOT NULL DEFAULT 0,
  finish_reason TEXT NOT NULL DEFAULT '',
  error_kind TEXT NOT NULL DEFAULT '',
  error_message TEXT NOT NULL DEFAULT '',
  duration_ms INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("create gateway_events table: %w", err)
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_gateway_events_request ON gateway_events(request_id);",
		"CREATE INDEX IF NOT EXISTS idx_gateway_events_created ON gateway_events(created_at DESC);",
	}
	for _, idx := range indices {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Export implements Exporter. A batch is written in one transaction.
func (s *SQLite) Export(ctx context.Context, events []Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO gateway_events (
  kind, request_id, trace_id, parent_span_id, model, provider, provider_model, attempt,
  prompt_tokens, completion_tokens, total_tokens, cached_tokens,
  finish_reason, error_kind, error_message, duration_ms, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, ev := range events {
		created := ev.Time
		if created.IsZero() {
			created = time.Now()
		}
		_, err := stmt.ExecContext(ctx,
			string(ev.Kind), ev.RequestID, ev.TraceID, ev.ParentSpanID,
			ev.Model, ev.Provider, ev.ProviderModel, ev.Attempt,
			ev.Usage.PromptTokens, ev.Usage.CompletionTokens, ev.Usage.TotalTokens, ev.Usage.CachedTokens,
			string(ev.FinishReason), ev.ErrorKind, ev.Error, ev.Duration.Milliseconds(),
			created.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}
	}
	return tx.Commit()
}

// UsageSummary aggregates token usage for one provider model.
type UsageSummary struct {
	Provider         string
	ProviderModel    string
	Requests         int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Summary aggregates usage events recorded since the given time.
func (s *SQLite) Summary(ctx context.Context, since time.Time) ([]UsageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT provider, provider_model, COUNT(*),
       SUM(prompt_tokens), SUM(completion_tokens), SUM(total_tokens)
FROM gateway_events
WHERE kind = ? AND created_at >= ?
GROUP BY provider, provider_model
ORDER BY SUM(total_tokens) DESC, provider, provider_model`,
		string(KindUsage), since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []UsageSummary
	for rows.Next() {
		var u UsageSummary
		if err := rows.Scan(&u.Provider, &u.ProviderModel, &u.Requests, &u.PromptTokens, &u.CompletionTokens, &u.TotalTokens); err != nil {
			return nil, fmt.Errorf("scanning usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Events returns the recorded events of one request in insertion order.
func (s *SQLite) Events(ctx context.Context, requestID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT kind, request_id, trace_id, parent_span_id, model, provider, provider_model, attempt,
       prompt_tokens, completion_tokens, total_tokens, cached_tokens,
       finish_reason, error_kind, error_message, duration_ms, created_at
FROM gateway_events WHERE request_id = ? ORDER BY id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			ev                   Event
			kind, finish, create string
			durationMS           int64
		)
		err := rows.Scan(&kind, &ev.RequestID, &ev.TraceID, &ev.ParentSpanID,
			&ev.Model, &ev.Provider, &ev.ProviderModel, &ev.Attempt,
			&ev.Usage.PromptTokens, &ev.Usage.CompletionTokens, &ev.Usage.TotalTokens, &ev.Usage.CachedTokens,
			&finish, &ev.ErrorKind, &ev.Error, &durationMS, &create)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Kind = Kind(kind)
		ev.FinishReason = provider.FinishReason(finish)
		ev.Duration = time.Duration(durationMS) * time.Millisecond
		ev.Time, _ = time.Parse(timeLayout, create)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
