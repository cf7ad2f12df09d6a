package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

// PostgresArchive stores one row per session with the full summary as
// JSONB next to the columns queries filter on.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive connects, verifies the connection and ensures the
// schema exists.
func NewPostgresArchive(ctx context.Context, dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	a := &PostgresArchive{db: db}
	if err := a.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// NewPostgresArchiveFromDB wraps an existing connection without touching
// the schema. Tests use this with a mock.
func NewPostgresArchiveFromDB(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

func (p *PostgresArchive) ensureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS research_sessions (
    session_id  TEXT PRIMARY KEY,
    topic       TEXT NOT NULL,
    status      TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    total_cost  DOUBLE PRECISION NOT NULL DEFAULT 0,
    summary     JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *PostgresArchive) Save(ctx context.Context, summary tracker.SessionSummary) error {
	if summary.SessionID == "" {
		return fmt.Errorf("save session: empty session id")
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", summary.SessionID, err)
	}
	_, err = p.db.ExecContext(ctx, `
INSERT INTO research_sessions (session_id, topic, status, started_at, finished_at, total_cost, summary)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id) DO UPDATE SET
    status      = EXCLUDED.status,
    finished_at = EXCLUDED.finished_at,
    total_cost  = EXCLUDED.total_cost,
    summary     = EXCLUDED.summary`,
		summary.SessionID, summary.Topic, string(summary.Status),
		summary.StartTime, summary.EndTime, summary.Costs.TotalCost, payload)
	if err != nil {
		return fmt.Errorf("save session %s: %w", summary.SessionID, err)
	}
	return nil
}

func (p *PostgresArchive) Get(ctx context.Context, sessionID string) (tracker.SessionSummary, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT summary FROM research_sessions WHERE session_id = $1`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return tracker.SessionSummary{}, ErrNotFound
	}
	if err != nil {
		return tracker.SessionSummary{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	var summary tracker.SessionSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return tracker.SessionSummary{}, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return summary, nil
}

func (p *PostgresArchive) List(ctx context.Context, limit int) ([]tracker.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT summary FROM research_sessions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []tracker.SessionSummary
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var summary tracker.SessionSummary
		if err := json.Unmarshal(payload, &summary); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (p *PostgresArchive) Close() error { return p.db.Close() }

var _ SessionArchive = (*PostgresArchive)(nil)
var _ SessionArchive = (*MemoryArchive)(nil)
var _ SessionArchive = (*RedisArchive)(nil)

// Timeout wraps an archive call context when the caller has none.
func Timeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
