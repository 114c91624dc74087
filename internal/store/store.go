// Package store archives completed traces in PostgreSQL. The server
// runs without it when no DSN is configured.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/history"
	"github.com/nidhogg/agent-studio/internal/orchestrator"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

var _ history.Sink = (*Store)(nil)

// New creates a Store with a pgx connection pool and ensures the
// schema exists.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: pool, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("PostgreSQL trace archive connected")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS traces (
			id          TEXT PRIMARY KEY,
			team_id     TEXT NOT NULL,
			prompt      TEXT NOT NULL,
			mode        TEXT NOT NULL,
			ok          BOOLEAN NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			payload     JSONB NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure traces schema: %w", err)
	}
	return nil
}

// Append stores one completed trace.
func (s *Store) Append(ctx context.Context, t *orchestrator.Trace) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO traces (id, team_id, prompt, mode, ok, started_at, finished_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.TeamID, t.Prompt, string(t.Route.Mode), t.Result.OK, t.StartedAt, t.FinishedAt, payload,
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// Recent returns the latest traces, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*orchestrator.Trace, error) {
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT payload FROM traces ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	var traces []*orchestrator.Trace
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		t := &orchestrator.Trace{}
		if err := json.Unmarshal(payload, t); err != nil {
			s.logger.Warn("skipping unreadable trace payload", zap.Error(err))
			continue
		}
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}
