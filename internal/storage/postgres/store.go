// Package postgres mirrors audit results into Postgres: one row per matched
// web part and one row per crawl run.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/stream-embed-audit/internal/audit"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Run statuses written to the runs table.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Config controls the Postgres connection pool and target tables.
type Config struct {
	DSN             string
	MatchTable      string
	RunTable        string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes match and run rows.
type Store struct {
	pool       execCloser
	matchTable string
	runTable   string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.MatchTable, cfg.RunTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, matchTable, runTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if matchTable == "" {
		matchTable = "stream_embed_matches"
	}
	if runTable == "" {
		runTable = "stream_embed_runs"
	}
	for _, table := range []string{matchTable, runTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: pool, matchTable: matchTable, runTable: runTable}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	sites_visited INTEGER NOT NULL DEFAULT 0,
	pages_visited INTEGER NOT NULL DEFAULT 0,
	components    INTEGER NOT NULL DEFAULT 0,
	matches       INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
)`, s.runTable),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id        TEXT NOT NULL,
	site_id       TEXT NOT NULL,
	page_id       TEXT NOT NULL,
	webpart_title TEXT NOT NULL,
	site_name     TEXT NOT NULL,
	site_url      TEXT NOT NULL,
	site_owner    TEXT NOT NULL,
	page_name     TEXT NOT NULL,
	embed_code    TEXT NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.matchTable),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// RecordMatch inserts one matched web part.
func (s *Store) RecordMatch(ctx context.Context, runID string, record audit.MatchRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("match store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	site_id,
	page_id,
	webpart_title,
	site_name,
	site_url,
	site_owner,
	page_name,
	embed_code
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.matchTable)

	args := []any{
		runID,
		record.SiteID,
		record.PageID,
		record.WebpartTitle,
		record.SiteName,
		record.SiteURL,
		record.SiteOwner,
		record.PageName,
		record.EmbedCode,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

// StartRun inserts or resets the run row.
func (s *Store) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET started_at = EXCLUDED.started_at, status = EXCLUDED.status`, s.runTable)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun stores the final status and counters. errMsg is nil on success.
func (s *Store) FinishRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status string,
	summary audit.Summary,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, sites_visited = $3, pages_visited = $4,
	components = $5, matches = $6, skipped = $7, error_message = $8
WHERE id = $9`, s.runTable)
	_, err := s.pool.Exec(ctx, query,
		finishedAt,
		status,
		summary.SitesVisited,
		summary.PagesVisited,
		summary.ComponentsInspected,
		summary.Matches,
		summary.Skipped,
		errMsg,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}
