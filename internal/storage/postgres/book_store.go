// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Run statuses stored in the runs table.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// BookStoreConfig controls the Postgres connection pool used for the book index.
type BookStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// BookStore indexes recorded books and harvest runs in Postgres. Books are
// keyed by item id, so re-harvesting an item updates its row.
type BookStore struct {
	pool      execCloser
	table     string
	runsTable string
}

// NewBookStore creates a Postgres-backed BookStore using the provided config.
func NewBookStore(ctx context.Context, cfg BookStoreConfig) (*BookStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &BookStore{pool: pool, table: table, runsTable: table + "_runs"}, nil
}

// NewBookStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewBookStoreWithPool(pool execCloser, table string) (*BookStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &BookStore{pool: pool, table: name, runsTable: name + "_runs"}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "books"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *BookStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the book and run tables when missing.
func (s *BookStore) EnsureSchema(ctx context.Context) error {
	books := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	item_id     TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	item_index  INTEGER NOT NULL,
	detail_url  TEXT NOT NULL,
	title       TEXT NOT NULL,
	author      TEXT NOT NULL,
	img_src     TEXT,
	book_path   TEXT,
	genres      JSONB NOT NULL,
	comments    JSONB NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, books); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	runs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id        TEXT PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	recorded      INTEGER NOT NULL DEFAULT 0,
	skipped       INTEGER NOT NULL DEFAULT 0,
	pages_skipped INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
)`, s.runsTable)
	if _, err := s.pool.Exec(ctx, runs); err != nil {
		return fmt.Errorf("create %s: %w", s.runsTable, err)
	}
	return nil
}

// SaveBook upserts one recorded book.
func (s *BookStore) SaveBook(ctx context.Context, runID string, ref crawler.ItemRef, record crawler.BookRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("book store is not configured")
	}
	if ref.ID == "" {
		return fmt.Errorf("item id is required")
	}
	genres, err := json.Marshal(record.Genres)
	if err != nil {
		return fmt.Errorf("marshal genres: %w", err)
	}
	comments, err := json.Marshal(record.Comments)
	if err != nil {
		return fmt.Errorf("marshal comments: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	item_id,
	run_id,
	item_index,
	detail_url,
	title,
	author,
	img_src,
	book_path,
	genres,
	comments
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (item_id) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	item_index = EXCLUDED.item_index,
	detail_url = EXCLUDED.detail_url,
	title = EXCLUDED.title,
	author = EXCLUDED.author,
	img_src = EXCLUDED.img_src,
	book_path = EXCLUDED.book_path,
	genres = EXCLUDED.genres,
	comments = EXCLUDED.comments,
	recorded_at = now()`, s.table)

	args := []any{
		ref.ID,
		runID,
		ref.Index,
		ref.URL,
		record.Title,
		record.Author,
		record.ImgSrc,
		record.BookPath,
		genres,
		comments,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert book %s: %w", ref.ID, err)
	}
	return nil
}

// StartRun registers a run as running.
func (s *BookStore) StartRun(ctx context.Context, runID string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO UPDATE SET status = EXCLUDED.status`, s.runsTable)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, RunRunning); err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the final counters of a run. A non-nil runErr marks the
// run as failed.
func (s *BookStore) FinishRun(ctx context.Context, report crawler.Report, runErr error) error {
	status := RunCompleted
	var errMsg *string
	if runErr != nil {
		status = RunFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $2,
	status = $3,
	recorded = $4,
	skipped = $5,
	pages_skipped = $6,
	error_message = $7
WHERE run_id = $1`, s.runsTable)
	_, err := s.pool.Exec(ctx, query,
		report.RunID,
		report.FinishedAt,
		status,
		report.Recorded,
		report.SkippedTotal(),
		report.PagesSkipped,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", report.RunID, err)
	}
	return nil
}
