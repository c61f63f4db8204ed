package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists processed videos and the outcome of every run.
// It is safe for concurrent use by batch workers.
type Store struct {
	pool *pgxpool.Pool
}

// Run is one processed video as recorded in trigger_runs.
type Run struct {
	ID           int64
	RunID        string
	VideoID      string
	VideoPath    string
	State        string
	Mode         string
	TriggerLabel string
	FrameIndex   *int
	Timestamp    *float64
	Similarity   *float64
	OutputPath   string
	Error        string
	CreatedAt    time.Time
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS trigger_runs (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			video_id TEXT REFERENCES video_metadata(id) ON DELETE CASCADE,
			state TEXT NOT NULL,
			mode TEXT NOT NULL,
			trigger_label TEXT,
			frame_index INT,
			timestamp_seconds DOUBLE PRECISION,
			similarity DOUBLE PRECISION,
			output_path TEXT,
			error TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS trigger_runs_video_id_idx ON trigger_runs (video_id);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database connections.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the timestamp.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO video_metadata (id, path, indexed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path
	`, videoID, path)
	return err
}

// RecordRun saves the outcome of one run. The video must have been
// registered with EnsureVideoMetadata first.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trigger_runs (run_id, video_id, state, mode, trigger_label, frame_index,
			timestamp_seconds, similarity, output_path, error)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''))
	`, r.RunID, r.VideoID, r.State, r.Mode, r.TriggerLabel, r.FrameIndex,
		r.Timestamp, r.Similarity, r.OutputPath, r.Error)
	return err
}

// ListRuns returns the most recent runs first. A limit of 0 returns everything.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT r.id, r.run_id, r.video_id, v.path, r.state, r.mode,
			COALESCE(r.trigger_label, ''), r.frame_index, r.timestamp_seconds, r.similarity,
			COALESCE(r.output_path, ''), COALESCE(r.error, ''), r.created_at
		FROM trigger_runs r
		JOIN video_metadata v ON v.id = r.video_id
		ORDER BY r.created_at DESC, r.id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) {
		var r Run
		err := row.Scan(&r.ID, &r.RunID, &r.VideoID, &r.VideoPath, &r.State, &r.Mode,
			&r.TriggerLabel, &r.FrameIndex, &r.Timestamp, &r.Similarity,
			&r.OutputPath, &r.Error, &r.CreatedAt)
		return r, err
	})
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS trigger_runs CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
