package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/bdougie/restyle/internal/mask"
	"github.com/bdougie/restyle/internal/models"
)

// PostgresLedger records slides in PostgreSQL, one run per work directory.
// Each slide carries its motion profile as a pgvector column.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	runID  int
	run    string
	logger *slog.Logger
}

// NewPostgresLedger connects and registers the run named run
func NewPostgresLedger(ctx context.Context, connString, run string, logger *slog.Logger) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	l := &PostgresLedger{
		pool:   pool,
		run:    run,
		logger: logger.With("component", "postgres_ledger"),
	}

	runID, err := l.getOrCreateRun(ctx, run)
	if err != nil {
		pool.Close()
		return nil, err
	}
	l.runID = runID
	return l, nil
}

// Close closes the database connection
func (l *PostgresLedger) Close() error {
	if l.pool != nil {
		l.pool.Close()
	}
	return nil
}

// Flush is a no-op; records are written immediately
func (l *PostgresLedger) Flush() error {
	return nil
}

func (l *PostgresLedger) getOrCreateRun(ctx context.Context, name string) (int, error) {
	var id int
	err := l.pool.QueryRow(ctx,
		"SELECT id FROM runs WHERE name = $1",
		name).Scan(&id)

	if err == nil {
		return id, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("error checking for existing run: %w", err)
	}

	err = l.pool.QueryRow(ctx,
		"INSERT INTO runs (name, created_at) VALUES ($1, $2) RETURNING id",
		name, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create run entry: %w", err)
	}
	return id, nil
}

// AddRecord upserts a slide. A rerun that skipped the slide keeps the
// original backend and duration.
func (l *PostgresLedger) AddRecord(ctx context.Context, r models.SlideRecord) error {
	var profile any
	if len(r.Profile) == mask.ProfileBins {
		profile = pgvector.NewVector(r.Profile)
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO slides
        (run_id, slide, frame, scene, kind, lower_frame, upper_frame, backend, duration_ms, motion_profile, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (run_id, slide) DO UPDATE SET
            backend = EXCLUDED.backend,
            duration_ms = EXCLUDED.duration_ms,
            motion_profile = COALESCE(EXCLUDED.motion_profile, slides.motion_profile),
            completed_at = EXCLUDED.completed_at
        WHERE NOT $12::boolean`,
		l.runID, r.Slide, r.Frame, r.Scene, string(r.Kind), r.Lower, r.Upper,
		r.Backend, r.Duration.Milliseconds(), profile, r.CompletedAt, r.Skipped)
	if err != nil {
		return fmt.Errorf("failed to store slide %d: %w", r.Slide, err)
	}
	l.logger.Debug("slide recorded", "run", l.run, "slide", r.Slide, "skipped", r.Skipped)
	return nil
}

// SimilarSlides finds slides of this run whose motion profile is closest to
// that of slide.
func (l *PostgresLedger) SimilarSlides(ctx context.Context, slide, limit int) ([]models.SimilarSlide, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT s.slide, s.frame, s.kind, 1 - (s.motion_profile <=> q.motion_profile) AS similarity
        FROM slides s
        JOIN slides q ON q.run_id = s.run_id AND q.slide = $2
        WHERE s.run_id = $1 AND s.slide <> $2 AND s.motion_profile IS NOT NULL
        ORDER BY s.motion_profile <=> q.motion_profile
        LIMIT $3`,
		l.runID, slide, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar slides: %w", err)
	}
	defer rows.Close()

	var results []models.SimilarSlide
	for rows.Next() {
		var (
			result models.SimilarSlide
			kind   string
		)
		if err := rows.Scan(&result.Slide, &result.Frame, &kind, &result.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		result.Kind = models.NodeKind(kind)
		results = append(results, result)
	}
	return results, rows.Err()
}

// InitSchema creates the database schema if it doesn't exist
func InitSchema(ctx context.Context, connString string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for vector extension: %w", err)
	}
	if !exists {
		if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to create vector extension: %w", err)
		}
	}

	_, err = conn.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS runs (
            id SERIAL PRIMARY KEY,
            name VARCHAR(1024) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE(name)
        );

        CREATE TABLE IF NOT EXISTS slides (
            id SERIAL PRIMARY KEY,
            run_id INTEGER REFERENCES runs(id) ON DELETE CASCADE,
            slide INTEGER NOT NULL,
            frame INTEGER NOT NULL,
            scene INTEGER NOT NULL,
            kind VARCHAR(16) NOT NULL,
            lower_frame INTEGER NOT NULL,
            upper_frame INTEGER NOT NULL,
            backend VARCHAR(255) NOT NULL,
            duration_ms BIGINT NOT NULL,
            motion_profile vector(%d),
            completed_at TIMESTAMPTZ NOT NULL,
            UNIQUE(run_id, slide)
        );
    `, mask.ProfileBins))
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_slides_run_id ON slides(run_id);
        CREATE INDEX IF NOT EXISTS idx_motion_profile ON slides USING hnsw (motion_profile vector_cosine_ops);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}
	return nil
}
