// Package store archives completed viva sessions in Postgres so external
// collaborators (a learning-path service polling for scores) can read them
// after the in-memory runtime state is gone.
package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/studyloop/viva/pkg/exam"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SaveCompleted upserts one completed session. Re-archiving the same
// session id overwrites the previous row, keeping the call idempotent.
func (s *Store) SaveCompleted(ctx context.Context, snap exam.Snapshot) error {
	transcript, err := json.Marshal(snap.Turns)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO viva_sessions
			(session_id, student_id, topic, language, status, started_at, ended_at, score, feedback, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			ended_at = EXCLUDED.ended_at,
			score = EXCLUDED.score,
			feedback = EXCLUDED.feedback,
			transcript = EXCLUDED.transcript,
			archived_at = now()`,
		snap.SessionID, snap.StudentID, snap.Topic, snap.Language, string(snap.Status),
		snap.StartedAt, snap.EndedAt, snap.Score, snap.Feedback, transcript,
	)
	if err != nil {
		return fmt.Errorf("archive session %q: %w", snap.SessionID, err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}
