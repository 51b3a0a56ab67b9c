package transcriptlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the transcripts table. Executed by
// [PostgresStore.Migrate]; may also be applied manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT NOT NULL,
    lang        TEXT NOT NULL DEFAULT 'detected',
    text        TEXT NOT NULL,
    audio_ms    BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id);
CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore is a [Store] backed by PostgreSQL via pgx.
type PostgresStore struct {
	db DB

	// pool is set when the store owns its connection pool (created by
	// [Connect]); Close only closes what the store owns.
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection or pool. The caller is
// responsible for running [PostgresStore.Migrate] before appending.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect establishes a pgx connection pool for dsn, verifies connectivity,
// and ensures the schema exists. The returned store owns the pool and closes
// it in Close.
func Connect(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcriptlog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcriptlog: ping: %w", err)
	}

	s := &PostgresStore{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate executes the [Schema] DDL, creating the transcripts table and its
// indexes if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("transcriptlog: migrate: %w", err)
	}
	return nil
}

// Append inserts one entry.
func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	lang := e.Lang
	if lang == "" {
		lang = "detected"
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO transcripts (session_id, lang, text, audio_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.SessionID, lang, e.Text, e.AudioDuration.Milliseconds(), createdAt,
	)
	if err != nil {
		return fmt.Errorf("transcriptlog: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for sessionID, newest first. Intended
// for operational inspection and tests.
func (s *PostgresStore) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT session_id, lang, text, audio_ms, created_at
		 FROM transcripts WHERE session_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("transcriptlog: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var audioMs int64
		if err := rows.Scan(&e.SessionID, &e.Lang, &e.Text, &audioMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("transcriptlog: scan: %w", err)
		}
		e.AudioDuration = time.Duration(audioMs) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcriptlog: rows: %w", err)
	}
	return out, nil
}

// Close closes the pool when the store owns one.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}
