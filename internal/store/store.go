// Package store persists WhatsApp connection attempts for the admin connection screen.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nahidhasan98/wacrm/internal/connect"
)

const schema = `
CREATE TABLE IF NOT EXISTS connection_attempts (
	session    TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	state      TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	polls      INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_connection_attempts_user ON connection_attempts (user_id, updated_at);
`

// Attempt is a persisted connection attempt
type Attempt struct {
	Session   string        `json:"session"`
	User      string        `json:"user"`
	State     connect.State `json:"state"`
	Error     string        `json:"error,omitempty"`
	Polls     int           `json:"polls"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Store is a sqlite-backed attempt log
type Store struct {
	db *sql.DB
}

// Open opens (and creates) the sqlite database at dsn
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite has a single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record upserts the attempt identified by the snapshot's session
func (s *Store) Record(ctx context.Context, snap connect.Snapshot) error {
	if snap.Session == "" {
		return errors.New("snapshot has no session")
	}
	at := snap.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_attempts (session, user_id, state, error, polls, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session) DO UPDATE SET
			state = excluded.state,
			error = excluded.error,
			polls = excluded.polls,
			updated_at = excluded.updated_at`,
		snap.Session, snap.User, string(snap.State), snap.Error, snap.Polls, at.UTC(), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record attempt %s: %w", snap.Session, err)
	}
	return nil
}

// List returns the most recently updated attempts
func (s *Store) List(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session, user_id, state, error, polls, created_at, updated_at
		FROM connection_attempts
		ORDER BY updated_at DESC, session DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ErrNotFound is returned by Latest when the user has no attempts
var ErrNotFound = errors.New("attempt not found")

// Latest returns the user's most recent attempt
func (s *Store) Latest(ctx context.Context, user string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session, user_id, state, error, polls, created_at, updated_at
		FROM connection_attempts
		WHERE user_id = ?
		ORDER BY updated_at DESC, session DESC
		LIMIT 1`, user)

	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (Attempt, error) {
	var a Attempt
	var state string
	if err := row.Scan(&a.Session, &a.User, &state, &a.Error, &a.Polls, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan attempt: %w", err)
	}
	a.State = connect.State(state)
	return a, nil
}
