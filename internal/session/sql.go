package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const createSessionsTable = `CREATE TABLE IF NOT EXISTS browser_sessions (
	session_key TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	saved_at    TIMESTAMP NOT NULL
)`

// SQLStore keeps the session as one row of browser_sessions. The same
// statements serve sqlite and postgres; sqlx rebinds the placeholders.
type SQLStore struct {
	db  *sqlx.DB
	key string
}

// NewSQLStore creates a store over db. key identifies the row.
func NewSQLStore(db *sqlx.DB, key string) *SQLStore {
	if key == "" {
		key = "default"
	}
	return &SQLStore{db: db, key: key}
}

// Migrate creates the sessions table if needed
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSessionsTable); err != nil {
		return fmt.Errorf("failed to create browser_sessions table: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) (*State, error) {
	var raw string
	query := s.db.Rebind(`SELECT state FROM browser_sessions WHERE session_key = ?`)
	if err := s.db.GetContext(ctx, &raw, query, s.key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return decodeState([]byte(raw))
}

func (s *SQLStore) Save(ctx context.Context, state *State) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}

	query := s.db.Rebind(`INSERT INTO browser_sessions (session_key, state, saved_at)
VALUES (?, ?, ?)
ON CONFLICT (session_key) DO UPDATE SET state = excluded.state, saved_at = excluded.saved_at`)
	if _, err := s.db.ExecContext(ctx, query, s.key, string(data), state.SavedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	query := s.db.Rebind(`DELETE FROM browser_sessions WHERE session_key = ?`)
	if _, err := s.db.ExecContext(ctx, query, s.key); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
