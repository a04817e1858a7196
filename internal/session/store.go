// Package session persists the browser's authenticated state and decides
// whether a live console page is still signed in.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/console-automator/internal/browser"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned by Load when nothing has been persisted yet
var ErrNoSession = errors.New("no persisted session")

// State is the serialized authentication state of the browser.
type State struct {
	Cookies []browser.Cookie `json:"cookies"`
	SavedAt time.Time        `json:"saved_at"`
}

// Store loads and saves the single session artifact.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
	Clear(ctx context.Context) error
}

// Driver selects the Store backend
type Driver int

const (
	File Driver = iota + 1
	SQLite
	Postgres
	Redis
)

// String converts the Driver enum to its config name.
func (d Driver) String() string {
	switch d {
	case File:
		return "file"
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	case Redis:
		return "redis"
	}
	return "unknown"
}

// ParseDriver maps a config name to a Driver. Empty means File.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "file":
		return File, nil
	case "sqlite":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	case "redis":
		return Redis, nil
	}
	return 0, fmt.Errorf("unsupported session driver %q", name)
}

// Backends carries the already-connected clients a Store may need.
// Only the one matching the driver has to be set.
type Backends struct {
	FilePath string
	Key      string
	SQLite   *sqlx.DB
	Postgres *sqlx.DB
	Redis    *redis.Client
}

// NewStore builds the Store for driver. SQL backends get their table created.
func NewStore(ctx context.Context, driver Driver, b Backends) (Store, error) {
	switch driver {
	case File:
		if b.FilePath == "" {
			return nil, errors.New("session file path is required")
		}
		return NewFileStore(b.FilePath), nil
	case SQLite, Postgres:
		db := b.SQLite
		if driver == Postgres {
			db = b.Postgres
		}
		if db == nil {
			return nil, fmt.Errorf("%s session store needs a database client", driver)
		}
		s := NewSQLStore(db, b.Key)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case Redis:
		if b.Redis == nil {
			return nil, errors.New("redis session store needs a redis client")
		}
		return NewRedisStore(b.Redis, b.Key), nil
	}
	return nil, fmt.Errorf("unsupported session driver %s", driver)
}

func encodeState(state *State) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &state, nil
}
