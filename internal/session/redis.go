package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the session JSON under a single key.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore creates a redis-backed store
func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "default"
	}
	return &RedisStore{rdb: rdb, key: "console-automator:session:" + key}
}

func (s *RedisStore) Load(ctx context.Context) (*State, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return decodeState(data)
}

func (s *RedisStore) Save(ctx context.Context, state *State) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
