package session

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/wellbot/wellbot/pkg/types"
)

const redisKeyPrefix = "session:"

// RedisStore keeps session history in Redis, JSON-encoded under one key per
// session with a sliding TTL. Useful when several serving processes sit
// behind a connection-affine load balancer and a session may reconnect to a
// different process.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store from a redis:// URL.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Get returns the history for id, empty when the session is unknown.
func (s *RedisStore) Get(ctx context.Context, id string) ([]types.ChatMessage, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var history []types.ChatMessage
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return history, nil
}

// Append adds messages to the session and refreshes the TTL. Read-modify-
// write without a transaction is sufficient: turns for one session are
// serialized by the transport.
func (s *RedisStore) Append(ctx context.Context, id string, msgs ...types.ChatMessage) error {
	history, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.Replace(ctx, id, append(history, msgs...))
}

// Replace overwrites the session history and refreshes the TTL.
func (s *RedisStore) Replace(ctx context.Context, id string, msgs []types.ChatMessage) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+id, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set session %s: %w", id, err)
	}
	return nil
}

// Delete removes the session.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
