// Package session implements the per-session rolling history store. History
// is ephemeral: it lives for the duration of a session and is deleted once
// end-of-session distillation completes.
//
// A single session is driven by one turn at a time (the transport serializes
// turns per connection), so the store only guarantees safety across distinct
// session ids plus non-corrupting last-write-wins on the same id.
package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/wellbot/wellbot/pkg/types"
)

// Store holds rolling chat history keyed by session id.
type Store interface {
	// Get returns the history for id, empty when the session is unknown.
	Get(ctx context.Context, id string) ([]types.ChatMessage, error)

	// Append adds messages to the session, creating it lazily.
	Append(ctx context.Context, id string, msgs ...types.ChatMessage) error

	// Replace overwrites the session history wholesale.
	Replace(ctx context.Context, id string, msgs []types.ChatMessage) error

	// Delete removes the session. Deleting an unknown session is a no-op.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the default in-process backend. Entries expire after an
// idle TTL so histories of abandoned sessions do not accumulate.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates an in-memory session store with the given idle TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{cache: gocache.New(ttl, ttl/2)}
}

// Get returns a copy of the stored history so callers cannot mutate the
// cached slice.
func (s *MemoryStore) Get(_ context.Context, id string) ([]types.ChatMessage, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, nil
	}
	stored := v.([]types.ChatMessage)
	history := make([]types.ChatMessage, len(stored))
	copy(history, stored)
	return history, nil
}

// Append adds messages and refreshes the idle TTL.
func (s *MemoryStore) Append(ctx context.Context, id string, msgs ...types.ChatMessage) error {
	history, _ := s.Get(ctx, id)
	history = append(history, msgs...)
	s.cache.Set(id, history, gocache.DefaultExpiration)
	return nil
}

// Replace overwrites the session history and refreshes the idle TTL.
func (s *MemoryStore) Replace(_ context.Context, id string, msgs []types.ChatMessage) error {
	history := make([]types.ChatMessage, len(msgs))
	copy(history, msgs)
	s.cache.Set(id, history, gocache.DefaultExpiration)
	return nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}
