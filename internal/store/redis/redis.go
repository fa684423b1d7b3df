// Package redis implements the durable slot as a single redis key, for
// deployments where the dashboard process itself is ephemeral.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bekircanbozkurt/flight-app-client/internal/store"
)

// DefaultKey is the redis key used when none is configured.
const DefaultKey = "flight-dashboard:session"

// Slot stores the value under a single redis key with no expiry; the session
// lifecycle is owned by the caller, not by a TTL.
type Slot struct {
	client *goredis.Client
	key    string
}

// New creates a redis slot on the given client. An empty key selects
// DefaultKey.
func New(client *goredis.Client, key string) *Slot {
	if key == "" {
		key = DefaultKey
	}
	return &Slot{client: client, key: key}
}

func (s *Slot) Read(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read slot: %w", err)
	}
	return data, nil
}

func (s *Slot) Write(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write slot: %w", err)
	}
	return nil
}

func (s *Slot) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear slot: %w", err)
	}
	return nil
}
