// Package store defines the durable slot used to persist the session profile
// across process restarts, with file, memory and redis backends.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the slot holds no value.
var ErrNotFound = errors.New("slot is empty")

// Slot is a single named key-value persistence slot. Read returns ErrNotFound
// when nothing has been written or the value was cleared.
type Slot interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Clear(ctx context.Context) error
}

// Disabled is a Slot for execution contexts without durable storage: reads
// report absence and writes are dropped, so callers degrade to an
// unauthenticated state instead of failing.
type Disabled struct{}

func (Disabled) Read(ctx context.Context) ([]byte, error) { return nil, ErrNotFound }

func (Disabled) Write(ctx context.Context, data []byte) error { return nil }

func (Disabled) Clear(ctx context.Context) error { return nil }
