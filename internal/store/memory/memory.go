// Package memory implements the durable slot in process memory.
// This implementation is for testing only - data is lost on restart.
package memory

import (
	"context"
	"sync"

	"github.com/bekircanbozkurt/flight-app-client/internal/store"
)

// Slot holds the value in memory behind a mutex.
type Slot struct {
	mu   sync.Mutex
	data []byte
	set  bool
}

// New creates an empty in-memory slot.
func New() *Slot {
	return &Slot{}
}

func (s *Slot) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.set {
		return nil, store.ErrNotFound
	}

	// Clone to avoid external modifications
	clone := make([]byte, len(s.data))
	copy(clone, s.data)
	return clone, nil
}

func (s *Slot) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := make([]byte, len(data))
	copy(clone, data)
	s.data = clone
	s.set = true
	return nil
}

func (s *Slot) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = nil
	s.set = false
	return nil
}
