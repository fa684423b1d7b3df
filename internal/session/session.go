// Package session holds the authenticated user's profile for the lifetime of
// the process, backed by a durable slot so the profile survives restarts.
//
// The profile here is a display cache, not a proof of authentication: the
// access guard decides access from the server-issued cookie alone and never
// consults this store.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bekircanbozkurt/flight-app-client/internal/models"
	"github.com/bekircanbozkurt/flight-app-client/internal/store"
)

// Store memoizes the profile over a durable slot. There is a single logical
// writer (the auth gateway) and many readers; slot failures degrade to an
// absent profile rather than surfacing to callers of Get.
type Store struct {
	mu       sync.RWMutex
	slot     store.Slot
	profile  *models.UserProfile
	hydrated bool
	log      zerolog.Logger
}

// New creates a session store over the given slot.
func New(slot store.Slot, log zerolog.Logger) *Store {
	return &Store{slot: slot, log: log}
}

// Get returns the current profile, hydrating lazily from the slot on first
// read. A slot read failure is logged and treated as no session.
func (s *Store) Get() *models.UserProfile {
	s.mu.RLock()
	if s.hydrated {
		defer s.mu.RUnlock()
		return s.profile
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hydrated {
		return s.profile
	}
	s.hydrated = true

	data, err := s.slot.Read(context.Background())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn().Err(err).Msg("failed to read session slot, treating as no session")
		}
		return nil
	}

	var profile models.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		s.log.Warn().Err(err).Msg("failed to decode stored session, treating as no session")
		return nil
	}

	s.profile = &profile
	return s.profile
}

// Set replaces the profile and writes it through to the slot. The in-memory
// profile is updated even when persistence fails; the write error is returned
// so the caller can surface a warning.
func (s *Store) Set(profile *models.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profile = profile
	s.hydrated = true

	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}

	if err := s.slot.Write(context.Background(), data); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist session profile")
		return err
	}

	return nil
}

// Clear removes the profile and the slot value. Clearing an absent session is
// not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profile = nil
	s.hydrated = true

	if err := s.slot.Clear(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("failed to clear session slot")
		return err
	}

	return nil
}

// IsAuthenticated reports whether a profile is present.
func (s *Store) IsAuthenticated() bool {
	return s.Get() != nil
}
