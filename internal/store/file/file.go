// Package file implements the durable slot as a single file on disk.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/bekircanbozkurt/flight-app-client/internal/store"
)

// Slot stores the value in a single file, written atomically via a temp file
// and rename so a crash mid-write never leaves a torn value behind.
type Slot struct {
	path string
}

// New creates a file slot at path, creating the parent directory with 0700
// permissions when missing. If path is empty, the slot lives under
// ~/.flight-dashboard/session.json.
func New(path string) (*Slot, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, ".flight-dashboard", "session.json")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create slot directory: %w", err)
	}

	log.Debug().Str("path", path).Msg("file slot initialized")

	return &Slot{path: path}, nil
}

func (s *Slot) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read slot: %w", err)
	}
	return data, nil
}

func (s *Slot) Write(ctx context.Context, data []byte) error {
	tempPath := s.path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write slot: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save slot: %w", err)
	}

	return nil
}

func (s *Slot) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear slot: %w", err)
	}
	return nil
}
