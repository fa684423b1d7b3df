package file

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bekircanbozkurt/flight-app-client/internal/store"
)

func TestSlot_readWriteClear(t *testing.T) {
	ctx := context.Background()

	slot, err := New(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, err)

	_, err = slot.Read(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, slot.Write(ctx, []byte(`{"id":"u1"}`)))

	data, err := slot.Read(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"u1"}`, string(data))

	require.NoError(t, slot.Clear(ctx))

	_, err = slot.Read(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Clearing an already empty slot is not an error.
	require.NoError(t, slot.Clear(ctx))
}

func TestSlot_overwrite(t *testing.T) {
	ctx := context.Background()

	slot, err := New(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, err)

	require.NoError(t, slot.Write(ctx, []byte("first")))
	require.NoError(t, slot.Write(ctx, []byte("second")))

	data, err := slot.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}
