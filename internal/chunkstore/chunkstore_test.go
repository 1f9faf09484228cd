package chunkstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cpape/butler/internal/inventory"
)

func TestWriteChunkAndCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	blocks := []inventory.Block{{0, 0, 0}, {0, 0, 100}, {0, 100, 0}}
	for _, b := range blocks {
		require.NoError(t, store.WriteChunk(b))
	}

	count, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, len(blocks), count)

	written, err := store.Written(inventory.Block{0, 0, 0})
	require.NoError(t, err)
	require.True(t, written)

	written, err = store.Written(inventory.Block{9, 9, 9})
	require.NoError(t, err)
	require.False(t, written)
}

func TestWriteChunkIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	b := inventory.Block{1, 2, 3}
	require.NoError(t, store.WriteChunk(b))
	require.NoError(t, store.WriteChunk(b))

	count, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
