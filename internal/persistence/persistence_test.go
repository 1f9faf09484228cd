package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cpape/butler/internal/inventory"
)

func TestPersistStatusWritesOnlyNonEmptySets(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "service_status_")
	r := New(prefix, nil, zerolog.Nop())

	processed := []inventory.Block{{0, 0, 0}, {0, 0, 100}}
	err := r.PersistStatus(processed, nil, nil, false)
	require.NoError(t, err)

	_, err = os.Stat(prefix + processedFileSuffix)
	require.NoError(t, err)
	_, err = os.Stat(prefix + failedFileSuffix)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(prefix + inProgressFileSuffix)
	require.True(t, os.IsNotExist(err))
}

func TestPersistStatusRoundTrips(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "status_")
	r := New(prefix, nil, zerolog.Nop())

	processed := []inventory.Block{{0, 0, 0}}
	failed := []inventory.Block{{9, 9, 9}}
	inFlight := []inventory.Block{{1, 2, 3}, {4, 5, 6}}

	require.NoError(t, r.PersistStatus(processed, failed, inFlight, true))

	gotProcessed, err := LoadSet(prefix + processedFileSuffix)
	require.NoError(t, err)
	require.Equal(t, processed, gotProcessed)

	gotFailed, err := LoadSet(prefix + failedFileSuffix)
	require.NoError(t, err)
	require.Equal(t, failed, gotFailed)

	gotInFlight, err := LoadSet(prefix + inProgressFileSuffix)
	require.NoError(t, err)
	require.Equal(t, inFlight, gotInFlight)
}

func TestPersistStatusWithoutPrefixSkipsFilesButDoesNotError(t *testing.T) {
	r := New("", nil, zerolog.Nop())
	err := r.PersistStatus([]inventory.Block{{1, 1, 1}}, nil, nil, false)
	require.NoError(t, err)
}

func TestLoadSetOnMissingFileReturnsEmpty(t *testing.T) {
	blocks, err := LoadSet(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.Nil(t, blocks)
}
