package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewReversesFileOrderForLIFOPop(t *testing.T) {
	blocks := []Block{{0, 0, 0}, {0, 0, 100}, {0, 100, 0}}
	inv := New(blocks, 2)

	now := time.Now()
	first := inv.PopPending(now)
	second := inv.PopPending(now)
	third := inv.PopPending(now)

	require.True(t, first.Equal(Block{0, 0, 0}))
	require.True(t, second.Equal(Block{0, 0, 100}))
	require.True(t, third.Equal(Block{0, 100, 0}))
}

func TestRemoveInFlightFindsByValue(t *testing.T) {
	inv := New([]Block{{1, 2, 3}}, 0)
	now := time.Now()
	b := inv.PopPending(now)

	idx := inv.RemoveInFlight(b.Clone())
	require.Equal(t, 0, idx)
	require.Empty(t, inv.InFlight)
	require.Empty(t, inv.Timestamps)
	require.Equal(t, -1, inv.RemoveInFlight(b))
}

func TestExpireOlderThanMovesStaleEntriesToFailed(t *testing.T) {
	inv := New([]Block{{1, 1, 1}, {2, 2, 2}, {3, 3, 3}}, 0)
	base := time.Now()
	inv.PopPending(base.Add(-10 * time.Second))
	inv.PopPending(base)
	inv.PopPending(base.Add(-20 * time.Second))

	expired := inv.ExpireOlderThan(base, 5*time.Second)

	require.Len(t, expired, 2)
	require.Len(t, inv.InFlight, 1)
	require.Len(t, inv.Failed, 2)
}

func TestRefillFromFailedPreservesFailureOrderAndClearsFailed(t *testing.T) {
	inv := &Inventory{
		Failed: []Block{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}},
	}

	inv.RefillFromFailed()

	require.Empty(t, inv.Failed)
	now := time.Now()
	require.True(t, inv.PopPending(now).Equal(Block{0, 0, 0}))
	require.True(t, inv.PopPending(now).Equal(Block{1, 1, 1}))
	require.True(t, inv.PopPending(now).Equal(Block{2, 2, 2}))
}

func TestRefillFromFailedDispatchesBeforeResidualPending(t *testing.T) {
	inv := &Inventory{
		Pending: []Block{{9, 9, 9}},
		Failed:  []Block{{0, 0, 0}, {1, 1, 1}},
	}

	inv.RefillFromFailed()

	now := time.Now()
	require.True(t, inv.PopPending(now).Equal(Block{0, 0, 0}))
	require.True(t, inv.PopPending(now).Equal(Block{1, 1, 1}))
	require.True(t, inv.PopPending(now).Equal(Block{9, 9, 9}))
}
