package engine

import (
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestStoreOpenCloseReopen(t *testing.T) {
	store := newIntervalStore(logs.NewTestingLog(t))
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	window := 10 * time.Second

	score := float32(0.8)
	iv := store.openInterval(CondRestrictedObject, &Candidate{Kind: CondRestrictedObject, Score: &score}, t0, window)
	require.Equal(t, int64(1), iv.ID)
	require.Equal(t, 1, store.openCount())

	// Closing is idempotent per kind, and closing a kind with nothing open
	// is a no-op
	closed := store.closeInterval(CondRestrictedObject, t0.Add(time.Second))
	require.NotNil(t, closed)
	require.True(t, closed.Closed)
	require.Nil(t, store.closeInterval(CondRestrictedObject, t0.Add(2*time.Second)))
	require.Nil(t, store.closeInterval(CondSubjectAbsent, t0))

	// A closed interval is never reused; reopening appends a fresh one with
	// a new ID
	iv2 := store.openInterval(CondRestrictedObject, nil, t0.Add(time.Minute), window)
	require.Equal(t, int64(2), iv2.ID)
	require.Equal(t, 2, store.totalCount())
	require.Equal(t, 1, store.openCount())
}

func TestStoreExtendRequiresOpen(t *testing.T) {
	store := newIntervalStore(logs.NewTestingLog(t))
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	require.Nil(t, store.extendInterval(CondSecondSubject, nil, t0))

	store.openInterval(CondSecondSubject, nil, t0, 10*time.Second)
	iv := store.extendInterval(CondSecondSubject, nil, t0.Add(time.Second))
	require.NotNil(t, iv)
	// Inside the trailing context bracket, EndTime stays put
	require.Equal(t, t0.Add(10*time.Second), iv.EndTime)
	// Beyond it, EndTime follows the clock
	iv = store.extendInterval(CondSecondSubject, nil, t0.Add(15*time.Second))
	require.Equal(t, t0.Add(15*time.Second), iv.EndTime)
}

func TestStoreCloseAll(t *testing.T) {
	store := newIntervalStore(logs.NewTestingLog(t))
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	store.openInterval(CondSubjectAbsent, nil, t0, time.Second)
	store.openInterval(CondRestrictedObject, nil, t0, time.Second)
	closed := store.closeAll(t0.Add(time.Minute))
	require.Equal(t, 2, len(closed))
	require.Equal(t, 0, store.openCount())
	for _, iv := range closed {
		require.True(t, iv.Closed)
		require.Equal(t, t0.Add(time.Minute), iv.EndTime)
	}
	require.Empty(t, store.closeAll(t0.Add(2*time.Minute)))
}

func TestStoreSnapshotIsDeepCopy(t *testing.T) {
	store := newIntervalStore(logs.NewTestingLog(t))
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	score := float32(0.7)
	store.openInterval(CondRestrictedObject, &Candidate{Kind: CondRestrictedObject, Score: &score}, t0, time.Second)
	snap := store.snapshot()
	require.Equal(t, 1, len(snap))

	// Mutating the snapshot must not touch the store's copy
	*snap[0].Score = 0.1
	snap[0].Closed = true
	fresh := store.snapshot()
	require.Equal(t, float32(0.7), *fresh[0].Score)
	require.False(t, fresh[0].Closed)
}

func TestStoreRepairsStalePointer(t *testing.T) {
	store := newIntervalStore(logs.NewTestingLog(t))
	t0 := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	store.openInterval(CondSubjectAbsent, nil, t0, time.Second)
	// Corrupt the pointer the way a bug would: aim it at a closed interval
	store.intervals[0].Closed = true
	require.Nil(t, store.lookupActive(CondSubjectAbsent))
	// The repair clears the pointer, so the store is consistent again
	require.Equal(t, 0, store.openCount())

	// Out-of-range pointer
	store.active[CondSecondSubject] = 99
	require.Nil(t, store.lookupActive(CondSecondSubject))
	require.Equal(t, 0, store.openCount())
}
