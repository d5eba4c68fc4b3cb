package engine

import (
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// tickHarness drives advanceTick with a manual clock, one tick per Tick()
// call, so transition behavior can be tested without the engine's loop.
type tickHarness struct {
	tracker  trackerState
	debounce debounceState
	store    *intervalStore
	policy   Policy
	now      time.Time
}

func newTickHarness(t *testing.T, policy Policy) *tickHarness {
	return &tickHarness{
		debounce: newDebounceState(),
		store:    newIntervalStore(logs.NewTestingLog(t)),
		policy:   policy,
		now:      time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC),
	}
}

// Tick advances the clock by one tick interval and feeds the given
// condition (CondNone for an all-clear tick)
func (h *tickHarness) Tick(kind Condition) tickOutcome {
	h.now = h.now.Add(h.policy.TickInterval())
	candidates := []Candidate{}
	if kind != CondNone {
		score := float32(0.9)
		candidates = append(candidates, Candidate{Kind: kind, Score: &score})
	}
	return advanceTick(&h.tracker, &h.debounce, h.store, &h.policy, candidates, h.now)
}

func (h *tickHarness) TickN(kind Condition, n int) []tickOutcome {
	outcomes := make([]tickOutcome, n)
	for i := 0; i < n; i++ {
		outcomes[i] = h.Tick(kind)
	}
	return outcomes
}

func hasEvent(outcome tickOutcome, etype EventType) bool {
	for _, ev := range outcome.events {
		if ev.Type == etype {
			return true
		}
	}
	return false
}

// quickPolicy is the default tuning with the counts shrunk so tests don't
// need hundreds of ticks
func quickPolicy() Policy {
	p := DefaultPolicy()
	p.RequiredConsecutive = PerKind{
		SubjectAbsent:    3,
		SecondSubject:    3,
		RestrictedObject: 2,
	}
	return p
}

func TestConfirmationOpensInterval(t *testing.T) {
	h := newTickHarness(t, quickPolicy())

	out := h.Tick(CondRestrictedObject)
	require.False(t, out.confirmed)
	require.Equal(t, 1, out.run)
	require.Equal(t, 0, h.store.totalCount())

	out = h.Tick(CondRestrictedObject)
	require.True(t, out.confirmed)
	require.Equal(t, 2, out.run)
	require.True(t, hasEvent(out, EventOpen))
	require.Equal(t, 1, h.store.totalCount())
	require.Equal(t, 1, h.store.openCount())

	iv := h.store.snapshot()[0]
	require.Equal(t, CondRestrictedObject, iv.Kind)
	require.False(t, iv.Closed)
	// The interval brackets the confirmation instant by the context window
	// on both sides
	w := h.policy.ContextWindow()
	require.Equal(t, h.now, iv.ViolationTime)
	require.Equal(t, h.now.Add(-w), iv.StartTime)
	require.Equal(t, h.now.Add(w), iv.EndTime)
}

func TestInterruptionResetsRun(t *testing.T) {
	h := newTickHarness(t, quickPolicy())

	// One tick short of confirmation, then an all-clear tick. Nothing may
	// open, and the run must restart from scratch afterwards.
	h.TickN(CondSecondSubject, 2)
	out := h.Tick(CondNone)
	require.Equal(t, 0, out.run)
	require.Equal(t, 0, h.store.totalCount())

	out = h.Tick(CondSecondSubject)
	require.Equal(t, 1, out.run)
	require.False(t, out.confirmed)
}

func TestExtensionIsMonotonicAndOpensNothing(t *testing.T) {
	h := newTickHarness(t, quickPolicy())

	h.TickN(CondRestrictedObject, 2)
	require.Equal(t, 1, h.store.totalCount())
	openEnd := h.store.snapshot()[0].EndTime

	// Re-confirmations extend the single open interval. While now is still
	// inside the trailing context bracket, EndTime must not move backwards.
	for i := 0; i < 30; i++ {
		out := h.Tick(CondRestrictedObject)
		require.True(t, hasEvent(out, EventExtend))
		require.False(t, hasEvent(out, EventOpen))
		iv := h.store.snapshot()[0]
		require.False(t, iv.EndTime.Before(openEnd))
		openEnd = iv.EndTime
	}
	require.Equal(t, 1, h.store.totalCount())
	require.Equal(t, 1, h.store.openCount())
}

func TestAtMostOneOpenPerKind(t *testing.T) {
	h := newTickHarness(t, quickPolicy())

	for i := 0; i < 50; i++ {
		h.Tick(CondRestrictedObject)
		require.LessOrEqual(t, h.store.openCount(), 1)
	}
	require.Equal(t, 1, h.store.totalCount())
}

func TestCessationClosesAtNow(t *testing.T) {
	h := newTickHarness(t, quickPolicy())

	h.TickN(CondSecondSubject, 5)
	out := h.Tick(CondNone)
	require.True(t, hasEvent(out, EventClose))

	iv := h.store.snapshot()[0]
	require.True(t, iv.Closed)
	// Close stamps the cessation instant, even though the open-time EndTime
	// (violation + context window) lies in the future
	require.Equal(t, h.now, iv.EndTime)
	require.Equal(t, 0, h.store.openCount())
}

func TestKindSwitchClosesPreviousImmediately(t *testing.T) {
	h := newTickHarness(t, quickPolicy())

	h.TickN(CondSecondSubject, 4)
	require.Equal(t, 1, h.store.openCount())

	// A higher-precedence condition appearing counts as an interruption of
	// the previous kind: its interval closes on this very tick, not after a
	// miss streak.
	out := h.Tick(CondRestrictedObject)
	require.True(t, hasEvent(out, EventClose))
	require.Equal(t, 1, out.run)
	require.False(t, out.confirmed)

	snap := h.store.snapshot()
	require.Equal(t, 1, len(snap))
	require.True(t, snap[0].Closed)
	require.Equal(t, CondSecondSubject, snap[0].Kind)
	require.Equal(t, h.now, snap[0].EndTime)

	// The new kind confirms on its own schedule
	out = h.Tick(CondRestrictedObject)
	require.True(t, hasEvent(out, EventOpen))
	require.Equal(t, 2, h.store.totalCount())
}

func TestDebounceSuppressesReopen(t *testing.T) {
	p := quickPolicy()
	p.DebounceWindowSeconds.RestrictedObject = 10
	h := newTickHarness(t, p)

	// First opening is accepted
	h.TickN(CondRestrictedObject, 2)
	require.Equal(t, 1, h.store.totalCount())
	h.Tick(CondNone)

	// Re-confirmation inside the window is suppressed: no new interval, but
	// a suppressed event so watchers can see the gate firing
	outcomes := h.TickN(CondRestrictedObject, 2)
	require.True(t, hasEvent(outcomes[1], EventSuppressed))
	require.False(t, hasEvent(outcomes[1], EventOpen))
	require.Equal(t, 1, h.store.totalCount())

	// The run keeps counting through the suppression, so the first
	// confirmed tick after the window elapses opens immediately
	window := p.DebounceWindow(CondRestrictedObject)
	lastOpened := h.debounce.lastOpenedAt[CondRestrictedObject]
	for h.now.Add(h.policy.TickInterval()).Sub(lastOpened) < window {
		out := h.Tick(CondRestrictedObject)
		require.False(t, hasEvent(out, EventOpen))
	}
	out := h.Tick(CondRestrictedObject)
	require.True(t, hasEvent(out, EventOpen))
	require.Equal(t, 2, h.store.totalCount())
}

func TestDebounceDoesNotGateExtensions(t *testing.T) {
	p := quickPolicy()
	p.DebounceWindowSeconds.RestrictedObject = 3600
	h := newTickHarness(t, p)

	h.TickN(CondRestrictedObject, 2)
	out := h.Tick(CondRestrictedObject)
	require.True(t, hasEvent(out, EventExtend))
	require.False(t, hasEvent(out, EventSuppressed))
}

func TestSubjectAbsentConfirmsAtThreshold(t *testing.T) {
	p := DefaultPolicy() // SubjectAbsent requires 20
	h := newTickHarness(t, p)

	outcomes := h.TickN(CondSubjectAbsent, 25)
	for i := 0; i < 19; i++ {
		require.False(t, outcomes[i].confirmed, "tick %v", i)
	}
	require.True(t, outcomes[19].confirmed)
	require.True(t, hasEvent(outcomes[19], EventOpen))
	for i := 20; i < 25; i++ {
		require.True(t, hasEvent(outcomes[i], EventExtend), "tick %v", i)
	}
	require.Equal(t, 1, h.store.totalCount())
}

func TestPeakScoreAndTicks(t *testing.T) {
	h := newTickHarness(t, quickPolicy())

	scores := []float32{0.7, 0.8, 0.95, 0.6}
	for _, sc := range scores {
		sc := sc
		h.now = h.now.Add(h.policy.TickInterval())
		advanceTick(&h.tracker, &h.debounce, h.store, &h.policy,
			[]Candidate{{Kind: CondRestrictedObject, Score: &sc}}, h.now)
	}

	iv := h.store.snapshot()[0]
	require.Equal(t, float32(0.95), *iv.PeakScore)
	require.Equal(t, float32(0.6), *iv.Score) // latest, not peak
	require.Equal(t, 3, iv.Ticks)             // opened on tick 2, extended on 3 and 4
}
