package engine

import (
	"time"
)

// trackerState is the consecutive-run bookkeeping. A single candidate kind
// is tracked globally; when several conditions are true in one tick, the
// precedence order baked into classifyConditions decides which one counts.
// Invariant: run > 0 implies active != CondNone.
type trackerState struct {
	active Condition
	run    int
}

// debounceState records the last accepted opening per kind. It gates only
// new opens, never extensions of an already-open interval.
type debounceState struct {
	lastOpenedAt map[Condition]time.Time
}

func newDebounceState() debounceState {
	return debounceState{lastOpenedAt: map[Condition]time.Time{}}
}

// tickOutcome is what one tick decided, for the tick report
type tickOutcome struct {
	selected  Condition
	run       int
	confirmed bool
	events    []Event
}

// advanceTick is the transition function at the heart of the engine: from
// the previous tracker/debounce state and this tick's candidates, produce
// the next state, apply interval mutations to the store, and return the
// emitted events. Called only from the tick routine, strictly in tick
// order; nothing here is safe for concurrent use.
func advanceTick(tracker *trackerState, debounce *debounceState, store *intervalStore, policy *Policy, candidates []Candidate, now time.Time) tickOutcome {
	var selected *Candidate
	if len(candidates) > 0 {
		selected = &candidates[0]
	}
	kind := CondNone
	if selected != nil {
		kind = selected.Kind
	}

	events := []Event{}

	if kind == tracker.active {
		if kind != CondNone {
			tracker.run++
		}
	} else {
		// An interruption terminates the previous kind's interval
		// immediately, whether the new candidate is a higher-precedence
		// condition or nothing at all. It never waits for a miss streak.
		if closed := store.closeInterval(tracker.active, now); closed != nil {
			events = append(events, Event{
				Type:       EventClose,
				Kind:       closed.Kind,
				Time:       now,
				IntervalID: closed.ID,
				Score:      copyScore(closed.Score),
			})
		}
		tracker.active = kind
		if kind != CondNone {
			tracker.run = 1
		} else {
			tracker.run = 0
		}
	}

	confirmed := kind != CondNone && tracker.run >= policy.Required(kind)
	if confirmed {
		if iv := store.extendInterval(kind, selected, now); iv != nil {
			events = append(events, Event{
				Type:       EventExtend,
				Kind:       kind,
				Time:       now,
				IntervalID: iv.ID,
				Score:      copyScore(iv.Score),
			})
		} else {
			// First confirmation with nothing open: the debounce gate
			// decides whether this opening is accepted. Run bookkeeping
			// above proceeded regardless, so once the window elapses the
			// next confirmed tick opens immediately.
			window := policy.DebounceWindow(kind)
			last, seen := debounce.lastOpenedAt[kind]
			if window > 0 && seen && now.Sub(last) < window {
				events = append(events, Event{
					Type:  EventSuppressed,
					Kind:  kind,
					Time:  now,
					Score: copyScore(selected.Score),
				})
			} else {
				iv := store.openInterval(kind, selected, now, policy.ContextWindow())
				debounce.lastOpenedAt[kind] = now
				events = append(events, Event{
					Type:       EventOpen,
					Kind:       kind,
					Time:       now,
					IntervalID: iv.ID,
					Score:      copyScore(iv.Score),
				})
			}
		}
	}

	return tickOutcome{
		selected:  kind,
		run:       tracker.run,
		confirmed: confirmed,
		events:    events,
	}
}
