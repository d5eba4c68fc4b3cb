package engine

import (
	"time"

	"github.com/azrihasin/proctoring/pkg/nn"
	"github.com/cyclopcam/logs"
)

// Interval is one violation record: a time-bounded span of a confirmed
// condition, open while ongoing, immutable once closed. Owned exclusively
// by the store; external readers get deep copies.
type Interval struct {
	ID            int64     `json:"id"`
	Kind          Condition `json:"kind"`
	ViolationTime time.Time `json:"violationTime"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	Score         *float32  `json:"score,omitempty"`
	Closed        bool      `json:"closed"`

	// Aggregated detail, refreshed while open
	PeakScore *float32 `json:"peakScore,omitempty"`
	Ticks     int      `json:"ticks"`
	Label     string   `json:"label,omitempty"`
	Box       *nn.Rect `json:"box,omitempty"`
}

func (iv *Interval) clone() *Interval {
	c := *iv
	c.Score = copyScore(iv.Score)
	c.PeakScore = copyScore(iv.PeakScore)
	if iv.Box != nil {
		box := *iv.Box
		c.Box = &box
	}
	return &c
}

func copyScore(s *float32) *float32 {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// intervalStore is the session's violation log, in append order, plus the
// per-kind pointers to the currently open interval. Mutated only by the
// tick routine.
type intervalStore struct {
	log       logs.Log
	intervals []*Interval
	active    map[Condition]int // kind -> index of its open interval; absent when none
	nextID    int64
}

func newIntervalStore(log logs.Log) *intervalStore {
	return &intervalStore{
		log:    log,
		active: map[Condition]int{},
		nextID: 1,
	}
}

// openInterval appends a fresh interval bracketing the confirmation instant
// by contextWindow on both sides, and points the kind's active pointer at it
func (s *intervalStore) openInterval(kind Condition, cand *Candidate, now time.Time, contextWindow time.Duration) *Interval {
	iv := &Interval{
		ID:            s.nextID,
		Kind:          kind,
		ViolationTime: now,
		StartTime:     now.Add(-contextWindow),
		EndTime:       now.Add(contextWindow),
		Ticks:         1,
	}
	s.nextID++
	if cand != nil {
		iv.Score = copyScore(cand.Score)
		iv.PeakScore = copyScore(cand.Score)
		iv.Label = cand.Label
		if cand.Box != nil {
			box := *cand.Box
			iv.Box = &box
		}
	}
	s.intervals = append(s.intervals, iv)
	s.active[kind] = len(s.intervals) - 1
	return iv
}

// lookupActive resolves the active pointer for kind. A pointer whose target
// is missing, closed, or of another kind is stale; it is cleared here so
// the caller sees "nothing open".
func (s *intervalStore) lookupActive(kind Condition) *Interval {
	idx, ok := s.active[kind]
	if !ok {
		return nil
	}
	if idx < 0 || idx >= len(s.intervals) {
		s.log.Warnf("Active pointer for %v is out of range (%v of %v), clearing", kind, idx, len(s.intervals))
		delete(s.active, kind)
		return nil
	}
	iv := s.intervals[idx]
	if iv.Kind != kind || iv.Closed {
		s.log.Warnf("Active pointer for %v is stale (kind %v, closed %v), clearing", kind, iv.Kind, iv.Closed)
		delete(s.active, kind)
		return nil
	}
	return iv
}

// extendInterval re-confirms the open interval for kind, refreshing its
// score and detail. EndTime never moves backwards while open, so ticks
// inside the trailing context bracket leave it untouched.
// Returns nil when no interval of that kind is open.
func (s *intervalStore) extendInterval(kind Condition, cand *Candidate, now time.Time) *Interval {
	iv := s.lookupActive(kind)
	if iv == nil {
		return nil
	}
	if now.After(iv.EndTime) {
		iv.EndTime = now
	}
	iv.Ticks++
	if cand != nil {
		iv.Score = copyScore(cand.Score)
		if cand.Score != nil && (iv.PeakScore == nil || *cand.Score > *iv.PeakScore) {
			iv.PeakScore = copyScore(cand.Score)
		}
		if cand.Label != "" {
			iv.Label = cand.Label
		}
		if cand.Box != nil {
			box := *cand.Box
			iv.Box = &box
		}
	}
	return iv
}

// closeInterval seals the open interval for kind at the cessation instant
// and clears its pointer. Idempotent; closing a kind with nothing open is a
// no-op. A closed interval is never reused; reopening appends a fresh one.
func (s *intervalStore) closeInterval(kind Condition, now time.Time) *Interval {
	iv := s.lookupActive(kind)
	if iv == nil {
		return nil
	}
	iv.EndTime = now
	iv.Closed = true
	delete(s.active, kind)
	return iv
}

// closeAll closes every open interval, in kind-stable order. Used at
// session end so the persisted log is well formed.
func (s *intervalStore) closeAll(now time.Time) []*Interval {
	closed := []*Interval{}
	for _, kind := range allConditions {
		if iv := s.closeInterval(kind, now); iv != nil {
			closed = append(closed, iv)
		}
	}
	return closed
}

func (s *intervalStore) openCount() int {
	return len(s.active)
}

func (s *intervalStore) totalCount() int {
	return len(s.intervals)
}

// snapshot returns the append-ordered log as deep copies
func (s *intervalStore) snapshot() []*Interval {
	out := make([]*Interval, len(s.intervals))
	for i, iv := range s.intervals {
		out[i] = iv.clone()
	}
	return out
}
