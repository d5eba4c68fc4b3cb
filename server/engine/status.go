package engine

import (
	"time"

	"github.com/azrihasin/proctoring/pkg/perfstats"
)

// Status is the engine's self-description, served by the API and scraped
// into metrics
type Status struct {
	Running          bool       `json:"running"`
	SessionStartedAt *time.Time `json:"sessionStartedAt,omitempty"`
	ExternalID       string     `json:"externalID,omitempty"`
	Degraded         bool       `json:"degraded"`
	DegradedReasons  []string   `json:"degradedReasons,omitempty"`
	PresenceDetector bool       `json:"presenceDetector"`
	ObjectDetector   bool       `json:"objectDetector"`
	Ticks            int64      `json:"ticks"`
	SkippedTicks     int64      `json:"skippedTicks"`
	SuppressedOpens  int64      `json:"suppressedOpens"`
	DroppedReports   int64      `json:"droppedReports"`
	DroppedEvents    int64      `json:"droppedEvents"`
	OpenIntervals    int        `json:"openIntervals"`
	TotalIntervals   int        `json:"totalIntervals"`
	AvgDetectMS      float64    `json:"avgDetectMS"`
	AvgTickMS        float64    `json:"avgTickMS"`
	Policy           Policy     `json:"policy"`
}

func (e *Engine) Status() *Status {
	s := &Status{
		PresenceDetector: e.presence != nil,
		ObjectDetector:   e.objects != nil,
		Ticks:            e.numTicks.Load(),
		SkippedTicks:     e.numSkipped.Load(),
		SuppressedOpens:  e.numSuppressed.Load(),
		DroppedReports:   e.numDroppedReports.Load(),
		DroppedEvents:    e.numDroppedEvents.Load(),
		AvgDetectMS:      perfstats.Milliseconds(&e.avgDetectNS),
		AvgTickMS:        perfstats.Milliseconds(&e.avgTickNS),
		Policy:           *e.policy.Load(),
	}

	e.stateLock.Lock()
	s.Running = e.running
	if e.running {
		startedAt := e.sessionStart
		s.SessionStartedAt = &startedAt
		s.ExternalID = e.externalID
	}
	e.stateLock.Unlock()

	e.storeLock.Lock()
	s.OpenIntervals = e.store.openCount()
	s.TotalIntervals = e.store.totalCount()
	e.storeLock.Unlock()

	if e.presence == nil {
		s.Degraded = true
		s.DegradedReasons = append(s.DegradedReasons, "presence classifier unavailable")
	}
	if e.objects == nil {
		s.Degraded = true
		s.DegradedReasons = append(s.DegradedReasons, "object classifier unavailable")
	}
	return s
}

// Recent returns up to max of the latest tick reports, oldest first.
// max <= 0 means all that the ring holds.
func (e *Engine) Recent(max int) []*TickReport {
	e.recentLock.Lock()
	defer e.recentLock.Unlock()
	n := e.recent.Len()
	start := 0
	if max > 0 && n > max {
		start = n - max
	}
	out := make([]*TickReport, 0, n-start)
	for i := start; i < n; i++ {
		out = append(out, e.recent.Peek(i))
	}
	return out
}
