package engine

import (
	"encoding/json"
	"time"

	"github.com/azrihasin/proctoring/pkg/nn"
)

// Condition is one of the monitored anomaly kinds
type Condition int

const (
	CondNone Condition = iota
	CondSubjectAbsent
	CondSecondSubject
	CondRestrictedObject
)

// allConditions is ordered by reporting convention, not precedence
var allConditions = []Condition{CondSubjectAbsent, CondSecondSubject, CondRestrictedObject}

func (c Condition) String() string {
	switch c {
	case CondNone:
		return "none"
	case CondSubjectAbsent:
		return "subject_absent"
	case CondSecondSubject:
		return "second_subject"
	case CondRestrictedObject:
		return "restricted_object"
	}
	return "unknown"
}

func ParseCondition(s string) Condition {
	switch s {
	case "subject_absent":
		return CondSubjectAbsent
	case "second_subject":
		return CondSecondSubject
	case "restricted_object":
		return CondRestrictedObject
	}
	return CondNone
}

func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Condition) UnmarshalJSON(b []byte) error {
	s := ""
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*c = ParseCondition(s)
	return nil
}

// EventType enumerates the mutations that flow out of the engine
type EventType string

const (
	EventOpen           EventType = "open"           // a violation interval was opened
	EventExtend         EventType = "extend"         // an open interval was re-confirmed
	EventClose          EventType = "close"          // an interval was closed
	EventSuppressed     EventType = "suppressed"     // the debounce gate dropped an opening
	EventSessionStarted EventType = "sessionStarted" // a proctoring session began
	EventSessionEnded   EventType = "sessionEnded"   // the session ended, all intervals closed
	EventCaptureStarted EventType = "captureStarted" // evidence capture began
	EventCaptureStopped EventType = "captureStopped" // evidence capture finished, artifact available
	EventCaptureFailed  EventType = "captureFailed"  // capture start or stop failed (non-fatal)
)

// Event is one observable state change. Interval events are produced by the
// tick routine; capture events are published by the recording trigger.
type Event struct {
	Type       EventType `json:"type"`
	Kind       Condition `json:"kind"`
	Time       time.Time `json:"time"`
	IntervalID int64     `json:"intervalID,omitempty"`
	Score      *float32  `json:"score,omitempty"`
	ExternalID string    `json:"externalID,omitempty"` // sessionStarted only
	Filename   string    `json:"filename,omitempty"`   // capture events only
	Error      string    `json:"error,omitempty"`      // captureFailed only
}

// Candidate is one condition classifier's verdict for a single tick
type Candidate struct {
	Kind  Condition `json:"kind"`
	Score *float32  `json:"score,omitempty"`
	Label string    `json:"label,omitempty"`
	Box   *nn.Rect  `json:"box,omitempty"`
}

// TickReport is published to watchers after every tick, including skipped
// ones, so subscribers see the full cadence of the engine.
type TickReport struct {
	TickIndex  int64       `json:"tickIndex"`
	Time       time.Time   `json:"time"`
	Skipped    bool        `json:"skipped,omitempty"`
	SkipReason string      `json:"skipReason,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"` // every true condition this tick, precedence order
	Selected   Condition   `json:"selected"`
	Run        int         `json:"run"`
	Confirmed  bool        `json:"confirmed"`
	Events     []Event     `json:"events,omitempty"`
	OpenCount  int         `json:"openCount"`
}
