package engine

import (
	"fmt"
	"time"
)

// PerKind holds one integer knob for each condition kind
type PerKind struct {
	SubjectAbsent    int `json:"subjectAbsent"`
	SecondSubject    int `json:"secondSubject"`
	RestrictedObject int `json:"restrictedObject"`
}

func (p *PerKind) Get(kind Condition) int {
	switch kind {
	case CondSubjectAbsent:
		return p.SubjectAbsent
	case CondSecondSubject:
		return p.SecondSubject
	case CondRestrictedObject:
		return p.RestrictedObject
	}
	return 0
}

// Policy is the tunable numeric surface of the engine. All values have
// defaults and can be hot-swapped between ticks.
type Policy struct {
	TickIntervalMS        int        `json:"tickIntervalMS"`        // Sampling cadence
	DetectBudgetMS        int        `json:"detectBudgetMS"`        // Per-tick deadline for both detector calls. 0 = tick interval
	ContextWindowSeconds  int        `json:"contextWindowSeconds"`  // Interval brackets the confirmation instant by this much on both sides
	RequiredConsecutive   PerKind    `json:"requiredConsecutive"`   // Consecutive ticks before a condition is confirmed
	DebounceWindowSeconds PerKind    `json:"debounceWindowSeconds"` // Minimum spacing between newly opened intervals. 0 = no debounce
	MinPresenceConfidence float32    `json:"minPresenceConfidence"` // Qualifying threshold for person/face detections
	MinObjectConfidence   float32    `json:"minObjectConfidence"`   // Qualifying threshold for restricted object detections
	RestrictedLabels      []string   `json:"restrictedLabels"`      // Deny set, eg ["cell phone"]
	AreaRatio             [2]float32 `json:"areaRatio"`             // Plausible box area / frame area range
	AspectRatio           [2]float32 `json:"aspectRatio"`           // Plausible box width / height range
}

// DefaultPolicy returns the tuning we ship with. Required counts differ by
// kind because false-positive costs differ: a momentary restricted object is
// high-value, while a brief face dropout is usually blinking or occlusion.
func DefaultPolicy() Policy {
	return Policy{
		TickIntervalMS:       100,
		DetectBudgetMS:       100,
		ContextWindowSeconds: 10,
		RequiredConsecutive: PerKind{
			SubjectAbsent:    20,
			SecondSubject:    5,
			RestrictedObject: 2,
		},
		DebounceWindowSeconds: PerKind{
			RestrictedObject: 10,
		},
		MinPresenceConfidence: 0.5,
		MinObjectConfidence:   0.6,
		RestrictedLabels:      []string{"cell phone"},
		AreaRatio:             [2]float32{0.0005, 0.5},
		AspectRatio:           [2]float32{0.2, 5.0},
	}
}

func (p *Policy) TickInterval() time.Duration {
	return time.Duration(p.TickIntervalMS) * time.Millisecond
}

func (p *Policy) DetectBudget() time.Duration {
	if p.DetectBudgetMS <= 0 {
		return p.TickInterval()
	}
	return time.Duration(p.DetectBudgetMS) * time.Millisecond
}

func (p *Policy) ContextWindow() time.Duration {
	return time.Duration(p.ContextWindowSeconds) * time.Second
}

func (p *Policy) Required(kind Condition) int {
	return p.RequiredConsecutive.Get(kind)
}

func (p *Policy) DebounceWindow(kind Condition) time.Duration {
	return time.Duration(p.DebounceWindowSeconds.Get(kind)) * time.Second
}

// Validate fails fast on out-of-range tuning, before the tick loop starts
func (p *Policy) Validate() error {
	if p.TickIntervalMS <= 0 {
		return fmt.Errorf("%w: tickIntervalMS must be positive (got %v)", ErrInvalidConfiguration, p.TickIntervalMS)
	}
	if p.DetectBudgetMS < 0 || p.DetectBudgetMS > p.TickIntervalMS {
		return fmt.Errorf("%w: detectBudgetMS must be in (0, tickIntervalMS] (got %v)", ErrInvalidConfiguration, p.DetectBudgetMS)
	}
	if p.ContextWindowSeconds < 0 {
		return fmt.Errorf("%w: contextWindowSeconds must not be negative", ErrInvalidConfiguration)
	}
	for _, kind := range allConditions {
		if p.Required(kind) < 1 {
			return fmt.Errorf("%w: requiredConsecutive for %v must be at least 1", ErrInvalidConfiguration, kind)
		}
		if p.DebounceWindowSeconds.Get(kind) < 0 {
			return fmt.Errorf("%w: debounceWindowSeconds for %v must not be negative", ErrInvalidConfiguration, kind)
		}
	}
	if p.MinPresenceConfidence < 0 || p.MinPresenceConfidence > 1 {
		return fmt.Errorf("%w: minPresenceConfidence must be in [0,1]", ErrInvalidConfiguration)
	}
	if p.MinObjectConfidence < 0 || p.MinObjectConfidence > 1 {
		return fmt.Errorf("%w: minObjectConfidence must be in [0,1]", ErrInvalidConfiguration)
	}
	if p.AreaRatio[0] <= 0 || p.AreaRatio[1] <= p.AreaRatio[0] {
		return fmt.Errorf("%w: areaRatio must be an increasing positive range", ErrInvalidConfiguration)
	}
	if p.AspectRatio[0] <= 0 || p.AspectRatio[1] <= p.AspectRatio[0] {
		return fmt.Errorf("%w: aspectRatio must be an increasing positive range", ErrInvalidConfiguration)
	}
	return nil
}
