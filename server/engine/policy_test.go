package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicyValidate(t *testing.T) {
	good := DefaultPolicy()
	require.NoError(t, good.Validate())

	cases := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{"zero tick interval", func(p *Policy) { p.TickIntervalMS = 0 }},
		{"budget exceeds tick", func(p *Policy) { p.DetectBudgetMS = p.TickIntervalMS + 1 }},
		{"negative context window", func(p *Policy) { p.ContextWindowSeconds = -1 }},
		{"zero required count", func(p *Policy) { p.RequiredConsecutive.SecondSubject = 0 }},
		{"negative debounce", func(p *Policy) { p.DebounceWindowSeconds.RestrictedObject = -1 }},
		{"presence confidence above 1", func(p *Policy) { p.MinPresenceConfidence = 1.5 }},
		{"object confidence below 0", func(p *Policy) { p.MinObjectConfidence = -0.1 }},
		{"inverted area ratio", func(p *Policy) { p.AreaRatio = [2]float32{0.5, 0.1} }},
		{"zero aspect ratio floor", func(p *Policy) { p.AspectRatio = [2]float32{0, 5} }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := DefaultPolicy()
			c.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidConfiguration))
		})
	}
}

func TestPolicyDerivedValues(t *testing.T) {
	p := DefaultPolicy()
	require.Equal(t, p.TickInterval(), p.DetectBudget())

	p.DetectBudgetMS = 0
	require.Equal(t, p.TickInterval(), p.DetectBudget())

	require.Equal(t, 20, p.Required(CondSubjectAbsent))
	require.Equal(t, 5, p.Required(CondSecondSubject))
	require.Equal(t, 2, p.Required(CondRestrictedObject))
	require.Zero(t, p.DebounceWindow(CondSubjectAbsent))
	require.NotZero(t, p.DebounceWindow(CondRestrictedObject))
}
