package ops

import (
	"math/rand/v2"

	audit "vigil/pkg/platform/audit"
)

// engineActions are emitted once per poll or batch and dominate ops volume.
var engineActions = []audit.AuditEvent{
	audit.EventEvidenceIngested,
	audit.EventConsensusEvaluated,
}

// Sampler decides which ops events reach the store. Rates are fixed at
// construction; 0 drops an action, 1 keeps it.
type Sampler struct {
	defaultRate float64
	rates       map[string]float64
	draw        func() float64
}

// NewSampler keeps every action at defaultRate.
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate: clamp(defaultRate),
		rates:       map[string]float64{},
		draw:        rand.Float64,
	}
}

// NewEngineSampler keeps vault and recovery activity and thins the
// consensus engine's per-subject chatter to engineRate.
func NewEngineSampler(engineRate float64) *Sampler {
	s := NewSampler(1)
	for _, a := range engineActions {
		s.rates[string(a)] = clamp(engineRate)
	}
	return s
}

// WithRate returns a copy of s with an override for action.
func (s *Sampler) WithRate(action audit.AuditEvent, rate float64) *Sampler {
	next := &Sampler{defaultRate: s.defaultRate, rates: make(map[string]float64, len(s.rates)+1), draw: s.draw}
	for k, v := range s.rates {
		next.rates[k] = v
	}
	next.rates[string(action)] = clamp(rate)
	return next
}

// ShouldSample reports whether an event with this action is kept.
func (s *Sampler) ShouldSample(action string) bool {
	rate, ok := s.rates[action]
	if !ok {
		rate = s.defaultRate
	}
	switch rate {
	case 0:
		return false
	case 1:
		return true
	}
	return s.draw() < rate
}

func clamp(rate float64) float64 {
	return min(max(rate, 0), 1)
}
