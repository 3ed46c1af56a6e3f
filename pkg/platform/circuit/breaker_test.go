package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// replay feeds a script of outcomes, 'F' for failure and 'S' for success,
// and reports how many times the breaker opened and closed.
func replay(b *Breaker, script string) (opened, closed int) {
	for _, c := range script {
		switch c {
		case 'F':
			if _, ch := b.RecordFailure(); ch.Opened {
				opened++
			}
		case 'S':
			if _, ch := b.RecordSuccess(); ch.Closed {
				closed++
			}
		}
	}
	return opened, closed
}

func TestBreakerScripts(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		script     string
		wantState  State
		wantOpened int
		wantClosed int
	}{
		{"starts closed", nil, "", StateClosed, 0, 0},
		{"below threshold stays closed", []Option{WithFailureThreshold(3)}, "FF", StateClosed, 0, 0},
		{"threshold opens once", []Option{WithFailureThreshold(3)}, "FFFF", StateOpen, 1, 0},
		{"success resets the failure run", []Option{WithFailureThreshold(3)}, "FFSFF", StateClosed, 0, 0},
		{"one success is not enough to close", []Option{WithFailureThreshold(1), WithSuccessThreshold(2)}, "FS", StateOpen, 1, 0},
		{"success threshold closes", []Option{WithFailureThreshold(1), WithSuccessThreshold(2)}, "FSS", StateClosed, 1, 1},
		{"failure restarts the success run", []Option{WithFailureThreshold(1), WithSuccessThreshold(3)}, "FSSFSS", StateOpen, 1, 0},
		{"full success run after relapse closes", []Option{WithFailureThreshold(1), WithSuccessThreshold(3)}, "FSSFSSS", StateClosed, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("registry", tt.opts...)
			opened, closed := replay(b, tt.script)
			assert.Equal(t, tt.wantState, b.State())
			assert.Equal(t, tt.wantOpened, opened)
			assert.Equal(t, tt.wantClosed, closed)
		})
	}
}

type BreakerClockSuite struct {
	suite.Suite
	now time.Time
	b   *Breaker
}

func TestBreakerClockSuite(t *testing.T) {
	suite.Run(t, new(BreakerClockSuite))
}

func (s *BreakerClockSuite) SetupTest() {
	s.now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.b = New("obituary-feed",
		WithFailureThreshold(1),
		WithCooldown(time.Minute),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *BreakerClockSuite) TestOpenBreakerRejectsUntilCooldown() {
	useFallback, _ := s.b.RecordFailure()
	s.True(useFallback)
	s.False(s.b.Allow())

	s.now = s.now.Add(59 * time.Second)
	s.False(s.b.Allow())

	s.now = s.now.Add(time.Second)
	s.True(s.b.Allow())
	s.Equal(StateHalfOpen, s.b.State())
}

func (s *BreakerClockSuite) TestFailedProbeRestartsCooldown() {
	s.b.RecordFailure()
	s.now = s.now.Add(time.Minute)
	s.Require().True(s.b.Allow())

	useFallback, change := s.b.RecordFailure()
	s.True(useFallback)
	s.False(change.Opened, "already open, no new transition")
	s.False(s.b.Allow())

	s.now = s.now.Add(time.Minute)
	s.True(s.b.Allow())
	usePrimary, change := s.b.RecordSuccess()
	s.True(usePrimary)
	s.True(change.Closed)
}

func (s *BreakerClockSuite) TestResetClosesImmediately() {
	s.b.RecordFailure()
	s.b.Reset()
	s.True(s.b.Allow())
	s.Equal(StateClosed, s.b.State())
	s.Equal("obituary-feed", s.b.Name())
}
