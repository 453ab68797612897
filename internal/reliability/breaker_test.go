package reliability

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errDown = errors.New("destination down")

func failing() error { return errDown }
func healthy() error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Minute, Now: clock.Now})

	for i := 0; i < 2; i++ {
		if err := b.Do(failing); err != errDown {
			t.Fatalf("call %d: expected destination error, got %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v after 2 failures, want closed", b.State())
	}

	b.Do(failing)
	if b.State() != StateOpen {
		t.Fatalf("state = %v after 3 failures, want open", b.State())
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker should refuse calls, got err=%v called=%v", err, called)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{Threshold: 2})

	b.Do(failing)
	b.Do(healthy)
	b.Do(failing)

	if b.State() != StateClosed {
		t.Errorf("non-consecutive failures should not open the breaker, state = %v", b.State())
	}
	if b.Failures() != 1 {
		t.Errorf("Failures() = %d, want 1", b.Failures())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	b := NewBreaker(BreakerConfig{
		Threshold: 1,
		Cooldown:  time.Minute,
		Now:       clock.Now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	b.Do(failing)
	clock.Advance(time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v after cooldown, want half-open", b.State())
	}

	// A failed probe re-opens for another cooldown
	b.Do(failing)
	if b.State() != StateOpen {
		t.Fatalf("state = %v after failed probe, want open", b.State())
	}

	clock.Advance(time.Minute)
	if err := b.Do(healthy); err != nil {
		t.Fatalf("probe refused: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v after successful probe, want closed", b.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreakerSingleProbe(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Second, Now: clock.Now})

	b.Do(failing)
	clock.Advance(time.Second)

	err := b.Do(func() error {
		// A second caller while the probe is in flight is refused
		if err := b.Do(healthy); !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("concurrent probe should be refused, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Errorf("probe failed: %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
