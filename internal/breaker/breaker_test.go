package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/pulsedash/enginemux/pkg/engine"
)

const eng = engine.ID("primary-llm")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(cfg Config) (*Service, *fakeClock) {
	s := NewService(cfg)
	clk := newFakeClock()
	s.SetClock(clk.Now)
	return s, clk
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_OpensAfterExactlyThresholdFailures(t *testing.T) {
	s, _ := newTestService(Config{Enabled: true, FailureThreshold: 3, SuccessThreshold: 2, ResetTimeout: time.Minute})

	s.RecordFailure(eng)
	s.RecordFailure(eng)
	if s.State(eng) != StateClosed {
		t.Fatalf("State() = %v after 2 failures, want StateClosed", s.State(eng))
	}

	s.RecordFailure(eng)
	if s.State(eng) != StateOpen {
		t.Errorf("State() = %v after 3 failures, want StateOpen", s.State(eng))
	}
	if !s.IsOpen(eng) {
		t.Error("IsOpen() = false, want true")
	}
}

func TestService_SuccessResetsFailureStreak(t *testing.T) {
	s, _ := newTestService(Config{Enabled: true, FailureThreshold: 3, SuccessThreshold: 2, ResetTimeout: time.Minute})

	s.RecordFailure(eng)
	s.RecordFailure(eng)
	s.RecordSuccess(eng)
	s.RecordFailure(eng)
	s.RecordFailure(eng)

	if s.State(eng) != StateClosed {
		t.Errorf("State() = %v, want StateClosed (streak was reset)", s.State(eng))
	}
}

func TestService_OpenToHalfOpenAfterResetTimeout(t *testing.T) {
	s, clk := newTestService(Config{Enabled: true, FailureThreshold: 2, SuccessThreshold: 2, ResetTimeout: 30 * time.Second})

	s.RecordFailure(eng)
	s.RecordFailure(eng)
	if !s.IsOpen(eng) {
		t.Fatal("circuit should be open")
	}

	clk.Advance(29 * time.Second)
	if !s.IsOpen(eng) {
		t.Error("circuit should still be open before reset timeout")
	}

	clk.Advance(time.Second)
	if s.IsOpen(eng) {
		t.Error("circuit should admit probes after reset timeout")
	}
	if s.State(eng) != StateHalfOpen {
		t.Errorf("State() = %v, want StateHalfOpen", s.State(eng))
	}
}

func TestService_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	s, clk := newTestService(Config{Enabled: true, FailureThreshold: 2, SuccessThreshold: 2, ResetTimeout: 30 * time.Second})

	s.RecordFailure(eng)
	s.RecordFailure(eng)
	clk.Advance(30 * time.Second)

	if s.State(eng) != StateHalfOpen {
		t.Fatalf("State() = %v, want StateHalfOpen", s.State(eng))
	}

	s.RecordSuccess(eng)
	if s.State(eng) != StateHalfOpen {
		t.Fatalf("one success should not close the circuit")
	}
	s.RecordSuccess(eng)
	if s.State(eng) != StateClosed {
		t.Errorf("State() = %v, want StateClosed after 2 half-open successes", s.State(eng))
	}

	// Streak must be fully cleared after recovery.
	s.RecordFailure(eng)
	if s.State(eng) != StateClosed {
		t.Error("a single failure after recovery should not re-open")
	}
}

func TestService_HalfOpenFailureReopens(t *testing.T) {
	s, clk := newTestService(Config{Enabled: true, FailureThreshold: 2, SuccessThreshold: 2, ResetTimeout: 30 * time.Second})

	s.RecordFailure(eng)
	s.RecordFailure(eng)
	clk.Advance(30 * time.Second)
	_ = s.State(eng) // forces Open -> HalfOpen

	s.RecordFailure(eng)
	if s.State(eng) != StateOpen {
		t.Errorf("State() = %v, want StateOpen after half-open failure", s.State(eng))
	}
}

func TestService_HalfOpenTimeoutReopens(t *testing.T) {
	s, clk := newTestService(Config{
		Enabled:          true,
		FailureThreshold: 2,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		HalfOpenTimeout:  10 * time.Second,
	})

	s.RecordFailure(eng)
	s.RecordFailure(eng)
	clk.Advance(30 * time.Second)
	if s.State(eng) != StateHalfOpen {
		t.Fatalf("State() = %v, want StateHalfOpen", s.State(eng))
	}

	s.RecordSuccess(eng) // one success, below threshold
	clk.Advance(10 * time.Second)

	if s.State(eng) != StateOpen {
		t.Errorf("State() = %v, want StateOpen after half-open timeout", s.State(eng))
	}
}

func TestService_Disabled(t *testing.T) {
	s, _ := newTestService(Config{Enabled: false, FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: time.Minute})

	for i := 0; i < 10; i++ {
		s.RecordFailure(eng)
	}
	if s.IsOpen(eng) {
		t.Error("disabled breaker must never report open")
	}
}

func TestService_TimeToReset(t *testing.T) {
	s, clk := newTestService(Config{Enabled: true, FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: 30 * time.Second})

	if got := s.TimeToReset(eng); got != 0 {
		t.Errorf("TimeToReset() = %v for closed circuit, want 0", got)
	}

	s.RecordFailure(eng)
	clk.Advance(10 * time.Second)

	if got := s.TimeToReset(eng); got != 20*time.Second {
		t.Errorf("TimeToReset() = %v, want 20s", got)
	}
}

func TestService_ResetAndAllStates(t *testing.T) {
	s, _ := newTestService(Config{Enabled: true, FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: time.Hour})

	a, b := engine.ID("a"), engine.ID("b")
	s.RecordFailure(a)
	s.RecordSuccess(b)

	states := s.AllStates()
	if states[a] != StateOpen || states[b] != StateClosed {
		t.Errorf("AllStates() = %v, want a=open b=closed", states)
	}

	s.Reset(a)
	if s.State(a) != StateClosed {
		t.Errorf("State(a) = %v after Reset, want StateClosed", s.State(a))
	}

	s.RecordFailure(a)
	s.RecordFailure(b)
	s.ResetAll()
	for id, st := range s.AllStates() {
		if st != StateClosed {
			t.Errorf("engine %s = %v after ResetAll, want StateClosed", id, st)
		}
	}
}

func TestService_UpdateConfig(t *testing.T) {
	s, _ := newTestService(Config{Enabled: true, FailureThreshold: 10, SuccessThreshold: 2, ResetTimeout: time.Minute})

	s.RecordFailure(eng)
	s.RecordFailure(eng)

	s.UpdateConfig(Config{Enabled: true, FailureThreshold: 2, SuccessThreshold: 2, ResetTimeout: time.Minute})

	s.RecordFailure(eng)
	if s.State(eng) != StateOpen {
		t.Errorf("State() = %v, want StateOpen under lowered threshold", s.State(eng))
	}
}

func TestService_OnStateChange(t *testing.T) {
	s, _ := newTestService(Config{Enabled: true, FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Minute})

	var mu sync.Mutex
	var transitions []struct{ from, to State }
	s.OnStateChange(func(id engine.ID, from, to State) {
		mu.Lock()
		transitions = append(transitions, struct{ from, to State }{from, to})
		mu.Unlock()
	})

	s.RecordFailure(eng)
	time.Sleep(10 * time.Millisecond) // callback is async

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].from != StateClosed || transitions[0].to != StateOpen {
		t.Errorf("expected closed->open, got %v->%v", transitions[0].from, transitions[0].to)
	}
}

func TestService_Concurrent(t *testing.T) {
	s, _ := newTestService(Config{Enabled: true, FailureThreshold: 100, SuccessThreshold: 10, ResetTimeout: time.Second})

	engines := []engine.ID{"a", "b", "c"}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := engines[(n+j)%len(engines)]
				if !s.IsOpen(id) {
					if j%2 == 0 {
						s.RecordSuccess(id)
					} else {
						s.RecordFailure(id)
					}
				}
			}
		}(i)
	}
	wg.Wait()

	// Just verify no panics or deadlocks occurred.
	_ = s.AllStates()
}
