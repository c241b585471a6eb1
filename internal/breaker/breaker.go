// Package breaker isolates the router from persistently failing engines.
//
// Each engine gets its own three-state machine:
//
//	Closed ──(consecutive failures ≥ threshold)──► Open
//	Open ──(reset timeout elapsed)──► HalfOpen
//	HalfOpen ──(success threshold reached)──► Closed
//	HalfOpen ──(any failure, or half-open timeout)──► Open
//
// Time-based transitions are evaluated lazily inside the read operations
// (IsOpen, State, TimeToReset), so no background scheduler is needed and
// the state is a pure function of (stored record, now). Tests inject a
// controllable clock instead of sleeping.
//
// Records are created lazily on first reference to an engine and are never
// deleted except by an explicit Reset/ResetAll. Each record carries its own
// mutex so independent engines never contend.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsedash/enginemux/pkg/engine"
)

// State represents the current state of one engine's circuit.
type State int

const (
	// StateClosed allows requests to pass through normally.
	StateClosed State = iota
	// StateOpen blocks all requests to the engine.
	StateOpen
	// StateHalfOpen admits probe requests to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config contains circuit breaker tuning. All fields are hot-reloadable
// via UpdateConfig.
type Config struct {
	// Enabled gates the whole breaker. When false, RecordFailure and
	// IsOpen are no-ops and every engine is treated as available.
	Enabled bool
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again.
	SuccessThreshold int
	// ResetTimeout is how long the circuit stays open before admitting
	// half-open probes.
	ResetTimeout time.Duration
	// HalfOpenTimeout re-opens the circuit if the success threshold is
	// not reached within this window. Zero disables the timeout.
	HalfOpenTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		HalfOpenTimeout:  60 * time.Second,
	}
}

// record is the per-engine breaker state. All fields are guarded by mu.
type record struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	lastFailureAt       time.Time
	lastTransitionAt    time.Time
}

// Service tracks one circuit per engine.
//
// Service is safe for concurrent use by multiple goroutines.
type Service struct {
	mu      sync.RWMutex
	records map[engine.ID]*record

	config atomic.Value // Config

	onStateChange func(id engine.ID, from, to State)

	// now is the clock source; overridden in tests.
	now func() time.Time
}

// NewService creates a breaker service with the given config.
func NewService(cfg Config) *Service {
	s := &Service{
		records: make(map[engine.ID]*record),
		now:     time.Now,
	}
	s.config.Store(normalize(cfg))
	return s
}

func normalize(cfg Config) Config {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return cfg
}

// UpdateConfig swaps the breaker configuration at runtime.
func (s *Service) UpdateConfig(cfg Config) {
	s.config.Store(normalize(cfg))
}

// Config returns the current configuration.
func (s *Service) Config() Config {
	return s.config.Load().(Config)
}

// OnStateChange registers a callback invoked on every transition.
// Must be called before the service is shared across goroutines.
func (s *Service) OnStateChange(fn func(id engine.ID, from, to State)) {
	s.onStateChange = fn
}

// SetClock overrides the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) get(id engine.ID) *record {
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.records[id]; ok {
		return r
	}
	r = &record{state: StateClosed}
	s.records[id] = r
	return r
}

// advance applies pending time-based transitions to r. Caller holds r.mu.
func (s *Service) advance(id engine.ID, r *record, cfg Config, now time.Time) {
	if r.state == StateOpen && now.Sub(r.lastTransitionAt) >= cfg.ResetTimeout {
		s.transition(id, r, StateHalfOpen, now)
		r.halfOpenSuccesses = 0
	}
	if r.state == StateHalfOpen && cfg.HalfOpenTimeout > 0 && now.Sub(r.lastTransitionAt) >= cfg.HalfOpenTimeout {
		s.transition(id, r, StateOpen, now)
	}
}

// IsOpen reports whether requests to the engine should be blocked.
// It evaluates pending time-based transitions before answering.
func (s *Service) IsOpen(id engine.ID) bool {
	cfg := s.Config()
	if !cfg.Enabled {
		return false
	}

	r := s.get(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	s.advance(id, r, cfg, s.now())
	return r.state == StateOpen
}

// RecordFailure counts one failure against the engine and opens the
// circuit once the threshold is reached. A half-open failure re-opens
// immediately.
func (s *Service) RecordFailure(id engine.ID) {
	cfg := s.Config()
	if !cfg.Enabled {
		return
	}

	r := s.get(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	now := s.now()
	s.advance(id, r, cfg, now)
	r.lastFailureAt = now

	switch r.state {
	case StateClosed:
		r.consecutiveFailures++
		if r.consecutiveFailures >= cfg.FailureThreshold {
			s.transition(id, r, StateOpen, now)
		}
	case StateHalfOpen:
		s.transition(id, r, StateOpen, now)
		r.halfOpenSuccesses = 0
	}
}

// RecordSuccess counts one success. In Closed it clears the failure
// streak; in HalfOpen it closes the circuit once the success threshold
// is reached.
func (s *Service) RecordSuccess(id engine.ID) {
	cfg := s.Config()

	r := s.get(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	now := s.now()
	s.advance(id, r, cfg, now)

	switch r.state {
	case StateClosed:
		r.consecutiveFailures = 0
	case StateHalfOpen:
		r.halfOpenSuccesses++
		if r.halfOpenSuccesses >= cfg.SuccessThreshold {
			s.transition(id, r, StateClosed, now)
			r.consecutiveFailures = 0
			r.halfOpenSuccesses = 0
		}
	}
}

// State returns the engine's current circuit state, applying pending
// time-based transitions first.
func (s *Service) State(id engine.ID) State {
	cfg := s.Config()

	r := s.get(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	s.advance(id, r, cfg, s.now())
	return r.state
}

// AllStates returns a snapshot of every tracked engine's state.
func (s *Service) AllStates() map[engine.ID]State {
	cfg := s.Config()
	now := s.now()

	s.mu.RLock()
	ids := make([]engine.ID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	states := make(map[engine.ID]State, len(ids))
	for _, id := range ids {
		r := s.get(id)
		r.mu.Lock()
		s.advance(id, r, cfg, now)
		states[id] = r.state
		r.mu.Unlock()
	}
	return states
}

// TimeToReset returns how long until an open circuit admits half-open
// probes. Zero for circuits that are not open.
func (s *Service) TimeToReset(id engine.ID) time.Duration {
	cfg := s.Config()

	r := s.get(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	now := s.now()
	s.advance(id, r, cfg, now)
	if r.state != StateOpen {
		return 0
	}
	remaining := cfg.ResetTimeout - now.Sub(r.lastTransitionAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset returns one engine's circuit to Closed with cleared counters.
func (s *Service) Reset(id engine.ID) {
	r := s.get(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	s.transition(id, r, StateClosed, s.now())
	r.consecutiveFailures = 0
	r.halfOpenSuccesses = 0
}

// ResetAll resets every tracked engine.
func (s *Service) ResetAll() {
	s.mu.RLock()
	ids := make([]engine.ID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.Reset(id)
	}
}

func (s *Service) transition(id engine.ID, r *record, to State, now time.Time) {
	if r.state == to {
		return
	}
	from := r.state
	r.state = to
	r.lastTransitionAt = now

	if s.onStateChange != nil {
		// Callback runs without holding the record lock.
		go s.onStateChange(id, from, to)
	}
}
