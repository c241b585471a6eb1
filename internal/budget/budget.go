// Package budget enforces daily and per-user token quotas so no single
// tenant or day exceeds its configured allowance.
//
// Enforcement is soft: CheckLimits is consulted before an engine call and
// RecordUsage is applied after, so a query can legitimately push a user
// over the limit by one response's worth of tokens. This favors throughput
// over hard quota precision; the next CheckLimits for that user denies.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/pulsedash/enginemux/pkg/engine"
)

// Denial reasons reported to callers when a budget check fails.
const (
	ReasonDailyLimit = "daily token limit reached"
	ReasonUserLimit  = "user token limit reached"
)

// Config contains token quota settings. Hot-reloadable via UpdateConfig.
type Config struct {
	// DailyTokenLimit caps the total tokens recorded per calendar day
	// across all users.
	DailyTokenLimit int
	// UserTokenLimit caps the tokens recorded per user per calendar day.
	UserTokenLimit int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DailyTokenLimit: 1_000_000,
		UserTokenLimit:  50_000,
	}
}

// Decision is the outcome of a budget check.
type Decision struct {
	Allowed bool `json:"allowed"`
	// Reason is set when Allowed is false; one of the Reason constants.
	Reason string `json:"reason,omitempty"`
	// RemainingDaily and RemainingUser report headroom at check time.
	RemainingDaily int `json:"remaining_daily"`
	RemainingUser  int `json:"remaining_user"`
}

// Usage is a point-in-time view of the ledger.
type Usage struct {
	Date           string `json:"date"`
	DailyTotal     int    `json:"daily_total"`
	DailyLimit     int    `json:"daily_limit"`
	RemainingDaily int    `json:"remaining_daily"`
	ActiveUsers    int    `json:"active_users"`
}

// UserUsage is a point-in-time view of one user's ledger entry.
type UserUsage struct {
	UserID    string `json:"user_id"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// Manager is the process-wide token ledger.
//
// The whole ledger is guarded by one mutex: the day rollover must be
// mutually exclusive with every read and write so counters are reset
// exactly once per date change, with no lost updates. Contention is
// acceptable because each critical section is a few map operations.
type Manager struct {
	mu         sync.Mutex
	cfg        Config
	dailyTotal int
	perUser    map[string]int
	ledgerDate string

	// now is the clock source; overridden in tests.
	now func() time.Time
}

// NewManager creates a token ledger with the given quotas.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:     cfg,
		perUser: make(map[string]int),
		now:     time.Now,
	}
	m.ledgerDate = ledgerDay(m.now())
	return m
}

// SetClock overrides the time source. Intended for tests. Moving the
// clock across a date boundary discards the current counters, exactly
// as a natural day rollover would; usage recorded under the old clock
// is never attributed to the new date.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.rollover()
}

func ledgerDay(t time.Time) string {
	return t.Format("2006-01-02")
}

// rollover zeroes the ledger when the wall-clock date has advanced past
// the ledger date. Caller holds m.mu.
func (m *Manager) rollover() {
	today := ledgerDay(m.now())
	if today == m.ledgerDate {
		return
	}
	m.dailyTotal = 0
	m.perUser = make(map[string]int)
	m.ledgerDate = today
}

// CheckLimits reports whether a query for userID may proceed. The daily
// limit is checked before the per-user limit, so a new user during an
// exhausted day is still denied with the daily reason.
func (m *Manager) CheckLimits(userID string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	remainingDaily := m.cfg.DailyTokenLimit - m.dailyTotal
	if remainingDaily < 0 {
		remainingDaily = 0
	}
	remainingUser := m.cfg.UserTokenLimit - m.perUser[userID]
	if remainingUser < 0 {
		remainingUser = 0
	}

	if m.dailyTotal >= m.cfg.DailyTokenLimit {
		return Decision{Reason: ReasonDailyLimit, RemainingDaily: remainingDaily, RemainingUser: remainingUser}
	}
	if m.perUser[userID] >= m.cfg.UserTokenLimit {
		return Decision{Reason: ReasonUserLimit, RemainingDaily: remainingDaily, RemainingUser: remainingUser}
	}

	return Decision{Allowed: true, RemainingDaily: remainingDaily, RemainingUser: remainingUser}
}

// RecordUsage adds tokens to both the daily total and the user's total.
// There is no upper clamp; callers are expected to CheckLimits first.
func (m *Manager) RecordUsage(userID string, tokens int) {
	if tokens <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	m.dailyTotal += tokens
	m.perUser[userID] += tokens
}

// Usage returns the ledger totals for the current day.
func (m *Manager) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	remaining := m.cfg.DailyTokenLimit - m.dailyTotal
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		Date:           m.ledgerDate,
		DailyTotal:     m.dailyTotal,
		DailyLimit:     m.cfg.DailyTokenLimit,
		RemainingDaily: remaining,
		ActiveUsers:    len(m.perUser),
	}
}

// UserUsage returns one user's ledger entry for the current day.
func (m *Manager) UserUsage(userID string) UserUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover()

	used := m.perUser[userID]
	remaining := m.cfg.UserTokenLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return UserUsage{UserID: userID, Used: used, Limit: m.cfg.UserTokenLimit, Remaining: remaining}
}

// UpdateConfig swaps the quota configuration at runtime. Zero values keep
// the current setting.
func (m *Manager) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.DailyTokenLimit > 0 {
		m.cfg.DailyTokenLimit = cfg.DailyTokenLimit
	}
	if cfg.UserTokenLimit > 0 {
		m.cfg.UserTokenLimit = cfg.UserTokenLimit
	}
}

// Config returns the current quota configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// ResetDailyLimits zeroes all counters without waiting for the day to
// advance. Operator/test utility.
func (m *Manager) ResetDailyLimits() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyTotal = 0
	m.perUser = make(map[string]int)
	m.ledgerDate = ledgerDay(m.now())
}

// ResetAll is an alias for ResetDailyLimits kept for operational symmetry
// with the other services.
func (m *Manager) ResetAll() {
	m.ResetDailyLimits()
}

// LimitExceededResponse builds the canned non-engine response returned
// when a budget check denies a query.
func (m *Manager) LimitExceededResponse(reason string) *engine.Response {
	return &engine.Response{
		Answer:      fmt.Sprintf("Query rejected: %s. Please retry after the daily quota resets.", reason),
		Confidence:  0,
		Explanation: "no engine was invoked for this query",
	}
}

// Token estimation -----------------------------------------------------

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}

// countTextTokens returns the token count for text using tiktoken, falling
// back to a conservative len/4 estimate when no encoding is available.
func countTextTokens(text string) int {
	if text == "" {
		return 0
	}
	e := encoding()
	if e == nil {
		return len(text) / 4
	}
	return len(e.Encode(text, nil, nil))
}

// EstimateTokens returns the billable token count for a response. The
// engine-reported count wins when present; otherwise the answer plus any
// auxiliary explanation text is tokenized.
func EstimateTokens(resp *engine.Response) int {
	if resp == nil {
		return 0
	}
	if resp.TokensUsed > 0 {
		return resp.TokensUsed
	}
	return countTextTokens(resp.Answer) + countTextTokens(resp.Explanation)
}
