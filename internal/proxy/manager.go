// Package proxy tracks the per-source network-access tier and escalates or
// de-escalates it based on observed fetch outcomes.
package proxy

import (
	"sync"
	"time"
)

// Tier is the escalating level of network-access sophistication used to
// reach a portal. Ordered: Base < Elevated < Specialized.
type Tier int

const (
	// TierBase is a direct connection with no proxy.
	TierBase Tier = iota
	// TierElevated routes through a datacenter proxy pool.
	TierElevated
	// TierSpecialized routes through residential proxies.
	TierSpecialized
)

func (t Tier) String() string {
	switch t {
	case TierBase:
		return "base"
	case TierElevated:
		return "elevated"
	case TierSpecialized:
		return "specialized"
	default:
		return "unknown"
	}
}

// Outcome classifies the result of one network operation against a portal.
type Outcome int

const (
	// OutcomeSuccess is a completed fetch.
	OutcomeSuccess Outcome = iota
	// OutcomeNetworkFailure is a timeout, block, or CAPTCHA-indicative
	// response. Only these count toward escalation.
	OutcomeNetworkFailure
	// OutcomeContentFailure is a parse or layout error. The portal answered;
	// escalating the proxy tier would not help.
	OutcomeContentFailure
)

// Config controls the escalation state machine.
type Config struct {
	// EscalateAfter is the number of consecutive network failures within
	// FailureWindow required to raise the tier one step. Default: 3.
	EscalateAfter int

	// FailureWindow is the sliding window for the failure streak. Failures
	// further apart than this restart the count. Default: 30m.
	FailureWindow time.Duration

	// DeescalateAfter is the number of consecutive successes required to
	// lower the tier one step once Cooldown has elapsed. Default: 5.
	DeescalateAfter int

	// Cooldown is the minimum time after a tier change before the tier may
	// drop again. Default: 6h.
	Cooldown time.Duration

	// OnTierChange is called after every tier transition.
	OnTierChange func(sourceCode string, from, to Tier)
}

// DefaultConfig returns sensible escalation defaults.
func DefaultConfig() Config {
	return Config{
		EscalateAfter:   3,
		FailureWindow:   30 * time.Minute,
		DeescalateAfter: 5,
		Cooldown:        6 * time.Hour,
	}
}

// TierState is a snapshot of one source's proxy state.
type TierState struct {
	Tier                 Tier      `json:"tier"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastTransition       time.Time `json:"last_transition,omitempty"`
}

type sourceState struct {
	mu sync.Mutex

	tier                 Tier
	consecutiveFailures  int
	firstFailureAt       time.Time
	consecutiveSuccesses int
	lastTransition       time.Time
}

// Manager owns the tier state for every source. Safe for concurrent
// reporters; sources are locked independently so unrelated sources never
// contend.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*sourceState
	cfg    Config

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewManager creates a Manager with the given config.
func NewManager(cfg Config) *Manager {
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = 3
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = 30 * time.Minute
	}
	if cfg.DeescalateAfter <= 0 {
		cfg.DeescalateAfter = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 6 * time.Hour
	}
	return &Manager{
		states:  make(map[string]*sourceState),
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

// CurrentTier returns the tier the adapter must use for its next network
// operation against the source.
func (m *Manager) CurrentTier(sourceCode string) Tier {
	st := m.state(sourceCode)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.tier
}

// ReportOutcome records the result of one network operation. Escalation
// never skips a tier; de-escalation never drops below Base.
func (m *Manager) ReportOutcome(sourceCode string, outcome Outcome) {
	st := m.state(sourceCode)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := m.nowFunc()

	switch outcome {
	case OutcomeSuccess:
		st.consecutiveFailures = 0
		st.consecutiveSuccesses++
		if st.tier > TierBase &&
			st.consecutiveSuccesses >= m.cfg.DeescalateAfter &&
			now.Sub(st.lastTransition) >= m.cfg.Cooldown {
			m.transition(sourceCode, st, st.tier-1, now)
			st.consecutiveSuccesses = 0
		}

	case OutcomeNetworkFailure:
		st.consecutiveSuccesses = 0
		// Failures outside the sliding window restart the streak.
		if st.consecutiveFailures == 0 || now.Sub(st.firstFailureAt) > m.cfg.FailureWindow {
			st.consecutiveFailures = 0
			st.firstFailureAt = now
		}
		st.consecutiveFailures++
		if st.consecutiveFailures >= m.cfg.EscalateAfter && st.tier < TierSpecialized {
			m.transition(sourceCode, st, st.tier+1, now)
			st.consecutiveFailures = 0
		}

	case OutcomeContentFailure:
		// The portal answered; a markup change is not the proxy's problem.
		// It still interrupts a success streak.
		st.consecutiveSuccesses = 0
	}
}

// Snapshot returns the current state of every tracked source.
func (m *Manager) Snapshot() map[string]TierState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]TierState, len(m.states))
	for code, st := range m.states {
		st.mu.Lock()
		out[code] = TierState{
			Tier:                 st.tier,
			ConsecutiveFailures:  st.consecutiveFailures,
			ConsecutiveSuccesses: st.consecutiveSuccesses,
			LastTransition:       st.lastTransition,
		}
		st.mu.Unlock()
	}
	return out
}

// Reset forces a source back to TierBase. Useful for manual recovery.
func (m *Manager) Reset(sourceCode string) {
	st := m.state(sourceCode)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.tier != TierBase {
		m.transition(sourceCode, st, TierBase, m.nowFunc())
	}
	st.consecutiveFailures = 0
	st.consecutiveSuccesses = 0
}

func (m *Manager) state(sourceCode string) *sourceState {
	m.mu.RLock()
	st, ok := m.states[sourceCode]
	m.mu.RUnlock()
	if ok {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Double-check after acquiring write lock.
	if st, ok = m.states[sourceCode]; ok {
		return st
	}
	st = &sourceState{}
	m.states[sourceCode] = st
	return st
}

// transition requires st.mu to be held.
func (m *Manager) transition(sourceCode string, st *sourceState, to Tier, now time.Time) {
	from := st.tier
	st.tier = to
	st.lastTransition = now
	if m.cfg.OnTierChange != nil {
		m.cfg.OnTierChange(sourceCode, from, to)
	}
}

// Endpoints maps tiers to proxy URLs from configuration. An empty URL means
// a direct connection.
type Endpoints struct {
	DatacenterURL  string
	ResidentialURL string
}

// URL returns the proxy URL an adapter should use at the given tier.
func (e Endpoints) URL(t Tier) string {
	switch t {
	case TierElevated:
		return e.DatacenterURL
	case TierSpecialized:
		return e.ResidentialURL
	default:
		return ""
	}
}
