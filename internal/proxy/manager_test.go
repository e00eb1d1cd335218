package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestManager(cfg Config) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(cfg)
	m.nowFunc = clock.Now
	return m, clock
}

func TestEscalatesAfterConsecutiveNetworkFailures(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	assert.Equal(t, TierBase, m.CurrentTier("alpha"))

	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	assert.Equal(t, TierElevated, m.CurrentTier("alpha"))
}

func TestContentFailuresNeverEscalate(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	for i := 0; i < 10; i++ {
		m.ReportOutcome("alpha", OutcomeContentFailure)
	}
	assert.Equal(t, TierBase, m.CurrentTier("alpha"))
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	m.ReportOutcome("alpha", OutcomeSuccess)
	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	assert.Equal(t, TierBase, m.CurrentTier("alpha"))
}

func TestFailuresOutsideWindowRestartStreak(t *testing.T) {
	m, clock := newTestManager(DefaultConfig())

	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	clock.Advance(45 * time.Minute)
	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	assert.Equal(t, TierBase, m.CurrentTier("alpha"),
		"stale failures must not count toward escalation")

	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	m.ReportOutcome("alpha", OutcomeNetworkFailure)
	assert.Equal(t, TierElevated, m.CurrentTier("alpha"))
}

func TestEscalationNeverSkipsATier(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	for i := 0; i < 3; i++ {
		m.ReportOutcome("alpha", OutcomeNetworkFailure)
	}
	assert.Equal(t, TierElevated, m.CurrentTier("alpha"))

	for i := 0; i < 3; i++ {
		m.ReportOutcome("alpha", OutcomeNetworkFailure)
	}
	assert.Equal(t, TierSpecialized, m.CurrentTier("alpha"))

	// Already at the top; further failures are a no-op.
	for i := 0; i < 6; i++ {
		m.ReportOutcome("alpha", OutcomeNetworkFailure)
	}
	assert.Equal(t, TierSpecialized, m.CurrentTier("alpha"))
}

func TestDeescalationRequiresCooldownAndSuccessStreak(t *testing.T) {
	m, clock := newTestManager(DefaultConfig())

	for i := 0; i < 3; i++ {
		m.ReportOutcome("alpha", OutcomeNetworkFailure)
	}
	assert.Equal(t, TierElevated, m.CurrentTier("alpha"))

	// A single success after escalation must not drop the tier, even far
	// past the cooldown.
	clock.Advance(7 * time.Hour)
	m.ReportOutcome("alpha", OutcomeSuccess)
	assert.Equal(t, TierElevated, m.CurrentTier("alpha"))

	for i := 0; i < 3; i++ {
		m.ReportOutcome("alpha", OutcomeSuccess)
	}
	assert.Equal(t, TierElevated, m.CurrentTier("alpha"))

	m.ReportOutcome("alpha", OutcomeSuccess)
	assert.Equal(t, TierBase, m.CurrentTier("alpha"))
}

func TestDeescalationBlockedInsideCooldown(t *testing.T) {
	m, clock := newTestManager(DefaultConfig())

	for i := 0; i < 3; i++ {
		m.ReportOutcome("alpha", OutcomeNetworkFailure)
	}
	clock.Advance(time.Hour)

	for i := 0; i < 20; i++ {
		m.ReportOutcome("alpha", OutcomeSuccess)
	}
	assert.Equal(t, TierElevated, m.CurrentTier("alpha"),
		"cooldown must hold the tier regardless of success count")
}

func TestContentFailureInterruptsSuccessStreak(t *testing.T) {
	m, clock := newTestManager(DefaultConfig())

	for i := 0; i < 3; i++ {
		m.ReportOutcome("alpha", OutcomeNetworkFailure)
	}
	clock.Advance(7 * time.Hour)

	for i := 0; i < 4; i++ {
		m.ReportOutcome("alpha", OutcomeSuccess)
	}
	m.ReportOutcome("alpha", OutcomeContentFailure)
	m.ReportOutcome("alpha", OutcomeSuccess)
	assert.Equal(t, TierElevated, m.CurrentTier("alpha"))
}

func TestSourcesTrackedIndependently(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	for i := 0; i < 3; i++ {
		m.ReportOutcome("alpha", OutcomeNetworkFailure)
	}
	assert.Equal(t, TierElevated, m.CurrentTier("alpha"))
	assert.Equal(t, TierBase, m.CurrentTier("beta"))
}

func TestOnTierChangeCallback(t *testing.T) {
	type change struct {
		source   string
		from, to Tier
	}
	var changes []change

	cfg := DefaultConfig()
	cfg.OnTierChange = func(sourceCode string, from, to Tier) {
		changes = append(changes, change{sourceCode, from, to})
	}
	m, clock := newTestManager(cfg)

	for i := 0; i < 3; i++ {
		m.ReportOutcome("alpha", OutcomeNetworkFailure)
	}
	clock.Advance(7 * time.Hour)
	for i := 0; i < 5; i++ {
		m.ReportOutcome("alpha", OutcomeSuccess)
	}

	assert.Equal(t, []change{
		{"alpha", TierBase, TierElevated},
		{"alpha", TierElevated, TierBase},
	}, changes)
}

func TestResetForcesBase(t *testing.T) {
	m, _ := newTestManager(DefaultConfig())

	for i := 0; i < 6; i++ {
		m.ReportOutcome("alpha", OutcomeNetworkFailure)
	}
	assert.Equal(t, TierSpecialized, m.CurrentTier("alpha"))

	m.Reset("alpha")
	assert.Equal(t, TierBase, m.CurrentTier("alpha"))

	snap := m.Snapshot()["alpha"]
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Zero(t, snap.ConsecutiveSuccesses)
}

func TestEndpointsURLByTier(t *testing.T) {
	e := Endpoints{
		DatacenterURL:  "http://dc.proxy:8080",
		ResidentialURL: "http://res.proxy:8080",
	}
	assert.Empty(t, e.URL(TierBase))
	assert.Equal(t, "http://dc.proxy:8080", e.URL(TierElevated))
	assert.Equal(t, "http://res.proxy:8080", e.URL(TierSpecialized))
}
