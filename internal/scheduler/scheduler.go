// Package scheduler decides when each source is due for a scrape and hands
// due sources to a bounded worker pool, keeping at most one active run per
// source.
package scheduler

import (
	"context"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oddlyrohit/councilscraper/internal/config"
	"github.com/oddlyrohit/councilscraper/internal/model"
	"github.com/oddlyrohit/councilscraper/internal/registry"
	"github.com/oddlyrohit/councilscraper/internal/resilience"
)

// ErrAlreadyRunning rejects a dispatch for a source with an active run.
var ErrAlreadyRunning = eris.New("scheduler: source already has an active run")

// ErrWorkersBusy rejects a dispatch when no worker slot is free. Retryable.
var ErrWorkersBusy = eris.New("scheduler: worker pool saturated")

// Dispatcher executes one run. Satisfied by pipeline.Coordinator.
type Dispatcher interface {
	Execute(ctx context.Context, sourceCode string, mode model.RunMode, rng *model.DateRange) (*model.Run, error)
}

// Stats is a point-in-time view of scheduler activity.
type Stats struct {
	Active       int                  `json:"active"`
	ActiveCodes  []string             `json:"active_codes,omitempty"`
	LastDispatch map[string]time.Time `json:"last_dispatch,omitempty"`
}

// Scheduler owns dispatch bookkeeping. All methods are safe for concurrent
// use.
type Scheduler struct {
	registry *registry.Registry
	exec     Dispatcher
	cfg      config.SchedulerConfig

	group *errgroup.Group

	mu         sync.Mutex
	active     map[string]bool
	activeTier map[int]int
	lastRun    map[string]time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Scheduler over the registered sources.
func New(reg *registry.Registry, exec Dispatcher, cfg config.SchedulerConfig) *Scheduler {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	group := &errgroup.Group{}
	group.SetLimit(maxConcurrent)
	return &Scheduler{
		registry:   reg,
		exec:       exec,
		cfg:        cfg,
		group:      group,
		active:     make(map[string]bool),
		activeTier: make(map[int]int),
		lastRun:    make(map[string]time.Time),
		nowFunc:    time.Now,
	}
}

// Tick returns the source codes due for a scrape at the given instant. It
// only reads bookkeeping; dispatching is the caller's job. A source never
// dispatched before becomes due once its stagger offset into the current
// cadence window has passed, so a fleet restart does not fire every source
// at once.
func (s *Scheduler) Tick(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for _, src := range s.registry.Sources() {
		if s.active[src.Code] {
			continue
		}
		cadence := time.Duration(s.cfg.CadenceHours(src.Tier)) * time.Hour

		last, seen := s.lastRun[src.Code]
		if !seen {
			windowStart := now.Truncate(cadence)
			if now.Sub(windowStart) >= stagger(src.Code, cadence) {
				due = append(due, src.Code)
			}
			continue
		}
		if now.Sub(last) >= cadence {
			due = append(due, src.Code)
		}
	}
	sort.Strings(due)
	return due
}

// stagger spreads sources across a cadence window deterministically.
func stagger(code string, window time.Duration) time.Duration {
	h := fnv.New64a()
	h.Write([]byte(code))
	return time.Duration(h.Sum64() % uint64(window))
}

// Dispatch starts a run for one source on the worker pool. Returns
// ErrAlreadyRunning when the source has an active run and ErrWorkersBusy
// when no slot is free; only the latter is worth retrying.
func (s *Scheduler) Dispatch(ctx context.Context, sourceCode string, mode model.RunMode) error {
	src, err := s.registry.Source(sourceCode)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.active[sourceCode] {
		s.mu.Unlock()
		return eris.Wrapf(ErrAlreadyRunning, "%s", sourceCode)
	}
	if s.activeTier[src.Tier] >= s.tierLimit(src.Tier) {
		s.mu.Unlock()
		return eris.Wrapf(ErrWorkersBusy, "tier %d", src.Tier)
	}
	s.active[sourceCode] = true
	s.activeTier[src.Tier]++
	s.mu.Unlock()

	started := s.group.TryGo(func() error {
		defer s.release(sourceCode, src.Tier)
		run, err := s.exec.Execute(ctx, sourceCode, mode, nil)
		if err != nil {
			zap.L().Error("run execution error",
				zap.String("source", sourceCode),
				zap.Error(err))
			return nil
		}
		if run.Status == model.RunStatusFailed {
			zap.L().Warn("run failed",
				zap.String("source", sourceCode),
				zap.String("run_id", run.ID))
		}
		return nil
	})
	if !started {
		s.release(sourceCode, src.Tier)
		return eris.Wrap(ErrWorkersBusy, "pool")
	}

	s.mu.Lock()
	s.lastRun[sourceCode] = s.nowFunc()
	s.mu.Unlock()
	return nil
}

// DispatchTier starts runs for every source in a tier, skipping ones that
// are already running. Returns the codes actually dispatched.
func (s *Scheduler) DispatchTier(ctx context.Context, tier int, mode model.RunMode) []string {
	var dispatched []string
	for _, code := range s.registry.ListByTier(tier) {
		if err := s.Dispatch(ctx, code, mode); err != nil {
			zap.L().Debug("tier dispatch skipped source",
				zap.String("source", code),
				zap.Int("tier", tier),
				zap.Error(err))
			continue
		}
		dispatched = append(dispatched, code)
	}
	return dispatched
}

// Loop ticks until the context is cancelled, dispatching due sources. A
// source that cannot be dispatched this tick is logged and left for the
// next one; missed ticks are never replayed.
func (s *Scheduler) Loop(ctx context.Context) error {
	interval := time.Duration(s.cfg.TickIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	zap.L().Info("scheduler started",
		zap.Duration("tick_interval", interval),
		zap.Int("sources", s.registry.Len()))

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("scheduler stopping, draining workers")
			s.Wait()
			return ctx.Err()
		case now := <-ticker.C:
			for _, code := range s.Tick(now) {
				if err := s.dispatchWithRetry(ctx, code); err != nil {
					zap.L().Warn("dispatch missed, deferring to next tick",
						zap.String("source", code),
						zap.Error(err))
				}
			}
		}
	}
}

func (s *Scheduler) dispatchWithRetry(ctx context.Context, code string) error {
	retries := s.cfg.DispatchRetries
	if retries <= 0 {
		retries = 3
	}
	cfg := resilience.RetryConfig{
		MaxAttempts:    retries,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
		// Saturation clears as workers finish. A live run for the source
		// will not.
		ShouldRetry: func(err error) bool { return eris.Is(err, ErrWorkersBusy) },
	}
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return s.Dispatch(ctx, code, model.ModeCurrent)
	})
}

// Wait blocks until all in-flight runs finish.
func (s *Scheduler) Wait() {
	// Workers never return errors; failures live on the run audit row.
	_ = s.group.Wait()
}

// Stats snapshots current activity for the status command.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{LastDispatch: make(map[string]time.Time, len(s.lastRun))}
	for code, active := range s.active {
		if active {
			st.Active++
			st.ActiveCodes = append(st.ActiveCodes, code)
		}
	}
	sort.Strings(st.ActiveCodes)
	for code, at := range s.lastRun {
		st.LastDispatch[code] = at
	}
	return st
}

func (s *Scheduler) tierLimit(tier int) int {
	if n, ok := s.cfg.TierConcurrency[strconv.Itoa(tier)]; ok && n > 0 {
		return n
	}
	return 1
}

func (s *Scheduler) release(sourceCode string, tier int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, sourceCode)
	if s.activeTier[tier] > 0 {
		s.activeTier[tier]--
	}
}
