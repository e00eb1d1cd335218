// Package pipeline runs one source's scrape end to end: health check, fetch,
// raw archive, mapping, normalization, dedup, persistence, and run audit.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oddlyrohit/councilscraper/internal/dedup"
	"github.com/oddlyrohit/councilscraper/internal/mapping"
	"github.com/oddlyrohit/councilscraper/internal/model"
	"github.com/oddlyrohit/councilscraper/internal/monitoring"
	"github.com/oddlyrohit/councilscraper/internal/normalize"
	"github.com/oddlyrohit/councilscraper/internal/proxy"
	"github.com/oddlyrohit/councilscraper/internal/quality"
	"github.com/oddlyrohit/councilscraper/internal/rawstore"
	"github.com/oddlyrohit/councilscraper/internal/registry"
	"github.com/oddlyrohit/councilscraper/internal/resilience"
	"github.com/oddlyrohit/councilscraper/internal/store"
)

// maxRunErrors bounds the error descriptors kept on one run's audit row.
const maxRunErrors = 50

// Learner is the mapping-acquisition capability the coordinator needs on a
// cache miss.
type Learner interface {
	Learn(ctx context.Context, sourceCode string, samples []model.RawRecord, forceRefresh bool) (*model.FieldMapping, error)
}

// Config tunes one coordinator.
type Config struct {
	// Retry governs fetch attempts against the portal.
	Retry resilience.RetryConfig

	// RunTimeout is the hard wall-clock limit on the fetch phase. Zero
	// disables the limit.
	RunTimeout time.Duration

	// MappingSampleSize is how many raw records are sent to the learner on a
	// mapping miss. Default: 5.
	MappingSampleSize int

	// HistoryDepth is how many recent runs feed the batch health baseline.
	// Default: 20.
	HistoryDepth int
}

// Deps are the collaborators a Coordinator drives.
type Deps struct {
	Store    store.Store
	Registry *registry.Registry
	Proxies  *proxy.Manager
	Mappings *mapping.Cache
	Learner  Learner
	Dedup    *dedup.Engine
	Quality  *quality.Checker
	Archive  *rawstore.Archive
	Alerts   monitoring.Notifier
}

// Coordinator executes runs. Safe for concurrent use across distinct
// sources; the scheduler guarantees at most one active run per source.
type Coordinator struct {
	deps Deps
	cfg  Config

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a Coordinator.
func New(deps Deps, cfg Config) *Coordinator {
	if cfg.MappingSampleSize <= 0 {
		cfg.MappingSampleSize = 5
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 20
	}
	return &Coordinator{deps: deps, cfg: cfg, nowFunc: time.Now}
}

// Execute runs the full pipeline for one source. The returned run carries
// the outcome; a non-nil error means the run could not even be recorded
// (unknown source, audit write failure).
//
// Record-level problems are absorbed into the run's error list and counted
// as skipped; so is a missing field mapping, which skips every record but
// still archives the batch. Only fetch exhaustion and upsert failure mark
// the run failed; an unhealthy portal marks it skipped without touching
// proxy state.
func (c *Coordinator) Execute(ctx context.Context, sourceCode string, mode model.RunMode, rng *model.DateRange) (*model.Run, error) {
	adapter, err := c.deps.Registry.Resolve(sourceCode)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = model.ModeCurrent
	}

	run := &model.Run{
		ID:         uuid.NewString(),
		SourceCode: sourceCode,
		Mode:       mode,
		Status:     model.RunStatusRunning,
		StartedAt:  c.nowFunc().UTC(),
	}
	if err := c.deps.Store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create run for %s", sourceCode)
	}

	health, err := adapter.CheckHealth(ctx)
	if err != nil || !health.OK {
		msg := health.Message
		if err != nil {
			msg = err.Error()
		}
		run.Errors = appendRunError(run.Errors, model.RunError{Stage: "health", Message: msg})
		c.finalize(ctx, run, model.RunStatusSkipped)
		zap.L().Warn("portal unhealthy, run skipped",
			zap.String("source", sourceCode),
			zap.String("run_id", run.ID),
			zap.String("reason", msg))
		return run, nil
	}

	tier := c.deps.Proxies.CurrentTier(sourceCode)

	records, err := c.fetch(ctx, adapter, tier, mode, rng)
	if err != nil {
		outcome := proxy.OutcomeContentFailure
		if resilience.IsNetworkClassified(err) || eris.Is(err, context.DeadlineExceeded) {
			outcome = proxy.OutcomeNetworkFailure
		}
		c.deps.Proxies.ReportOutcome(sourceCode, outcome)
		run.Errors = appendRunError(run.Errors, model.RunError{Stage: "fetch", Message: err.Error()})
		c.finalize(ctx, run, model.RunStatusFailed)
		c.alert(ctx, monitoring.Alert{
			Type:       monitoring.AlertRunFailure,
			Severity:   "error",
			SourceCode: sourceCode,
			Message:    "fetch failed: " + err.Error(),
			Details:    map[string]any{"run_id": run.ID, "tier": tier.String()},
		})
		return run, nil
	}
	c.deps.Proxies.ReportOutcome(sourceCode, proxy.OutcomeSuccess)
	run.Counts.Fetched = len(records)

	for i := range records {
		records[i].RunID = run.ID
	}

	if len(records) > 0 {
		batchID, err := c.deps.Archive.Write(sourceCode, run.ID, records)
		if err != nil {
			// Losing the raw copy is bad but the normalized data still lands.
			run.Errors = appendRunError(run.Errors, model.RunError{Stage: "archive", Message: err.Error()})
			zap.L().Error("raw batch archive failed",
				zap.String("source", sourceCode),
				zap.String("run_id", run.ID),
				zap.Error(err))
		} else {
			run.BatchID = batchID
		}
	}

	if len(records) == 0 {
		c.finalize(ctx, run, model.RunStatusSucceeded)
		c.checkBatchHealth(ctx, run)
		return run, nil
	}

	m, err := c.fieldMapping(ctx, sourceCode, records)
	if err != nil {
		// Process the batch anyway. Every record will come up without an
		// application number and be counted as skipped, but the fetch still
		// succeeded and the raw batch is archived for replay once a mapping
		// exists.
		run.Errors = appendRunError(run.Errors, model.RunError{Stage: "mapping", Message: err.Error()})
		c.alert(ctx, monitoring.Alert{
			Type:       monitoring.AlertMappingFailure,
			Severity:   "error",
			SourceCode: sourceCode,
			Message:    "field mapping unavailable: " + err.Error(),
			Details:    map[string]any{"run_id": run.ID},
		})
		m = nil
	}

	staged := make([]*model.Application, 0, len(records))
	for i, rec := range records {
		app, err := c.buildApplication(m, rec)
		if err != nil {
			run.Counts.Skipped++
			run.Errors = appendRunError(run.Errors, model.RunError{
				Stage:   "normalize",
				Message: err.Error(),
				Record:  fmt.Sprintf("record[%d]", i),
			})
			continue
		}

		res, err := c.deps.Dedup.Resolve(ctx, app)
		if err != nil {
			run.Counts.Skipped++
			run.Errors = appendRunError(run.Errors, model.RunError{
				Stage:   "dedup",
				Message: err.Error(),
				Record:  app.IdentityKey(),
			})
			continue
		}
		switch res.Disposition {
		case model.DispositionNew:
			run.Counts.New++
		case model.DispositionUpdate:
			run.Counts.Updated++
		case model.DispositionDuplicate:
			run.Counts.Duplicate++
		}
		staged = append(staged, res.Application)
	}
	run.Counts.Normalized = len(staged)
	run.AvgScore = quality.Average(staged)

	if len(staged) > 0 {
		n, err := c.deps.Store.UpsertApplications(ctx, staged)
		if err != nil {
			run.Errors = appendRunError(run.Errors, model.RunError{Stage: "upsert", Message: err.Error()})
			c.finalize(ctx, run, model.RunStatusFailed)
			c.alert(ctx, monitoring.Alert{
				Type:       monitoring.AlertRunFailure,
				Severity:   "error",
				SourceCode: sourceCode,
				Message:    "bulk upsert failed: " + err.Error(),
				Details:    map[string]any{"run_id": run.ID, "staged": len(staged)},
			})
			return run, nil
		}
		run.Counts.Persisted = n
	}

	c.finalize(ctx, run, model.RunStatusSucceeded)
	c.checkBatchHealth(ctx, run)
	return run, nil
}

func (c *Coordinator) fetch(ctx context.Context, adapter registry.Adapter, tier proxy.Tier, mode model.RunMode, rng *model.DateRange) ([]model.RawRecord, error) {
	if c.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RunTimeout)
		defer cancel()
	}
	return resilience.DoVal(ctx, c.cfg.Retry, func(ctx context.Context) ([]model.RawRecord, error) {
		if mode == model.ModeHistorical {
			if rng == nil {
				return nil, eris.New("pipeline: historical run requires a date range")
			}
			return adapter.FetchHistorical(ctx, tier, *rng)
		}
		return adapter.FetchCurrent(ctx, tier)
	})
}

func (c *Coordinator) fieldMapping(ctx context.Context, sourceCode string, records []model.RawRecord) (*model.FieldMapping, error) {
	m, err := c.deps.Mappings.Get(ctx, sourceCode)
	if err == nil {
		return m, nil
	}
	if !eris.Is(err, mapping.ErrMappingMiss) {
		return nil, err
	}

	n := min(c.cfg.MappingSampleSize, len(records))
	return c.deps.Learner.Learn(ctx, sourceCode, records[:n], false)
}

// buildApplication maps, normalizes, classifies, and scores one raw record.
func (c *Coordinator) buildApplication(m *model.FieldMapping, rec model.RawRecord) (*model.Application, error) {
	fields := mapping.Apply(m, rec.Data)

	daNumber := normalize.DANumber(fields["da_number"])
	if daNumber == "" {
		return nil, eris.New("record has no application number")
	}

	now := c.nowFunc().UTC()
	app := &model.Application{
		SourceCode: rec.SourceCode,
		DANumber:   daNumber,
		SourceURL:  rec.SourceURL,
		ScrapedAt:  rec.FetchedAt,
		UpdatedAt:  now,
	}
	if app.ScrapedAt.IsZero() {
		app.ScrapedAt = now
	}

	addr := normalize.Address(fields["address"])
	app.Address = addr.FullAddress
	app.Suburb = firstNonEmpty(strings.TrimSpace(fields["suburb"]), addr.Suburb)
	app.Postcode = firstNonEmpty(normalize.Postcode(fields["postcode"]), addr.Postcode)
	app.State = firstNonEmpty(normalize.State(fields["state"]), addr.State)
	app.LotPlan = strings.TrimSpace(fields["lot_plan"])

	app.Description = normalize.Description(fields["description"])
	app.Status = normalize.Status(fields["status"])
	app.Decision = normalize.DecisionOf(fields["decision"])

	app.LodgedDate = normalize.Date(fields["lodged_date"])
	app.ExhibitionStart = normalize.Date(fields["exhibition_start"])
	app.ExhibitionEnd = normalize.Date(fields["exhibition_end"])
	app.DeterminedDate = normalize.Date(fields["determined_date"])

	app.EstimatedCost = normalize.Currency(fields["estimated_cost"])
	app.DwellingCount = normalize.Integer(fields["dwelling_count"], 1, 10000)
	app.LotCount = normalize.Integer(fields["lot_count"], 1, 10000)
	app.Storeys = normalize.Integer(fields["storeys"], 1, 200)
	app.FloorAreaSqm = normalize.Float(fields["floor_area_sqm"])
	app.CarSpaces = normalize.Integer(fields["car_spaces"], 0, 10000)

	app.ApplicantName = strings.TrimSpace(fields["applicant_name"])
	app.OwnerName = strings.TrimSpace(fields["owner_name"])

	app.Type = normalize.TypeOf(fields["application_type"])
	app.Category = model.CategoryOther
	if cls := normalize.Classify(app.Description); cls != nil {
		app.Category = cls.Category
		if app.Type == "" || app.Type == model.TypeOther {
			app.Type = cls.Type
		}
		if app.DwellingCount == nil {
			app.DwellingCount = cls.DwellingCount
		}
		if app.LotCount == nil {
			app.LotCount = cls.LotCount
		}
		if app.Storeys == nil {
			app.Storeys = cls.Storeys
		}
	}
	if app.Type == "" {
		app.Type = model.TypeDevelopmentApplication
	}

	app.QualityScore = quality.Score(app)
	return app, nil
}

func (c *Coordinator) checkBatchHealth(ctx context.Context, run *model.Run) {
	if c.deps.Quality == nil {
		return
	}
	history, err := c.deps.Store.ListRuns(ctx, store.RunFilter{
		SourceCode: run.SourceCode,
		Limit:      c.cfg.HistoryDepth,
	})
	if err != nil {
		zap.L().Warn("batch health baseline unavailable",
			zap.String("source", run.SourceCode), zap.Error(err))
		return
	}

	anomaly := c.deps.Quality.CheckBatchHealth(run, history)
	if anomaly == nil {
		return
	}
	zap.L().Warn("batch anomaly",
		zap.String("source", run.SourceCode),
		zap.String("run_id", run.ID),
		zap.String("kind", anomaly.Kind),
		zap.Float64("baseline", anomaly.Baseline),
		zap.Float64("observed", anomaly.Observed))

	// A score collapse usually means the portal markup moved under the
	// learned mapping. Force a relearn on the next run.
	if anomaly.Kind == quality.AnomalyScoreDrop || anomaly.Kind == quality.AnomalyLowScore {
		if err := c.deps.Mappings.Invalidate(ctx, run.SourceCode); err != nil {
			zap.L().Error("mapping invalidation failed",
				zap.String("source", run.SourceCode), zap.Error(err))
		}
	}

	c.alert(ctx, monitoring.Alert{
		Type:       monitoring.AlertBatchAnomaly,
		Severity:   "warning",
		SourceCode: run.SourceCode,
		Message:    anomaly.Message,
		Details: map[string]any{
			"run_id":   run.ID,
			"kind":     anomaly.Kind,
			"baseline": anomaly.Baseline,
			"observed": anomaly.Observed,
		},
	})
}

func (c *Coordinator) finalize(ctx context.Context, run *model.Run, status model.RunStatus) {
	run.Status = status
	done := c.nowFunc().UTC()
	run.CompletedAt = &done
	if err := c.deps.Store.UpdateRun(ctx, run); err != nil {
		zap.L().Error("run audit update failed",
			zap.String("run_id", run.ID), zap.Error(err))
	}
	zap.L().Info("run finished",
		zap.String("source", run.SourceCode),
		zap.String("run_id", run.ID),
		zap.String("status", string(status)),
		zap.Int("fetched", run.Counts.Fetched),
		zap.Int("persisted", run.Counts.Persisted),
		zap.Int("new", run.Counts.New),
		zap.Int("updated", run.Counts.Updated),
		zap.Int("duplicate", run.Counts.Duplicate),
		zap.Int("skipped", run.Counts.Skipped),
		zap.Float64("avg_score", run.AvgScore),
		zap.Duration("elapsed", done.Sub(run.StartedAt)))
}

func (c *Coordinator) alert(ctx context.Context, a monitoring.Alert) {
	if c.deps.Alerts == nil {
		return
	}
	c.deps.Alerts.Notify(ctx, a)
}

func appendRunError(errs []model.RunError, e model.RunError) []model.RunError {
	if len(errs) >= maxRunErrors {
		return errs
	}
	return append(errs, e)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
