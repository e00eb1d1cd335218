package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/oddlyrohit/councilscraper/internal/model"
	"github.com/oddlyrohit/councilscraper/internal/store"
)

// MetricsSnapshot holds a point-in-time view of scrape health.
type MetricsSnapshot struct {
	RunsTotal     int     `json:"runs_total"`
	RunsSucceeded int     `json:"runs_succeeded"`
	RunsFailed    int     `json:"runs_failed"`
	RunsSkipped   int     `json:"runs_skipped"`
	RunsActive    int     `json:"runs_active"`
	FailRate      float64 `json:"fail_rate"`

	RecordsFetched   int     `json:"records_fetched"`
	RecordsPersisted int     `json:"records_persisted"`
	RecordsSkipped   int     `json:"records_skipped"`
	AvgQualityScore  float64 `json:"avg_quality_score"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers run metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect summarizes runs started within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	scoreTotal := 0.0
	scored := 0
	for _, run := range runs {
		if run.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch run.Status {
		case model.RunStatusSucceeded:
			snap.RunsSucceeded++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusSkipped:
			snap.RunsSkipped++
		default:
			snap.RunsActive++
		}
		snap.RecordsFetched += run.Counts.Fetched
		snap.RecordsPersisted += run.Counts.Persisted
		snap.RecordsSkipped += run.Counts.Skipped
		if run.Counts.Persisted > 0 {
			scoreTotal += run.AvgScore
			scored++
		}
	}

	if finished := snap.RunsSucceeded + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if scored > 0 {
		snap.AvgQualityScore = scoreTotal / float64(scored)
	}
	return snap, nil
}
