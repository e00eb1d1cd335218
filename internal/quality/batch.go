package quality

import (
	"fmt"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

// Anomaly describes one way a run deviated from its source's baseline.
type Anomaly struct {
	SourceCode string
	RunID      string
	Kind       string
	Message    string
	Baseline   float64
	Observed   float64
}

const (
	AnomalyRecordCount = "record_count_deviation"
	AnomalyScoreDrop   = "score_deviation"
	AnomalyLowScore    = "low_average_score"
)

// Checker compares a run against the source's trailing history. A deviation
// beyond the configured fraction signals a likely portal or markup change
// rather than ordinary data drift.
type Checker struct {
	deviation    float64
	baselineRuns int
	lowScoreFlag float64
}

// NewChecker creates a Checker. deviation is the tolerated fractional drift
// from baseline, baselineRuns how many recent succeeded runs form the
// baseline, lowScoreFlag an absolute floor that flags regardless of history.
func NewChecker(deviation float64, baselineRuns int, lowScoreFlag float64) *Checker {
	return &Checker{deviation: deviation, baselineRuns: baselineRuns, lowScoreFlag: lowScoreFlag}
}

// CheckBatchHealth inspects a terminal run against prior succeeded runs for
// the same source, newest first. Returns nil when the batch looks healthy.
// With fewer prior runs than the baseline requires, only the absolute
// low-score floor applies.
func (c *Checker) CheckBatchHealth(run *model.Run, history []model.Run) *Anomaly {
	if run.Counts.Persisted > 0 && run.AvgScore < c.lowScoreFlag {
		return &Anomaly{
			SourceCode: run.SourceCode,
			RunID:      run.ID,
			Kind:       AnomalyLowScore,
			Message:    fmt.Sprintf("average quality score %.2f below floor %.2f", run.AvgScore, c.lowScoreFlag),
			Baseline:   c.lowScoreFlag,
			Observed:   run.AvgScore,
		}
	}

	baseline := c.baseline(run, history)
	if baseline == nil {
		return nil
	}

	if baseline.count > 0 {
		observed := float64(run.Counts.Fetched)
		if drift(baseline.count, observed) > c.deviation {
			return &Anomaly{
				SourceCode: run.SourceCode,
				RunID:      run.ID,
				Kind:       AnomalyRecordCount,
				Message: fmt.Sprintf("fetched %0.f records against a baseline of %.1f",
					observed, baseline.count),
				Baseline: baseline.count,
				Observed: observed,
			}
		}
	}

	if baseline.score > 0 && run.Counts.Persisted > 0 {
		if drift(baseline.score, run.AvgScore) > c.deviation {
			return &Anomaly{
				SourceCode: run.SourceCode,
				RunID:      run.ID,
				Kind:       AnomalyScoreDrop,
				Message: fmt.Sprintf("average score %.2f against a baseline of %.2f",
					run.AvgScore, baseline.score),
				Baseline: baseline.score,
				Observed: run.AvgScore,
			}
		}
	}
	return nil
}

type baselineStats struct {
	count float64
	score float64
}

func (c *Checker) baseline(run *model.Run, history []model.Run) *baselineStats {
	var counts, scores []float64
	for _, h := range history {
		if h.ID == run.ID || h.Status != model.RunStatusSucceeded {
			continue
		}
		counts = append(counts, float64(h.Counts.Fetched))
		if h.Counts.Persisted > 0 {
			scores = append(scores, h.AvgScore)
		}
		if len(counts) == c.baselineRuns {
			break
		}
	}
	if len(counts) < c.baselineRuns {
		return nil
	}
	return &baselineStats{count: mean(counts), score: mean(scores)}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total / float64(len(xs))
}

// drift is the absolute fractional deviation of observed from baseline.
func drift(baseline, observed float64) float64 {
	if baseline == 0 {
		return 0
	}
	d := (observed - baseline) / baseline
	if d < 0 {
		d = -d
	}
	return d
}
