// Package quality scores record completeness and consistency, and flags
// batches that deviate from a source's trailing baseline.
package quality

import (
	"github.com/oddlyrohit/councilscraper/internal/model"
)

// fieldWeight pairs a canonical field with its share of the completeness
// score. Identity and location fields dominate; detail fields trail.
type fieldWeight struct {
	name    string
	weight  float64
	present func(*model.Application) bool
}

var weights = []fieldWeight{
	{"da_number", 0.20, func(a *model.Application) bool { return a.DANumber != "" }},
	{"address", 0.20, func(a *model.Application) bool { return a.Address != "" }},
	{"description", 0.15, func(a *model.Application) bool { return a.Description != "" }},
	{"status", 0.10, func(a *model.Application) bool { return a.Status != "" && a.Status != model.StatusUnknown }},
	{"lodged_date", 0.10, func(a *model.Application) bool { return a.LodgedDate != nil }},
	{"category", 0.10, func(a *model.Application) bool { return a.Category != "" && a.Category != model.CategoryOther }},
	{"estimated_cost", 0.05, func(a *model.Application) bool { return a.EstimatedCost != nil }},
	{"suburb", 0.05, func(a *model.Application) bool { return a.Suburb != "" }},
	{"postcode", 0.05, func(a *model.Application) bool { return a.Postcode != "" }},
}

// consistencyPenalty is deducted once per internal contradiction.
const consistencyPenalty = 0.1

// Score computes a completeness and consistency score in [0, 1].
func Score(a *model.Application) float64 {
	score := 0.0
	for _, w := range weights {
		if w.present(a) {
			score += w.weight
		}
	}

	for _, bad := range []bool{
		a.ExhibitionStart != nil && a.ExhibitionEnd != nil && a.ExhibitionEnd.Before(*a.ExhibitionStart),
		a.LodgedDate != nil && a.DeterminedDate != nil && a.DeterminedDate.Before(*a.LodgedDate),
		a.EstimatedCost != nil && *a.EstimatedCost < 0,
		a.DwellingCount != nil && *a.DwellingCount < 0,
		a.LotCount != nil && *a.LotCount < 0,
		a.Storeys != nil && *a.Storeys < 0,
	} {
		if bad {
			score -= consistencyPenalty
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Average returns the mean quality score of a batch, zero for an empty one.
func Average(apps []*model.Application) float64 {
	if len(apps) == 0 {
		return 0
	}
	total := 0.0
	for _, a := range apps {
		total += a.QualityScore
	}
	return total / float64(len(apps))
}
