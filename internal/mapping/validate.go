package mapping

import (
	"github.com/oddlyrohit/councilscraper/internal/model"
)

// essentialFields must be mapped for a source to be worth scraping at all.
var essentialFields = []string{"da_number", "address", "description"}

// optionalFields contribute to coverage but are not required.
var optionalFields = []string{
	"suburb", "postcode", "status", "lodged_date", "estimated_cost",
}

// FieldCoverage counts how often one field was mapped and actually carried
// data across the validation records.
type FieldCoverage struct {
	Mapped  int `json:"mapped"`
	HasData int `json:"has_data"`
}

// ValidationReport summarizes how well a learned mapping performs against
// real records.
type ValidationReport struct {
	SourceCode     string                   `json:"source_code"`
	RecordsTested  int                      `json:"records_tested"`
	FieldsMapped   int                      `json:"fields_mapped"`
	FieldsWithData int                      `json:"fields_with_data"`
	CoverageScore  float64                  `json:"coverage_score"`
	DataScore      float64                  `json:"data_score"`
	Coverage       map[string]FieldCoverage `json:"field_coverage"`
}

// Valid reports whether the mapping binds every essential field.
func (r *ValidationReport) Valid() bool {
	for _, f := range essentialFields {
		if r.Coverage[f].Mapped == 0 {
			return false
		}
	}
	return true
}

// Validate applies a mapping to test records and measures field coverage and
// data yield. Use it after learning to decide whether the mapping is usable.
func Validate(m *model.FieldMapping, records []model.RawRecord) *ValidationReport {
	report := &ValidationReport{
		SourceCode:    m.SourceCode,
		RecordsTested: len(records),
		Coverage:      make(map[string]FieldCoverage),
	}

	watched := append(append([]string{}, essentialFields...), optionalFields...)
	for _, f := range watched {
		report.Coverage[f] = FieldCoverage{}
	}

	for _, rec := range records {
		applied := Apply(m, rec.Data)
		for _, f := range watched {
			cov := report.Coverage[f]
			if m.Fields[f] != "" {
				cov.Mapped++
				if applied[f] != "" {
					cov.HasData++
				}
			}
			report.Coverage[f] = cov
		}
	}

	for _, f := range watched {
		if m.Fields[f] != "" {
			report.FieldsMapped++
		}
		report.FieldsWithData += report.Coverage[f].HasData
	}
	report.CoverageScore = float64(report.FieldsMapped) / float64(len(watched))
	if report.FieldsMapped > 0 && len(records) > 0 {
		report.DataScore = float64(report.FieldsWithData) / float64(len(records)*report.FieldsMapped)
	}
	return report
}
