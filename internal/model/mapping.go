package model

import (
	"strings"
	"time"
)

// CanonicalFields lists the master-schema fields a mapping may populate,
// in the order they are presented to the inference service.
var CanonicalFields = []string{
	"da_number",
	"address",
	"suburb",
	"postcode",
	"state",
	"lot_plan",
	"application_type",
	"description",
	"status",
	"decision",
	"lodged_date",
	"exhibition_start",
	"exhibition_end",
	"determined_date",
	"estimated_cost",
	"dwelling_count",
	"lot_count",
	"storeys",
	"floor_area_sqm",
	"car_spaces",
	"applicant_name",
	"owner_name",
}

// FieldMapping is the learned correspondence from one source's native field
// names to the canonical schema. A value is empty (unmapped), a single
// source field, or a compound "a+b" expression whose components are joined
// with a single space. StatusValues translates raw status strings; values
// absent from the table pass through unchanged.
type FieldMapping struct {
	SourceCode   string            `json:"source_code"`
	Fields       map[string]string `json:"fields"`
	StatusValues map[string]string `json:"status_values,omitempty"`
	LearnedAt    time.Time         `json:"learned_at"`
	SampleCount  int               `json:"sample_count"`
	Confidence   float64           `json:"confidence"`
}

// Compound splits a compound field expression into its ordered components.
// A plain field name yields a single component.
func Compound(expr string) []string {
	parts := strings.Split(expr, "+")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MappedFieldCount returns how many canonical fields the mapping binds.
func (m *FieldMapping) MappedFieldCount() int {
	n := 0
	for _, expr := range m.Fields {
		if expr != "" {
			n++
		}
	}
	return n
}
