package model

import "time"

// RawRecord is an unprocessed record exactly as an adapter emitted it:
// source-native field names mapped to values, plus provenance.
type RawRecord struct {
	SourceCode string         `json:"source_code"`
	RunID      string         `json:"run_id,omitempty"`
	Data       map[string]any `json:"data"`
	SourceURL  string         `json:"source_url,omitempty"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

// Disposition records how the dedup engine classified a record.
type Disposition string

const (
	DispositionNew       Disposition = "new"
	DispositionUpdate    Disposition = "update"
	DispositionDuplicate Disposition = "duplicate"
)

// Application is the canonical normalized planning-application record.
// Identity is (SourceCode, DANumber).
type Application struct {
	ID         string `json:"id"`
	SourceCode string `json:"source_code"`
	DANumber   string `json:"da_number"`

	// Property.
	Address  string `json:"address,omitempty"`
	Suburb   string `json:"suburb,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	State    string `json:"state,omitempty"`
	LotPlan  string `json:"lot_plan,omitempty"`

	// Classification.
	Type        ApplicationType   `json:"application_type"`
	Category    Category          `json:"category"`
	Status      ApplicationStatus `json:"status"`
	Decision    Decision          `json:"decision,omitempty"`
	Description string            `json:"description,omitempty"`

	// Lifecycle dates.
	LodgedDate      *time.Time `json:"lodged_date,omitempty"`
	ExhibitionStart *time.Time `json:"exhibition_start,omitempty"`
	ExhibitionEnd   *time.Time `json:"exhibition_end,omitempty"`
	DeterminedDate  *time.Time `json:"determined_date,omitempty"`

	// Development details.
	EstimatedCost *float64 `json:"estimated_cost,omitempty"`
	DwellingCount *int     `json:"dwelling_count,omitempty"`
	LotCount      *int     `json:"lot_count,omitempty"`
	Storeys       *int     `json:"storeys,omitempty"`
	FloorAreaSqm  *float64 `json:"floor_area_sqm,omitempty"`
	CarSpaces     *int     `json:"car_spaces,omitempty"`

	// Parties.
	ApplicantName string `json:"applicant_name,omitempty"`
	OwnerName     string `json:"owner_name,omitempty"`

	// Provenance and derived quality.
	SourceURL    string      `json:"source_url,omitempty"`
	ScrapedAt    time.Time   `json:"scraped_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	QualityScore float64     `json:"quality_score"`
	Disposition  Disposition `json:"disposition,omitempty"`
	FuzzyKey     string      `json:"fuzzy_key,omitempty"`
}

// IdentityKey returns the canonical identity key for dedup lookups.
func (a *Application) IdentityKey() string {
	return a.SourceCode + "|" + a.DANumber
}
