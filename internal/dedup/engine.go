// Package dedup classifies incoming normalized records against the persisted
// store as new, update, or duplicate, and resolves the identity to persist
// under.
package dedup

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

// Store is the subset of persistence the engine needs for lookups.
// Both lookups return nil without error when nothing matches.
type Store interface {
	ApplicationByIdentity(ctx context.Context, sourceCode, daNumber string) (*model.Application, error)
	ApplicationByFuzzyKey(ctx context.Context, sourceCode, fuzzyKey string, since time.Time) (*model.Application, error)
}

// Result is the engine's verdict on one incoming record.
type Result struct {
	Disposition model.Disposition
	// Application is the record to persist: the incoming record for new,
	// the merged record for update, the matched record for duplicate.
	Application *model.Application
	// MatchedDANumber is set for duplicates: the native number of the
	// stored record the incoming one collapsed into.
	MatchedDANumber string
}

// Engine resolves record identity. Safe for concurrent use; all state lives
// in the store.
type Engine struct {
	store       Store
	fuzzyWindow time.Duration
	nowFunc     func() time.Time
}

// New creates an Engine. fuzzyWindowDays bounds how far back fuzzy matching
// reaches; zero or negative disables fuzzy matching entirely.
func New(store Store, fuzzyWindowDays int) *Engine {
	return &Engine{
		store:       store,
		fuzzyWindow: time.Duration(fuzzyWindowDays) * 24 * time.Hour,
		nowFunc:     time.Now,
	}
}

// Resolve classifies the incoming record. The incoming record's FuzzyKey is
// computed here; callers should not set it.
func (e *Engine) Resolve(ctx context.Context, incoming *model.Application) (*Result, error) {
	if incoming.SourceCode == "" || incoming.DANumber == "" {
		return nil, eris.New("dedup: record missing identity key")
	}
	incoming.FuzzyKey = FuzzyKey(incoming)

	existing, err := e.store.ApplicationByIdentity(ctx, incoming.SourceCode, incoming.DANumber)
	if err != nil {
		return nil, eris.Wrapf(err, "dedup: identity lookup %s", incoming.IdentityKey())
	}
	if existing != nil {
		merged := Merge(existing, incoming)
		merged.Disposition = model.DispositionUpdate
		return &Result{Disposition: model.DispositionUpdate, Application: merged}, nil
	}

	if e.fuzzyWindow > 0 && incoming.FuzzyKey != "" {
		since := e.nowFunc().Add(-e.fuzzyWindow)
		match, err := e.store.ApplicationByFuzzyKey(ctx, incoming.SourceCode, incoming.FuzzyKey, since)
		if err != nil {
			return nil, eris.Wrapf(err, "dedup: fuzzy lookup %s", incoming.IdentityKey())
		}
		if match != nil {
			// Same application under a reformatted native number. Keep
			// the stored identity and fold the new values in.
			merged := Merge(match, incoming)
			merged.DANumber = match.DANumber
			merged.Disposition = model.DispositionDuplicate
			return &Result{
				Disposition:     model.DispositionDuplicate,
				Application:     merged,
				MatchedDANumber: match.DANumber,
			}, nil
		}
	}

	incoming.Disposition = model.DispositionNew
	return &Result{Disposition: model.DispositionNew, Application: incoming}, nil
}

var fuzzyStrip = regexp.MustCompile(`[^a-z0-9 ]`)

// FuzzyKey derives the secondary match key: the normalized address joined
// with a short fingerprint of the description. Records without an address
// get no fuzzy key; an empty key never matches.
func FuzzyKey(a *model.Application) string {
	addr := strings.ToLower(strings.TrimSpace(a.Address))
	addr = fuzzyStrip.ReplaceAllString(addr, "")
	addr = strings.Join(strings.Fields(addr), " ")
	if addr == "" {
		return ""
	}

	desc := strings.ToLower(strings.TrimSpace(a.Description))
	desc = strings.Join(strings.Fields(desc), " ")
	h := fnv.New64a()
	h.Write([]byte(desc))
	return addr + "|" + fmt.Sprintf("%016x", h.Sum64())[:12]
}

// Merge folds an incoming record into the stored one. Fields that carry
// current lifecycle state (status, decision, dates, quality score) always
// take the incoming value when it is present; everything else only fills
// gaps, so a sparse re-scrape never erases known data.
func Merge(existing, incoming *model.Application) *model.Application {
	out := *existing

	// Lifecycle state: newest non-null wins.
	if incoming.Status != "" && incoming.Status != model.StatusUnknown {
		out.Status = incoming.Status
	}
	if incoming.Decision != "" {
		out.Decision = incoming.Decision
	}
	if incoming.LodgedDate != nil {
		out.LodgedDate = incoming.LodgedDate
	}
	if incoming.ExhibitionStart != nil {
		out.ExhibitionStart = incoming.ExhibitionStart
	}
	if incoming.ExhibitionEnd != nil {
		out.ExhibitionEnd = incoming.ExhibitionEnd
	}
	if incoming.DeterminedDate != nil {
		out.DeterminedDate = incoming.DeterminedDate
	}
	if incoming.QualityScore > 0 {
		out.QualityScore = incoming.QualityScore
	}

	// Everything else: fill nulls only.
	fillString(&out.Address, incoming.Address)
	fillString(&out.Suburb, incoming.Suburb)
	fillString(&out.Postcode, incoming.Postcode)
	fillString(&out.State, incoming.State)
	fillString(&out.LotPlan, incoming.LotPlan)
	fillString(&out.Description, incoming.Description)
	fillString(&out.ApplicantName, incoming.ApplicantName)
	fillString(&out.OwnerName, incoming.OwnerName)
	fillString(&out.SourceURL, incoming.SourceURL)
	if out.Type == "" || out.Type == model.TypeOther {
		if incoming.Type != "" {
			out.Type = incoming.Type
		}
	}
	if out.Category == "" || out.Category == model.CategoryOther {
		if incoming.Category != "" {
			out.Category = incoming.Category
		}
	}
	if out.EstimatedCost == nil {
		out.EstimatedCost = incoming.EstimatedCost
	}
	if out.DwellingCount == nil {
		out.DwellingCount = incoming.DwellingCount
	}
	if out.LotCount == nil {
		out.LotCount = incoming.LotCount
	}
	if out.Storeys == nil {
		out.Storeys = incoming.Storeys
	}
	if out.FloorAreaSqm == nil {
		out.FloorAreaSqm = incoming.FloorAreaSqm
	}
	if out.CarSpaces == nil {
		out.CarSpaces = incoming.CarSpaces
	}

	if out.FuzzyKey == "" {
		out.FuzzyKey = incoming.FuzzyKey
	}
	out.ScrapedAt = incoming.ScrapedAt
	out.UpdatedAt = incoming.UpdatedAt
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = incoming.ScrapedAt
	}
	return &out
}

func fillString(dst *string, src string) {
	if *dst == "" && src != "" {
		*dst = src
	}
}
