package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

type memStore struct {
	byIdentity map[string]*model.Application
	byFuzzy    map[string]*model.Application
}

func newMemStore() *memStore {
	return &memStore{
		byIdentity: make(map[string]*model.Application),
		byFuzzy:    make(map[string]*model.Application),
	}
}

func (s *memStore) put(a *model.Application) {
	s.byIdentity[a.IdentityKey()] = a
	if a.FuzzyKey != "" {
		s.byFuzzy[a.SourceCode+"|"+a.FuzzyKey] = a
	}
}

func (s *memStore) ApplicationByIdentity(_ context.Context, source, daNumber string) (*model.Application, error) {
	return s.byIdentity[source+"|"+daNumber], nil
}

func (s *memStore) ApplicationByFuzzyKey(_ context.Context, source, key string, since time.Time) (*model.Application, error) {
	a := s.byFuzzy[source+"|"+key]
	if a == nil || a.ScrapedAt.Before(since) {
		return nil, nil
	}
	return a, nil
}

func app(daNumber string) *model.Application {
	return &model.Application{
		SourceCode:  "alpha",
		DANumber:    daNumber,
		Address:     "12 Smith Street, Parramatta NSW 2150",
		Description: "New dwelling house",
		Status:      model.StatusLodged,
		ScrapedAt:   time.Now().UTC(),
	}
}

func TestResolveNew(t *testing.T) {
	engine := New(newMemStore(), 180)

	res, err := engine.Resolve(context.Background(), app("2024/1"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != model.DispositionNew {
		t.Errorf("disposition = %s, want new", res.Disposition)
	}
	if res.Application.FuzzyKey == "" {
		t.Error("fuzzy key not computed")
	}
}

func TestResolveUpdateMergesFields(t *testing.T) {
	store := newMemStore()
	engine := New(store, 180)

	existing := app("2024/1")
	existing.Suburb = "Parramatta"
	cost := 450000.0
	existing.EstimatedCost = &cost
	existing.FuzzyKey = FuzzyKey(existing)
	store.put(existing)

	incoming := app("2024/1")
	incoming.Status = model.StatusApproved
	incoming.Suburb = "" // sparse re-scrape
	incoming.ApplicantName = "J Smith"

	res, err := engine.Resolve(context.Background(), incoming)
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != model.DispositionUpdate {
		t.Fatalf("disposition = %s, want update", res.Disposition)
	}
	merged := res.Application
	if merged.Status != model.StatusApproved {
		t.Errorf("status = %s, lifecycle field should take newest value", merged.Status)
	}
	if merged.Suburb != "Parramatta" {
		t.Errorf("suburb = %q, empty incoming must not erase stored value", merged.Suburb)
	}
	if merged.EstimatedCost == nil || *merged.EstimatedCost != 450000 {
		t.Error("estimated cost lost in merge")
	}
	if merged.ApplicantName != "J Smith" {
		t.Errorf("applicant = %q, gap should be filled", merged.ApplicantName)
	}
}

func TestResolveDuplicateByFuzzyKey(t *testing.T) {
	store := newMemStore()
	engine := New(store, 180)

	existing := app("DA-2024/1")
	existing.FuzzyKey = FuzzyKey(existing)
	store.put(existing)

	// Same property and works under a reformatted native number.
	incoming := app("2024-0001")
	res, err := engine.Resolve(context.Background(), incoming)
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != model.DispositionDuplicate {
		t.Fatalf("disposition = %s, want duplicate", res.Disposition)
	}
	if res.MatchedDANumber != "DA-2024/1" {
		t.Errorf("matched = %q", res.MatchedDANumber)
	}
	if res.Application.DANumber != "DA-2024/1" {
		t.Errorf("persisted identity = %q, must keep stored number", res.Application.DANumber)
	}
}

func TestResolveFuzzyWindowExpired(t *testing.T) {
	store := newMemStore()
	engine := New(store, 180)
	engine.nowFunc = func() time.Time { return time.Now().Add(200 * 24 * time.Hour) }

	existing := app("DA-2024/1")
	existing.FuzzyKey = FuzzyKey(existing)
	store.put(existing)

	res, err := engine.Resolve(context.Background(), app("2024-0001"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != model.DispositionNew {
		t.Errorf("disposition = %s, stale fuzzy match must not bind", res.Disposition)
	}
}

func TestResolveMissingIdentity(t *testing.T) {
	engine := New(newMemStore(), 180)
	if _, err := engine.Resolve(context.Background(), &model.Application{SourceCode: "alpha"}); err == nil {
		t.Error("expected error for record without native number")
	}
}

func TestReplayIdempotence(t *testing.T) {
	store := newMemStore()
	engine := New(store, 180)
	ctx := context.Background()

	first, err := engine.Resolve(ctx, app("2024/1"))
	if err != nil {
		t.Fatal(err)
	}
	store.put(first.Application)

	second, err := engine.Resolve(ctx, app("2024/1"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Disposition != model.DispositionUpdate {
		t.Fatalf("replay disposition = %s, want update", second.Disposition)
	}
	store.put(second.Application)

	if len(store.byIdentity) != 1 {
		t.Errorf("persisted records = %d, want 1", len(store.byIdentity))
	}
	got := store.byIdentity["alpha|2024/1"]
	if got.Status != model.StatusLodged || got.Address != first.Application.Address {
		t.Error("replay changed persisted state")
	}
}

func TestFuzzyKeyStability(t *testing.T) {
	a := &model.Application{
		Address:     "12 Smith Street, Parramatta NSW 2150",
		Description: "New dwelling house",
	}
	b := &model.Application{
		Address:     "12  smith street Parramatta NSW 2150",
		Description: " new  dwelling house ",
	}
	if FuzzyKey(a) != FuzzyKey(b) {
		t.Errorf("fuzzy keys differ: %q vs %q", FuzzyKey(a), FuzzyKey(b))
	}

	c := &model.Application{Description: "New dwelling house"}
	if FuzzyKey(c) != "" {
		t.Errorf("record without address produced key %q", FuzzyKey(c))
	}
}
