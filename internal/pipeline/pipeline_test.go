package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlyrohit/councilscraper/internal/dedup"
	"github.com/oddlyrohit/councilscraper/internal/mapping"
	"github.com/oddlyrohit/councilscraper/internal/model"
	"github.com/oddlyrohit/councilscraper/internal/monitoring"
	"github.com/oddlyrohit/councilscraper/internal/proxy"
	"github.com/oddlyrohit/councilscraper/internal/quality"
	"github.com/oddlyrohit/councilscraper/internal/rawstore"
	"github.com/oddlyrohit/councilscraper/internal/registry"
	"github.com/oddlyrohit/councilscraper/internal/resilience"
	"github.com/oddlyrohit/councilscraper/internal/store"
	"github.com/oddlyrohit/councilscraper/pkg/inference"
)

const alphaMapping = `{
  "da_number": "appNo",
  "address": "siteAddress",
  "description": "proposal",
  "status": "status",
  "lodged_date": "lodged",
  "estimated_cost": "cost",
  "status_values": {"Under Review": "under_assessment"}
}`

type stubAdapter struct {
	mu        sync.Mutex
	records   []model.RawRecord
	fetchErr  error
	healthy   bool
	healthErr error
	fetches   int
}

func (a *stubAdapter) FetchCurrent(ctx context.Context, tier proxy.Tier) ([]model.RawRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	out := make([]model.RawRecord, len(a.records))
	copy(out, a.records)
	return out, nil
}

func (a *stubAdapter) FetchHistorical(ctx context.Context, tier proxy.Tier, rng model.DateRange) ([]model.RawRecord, error) {
	return a.FetchCurrent(ctx, tier)
}

func (a *stubAdapter) CheckHealth(ctx context.Context) (model.HealthStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.healthErr != nil {
		return model.HealthStatus{}, a.healthErr
	}
	if !a.healthy {
		return model.HealthStatus{OK: false, Message: "portal down"}, nil
	}
	return model.HealthStatus{OK: true}, nil
}

type fakeInference struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeInference) CreateMessage(ctx context.Context, req inference.MessageRequest) (*inference.MessageResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &inference.MessageResponse{Text: f.text}, nil
}

func (f *fakeInference) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type captureNotifier struct {
	mu     sync.Mutex
	alerts []monitoring.Alert
}

func (c *captureNotifier) Notify(ctx context.Context, a monitoring.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

func (c *captureNotifier) byType(t monitoring.AlertType) []monitoring.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []monitoring.Alert
	for _, a := range c.alerts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

type harness struct {
	st      store.Store
	coord   *Coordinator
	adapter *stubAdapter
	llm     *fakeInference
	proxies *proxy.Manager
	alerts  *captureNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	adapter := &stubAdapter{healthy: true}
	reg := registry.New()
	reg.Register(model.Source{Code: "alpha", Name: "Alpha Council", Tier: 1, PortalURL: "https://alpha.example.com"}, adapter)

	llm := &fakeInference{text: alphaMapping}
	cache := mapping.NewCache(st)
	proxies := proxy.NewManager(proxy.DefaultConfig())
	alerts := &captureNotifier{}

	coord := New(Deps{
		Store:    st,
		Registry: reg,
		Proxies:  proxies,
		Mappings: cache,
		Learner:  mapping.NewLearner(llm, cache, "claude-sonnet-4-5-20250929", 2000),
		Dedup:    dedup.New(st, 180),
		Quality:  quality.NewChecker(0.5, 5, 0.3),
		Archive:  rawstore.New(t.TempDir()),
		Alerts:   alerts,
	}, Config{
		Retry:             resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond},
		RunTimeout:        5 * time.Second,
		MappingSampleSize: 3,
	})

	return &harness{st: st, coord: coord, adapter: adapter, llm: llm, proxies: proxies, alerts: alerts}
}

func rawAlpha(appNo, addr, desc, status string) model.RawRecord {
	return model.RawRecord{
		SourceCode: "alpha",
		Data: map[string]any{
			"appNo":       appNo,
			"siteAddress": addr,
			"proposal":    desc,
			"status":      status,
			"lodged":      "01/02/2024",
			"cost":        "$450,000",
		},
		FetchedAt: time.Now().UTC(),
	}
}

func TestExecuteEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.adapter.records = []model.RawRecord{
		rawAlpha("DA-2024/0101", "12 Smith Street, Parramatta NSW 2150", "Construction of a new dwelling house", "Lodged"),
		rawAlpha("DA-2024/0102", "3 Hill Road, Epping NSW 2121", "Demolition of existing structures", "Lodged"),
		rawAlpha("DA-2024/0103", "77 Bay Street, Botany NSW 2019", "Alterations and additions to dwelling", "Under Review"),
	}

	run1, err := h.coord.Execute(ctx, "alpha", model.ModeCurrent, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, run1.Status)
	assert.Equal(t, 3, run1.Counts.Fetched)
	assert.Equal(t, 3, run1.Counts.New)
	assert.Equal(t, 3, run1.Counts.Persisted)
	assert.Zero(t, run1.Counts.Skipped)
	assert.NotEmpty(t, run1.BatchID)
	assert.NotNil(t, run1.CompletedAt)
	assert.Greater(t, run1.AvgScore, 0.0)
	assert.Equal(t, 1, h.llm.callCount(), "mapping learned once on first contact")

	n, err := h.st.CountApplications(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Status table translated "Under Review" for the third record.
	stored, err := h.st.ApplicationByIdentity(ctx, "alpha", "2024/0103")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.StatusUnderAssessment, stored.Status)

	// Second sweep: one known application progressed, one new arrived.
	h.adapter.records = []model.RawRecord{
		rawAlpha("DA-2024/0102", "3 Hill Road, Epping NSW 2121", "Demolition of existing structures", "Approved"),
		rawAlpha("DA-2024/0104", "9 Park Avenue, Gosford NSW 2250", "Two storey dwelling and swimming pool", "Lodged"),
	}

	run2, err := h.coord.Execute(ctx, "alpha", model.ModeCurrent, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, run2.Status)
	assert.Equal(t, 2, run2.Counts.Fetched)
	assert.Equal(t, 1, run2.Counts.Updated)
	assert.Equal(t, 1, run2.Counts.New)
	assert.Equal(t, 2, run2.Counts.Persisted)
	assert.Equal(t, 1, h.llm.callCount(), "cached mapping reused")

	n, err = h.st.CountApplications(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	updated, err := h.st.ApplicationByIdentity(ctx, "alpha", "2024/0102")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, model.StatusApproved, updated.Status)

	// Third sweep: the first application resurfaces under a reformatted
	// number. Fuzzy matching folds it into the stored row.
	h.adapter.records = []model.RawRecord{
		rawAlpha("24/0101", "12 Smith Street, Parramatta NSW 2150", "Construction of a new dwelling house", "Lodged"),
	}

	run3, err := h.coord.Execute(ctx, "alpha", model.ModeCurrent, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, run3.Status)
	assert.Equal(t, 1, run3.Counts.Duplicate)
	assert.Zero(t, run3.Counts.New)

	n, err = h.st.CountApplications(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 4, n, "duplicate created no new row")

	assert.Equal(t, proxy.TierBase, h.proxies.CurrentTier("alpha"))
	assert.Empty(t, h.alerts.byType(monitoring.AlertRunFailure))
}

func TestExecuteUnhealthyPortalSkips(t *testing.T) {
	h := newHarness(t)
	h.adapter.healthy = false

	run, err := h.coord.Execute(context.Background(), "alpha", model.ModeCurrent, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSkipped, run.Status)
	assert.Zero(t, run.Counts.Fetched)
	assert.Zero(t, h.adapter.fetches)

	// A portal outage is not a block; proxy state must be untouched.
	snap := h.proxies.Snapshot()["alpha"]
	assert.Equal(t, proxy.TierBase, snap.Tier)
	assert.Zero(t, snap.ConsecutiveFailures)
}

func TestExecuteTransientFetchFailuresEscalate(t *testing.T) {
	h := newHarness(t)
	h.adapter.fetchErr = resilience.NewTransientError(eris.New("connection reset by peer"), 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run, err := h.coord.Execute(ctx, "alpha", model.ModeCurrent, nil)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, run.Status)
		require.NotEmpty(t, run.Errors)
		assert.Equal(t, "fetch", run.Errors[0].Stage)
	}

	assert.Equal(t, proxy.TierElevated, h.proxies.CurrentTier("alpha"),
		"three failed runs escalate one tier")
	assert.Len(t, h.alerts.byType(monitoring.AlertRunFailure), 3)

	// Retries happened inside each run but only one outcome per run counted.
	assert.Equal(t, 6, h.adapter.fetches)
}

func TestExecuteContentFailureNeverEscalates(t *testing.T) {
	h := newHarness(t)
	h.adapter.fetchErr = eris.New("unexpected payload shape")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		run, err := h.coord.Execute(ctx, "alpha", model.ModeCurrent, nil)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, run.Status)
	}
	assert.Equal(t, proxy.TierBase, h.proxies.CurrentTier("alpha"))
}

func TestExecuteBadRecordsSkippedNotFatal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	broken := rawAlpha("", "1 Nowhere Lane, Sydney NSW 2000", "Missing its number", "Lodged")
	h.adapter.records = []model.RawRecord{
		rawAlpha("DA-2024/0201", "5 King Street, Newtown NSW 2042", "New shop fitout", "Lodged"),
		broken,
		rawAlpha("DA-2024/0202", "8 Queen Street, Ashfield NSW 2131", "Garage and carport", "Lodged"),
	}

	run, err := h.coord.Execute(ctx, "alpha", model.ModeCurrent, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSucceeded, run.Status)
	assert.Equal(t, 3, run.Counts.Fetched)
	assert.Equal(t, 2, run.Counts.Persisted)
	assert.Equal(t, 1, run.Counts.Skipped)

	require.NotEmpty(t, run.Errors)
	assert.Equal(t, "normalize", run.Errors[0].Stage)
}

func TestExecuteLearnFailureSkipsBatch(t *testing.T) {
	h := newHarness(t)
	h.llm.err = eris.New("model overloaded")
	h.adapter.records = []model.RawRecord{
		rawAlpha("DA-2024/0301", "2 West Street, Penrith NSW 2750", "Dwelling", "Lodged"),
		rawAlpha("DA-2024/0302", "4 West Street, Penrith NSW 2750", "Garage", "Lodged"),
	}

	run, err := h.coord.Execute(context.Background(), "alpha", model.ModeCurrent, nil)
	require.NoError(t, err)

	// An unlearnable mapping is not a failed scrape. The batch lands in the
	// raw archive and every record is skipped.
	assert.Equal(t, model.RunStatusSucceeded, run.Status)
	assert.Equal(t, 2, run.Counts.Fetched)
	assert.Equal(t, 2, run.Counts.Skipped)
	assert.Zero(t, run.Counts.Persisted)
	assert.NotEmpty(t, run.BatchID)
	require.NotEmpty(t, run.Errors)
	assert.Equal(t, "mapping", run.Errors[0].Stage)
	assert.Len(t, h.alerts.byType(monitoring.AlertMappingFailure), 1)
	assert.Empty(t, h.alerts.byType(monitoring.AlertRunFailure))

	n, err := h.st.CountApplications(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExecuteUnknownSource(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.Execute(context.Background(), "nowhere", model.ModeCurrent, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, registry.ErrUnknownSource))
}

func TestExecuteRecordsRunAudit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.adapter.records = []model.RawRecord{
		rawAlpha("DA-2024/0401", "4 East Street, Dubbo NSW 2830", "Shed", "Lodged"),
	}

	run, err := h.coord.Execute(ctx, "alpha", model.ModeCurrent, nil)
	require.NoError(t, err)

	stored, err := h.st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.RunStatusSucceeded, stored.Status)
	assert.Equal(t, run.Counts, stored.Counts)
	assert.NotNil(t, stored.CompletedAt)
}
