package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testApp(daNumber string) *model.Application {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Application{
		SourceCode:   "alpha",
		DANumber:     daNumber,
		Address:      "12 Smith Street, Parramatta NSW 2150",
		Status:       model.StatusLodged,
		FuzzyKey:     "12 smith street parramatta nsw 2150|abc123def456",
		QualityScore: 0.8,
		ScrapedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSourceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := model.Source{Code: "alpha", Name: "Alpha Council", State: "NSW", Tier: 1, PortalURL: "https://alpha.example"}
	require.NoError(t, s.UpsertSource(ctx, src))

	got, err := s.GetSource(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alpha Council", got.Name)

	src.Tier = 2
	require.NoError(t, s.UpsertSource(ctx, src))
	got, err = s.GetSource(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Tier)

	missing, err := s.GetSource(ctx, "nowhere")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsertApplicationsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	apps := []*model.Application{testApp("2024/1"), testApp("2024/2")}
	n, err := s.UpsertApplications(ctx, apps)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-ingesting the same identities must not create new rows.
	_, err = s.UpsertApplications(ctx, []*model.Application{testApp("2024/1")})
	require.NoError(t, err)

	count, err := s.CountApplications(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestApplicationLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	app := testApp("2024/1")
	_, err := s.UpsertApplications(ctx, []*model.Application{app})
	require.NoError(t, err)

	got, err := s.ApplicationByIdentity(ctx, "alpha", "2024/1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, app.Address, got.Address)

	missing, err := s.ApplicationByIdentity(ctx, "alpha", "2024/99")
	require.NoError(t, err)
	assert.Nil(t, missing)

	fuzzy, err := s.ApplicationByFuzzyKey(ctx, "alpha", app.FuzzyKey, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, fuzzy)
	assert.Equal(t, "2024/1", fuzzy.DANumber)

	stale, err := s.ApplicationByFuzzyKey(ctx, "alpha", app.FuzzyKey, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, stale)

	none, err := s.ApplicationByFuzzyKey(ctx, "alpha", "", time.Time{})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &model.Run{
		SourceCode: "alpha",
		Mode:       model.ModeCurrent,
		Status:     model.RunStatusRunning,
		StartedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateRun(ctx, run))
	require.NotEmpty(t, run.ID)

	done := time.Now().UTC().Truncate(time.Second)
	run.Status = model.RunStatusSucceeded
	run.CompletedAt = &done
	run.Counts = model.RunCounts{Fetched: 3, Normalized: 3, Persisted: 3, New: 3}
	run.Errors = []model.RunError{{Stage: "normalize", Message: "bad date", Record: "2024/9"}}
	run.AvgScore = 0.82
	require.NoError(t, s.UpdateRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.RunStatusSucceeded, got.Status)
	assert.Equal(t, 3, got.Counts.Fetched)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "normalize", got.Errors[0].Stage)
	assert.InDelta(t, 0.82, got.AvgScore, 1e-9)

	missing, err := s.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = s.UpdateRun(ctx, &model.Run{ID: "nope", Status: model.RunStatusFailed})
	assert.Error(t, err)
}

func TestListRunsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, status := range []model.RunStatus{model.RunStatusSucceeded, model.RunStatusFailed, model.RunStatusSucceeded} {
		run := &model.Run{
			SourceCode: "alpha",
			Mode:       model.ModeCurrent,
			Status:     status,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.CreateRun(ctx, run))
	}
	other := &model.Run{SourceCode: "beta", Mode: model.ModeCurrent, Status: model.RunStatusSucceeded, StartedAt: base}
	require.NoError(t, s.CreateRun(ctx, other))

	runs, err := s.ListRuns(ctx, RunFilter{SourceCode: "alpha", Status: model.RunStatusSucceeded})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	// Newest first.
	assert.True(t, !runs[0].StartedAt.Before(runs[1].StartedAt))

	limited, err := s.ListRuns(ctx, RunFilter{SourceCode: "alpha", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestFieldMappingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	missing, err := s.FieldMapping(ctx, "alpha")
	require.NoError(t, err)
	assert.Nil(t, missing)

	m := &model.FieldMapping{
		SourceCode:   "alpha",
		Fields:       map[string]string{"da_number": "Ref", "address": "Street+Suburb"},
		StatusValues: map[string]string{"Open": "under_assessment"},
		LearnedAt:    time.Now().UTC().Truncate(time.Second),
		SampleCount:  5,
		Confidence:   0.8,
	}
	require.NoError(t, s.SaveFieldMapping(ctx, m))

	got, err := s.FieldMapping(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Street+Suburb", got.Fields["address"])
	assert.Equal(t, "under_assessment", got.StatusValues["Open"])

	require.NoError(t, s.DeleteFieldMapping(ctx, "alpha"))
	gone, err := s.FieldMapping(ctx, "alpha")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
