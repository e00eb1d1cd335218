// Package store persists sources, applications, runs, and field mappings.
// Two backends exist: sqlite for single-node deployments and postgres for
// shared ones.
package store

import (
	"context"
	"time"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

// RunFilter specifies criteria for listing runs. Zero values mean "any".
type RunFilter struct {
	SourceCode string          `json:"source_code,omitempty"`
	Status     model.RunStatus `json:"status,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the scrape pipeline.
type Store interface {
	// Sources
	UpsertSource(ctx context.Context, src model.Source) error
	GetSource(ctx context.Context, code string) (*model.Source, error)
	ListSources(ctx context.Context) ([]model.Source, error)

	// Applications. Lookups return nil without error when nothing matches.
	ApplicationByIdentity(ctx context.Context, sourceCode, daNumber string) (*model.Application, error)
	ApplicationByFuzzyKey(ctx context.Context, sourceCode, fuzzyKey string, since time.Time) (*model.Application, error)
	UpsertApplications(ctx context.Context, apps []*model.Application) (int, error)
	CountApplications(ctx context.Context, sourceCode string) (int, error)

	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Field mappings
	FieldMapping(ctx context.Context, sourceCode string) (*model.FieldMapping, error)
	SaveFieldMapping(ctx context.Context, m *model.FieldMapping) error
	DeleteFieldMapping(ctx context.Context, sourceCode string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, driver, databaseURL string) (Store, error) {
	if driver == "postgres" {
		return NewPostgres(ctx, databaseURL, nil)
	}
	return NewSQLite(databaseURL)
}
