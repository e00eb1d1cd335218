package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/oddlyrohit/councilscraper/internal/db"
	"github.com/oddlyrohit/councilscraper/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sources (
	code        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	state       TEXT NOT NULL DEFAULT '',
	tier        INTEGER NOT NULL DEFAULT 4,
	portal_url  TEXT NOT NULL DEFAULT '',
	portal_type TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS applications (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_code   TEXT NOT NULL,
	da_number     TEXT NOT NULL,
	fuzzy_key     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'unknown',
	quality_score REAL NOT NULL DEFAULT 0,
	scraped_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	data          JSONB NOT NULL,
	UNIQUE (source_code, da_number)
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_code  TEXT NOT NULL,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	counts       JSONB NOT NULL DEFAULT '{}',
	errors       JSONB,
	batch_id     TEXT NOT NULL DEFAULT '',
	avg_score    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS field_mappings (
	source_code TEXT PRIMARY KEY,
	data        JSONB NOT NULL,
	learned_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_fuzzy ON applications(source_code, fuzzy_key);
CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);
CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source_code, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) UpsertSource(ctx context.Context, src model.Source) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (code, name, state, tier, portal_url, portal_type)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (code) DO UPDATE SET
		   name = EXCLUDED.name, state = EXCLUDED.state, tier = EXCLUDED.tier,
		   portal_url = EXCLUDED.portal_url, portal_type = EXCLUDED.portal_type`,
		src.Code, src.Name, src.State, src.Tier, src.PortalURL, src.PortalType,
	)
	return eris.Wrapf(err, "postgres: upsert source %s", src.Code)
}

func (s *PostgresStore) GetSource(ctx context.Context, code string) (*model.Source, error) {
	var src model.Source
	err := s.pool.QueryRow(ctx,
		`SELECT code, name, state, tier, portal_url, portal_type FROM sources WHERE code = $1`,
		code,
	).Scan(&src.Code, &src.Name, &src.State, &src.Tier, &src.PortalURL, &src.PortalType)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get source %s", code)
	}
	return &src, nil
}

func (s *PostgresStore) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, name, state, tier, portal_url, portal_type FROM sources ORDER BY tier, code`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var src model.Source
		if err := rows.Scan(&src.Code, &src.Name, &src.State, &src.Tier, &src.PortalURL, &src.PortalType); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sources")
}

func (s *PostgresStore) ApplicationByIdentity(ctx context.Context, sourceCode, daNumber string) (*model.Application, error) {
	return s.scanApplication(s.pool.QueryRow(ctx,
		`SELECT data FROM applications WHERE source_code = $1 AND da_number = $2`,
		sourceCode, daNumber,
	))
}

func (s *PostgresStore) ApplicationByFuzzyKey(ctx context.Context, sourceCode, fuzzyKey string, since time.Time) (*model.Application, error) {
	if fuzzyKey == "" {
		return nil, nil
	}
	return s.scanApplication(s.pool.QueryRow(ctx,
		`SELECT data FROM applications
		 WHERE source_code = $1 AND fuzzy_key = $2 AND scraped_at >= $3
		 ORDER BY scraped_at DESC LIMIT 1`,
		sourceCode, fuzzyKey, since.UTC(),
	))
}

func (s *PostgresStore) scanApplication(row pgx.Row) (*model.Application, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: scan application")
	}
	var app model.Application
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, eris.Wrap(err, "postgres: decode application")
	}
	return &app, nil
}

// applicationColumns is the column order used by the bulk upsert path.
var applicationColumns = []string{
	"id", "source_code", "da_number", "fuzzy_key", "status",
	"quality_score", "scraped_at", "updated_at", "data",
}

func (s *PostgresStore) UpsertApplications(ctx context.Context, apps []*model.Application) (int, error) {
	if len(apps) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(apps))
	for _, app := range apps {
		if app.ID == "" {
			app.ID = uuid.New().String()
		}
		data, err := json.Marshal(app)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal application %s", app.IdentityKey())
		}
		rows = append(rows, []any{
			app.ID, app.SourceCode, app.DANumber, app.FuzzyKey,
			string(app.Status), app.QualityScore,
			app.ScrapedAt.UTC(), app.UpdatedAt.UTC(), data,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "applications",
		Columns:      applicationColumns,
		ConflictKeys: []string{"source_code", "da_number"},
		UpdateCols: []string{
			"fuzzy_key", "status", "quality_score", "scraped_at", "updated_at", "data",
		},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert applications")
	}
	return int(n), nil
}

func (s *PostgresStore) CountApplications(ctx context.Context, sourceCode string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM applications WHERE source_code = $1`, sourceCode,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count applications %s", sourceCode)
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	counts, errsJSON, err := marshalRunDetails(run)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, source_code, mode, status, started_at, completed_at, counts, errors, batch_id, avg_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.SourceCode, string(run.Mode), string(run.Status),
		run.StartedAt.UTC(), nullableTime(run.CompletedAt), counts, errsJSON, run.BatchID, run.AvgScore,
	)
	return eris.Wrapf(err, "postgres: insert run %s", run.ID)
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.Run) error {
	counts, errsJSON, err := marshalRunDetails(run)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = $2, counts = $3, errors = $4, batch_id = $5, avg_score = $6
		 WHERE id = $7`,
		string(run.Status), nullableTime(run.CompletedAt), counts, errsJSON,
		run.BatchID, run.AvgScore, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run %s not found", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, source_code, mode, status, started_at, completed_at, counts, errors, batch_id, avg_score
		 FROM runs WHERE id = $1`, runID)
	run, err := scanRun(row.Scan)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source_code, mode, status, started_at, completed_at, counts, errors, batch_id, avg_score
		 FROM runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.SourceCode != "" {
		query += ` AND source_code = ` + arg(filter.SourceCode)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs")
}

func (s *PostgresStore) FieldMapping(ctx context.Context, sourceCode string) (*model.FieldMapping, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM field_mappings WHERE source_code = $1`, sourceCode,
	).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get mapping %s", sourceCode)
	}
	var m model.FieldMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode mapping %s", sourceCode)
	}
	return &m, nil
}

func (s *PostgresStore) SaveFieldMapping(ctx context.Context, m *model.FieldMapping) error {
	data, err := json.Marshal(m)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal mapping %s", m.SourceCode)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO field_mappings (source_code, data, learned_at) VALUES ($1, $2, $3)
		 ON CONFLICT (source_code) DO UPDATE SET data = EXCLUDED.data, learned_at = EXCLUDED.learned_at`,
		m.SourceCode, data, m.LearnedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save mapping %s", m.SourceCode)
}

func (s *PostgresStore) DeleteFieldMapping(ctx context.Context, sourceCode string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM field_mappings WHERE source_code = $1`, sourceCode)
	return eris.Wrapf(err, "postgres: delete mapping %s", sourceCode)
}

