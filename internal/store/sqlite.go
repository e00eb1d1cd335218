package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/oddlyrohit/councilscraper/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sources (
	code        TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	state       TEXT NOT NULL DEFAULT '',
	tier        INTEGER NOT NULL DEFAULT 4,
	portal_url  TEXT NOT NULL DEFAULT '',
	portal_type TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS applications (
	id            TEXT PRIMARY KEY,
	source_code   TEXT NOT NULL,
	da_number     TEXT NOT NULL,
	fuzzy_key     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'unknown',
	quality_score REAL NOT NULL DEFAULT 0,
	scraped_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	data          TEXT NOT NULL,
	UNIQUE (source_code, da_number)
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	source_code  TEXT NOT NULL,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	counts       TEXT NOT NULL DEFAULT '{}',
	errors       TEXT,
	batch_id     TEXT NOT NULL DEFAULT '',
	avg_score    REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS field_mappings (
	source_code TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	learned_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_fuzzy ON applications(source_code, fuzzy_key);
CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);
CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source_code, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertSource(ctx context.Context, src model.Source) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (code, name, state, tier, portal_url, portal_type)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO UPDATE SET
		   name = excluded.name, state = excluded.state, tier = excluded.tier,
		   portal_url = excluded.portal_url, portal_type = excluded.portal_type`,
		src.Code, src.Name, src.State, src.Tier, src.PortalURL, src.PortalType,
	)
	return eris.Wrapf(err, "sqlite: upsert source %s", src.Code)
}

func (s *SQLiteStore) GetSource(ctx context.Context, code string) (*model.Source, error) {
	var src model.Source
	err := s.db.QueryRowContext(ctx,
		`SELECT code, name, state, tier, portal_url, portal_type FROM sources WHERE code = ?`,
		code,
	).Scan(&src.Code, &src.Name, &src.State, &src.Tier, &src.PortalURL, &src.PortalType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get source %s", code)
	}
	return &src, nil
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, name, state, tier, portal_url, portal_type FROM sources ORDER BY tier, code`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var src model.Source
		if err := rows.Scan(&src.Code, &src.Name, &src.State, &src.Tier, &src.PortalURL, &src.PortalType); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sources")
}

func (s *SQLiteStore) ApplicationByIdentity(ctx context.Context, sourceCode, daNumber string) (*model.Application, error) {
	return s.scanApplication(s.db.QueryRowContext(ctx,
		`SELECT data FROM applications WHERE source_code = ? AND da_number = ?`,
		sourceCode, daNumber,
	))
}

func (s *SQLiteStore) ApplicationByFuzzyKey(ctx context.Context, sourceCode, fuzzyKey string, since time.Time) (*model.Application, error) {
	if fuzzyKey == "" {
		return nil, nil
	}
	return s.scanApplication(s.db.QueryRowContext(ctx,
		`SELECT data FROM applications
		 WHERE source_code = ? AND fuzzy_key = ? AND scraped_at >= ?
		 ORDER BY scraped_at DESC LIMIT 1`,
		sourceCode, fuzzyKey, since.UTC(),
	))
}

func (s *SQLiteStore) scanApplication(row *sql.Row) (*model.Application, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: scan application")
	}
	var app model.Application
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode application")
	}
	return &app, nil
}

func (s *SQLiteStore) UpsertApplications(ctx context.Context, apps []*model.Application) (int, error) {
	if len(apps) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO applications
		   (id, source_code, da_number, fuzzy_key, status, quality_score, scraped_at, updated_at, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_code, da_number) DO UPDATE SET
		   fuzzy_key = excluded.fuzzy_key,
		   status = excluded.status,
		   quality_score = excluded.quality_score,
		   scraped_at = excluded.scraped_at,
		   updated_at = excluded.updated_at,
		   data = excluded.data`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	count := 0
	for _, app := range apps {
		if app.ID == "" {
			app.ID = uuid.New().String()
		}
		data, err := json.Marshal(app)
		if err != nil {
			return count, eris.Wrapf(err, "sqlite: marshal application %s", app.IdentityKey())
		}
		if _, err := stmt.ExecContext(ctx,
			app.ID, app.SourceCode, app.DANumber, app.FuzzyKey,
			string(app.Status), app.QualityScore,
			app.ScrapedAt.UTC(), app.UpdatedAt.UTC(), string(data),
		); err != nil {
			return count, eris.Wrapf(err, "sqlite: upsert application %s", app.IdentityKey())
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return count, nil
}

func (s *SQLiteStore) CountApplications(ctx context.Context, sourceCode string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM applications WHERE source_code = ?`, sourceCode,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count applications %s", sourceCode)
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	counts, errsJSON, err := marshalRunDetails(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source_code, mode, status, started_at, completed_at, counts, errors, batch_id, avg_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SourceCode, string(run.Mode), string(run.Status),
		run.StartedAt.UTC(), nullableTime(run.CompletedAt), counts, errsJSON, run.BatchID, run.AvgScore,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	counts, errsJSON, err := marshalRunDetails(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, counts = ?, errors = ?, batch_id = ?, avg_score = ?
		 WHERE id = ?`,
		string(run.Status), nullableTime(run.CompletedAt), counts, errsJSON,
		run.BatchID, run.AvgScore, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: run %s not found", run.ID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_code, mode, status, started_at, completed_at, counts, errors, batch_id, avg_score
		 FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, source_code, mode, status, started_at, completed_at, counts, errors, batch_id, avg_score
		 FROM runs WHERE 1=1`
	var args []any
	if filter.SourceCode != "" {
		query += ` AND source_code = ?`
		args = append(args, filter.SourceCode)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *run)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs")
}

func (s *SQLiteStore) FieldMapping(ctx context.Context, sourceCode string) (*model.FieldMapping, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM field_mappings WHERE source_code = ?`, sourceCode,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get mapping %s", sourceCode)
	}
	var m model.FieldMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode mapping %s", sourceCode)
	}
	return &m, nil
}

func (s *SQLiteStore) SaveFieldMapping(ctx context.Context, m *model.FieldMapping) error {
	data, err := json.Marshal(m)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal mapping %s", m.SourceCode)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO field_mappings (source_code, data, learned_at) VALUES (?, ?, ?)
		 ON CONFLICT (source_code) DO UPDATE SET data = excluded.data, learned_at = excluded.learned_at`,
		m.SourceCode, string(data), m.LearnedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save mapping %s", m.SourceCode)
}

func (s *SQLiteStore) DeleteFieldMapping(ctx context.Context, sourceCode string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM field_mappings WHERE source_code = ?`, sourceCode)
	return eris.Wrapf(err, "sqlite: delete mapping %s", sourceCode)
}

// --- row helpers shared with the postgres backend ---

func marshalRunDetails(run *model.Run) (counts string, errs sql.NullString, err error) {
	c, err := json.Marshal(run.Counts)
	if err != nil {
		return "", sql.NullString{}, eris.Wrapf(err, "marshal run counts %s", run.ID)
	}
	if len(run.Errors) > 0 {
		e, err := json.Marshal(run.Errors)
		if err != nil {
			return "", sql.NullString{}, eris.Wrapf(err, "marshal run errors %s", run.ID)
		}
		errs = sql.NullString{String: string(e), Valid: true}
	}
	return string(c), errs, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func scanRun(scan func(dest ...any) error) (*model.Run, error) {
	var (
		run         model.Run
		mode        string
		status      string
		completedAt sql.NullTime
		counts      []byte
		errs        sql.NullString
	)
	if err := scan(&run.ID, &run.SourceCode, &mode, &status, &run.StartedAt,
		&completedAt, &counts, &errs, &run.BatchID, &run.AvgScore); err != nil {
		return nil, err
	}
	run.Mode = model.RunMode(mode)
	run.Status = model.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &run.Counts); err != nil {
			return nil, eris.Wrap(err, "decode run counts")
		}
	}
	if errs.Valid && errs.String != "" {
		if err := json.Unmarshal([]byte(errs.String), &run.Errors); err != nil {
			return nil, eris.Wrap(err, "decode run errors")
		}
	}
	return &run, nil
}
