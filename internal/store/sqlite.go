package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PeterSoManLung/FindDinning/internal/db"
	"github.com/PeterSoManLung/FindDinning/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local runs
// of the CLI and the test suite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, sqliteWrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, sqliteWrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS experiments (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	subject         TEXT NOT NULL,
	variants        TEXT NOT NULL,
	traffic_split   INTEGER NOT NULL CHECK (traffic_split BETWEEN 0 AND 100),
	status          TEXT NOT NULL DEFAULT 'active',
	start_at        DATETIME NOT NULL,
	end_at          DATETIME NOT NULL,
	success_metrics TEXT NOT NULL,
	metadata        TEXT NOT NULL DEFAULT '{}',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_experiments_subject_status ON experiments(subject, status);

CREATE TABLE IF NOT EXISTS assignments (
	experiment_id TEXT NOT NULL REFERENCES experiments(id),
	subject_id    TEXT NOT NULL,
	variant       TEXT NOT NULL,
	version       TEXT NOT NULL,
	assigned_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (experiment_id, subject_id)
);

CREATE TABLE IF NOT EXISTS metric_samples (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	experiment_id TEXT NOT NULL REFERENCES experiments(id),
	subject_id    TEXT NOT NULL,
	variant       TEXT NOT NULL,
	metric        TEXT NOT NULL,
	value         REAL NOT NULL,
	context       TEXT,
	recorded_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_metric_samples_experiment ON metric_samples(experiment_id, metric);

CREATE TABLE IF NOT EXISTS model_versions (
	model             TEXT NOT NULL,
	version           TEXT NOT NULL,
	artifact_bucket   TEXT NOT NULL DEFAULT '',
	artifact_key      TEXT NOT NULL DEFAULT '',
	size_bytes        INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'uploaded',
	deployment_status TEXT NOT NULL DEFAULT 'pending',
	endpoint_name     TEXT NOT NULL DEFAULT '',
	hosted_model_name TEXT NOT NULL DEFAULT '',
	deployment_error  TEXT NOT NULL DEFAULT '',
	metadata          TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	deployed_at       DATETIME,
	PRIMARY KEY (model, version)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return sqliteWrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return sqliteWrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, exp *model.Experiment) error {
	variants, metrics, meta, err := encodeExperiment(exp)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (`+columnList(experimentColumns)+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exp.ID, exp.Name, exp.Subject, string(variants), exp.TrafficSplit, string(exp.Status),
		exp.StartAt.UTC(), exp.EndAt.UTC(), string(metrics), string(meta), exp.CreatedAt.UTC(), exp.UpdatedAt.UTC(),
	)
	return sqliteWrapf(err, "sqlite: insert experiment %s", exp.ID)
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*model.Experiment, error) {
	exp, err := scanExperiment(s.db.QueryRowContext(ctx,
		`SELECT `+columnList(experimentColumns)+` FROM experiments WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("experiment %s", id)
	}
	if err != nil {
		return nil, sqliteWrapf(err, "sqlite: get experiment %s", id)
	}
	return exp, nil
}

// ActiveExperiment filters the time window in Go; SQLite compares DATETIME
// columns as text.
func (s *SQLiteStore) ActiveExperiment(ctx context.Context, subject string, at time.Time) (*model.Experiment, error) {
	active, err := s.ListExperiments(ctx, ExperimentFilter{Status: model.ExperimentActive, Subject: subject})
	if err != nil {
		return nil, err
	}
	for i := range active {
		if active[i].RunningAt(at) {
			return &active[i], nil
		}
	}
	return nil, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context, filter ExperimentFilter) ([]model.Experiment, error) {
	query := `SELECT ` + columnList(experimentColumns) + ` FROM experiments WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Subject != "" {
		query += ` AND subject = ?`
		args = append(args, filter.Subject)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqliteWrap(err, "sqlite: list experiments")
	}
	defer rows.Close()

	var out []model.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, sqliteWrap(err, "sqlite: scan experiment")
		}
		out = append(out, *exp)
	}
	return out, sqliteWrap(rows.Err(), "sqlite: list experiments iterate")
}

func (s *SQLiteStore) UpdateExperimentStatus(ctx context.Context, id string, status model.ExperimentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return sqliteWrapf(err, "sqlite: update experiment status %s", id)
	}
	return checkRowsAffected(res, "experiment", id)
}

func (s *SQLiteStore) UpsertAssignment(ctx context.Context, a model.Assignment) error {
	query, err := db.UpsertSQL(db.UpsertConfig{
		Table:        "assignments",
		Columns:      assignmentColumns,
		ConflictKeys: []string{"experiment_id", "subject_id"},
		Placeholder:  db.Question,
	})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, a.ExperimentID, a.SubjectID, string(a.Variant), a.Version, a.AssignedAt.UTC())
	return sqliteWrapf(err, "sqlite: upsert assignment %s/%s", a.ExperimentID, a.SubjectID)
}

func (s *SQLiteStore) AppendSamples(ctx context.Context, samples []model.MetricSample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, sqliteWrap(err, "sqlite: begin append samples")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metric_samples (`+columnList(sampleColumns)+`) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, sqliteWrap(err, "sqlite: prepare append samples")
	}
	defer stmt.Close()

	for _, m := range samples {
		ctxJSON, err := encodeOptionalJSON(m.Context)
		if err != nil {
			return 0, err
		}
		var ctxVal any
		if ctxJSON != nil {
			ctxVal = string(ctxJSON)
		}
		if _, err := stmt.ExecContext(ctx,
			m.ExperimentID, m.SubjectID, string(m.Variant), m.Metric, m.Value, ctxVal, m.RecordedAt.UTC(),
		); err != nil {
			return 0, sqliteWrapf(err, "sqlite: insert sample for %s", m.ExperimentID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, sqliteWrap(err, "sqlite: commit append samples")
	}
	return int64(len(samples)), nil
}

func (s *SQLiteStore) ListSamples(ctx context.Context, experimentID string) ([]model.MetricSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columnList(sampleColumns)+` FROM metric_samples
		 WHERE experiment_id = ? ORDER BY recorded_at, id`,
		experimentID,
	)
	if err != nil {
		return nil, sqliteWrapf(err, "sqlite: list samples %s", experimentID)
	}
	defer rows.Close()

	var out []model.MetricSample
	for rows.Next() {
		var m model.MetricSample
		var ctxJSON sql.NullString
		if err := rows.Scan(&m.ExperimentID, &m.SubjectID, &m.Variant, &m.Metric, &m.Value, &ctxJSON, &m.RecordedAt); err != nil {
			return nil, sqliteWrap(err, "sqlite: scan sample")
		}
		if ctxJSON.Valid {
			if err := decodeJSON([]byte(ctxJSON.String), &m.Context, "sample context"); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	return out, sqliteWrap(rows.Err(), "sqlite: list samples iterate")
}

func (s *SQLiteStore) CountParticipants(ctx context.Context, experimentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT subject_id) FROM metric_samples WHERE experiment_id = ?`,
		experimentID,
	).Scan(&n)
	return n, sqliteWrapf(err, "sqlite: count participants %s", experimentID)
}

func (s *SQLiteStore) UpsertVersion(ctx context.Context, v *model.ModelVersion) error {
	meta, err := encodeOptionalJSON(v.Metadata)
	if err != nil {
		return err
	}
	var metaVal any
	if meta != nil {
		metaVal = string(meta)
	}
	var deployedAt any
	if v.DeployedAt != nil {
		deployedAt = v.DeployedAt.UTC()
	}

	query, err := db.UpsertSQL(db.UpsertConfig{
		Table:        "model_versions",
		Columns:      versionColumns,
		ConflictKeys: []string{"model", "version"},
		UpdateCols:   versionUpdateColumns,
		Placeholder:  db.Question,
	})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query,
		v.Model, v.Version, v.ArtifactBucket, v.ArtifactKey, v.SizeBytes, string(v.Status),
		string(v.DeploymentStatus), v.EndpointName, v.HostedModelName, v.DeploymentError,
		metaVal, v.CreatedAt.UTC(), v.UpdatedAt.UTC(), deployedAt,
	)
	return sqliteWrapf(err, "sqlite: upsert version %s/%s", v.Model, v.Version)
}

func (s *SQLiteStore) GetVersion(ctx context.Context, modelName, version string) (*model.ModelVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+columnList(versionColumns)+` FROM model_versions WHERE model = ? AND version = ?`,
		modelName, version,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("model version %s/%s", modelName, version)
	}
	if err != nil {
		return nil, sqliteWrapf(err, "sqlite: get version %s/%s", modelName, version)
	}
	return v, nil
}

func (s *SQLiteStore) ListVersions(ctx context.Context, modelName string) ([]model.ModelVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columnList(versionColumns)+` FROM model_versions
		 WHERE model = ? AND status <> 'deleted' ORDER BY version DESC`,
		modelName,
	)
	if err != nil {
		return nil, sqliteWrapf(err, "sqlite: list versions %s", modelName)
	}
	defer rows.Close()

	var out []model.ModelVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, sqliteWrap(err, "sqlite: scan version")
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteWrap(err, "sqlite: list versions iterate")
	}
	model.SortVersionsDesc(out)
	return out, nil
}

func (s *SQLiteStore) LatestDeployed(ctx context.Context, modelName string) (*model.ModelVersion, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		`SELECT `+columnList(versionColumns)+` FROM model_versions
		 WHERE model = ? AND deployment_status = 'deployed' AND deployed_at IS NOT NULL
		 ORDER BY deployed_at DESC LIMIT 1`,
		modelName,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sqliteWrapf(err, "sqlite: latest deployed %s", modelName)
	}
	return v, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return sqliteWrap(err, "rows affected")
	}
	if n == 0 {
		return model.NotFoundf("%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanExperiment(row scannable) (*model.Experiment, error) {
	var exp model.Experiment
	var variants, metrics, meta string
	if err := row.Scan(&exp.ID, &exp.Name, &exp.Subject, &variants, &exp.TrafficSplit, &exp.Status,
		&exp.StartAt, &exp.EndAt, &metrics, &meta, &exp.CreatedAt, &exp.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeExperiment(&exp, []byte(variants), []byte(metrics), []byte(meta)); err != nil {
		return nil, err
	}
	return &exp, nil
}

func scanVersion(row scannable) (*model.ModelVersion, error) {
	var v model.ModelVersion
	var meta sql.NullString
	var deployedAt sql.NullTime
	if err := row.Scan(&v.Model, &v.Version, &v.ArtifactBucket, &v.ArtifactKey, &v.SizeBytes, &v.Status,
		&v.DeploymentStatus, &v.EndpointName, &v.HostedModelName, &v.DeploymentError,
		&meta, &v.CreatedAt, &v.UpdatedAt, &deployedAt); err != nil {
		return nil, err
	}
	if meta.Valid {
		if err := decodeJSON([]byte(meta.String), &v.Metadata, "version metadata"); err != nil {
			return nil, err
		}
	}
	if deployedAt.Valid {
		t := deployedAt.Time
		v.DeployedAt = &t
	}
	return &v, nil
}
