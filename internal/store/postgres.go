package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PeterSoManLung/FindDinning/internal/db"
	"github.com/PeterSoManLung/FindDinning/internal/model"
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

const (
	sqlActiveExperiment = `SELECT id, name, subject, variants, traffic_split, status, start_at, end_at, success_metrics, metadata, created_at, updated_at
		FROM experiments
		WHERE subject = $1 AND status = 'active' AND start_at <= $2 AND end_at >= $2
		ORDER BY created_at DESC LIMIT 1`
	sqlGetExperiment = `SELECT id, name, subject, variants, traffic_split, status, start_at, end_at, success_metrics, metadata, created_at, updated_at
		FROM experiments WHERE id = $1`
)

// preparedStatements lists the assignment hot path, prepared on each new connection.
var preparedStatements = map[string]string{
	"active_experiment": sqlActiveExperiment,
	"get_experiment":    sqlGetExperiment,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, pgWrap(err, "postgres: parse config")
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return pgWrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, pgWrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pgWrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS experiments (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	subject         TEXT NOT NULL,
	variants        JSONB NOT NULL,
	traffic_split   INTEGER NOT NULL CHECK (traffic_split BETWEEN 0 AND 100),
	status          TEXT NOT NULL DEFAULT 'active',
	start_at        TIMESTAMPTZ NOT NULL,
	end_at          TIMESTAMPTZ NOT NULL,
	success_metrics JSONB NOT NULL,
	metadata        JSONB NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_experiments_subject_status ON experiments(subject, status);
CREATE INDEX IF NOT EXISTS idx_experiments_created_at ON experiments(created_at DESC);

CREATE TABLE IF NOT EXISTS assignments (
	experiment_id TEXT NOT NULL REFERENCES experiments(id),
	subject_id    TEXT NOT NULL,
	variant       TEXT NOT NULL,
	version       TEXT NOT NULL,
	assigned_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (experiment_id, subject_id)
);

CREATE TABLE IF NOT EXISTS metric_samples (
	id            BIGSERIAL PRIMARY KEY,
	experiment_id TEXT NOT NULL REFERENCES experiments(id),
	subject_id    TEXT NOT NULL,
	variant       TEXT NOT NULL,
	metric        TEXT NOT NULL,
	value         DOUBLE PRECISION NOT NULL,
	context       JSONB,
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_metric_samples_experiment ON metric_samples(experiment_id, metric);

CREATE TABLE IF NOT EXISTS model_versions (
	model             TEXT NOT NULL,
	version           TEXT NOT NULL,
	artifact_bucket   TEXT NOT NULL DEFAULT '',
	artifact_key      TEXT NOT NULL DEFAULT '',
	size_bytes        BIGINT NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'uploaded',
	deployment_status TEXT NOT NULL DEFAULT 'pending',
	endpoint_name     TEXT NOT NULL DEFAULT '',
	hosted_model_name TEXT NOT NULL DEFAULT '',
	deployment_error  TEXT NOT NULL DEFAULT '',
	metadata          JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	deployed_at       TIMESTAMPTZ,
	PRIMARY KEY (model, version)
);

CREATE INDEX IF NOT EXISTS idx_model_versions_deployed ON model_versions(model, deployment_status, deployed_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return pgWrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return pgWrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateExperiment(ctx context.Context, exp *model.Experiment) error {
	variants, metrics, meta, err := encodeExperiment(exp)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO experiments (`+columnList(experimentColumns)+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		exp.ID, exp.Name, exp.Subject, variants, exp.TrafficSplit, string(exp.Status),
		exp.StartAt, exp.EndAt, metrics, meta, exp.CreatedAt, exp.UpdatedAt,
	)
	return pgWrapf(err, "postgres: insert experiment %s", exp.ID)
}

func (s *PostgresStore) GetExperiment(ctx context.Context, id string) (*model.Experiment, error) {
	exp, err := scanPgExperiment(s.pool.QueryRow(ctx, sqlGetExperiment, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFoundf("experiment %s", id)
	}
	if err != nil {
		return nil, pgWrapf(err, "postgres: get experiment %s", id)
	}
	return exp, nil
}

func (s *PostgresStore) ActiveExperiment(ctx context.Context, subject string, at time.Time) (*model.Experiment, error) {
	exp, err := scanPgExperiment(s.pool.QueryRow(ctx, sqlActiveExperiment, subject, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pgWrapf(err, "postgres: active experiment for %s", subject)
	}
	return exp, nil
}

func (s *PostgresStore) ListExperiments(ctx context.Context, filter ExperimentFilter) ([]model.Experiment, error) {
	query := `SELECT ` + columnList(experimentColumns) + ` FROM experiments WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Subject != "" {
		query += fmt.Sprintf(` AND subject = $%d`, argIdx)
		args = append(args, filter.Subject)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgWrap(err, "postgres: list experiments")
	}
	defer rows.Close()

	var out []model.Experiment
	for rows.Next() {
		exp, err := scanPgExperiment(rows)
		if err != nil {
			return nil, pgWrap(err, "postgres: scan experiment")
		}
		out = append(out, *exp)
	}
	return out, pgWrap(rows.Err(), "postgres: list experiments iterate")
}

func (s *PostgresStore) UpdateExperimentStatus(ctx context.Context, id string, status model.ExperimentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE experiments SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return pgWrapf(err, "postgres: update experiment status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFoundf("experiment %s", id)
	}
	return nil
}

func (s *PostgresStore) UpsertAssignment(ctx context.Context, a model.Assignment) error {
	sql, err := db.UpsertSQL(db.UpsertConfig{
		Table:        "assignments",
		Columns:      assignmentColumns,
		ConflictKeys: []string{"experiment_id", "subject_id"},
	})
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, sql, a.ExperimentID, a.SubjectID, string(a.Variant), a.Version, a.AssignedAt)
	return pgWrapf(err, "postgres: upsert assignment %s/%s", a.ExperimentID, a.SubjectID)
}

func (s *PostgresStore) AppendSamples(ctx context.Context, samples []model.MetricSample) (int64, error) {
	rows := make([][]any, 0, len(samples))
	for _, m := range samples {
		ctxJSON, err := encodeOptionalJSON(m.Context)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			m.ExperimentID, m.SubjectID, string(m.Variant), m.Metric, m.Value, ctxJSON, m.RecordedAt,
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "metric_samples", sampleColumns, rows)
	return n, pgWrap(err, "postgres: append samples")
}

func (s *PostgresStore) ListSamples(ctx context.Context, experimentID string) ([]model.MetricSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+columnList(sampleColumns)+` FROM metric_samples
		 WHERE experiment_id = $1 ORDER BY recorded_at`,
		experimentID,
	)
	if err != nil {
		return nil, pgWrapf(err, "postgres: list samples %s", experimentID)
	}
	defer rows.Close()

	var out []model.MetricSample
	for rows.Next() {
		var m model.MetricSample
		var ctxJSON []byte
		if err := rows.Scan(&m.ExperimentID, &m.SubjectID, &m.Variant, &m.Metric, &m.Value, &ctxJSON, &m.RecordedAt); err != nil {
			return nil, pgWrap(err, "postgres: scan sample")
		}
		if err := decodeJSON(ctxJSON, &m.Context, "sample context"); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, pgWrap(rows.Err(), "postgres: list samples iterate")
}

func (s *PostgresStore) CountParticipants(ctx context.Context, experimentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT subject_id) FROM metric_samples WHERE experiment_id = $1`,
		experimentID,
	).Scan(&n)
	return n, pgWrapf(err, "postgres: count participants %s", experimentID)
}

func (s *PostgresStore) UpsertVersion(ctx context.Context, v *model.ModelVersion) error {
	meta, err := encodeOptionalJSON(v.Metadata)
	if err != nil {
		return err
	}
	sql, err := db.UpsertSQL(db.UpsertConfig{
		Table:        "model_versions",
		Columns:      versionColumns,
		ConflictKeys: []string{"model", "version"},
		UpdateCols:   versionUpdateColumns,
	})
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, sql,
		v.Model, v.Version, v.ArtifactBucket, v.ArtifactKey, v.SizeBytes, string(v.Status),
		string(v.DeploymentStatus), v.EndpointName, v.HostedModelName, v.DeploymentError,
		meta, v.CreatedAt, v.UpdatedAt, v.DeployedAt,
	)
	return pgWrapf(err, "postgres: upsert version %s/%s", v.Model, v.Version)
}

func (s *PostgresStore) GetVersion(ctx context.Context, modelName, version string) (*model.ModelVersion, error) {
	v, err := scanPgVersion(s.pool.QueryRow(ctx,
		`SELECT `+columnList(versionColumns)+` FROM model_versions WHERE model = $1 AND version = $2`,
		modelName, version,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFoundf("model version %s/%s", modelName, version)
	}
	if err != nil {
		return nil, pgWrapf(err, "postgres: get version %s/%s", modelName, version)
	}
	return v, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, modelName string) ([]model.ModelVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+columnList(versionColumns)+` FROM model_versions
		 WHERE model = $1 AND status <> 'deleted' ORDER BY version DESC`,
		modelName,
	)
	if err != nil {
		return nil, pgWrapf(err, "postgres: list versions %s", modelName)
	}
	defer rows.Close()

	var out []model.ModelVersion
	for rows.Next() {
		v, err := scanPgVersion(rows)
		if err != nil {
			return nil, pgWrap(err, "postgres: scan version")
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, pgWrap(err, "postgres: list versions iterate")
	}
	model.SortVersionsDesc(out)
	return out, nil
}

func (s *PostgresStore) LatestDeployed(ctx context.Context, modelName string) (*model.ModelVersion, error) {
	v, err := scanPgVersion(s.pool.QueryRow(ctx,
		`SELECT `+columnList(versionColumns)+` FROM model_versions
		 WHERE model = $1 AND deployment_status = 'deployed' AND deployed_at IS NOT NULL
		 ORDER BY deployed_at DESC LIMIT 1`,
		modelName,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pgWrapf(err, "postgres: latest deployed %s", modelName)
	}
	return v, nil
}

func scanPgExperiment(row pgx.Row) (*model.Experiment, error) {
	var exp model.Experiment
	var variants, metrics, meta []byte
	if err := row.Scan(&exp.ID, &exp.Name, &exp.Subject, &variants, &exp.TrafficSplit, &exp.Status,
		&exp.StartAt, &exp.EndAt, &metrics, &meta, &exp.CreatedAt, &exp.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeExperiment(&exp, variants, metrics, meta); err != nil {
		return nil, err
	}
	return &exp, nil
}

func scanPgVersion(row pgx.Row) (*model.ModelVersion, error) {
	var v model.ModelVersion
	var meta []byte
	if err := row.Scan(&v.Model, &v.Version, &v.ArtifactBucket, &v.ArtifactKey, &v.SizeBytes, &v.Status,
		&v.DeploymentStatus, &v.EndpointName, &v.HostedModelName, &v.DeploymentError,
		&meta, &v.CreatedAt, &v.UpdatedAt, &v.DeployedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(meta, &v.Metadata, "version metadata"); err != nil {
		return nil, err
	}
	return &v, nil
}
