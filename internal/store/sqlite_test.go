package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PeterSoManLung/FindDinning/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestNewSQLite_InvalidDSN(t *testing.T) {
	_, err := NewSQLite(filepath.Join(t.TempDir(), "missing-dir", "x", "test.db"))
	require.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestNewSQLite_CloseAndReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.CreateExperiment(ctx, testExperiment("persist", "recommendation", fixedStart)))
	require.NoError(t, st.Close())

	st2, err := NewSQLite(dbPath)
	require.NoError(t, err)
	defer st2.Close() //nolint:errcheck

	got, err := st2.GetExperiment(ctx, "persist")
	require.NoError(t, err)
	assert.Equal(t, "recommendation", got.Subject)
}

func TestCheckRowsAffected(t *testing.T) {
	err := checkRowsAffected(fakeResult{n: 0}, "experiment", "e1")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrNotFound))
	assert.Contains(t, err.Error(), "experiment e1")

	err = checkRowsAffected(fakeResult{err: errors.New("driver broke")}, "experiment", "e1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows affected")

	assert.NoError(t, checkRowsAffected(fakeResult{n: 1}, "experiment", "e1"))
}

func TestScanExperiment_CorruptVariants(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.db.ExecContext(ctx,
		`INSERT INTO experiments (id, name, subject, variants, traffic_split, status, start_at, end_at, success_metrics, metadata, created_at, updated_at)
		 VALUES ('bad', 'bad', 'recommendation', 'not-json', 50, 'active', ?, ?, '[]', '{}', ?, ?)`,
		fixedStart, fixedStart, fixedStart, fixedStart,
	)
	require.NoError(t, err)

	_, err = st.GetExperiment(ctx, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal variants")
}

func TestClose_OperationsAfterClose(t *testing.T) {
	st, err := NewSQLite(filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = st.ListExperiments(context.Background(), ExperimentFilter{})
	require.Error(t, err)
}

type fakeResult struct {
	n   int64
	err error
}

func (f fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (f fakeResult) RowsAffected() (int64, error) { return f.n, f.err }

var _ sql.Result = fakeResult{}
