package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

func TestClassifyPostgres(t *testing.T) {
	tests := []struct {
		code      string
		transient bool
	}{
		{"57P01", true}, // admin_shutdown
		{"57P03", true}, // cannot_connect_now
		{"08006", true}, // connection_failure
		{"08001", true}, // unable to connect
		{"53300", true}, // too_many_connections
		{"40001", true}, // serialization_failure
		{"23505", false},
		{"42P01", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := pgWrapf(&pgconn.PgError{Code: tt.code, Message: "boom"}, "postgres: get experiment %s", "exp-1")
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
			var pgErr *pgconn.PgError
			assert.True(t, errors.As(err, &pgErr), "SQLSTATE must stay reachable")
		})
	}
}

func TestClassifyPostgres_NetworkAndNil(t *testing.T) {
	assert.NoError(t, pgWrap(nil, "postgres: ping"))
	assert.True(t, resilience.IsTransient(pgWrap(context.DeadlineExceeded, "postgres: ping")))
	assert.False(t, resilience.IsTransient(pgWrap(eris.New("bad row"), "postgres: scan")))
}

func TestClassifySQLite_Busy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	ctx := context.Background()

	holder, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer holder.Close()
	_, err = holder.Exec(`CREATE TABLE t (id INTEGER)`)
	require.NoError(t, err)

	conn, err := holder.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, `BEGIN EXCLUSIVE`)
	require.NoError(t, err)
	defer conn.ExecContext(ctx, `ROLLBACK`) //nolint:errcheck

	other, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer other.Close()
	_, err = other.Exec(`INSERT INTO t (id) VALUES (1)`)
	require.Error(t, err)

	wrapped := sqliteWrap(err, "sqlite: insert")
	assert.True(t, resilience.IsTransient(wrapped))
	te, ok := resilience.AsTransient(wrapped)
	require.True(t, ok)
	assert.Equal(t, "sqlite", te.Service)
}

func TestClassifySQLite_Other(t *testing.T) {
	assert.NoError(t, sqliteWrap(nil, "sqlite: ping"))
	assert.False(t, resilience.IsTransient(sqliteWrap(sql.ErrConnDone, "sqlite: ping")))
}
