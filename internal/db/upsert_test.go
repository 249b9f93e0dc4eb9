package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSQL_Dollar(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "assignments",
		Columns:      []string{"experiment_id", "subject_id", "variant"},
		ConflictKeys: []string{"experiment_id", "subject_id"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO assignments (experiment_id, subject_id, variant) VALUES ($1, $2, $3) "+
			"ON CONFLICT (experiment_id, subject_id) DO UPDATE SET variant = excluded.variant",
		sql)
}

func TestUpsertSQL_Question(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "model_versions",
		Columns:      []string{"model", "version", "status", "size_bytes"},
		ConflictKeys: []string{"model", "version"},
		UpdateCols:   []string{"status"},
		Placeholder:  Question,
	})
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO model_versions (model, version, status, size_bytes) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT (model, version) DO UPDATE SET status = excluded.status",
		sql)
}

func TestUpsertSQL_AllKeys(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "t",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "ON CONFLICT (id) DO NOTHING")
}

func TestUpsertSQL_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"no table", UpsertConfig{Columns: []string{"a"}, ConflictKeys: []string{"a"}}, "no table"},
		{"no columns", UpsertConfig{Table: "t", ConflictKeys: []string{"a"}}, "no columns"},
		{"no keys", UpsertConfig{Table: "t", Columns: []string{"a"}}, "no conflict keys"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UpsertSQL(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
