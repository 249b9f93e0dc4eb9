package db

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Placeholder selects the bind parameter syntax of the target driver.
type Placeholder int

const (
	// Dollar renders $1, $2, ... (pgx).
	Dollar Placeholder = iota
	// Question renders ? (database/sql with SQLite).
	Question
)

// UpsertConfig defines a single-row INSERT ... ON CONFLICT statement.
type UpsertConfig struct {
	Table        string   // target table
	Columns      []string // all columns being inserted, in bind order
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
	Placeholder  Placeholder
}

// UpsertSQL builds an upsert statement. Postgres and SQLite both accept the
// generated ON CONFLICT ... DO UPDATE SET col = excluded.col form.
func UpsertSQL(cfg UpsertConfig) (string, error) {
	if cfg.Table == "" {
		return "", eris.New("db: upsert: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	binds := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		if cfg.Placeholder == Question {
			binds[i] = "?"
		} else {
			binds[i] = fmt.Sprintf("$%d", i+1)
		}
	}

	conflict := "DO NOTHING"
	if len(updateCols) > 0 {
		sets := make([]string, len(updateCols))
		for i, c := range updateCols {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		cfg.Table,
		strings.Join(cfg.Columns, ", "),
		strings.Join(binds, ", "),
		strings.Join(cfg.ConflictKeys, ", "),
		conflict,
	), nil
}
