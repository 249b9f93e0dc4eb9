package store

import "github.com/PeterSoManLung/FindDinning/internal/db"

// NewPostgresWithPool builds a PostgresStore over an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}
