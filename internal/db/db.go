// Package db provides the Postgres-backed policy store (§4.M): the ban
// list and whitelist the Accept Manager consults, and the player account
// ledger updated on successful login. Generalized from the teacher's
// internal/db/db.go, which wraps the same pgxpool.Pool for its account
// table.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool shared by all repositories.
type DB struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and returns a DB handle.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close closes the database connection pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Pool returns the underlying pgx pool, shared by the repositories.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}
