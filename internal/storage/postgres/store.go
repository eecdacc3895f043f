// Package postgres implements the durable store for jobs, queries and places
// over PostgreSQL. Every mutation is either idempotent (conflict-ignoring
// upserts) or conditional on the current row state, so concurrent workers and
// crash-retried batches never double-apply work.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serptap/serptap/internal/budget"
	"github.com/serptap/serptap/internal/coordinator"
	"github.com/serptap/serptap/internal/executor"
	"github.com/serptap/serptap/internal/health"
	"github.com/serptap/serptap/internal/jobs"
)

// Store provides the PostgreSQL implementation of the pipeline's storage
// operations: job lifecycle, query queue protocol, place upserts and
// reference data reads.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time verification that Store satisfies every consumer interface.
var (
	_ executor.Store     = (*Store)(nil)
	_ coordinator.Store  = (*Store)(nil)
	_ jobs.Store         = (*Store)(nil)
	_ budget.UsageReader = (*Store)(nil)
	_ health.Pinger      = (*Store)(nil)
	_ health.ParseStats  = (*Store)(nil)
)

// NewStore creates a store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// chunked splits items into consecutive slices of at most size elements.
// Batched statements stay under parameter and payload limits this way.
func chunked[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
