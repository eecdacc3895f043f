package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/serptap/serptap/internal/domain"
)

// NewClaimID generates a unique claim identifier. The timestamp prefix makes
// claims sortable and human-readable in the database.
func NewClaimID() string {
	return fmt.Sprintf("claim-%d-%s", time.Now().UTC().Unix(), uuid.NewString()[:8])
}

// EnqueueQueries inserts queries in queued state, in chunks of chunkSize.
// Rows whose (job_id, zip, page) key already exists are left untouched, so
// re-running a crashed enqueue never resets in-flight or finished work.
// Returns the number of rows actually inserted.
func (s *Store) EnqueueQueries(ctx context.Context, queries []domain.Query, chunkSize int) (int, error) {
	inserted := 0
	for _, chunk := range chunked(queries, chunkSize) {
		zips := make([]string, len(chunk))
		pages := make([]int32, len(chunk))
		qs := make([]string, len(chunk))
		for i, q := range chunk {
			zips[i] = q.Zip
			pages[i] = int32(q.Page)
			qs[i] = q.Q
		}
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO serper_queries (job_id, zip, page, q, status)
			SELECT $1, r.zip, r.page, r.q, 'queued'
			FROM unnest($2::text[], $3::int[], $4::text[]) AS r(zip, page, q)
			ON CONFLICT (job_id, zip, page) DO NOTHING`,
			chunk[0].JobID, zips, pages, qs)
		if err != nil {
			return inserted, fmt.Errorf("enqueue queries: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ClaimBatch atomically moves up to limit queued queries of a job into
// processing state under a fresh claim id, then reads them back. The SKIP
// LOCKED subselect serializes competing claimants without blocking them, so
// two concurrent claims always receive disjoint rows. Returns an empty batch
// when nothing is queued.
func (s *Store) ClaimBatch(ctx context.Context, jobID string, limit int) (*domain.Batch, error) {
	claimID := NewClaimID()

	tag, err := s.pool.Exec(ctx, `
		UPDATE serper_queries q
		SET status = 'processing', claim_id = $2, claimed_at = now()
		FROM (
			SELECT zip, page
			FROM serper_queries
			WHERE job_id = $1 AND status = 'queued'
			ORDER BY zip, page
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) c
		WHERE q.job_id = $1 AND q.zip = c.zip AND q.page = c.page AND q.status = 'queued'`,
		jobID, claimID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch for job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.Batch{ClaimID: claimID}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT job_id, zip, page, q, status, claim_id, claimed_at,
		       api_status, results_count, credits, error, ran_at
		FROM serper_queries
		WHERE claim_id = $1
		ORDER BY zip, page`, claimID)
	if err != nil {
		return nil, fmt.Errorf("read back claim %s: %w", claimID, err)
	}
	defer rows.Close()

	batch := &domain.Batch{ClaimID: claimID}
	for rows.Next() {
		var q domain.Query
		err := rows.Scan(&q.JobID, &q.Zip, &q.Page, &q.Q, &q.Status, &q.ClaimID,
			&q.ClaimedAt, &q.APIStatus, &q.ResultsCount, &q.Credits, &q.Error, &q.RanAt)
		if err != nil {
			return nil, fmt.Errorf("scan claimed query: %w", err)
		}
		batch.Queries = append(batch.Queries, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read back claim %s: %w", claimID, err)
	}
	return batch, nil
}

// MarkQueryResults writes terminal statuses for the rows of a claim, in
// chunks of chunkSize. Only rows still processing under this claim are
// touched; rows reaped and re-claimed elsewhere in the meantime are left
// alone. Terminal rows drop their claim id.
func (s *Store) MarkQueryResults(ctx context.Context, jobID, claimID string, results []domain.QueryResult, chunkSize int) error {
	for _, chunk := range chunked(results, chunkSize) {
		zips := make([]string, len(chunk))
		pages := make([]int32, len(chunk))
		statuses := make([]string, len(chunk))
		apiStatuses := make([]*int32, len(chunk))
		resultCounts := make([]*int32, len(chunk))
		credits := make([]*int32, len(chunk))
		errs := make([]*string, len(chunk))
		ranAts := make([]time.Time, len(chunk))
		for i, r := range chunk {
			zips[i] = r.Zip
			pages[i] = int32(r.Page)
			statuses[i] = r.Status
			apiStatuses[i] = toInt32(r.APIStatus)
			resultCounts[i] = toInt32(r.ResultsCount)
			credits[i] = toInt32(r.Credits)
			errs[i] = r.Error
			ranAts[i] = r.RanAt
		}
		_, err := s.pool.Exec(ctx, `
			UPDATE serper_queries q
			SET status = r.status, api_status = r.api_status,
			    results_count = r.results_count, credits = r.credits,
			    error = r.error, ran_at = r.ran_at,
			    claim_id = NULL, claimed_at = NULL
			FROM unnest(
				$3::text[], $4::int[], $5::text[], $6::int[],
				$7::int[], $8::int[], $9::text[], $10::timestamptz[]
			) AS r(zip, page, status, api_status, results_count, credits, error, ran_at)
			WHERE q.job_id = $1 AND q.zip = r.zip AND q.page = r.page
			  AND q.status = 'processing' AND q.claim_id = $2`,
			jobID, claimID, zips, pages, statuses, apiStatuses, resultCounts,
			credits, errs, ranAts)
		if err != nil {
			return fmt.Errorf("mark query results for claim %s: %w", claimID, err)
		}
	}
	return nil
}

// SkipRemainingPages marks still-queued pages beyond page 1 as skipped for
// the given zips of a job. Rows already claimed or finished keep their state.
// Returns the number of rows skipped.
func (s *Store) SkipRemainingPages(ctx context.Context, jobID string, zips []string) (int, error) {
	if len(zips) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE serper_queries
		SET status = $3, error = $4, ran_at = now()
		WHERE job_id = $1 AND zip = ANY($2) AND page > 1 AND status = 'queued'`,
		jobID, zips, domain.QueryStatusSkipped, domain.EarlyExitMarker)
	if err != nil {
		return 0, fmt.Errorf("skip remaining pages for job %s: %w", jobID, err)
	}
	return int(tag.RowsAffected()), nil
}

// ReapStuckClaims returns to queued state all processing rows claimed before
// cutoff. Crashed workers leave such rows behind; the reset makes their work
// claimable again. Returns the number of rows recovered.
func (s *Store) ReapStuckClaims(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE serper_queries
		SET status = 'queued', claim_id = NULL, claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stuck claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ReleaseClaim immediately returns all processing rows of a claim to queued
// state, used when a batch aborts before writing results. Returns the number
// of rows released.
func (s *Store) ReleaseClaim(ctx context.Context, claimID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE serper_queries
		SET status = 'queued', claim_id = NULL, claimed_at = NULL
		WHERE claim_id = $1 AND status = 'processing'`, claimID)
	if err != nil {
		return 0, fmt.Errorf("release claim %s: %w", claimID, err)
	}
	return int(tag.RowsAffected()), nil
}

func toInt32(v *int) *int32 {
	if v == nil {
		return nil
	}
	n := int32(*v)
	return &n
}
