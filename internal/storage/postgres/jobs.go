package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/serptap/serptap/internal/domain"
)

const jobColumns = `job_id, keyword, state, pages, batch_size, concurrency, dry_run,
	status, created_at, started_at, finished_at,
	total_zips, total_queries, total_successes, total_failures, total_skipped,
	total_places, total_credits`

// CreateJob inserts a new job row. Re-inserting the same job id is a no-op,
// so a crashed-and-retried create never produces a second job.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO serper_jobs (
			job_id, keyword, state, pages, batch_size, concurrency, dry_run,
			status, started_at, total_zips, total_queries
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), $9, $10)
		ON CONFLICT (job_id) DO NOTHING`,
		job.ID, job.Keyword, job.State, job.Pages, job.BatchSize, job.Concurrency,
		job.DryRun, domain.JobStatusRunning, job.Totals.Zips, job.Totals.Queries)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob fetches a job with its rollup totals.
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM serper_jobs WHERE job_id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// RunningJobs returns all jobs still in running state, oldest first.
func (s *Store) RunningJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM serper_jobs
		WHERE status = $1
		ORDER BY created_at`, domain.JobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan running job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list running jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJobStats recomputes the job's totals from the query and place tables.
// Credits are summed over all non-queued queries so partially processed jobs
// report spend accurately.
func (s *Store) UpdateJobStats(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE serper_jobs j SET
			total_queries   = q.total,
			total_successes = q.successes,
			total_failures  = q.failures,
			total_skipped   = q.skipped,
			total_credits   = q.credits,
			total_places    = p.places
		FROM (
			SELECT
				count(*)                                   AS total,
				count(*) FILTER (WHERE status = 'success') AS successes,
				count(*) FILTER (WHERE status = 'failed')  AS failures,
				count(*) FILTER (WHERE status = 'skipped') AS skipped,
				COALESCE(sum(credits) FILTER (WHERE status <> 'queued'), 0) AS credits
			FROM serper_queries WHERE job_id = $1
		) q, (
			SELECT count(*) AS places FROM serper_places WHERE job_id = $1
		) p
		WHERE j.job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("update job stats %s: %w", jobID, err)
	}
	return nil
}

// MarkJobDone finishes a job. Calling it again keeps the original finish
// timestamp.
func (s *Store) MarkJobDone(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE serper_jobs
		SET status = $2, finished_at = COALESCE(finished_at, now())
		WHERE job_id = $1`, jobID, domain.JobStatusDone)
	if err != nil {
		return fmt.Errorf("mark job done %s: %w", jobID, err)
	}
	return nil
}

// DailyCreditUsage sums the credits of all jobs created on the given day (UTC).
func (s *Store) DailyCreditUsage(ctx context.Context, day time.Time) (int, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	var credits int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(total_credits), 0)
		FROM serper_jobs
		WHERE created_at >= $1 AND created_at < $2`,
		start, start.Add(24*time.Hour)).Scan(&credits)
	if err != nil {
		return 0, fmt.Errorf("daily credit usage: %w", err)
	}
	return credits, nil
}

// QueueCounts returns the per-status query counts for a job.
func (s *Store) QueueCounts(ctx context.Context, jobID string) (domain.QueueCounts, error) {
	var c domain.QueueCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'queued'),
			count(*) FILTER (WHERE status = 'processing'),
			count(*) FILTER (WHERE status = 'success'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status = 'skipped')
		FROM serper_queries WHERE job_id = $1`, jobID).
		Scan(&c.Queued, &c.Processing, &c.Success, &c.Failed, &c.Skipped)
	if err != nil {
		return domain.QueueCounts{}, fmt.Errorf("queue counts %s: %w", jobID, err)
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	err := row.Scan(
		&job.ID, &job.Keyword, &job.State, &job.Pages, &job.BatchSize,
		&job.Concurrency, &job.DryRun, &job.Status, &job.CreatedAt,
		&job.StartedAt, &job.FinishedAt,
		&job.Totals.Zips, &job.Totals.Queries, &job.Totals.Successes,
		&job.Totals.Failures, &job.Totals.Skipped, &job.Totals.Places,
		&job.Totals.Credits)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
