// Package jobs owns the job lifecycle: validation, decomposition into
// queries, the budget gate at creation and status reads for monitoring.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/serptap/serptap/internal/budget"
	"github.com/serptap/serptap/internal/domain"
)

// Store is the storage surface the job service needs.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	EnqueueQueries(ctx context.Context, queries []domain.Query, chunkSize int) (int, error)
	QueueCounts(ctx context.Context, jobID string) (domain.QueueCounts, error)
	ZipsForState(ctx context.Context, state string) ([]string, error)
}

// Authorizer gates job creation on the daily budget.
type Authorizer interface {
	Authorize(ctx context.Context, estimatedCredits int) error
}

// Defaults fill in job parameters the caller left unset.
type Defaults struct {
	Pages       int
	BatchSize   int
	Concurrency int
}

// Service creates and inspects jobs.
type Service struct {
	store      Store
	guard      Authorizer
	defaults   Defaults
	chunkSize  int
	useMockAPI bool
}

// New creates a job service. useMockAPI mirrors the processor setting; mock
// runs spend nothing, so they bypass the budget gate like dry runs do.
func New(store Store, guard Authorizer, defaults Defaults, chunkSize int, useMockAPI bool) *Service {
	return &Service{
		store:      store,
		guard:      guard,
		defaults:   defaults,
		chunkSize:  chunkSize,
		useMockAPI: useMockAPI,
	}
}

// JobStatus is the monitoring view of a job.
type JobStatus struct {
	Job    *domain.Job        `json:"job"`
	Counts domain.QueueCounts `json:"queue"`
}

// Create validates the parameters, checks the budget and enqueues the full
// query work list. The new job starts in running state and is picked up by
// the next processor iteration.
func (s *Service) Create(ctx context.Context, params domain.JobParams) (*domain.Job, error) {
	params = s.applyDefaults(params)
	if err := validateParams(params); err != nil {
		return nil, err
	}

	zips, err := s.store.ZipsForState(ctx, params.State)
	if err != nil {
		return nil, fmt.Errorf("load zips for state %s: %w", params.State, err)
	}
	if len(zips) == 0 {
		return nil, domain.NewValidationError("state",
			fmt.Sprintf("no zip codes on record for %s", params.State))
	}

	estimated := budget.EstimateCredits(len(zips), params.Pages)
	if !params.DryRun && !s.useMockAPI {
		if err := s.guard.Authorize(ctx, estimated); err != nil {
			return nil, err
		}
	}

	job := &domain.Job{
		ID:        uuid.NewString(),
		JobParams: params,
		Status:    domain.JobStatusRunning,
		Totals: domain.JobTotals{
			Zips:    len(zips),
			Queries: len(zips) * params.Pages,
		},
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	queries := ExpandQueries(job.ID, params.Keyword, zips, params.Pages)
	inserted, err := s.store.EnqueueQueries(ctx, queries, s.chunkSize)
	if err != nil {
		return nil, fmt.Errorf("enqueue queries for job %s: %w", job.ID, err)
	}

	slog.InfoContext(ctx, "job created",
		"job_id", job.ID, "keyword", params.Keyword, "state", params.State,
		"zips", len(zips), "pages", params.Pages, "queries", inserted,
		"estimated_credits", estimated, "dry_run", params.DryRun)
	return job, nil
}

// Status returns the job with its live queue counts.
func (s *Service) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.QueueCounts(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobStatus{Job: job, Counts: counts}, nil
}

func (s *Service) applyDefaults(p domain.JobParams) domain.JobParams {
	p.Keyword = strings.TrimSpace(p.Keyword)
	p.State = strings.ToUpper(strings.TrimSpace(p.State))
	if p.Pages == 0 {
		p.Pages = s.defaults.Pages
	}
	if p.BatchSize == 0 {
		p.BatchSize = s.defaults.BatchSize
	}
	if p.Concurrency == 0 {
		p.Concurrency = s.defaults.Concurrency
	}
	return p
}

func validateParams(p domain.JobParams) error {
	if p.Keyword == "" {
		return domain.NewValidationError("keyword", "must not be empty")
	}
	if len(p.State) != 2 || !isAlpha(p.State) {
		return domain.NewValidationError("state", "must be a two-letter US state code")
	}
	if p.Pages < 1 {
		return domain.NewValidationError("pages", "must be at least 1")
	}
	if p.BatchSize < 1 {
		return domain.NewValidationError("batch_size", "must be at least 1")
	}
	if p.Concurrency < 1 {
		return domain.NewValidationError("concurrency", "must be at least 1")
	}
	return nil
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
