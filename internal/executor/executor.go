// Package executor runs one claimed batch of queries end to end: parallel
// search fan-out, place persistence, status writeback, early-exit skips and
// the job rollup.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/serptap/serptap/internal/domain"
	"github.com/serptap/serptap/internal/serper"
)

// Store is the storage surface the executor needs.
type Store interface {
	ClaimBatch(ctx context.Context, jobID string, limit int) (*domain.Batch, error)
	MarkQueryResults(ctx context.Context, jobID, claimID string, results []domain.QueryResult, chunkSize int) error
	SkipRemainingPages(ctx context.Context, jobID string, zips []string) (int, error)
	ReleaseClaim(ctx context.Context, claimID string) (int, error)
	UpsertPlaces(ctx context.Context, places []domain.Place, chunkSize int) (int, error)
	UpdateJobStats(ctx context.Context, jobID string) error
}

// Params configures an Executor.
type Params struct {
	Store              Store
	Live               serper.Searcher
	Mock               serper.Searcher
	UseMockAPI         bool
	EarlyExitThreshold int
	ChunkSize          int
}

// Executor processes batches for running jobs.
type Executor struct {
	store     Store
	live      serper.Searcher
	mock      serper.Searcher
	useMock   bool
	threshold int
	chunkSize int
}

// BatchResult summarizes one processed batch.
type BatchResult struct {
	Processed   int // queries claimed and resolved
	Succeeded   int
	Failed      int
	Places      int // place rows newly inserted
	Skipped     int // later pages skipped by early exit
	Credits     int
	BatchFailed bool // the whole batch aborted and its claim was released
}

// New creates an executor.
func New(p Params) *Executor {
	return &Executor{
		store:     p.Store,
		live:      p.Live,
		mock:      p.Mock,
		useMock:   p.UseMockAPI,
		threshold: p.EarlyExitThreshold,
		chunkSize: p.ChunkSize,
	}
}

type outcome struct {
	result *serper.Result
	err    error
}

// ProcessBatch claims and processes one batch for the job. Individual query
// failures are recorded per row and never fail the batch; only a failure to
// persist places aborts, releasing the claim so the rows are retried later.
// Places are written before query statuses so a success status always has
// its places on disk.
func (e *Executor) ProcessBatch(ctx context.Context, job *domain.Job) (BatchResult, error) {
	batch, err := e.store.ClaimBatch(ctx, job.ID, job.BatchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("claim batch: %w", err)
	}
	if len(batch.Queries) == 0 {
		return BatchResult{}, nil
	}

	searcher := e.live
	if e.useMock || job.DryRun {
		searcher = e.mock
	}

	outcomes := make([]outcome, len(batch.Queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(job.Concurrency)
	for i, q := range batch.Queries {
		g.Go(func() error {
			res, err := searcher.Search(gctx, q.Q, q.Page)
			outcomes[i] = outcome{result: res, err: err}
			// Failures are recorded per query, not propagated, so one bad
			// query never cancels its siblings.
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now().UTC()
	res := BatchResult{Processed: len(batch.Queries)}
	var results []domain.QueryResult
	var places []domain.Place
	var earlyExitZips []string

	for i, q := range batch.Queries {
		out := outcomes[i]
		qr := domain.QueryResult{Zip: q.Zip, Page: q.Page, RanAt: now}
		if out.result != nil {
			status := out.result.APIStatus
			qr.APIStatus = &status
			credits := out.result.Credits
			qr.Credits = &credits
			res.Credits += credits
		}
		if out.err != nil {
			qr.Status = domain.QueryStatusFailed
			msg := out.err.Error()
			qr.Error = &msg
			res.Failed++
			slog.WarnContext(ctx, "query failed",
				"job_id", job.ID, "zip", q.Zip, "page", q.Page, "error", out.err)
		} else {
			count := len(out.result.Places)
			qr.Status = domain.QueryStatusSuccess
			qr.ResultsCount = &count
			res.Succeeded++
			if q.Page == 1 && count < e.threshold {
				earlyExitZips = append(earlyExitZips, q.Zip)
			}
			for _, p := range out.result.Places {
				place := domain.Place{
					IngestID:     uuid.NewString(),
					JobID:        job.ID,
					PlaceUID:     p.UID,
					Keyword:      job.Keyword,
					State:        job.State,
					Zip:          q.Zip,
					Page:         q.Page,
					PayloadRaw:   string(p.Raw),
					APIStatus:    out.result.APIStatus,
					APIMillis:    out.result.ElapsedMS,
					ResultsCount: count,
					Credits:      out.result.Credits,
				}
				if json.Valid(p.Raw) {
					place.Payload = p.Raw
				}
				places = append(places, place)
			}
		}
		results = append(results, qr)
	}

	inserted, err := e.store.UpsertPlaces(ctx, places, e.chunkSize)
	if err != nil {
		if _, relErr := e.store.ReleaseClaim(ctx, batch.ClaimID); relErr != nil {
			slog.ErrorContext(ctx, "failed to release claim after aborted batch",
				"job_id", job.ID, "claim_id", batch.ClaimID, "error", relErr)
		}
		return BatchResult{BatchFailed: true}, fmt.Errorf("upsert places: %w", err)
	}
	res.Places = inserted

	if err := e.store.MarkQueryResults(ctx, job.ID, batch.ClaimID, results, e.chunkSize); err != nil {
		if _, relErr := e.store.ReleaseClaim(ctx, batch.ClaimID); relErr != nil {
			slog.ErrorContext(ctx, "failed to release claim after aborted batch",
				"job_id", job.ID, "claim_id", batch.ClaimID, "error", relErr)
		}
		return BatchResult{BatchFailed: true}, fmt.Errorf("mark query results: %w", err)
	}

	if len(earlyExitZips) > 0 {
		skipped, err := e.store.SkipRemainingPages(ctx, job.ID, earlyExitZips)
		if err != nil {
			// Rows stay queued; a later batch re-evaluates them normally.
			slog.WarnContext(ctx, "failed to skip remaining pages",
				"job_id", job.ID, "zips", earlyExitZips, "error", err)
		} else {
			res.Skipped = skipped
		}
	}

	if err := e.store.UpdateJobStats(ctx, job.ID); err != nil {
		slog.WarnContext(ctx, "failed to update job stats", "job_id", job.ID, "error", err)
	}

	slog.InfoContext(ctx, "batch processed",
		"job_id", job.ID, "claim_id", batch.ClaimID,
		"processed", res.Processed, "succeeded", res.Succeeded,
		"failed", res.Failed, "places", res.Places,
		"skipped", res.Skipped, "credits", res.Credits)
	return res, nil
}
