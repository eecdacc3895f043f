package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/serptap/serptap/internal/domain"
	"github.com/serptap/serptap/internal/executor"
)

type mockStore struct {
	mu sync.Mutex

	runningJobsFunc     func(ctx context.Context) ([]domain.Job, error)
	queueCountsFunc     func(ctx context.Context, jobID string) (domain.QueueCounts, error)
	markJobDoneFunc     func(ctx context.Context, jobID string) error
	updateJobStatsFunc  func(ctx context.Context, jobID string) error
	reapStuckClaimsFunc func(ctx context.Context, cutoff time.Time) (int, error)

	doneJobs   []string
	reapCalls  int
	statsCalls int
}

func (m *mockStore) RunningJobs(ctx context.Context) ([]domain.Job, error) {
	return m.runningJobsFunc(ctx)
}

func (m *mockStore) QueueCounts(ctx context.Context, jobID string) (domain.QueueCounts, error) {
	if m.queueCountsFunc == nil {
		return domain.QueueCounts{}, nil
	}
	return m.queueCountsFunc(ctx, jobID)
}

func (m *mockStore) MarkJobDone(ctx context.Context, jobID string) error {
	m.mu.Lock()
	m.doneJobs = append(m.doneJobs, jobID)
	m.mu.Unlock()
	if m.markJobDoneFunc == nil {
		return nil
	}
	return m.markJobDoneFunc(ctx, jobID)
}

func (m *mockStore) UpdateJobStats(ctx context.Context, jobID string) error {
	m.mu.Lock()
	m.statsCalls++
	m.mu.Unlock()
	if m.updateJobStatsFunc == nil {
		return nil
	}
	return m.updateJobStatsFunc(ctx, jobID)
}

func (m *mockStore) ReapStuckClaims(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	m.reapCalls++
	m.mu.Unlock()
	if m.reapStuckClaimsFunc == nil {
		return 0, nil
	}
	return m.reapStuckClaimsFunc(ctx, cutoff)
}

type mockProcessor struct {
	processBatchFunc func(ctx context.Context, job *domain.Job) (executor.BatchResult, error)
}

func (m *mockProcessor) ProcessBatch(ctx context.Context, job *domain.Job) (executor.BatchResult, error) {
	return m.processBatchFunc(ctx, job)
}

func runningJob(id string) domain.Job {
	return domain.Job{
		ID:        id,
		JobParams: domain.JobParams{Keyword: "plumber", State: "RI", BatchSize: 10, Concurrency: 2},
		Status:    domain.JobStatusRunning,
	}
}

func newTestCoordinator(store Store, proc BatchProcessor) *Coordinator {
	return New(Params{
		Store:             store,
		Processor:         proc,
		LoopDelay:         time.Millisecond,
		IdlePoll:          time.Millisecond,
		ClaimReclaimAfter: time.Hour,
		ExitWhenIdle:      true,
	})
}

func TestRunProcessesUntilDrained(t *testing.T) {
	remaining := 3
	store := &mockStore{}
	store.runningJobsFunc = func(ctx context.Context) ([]domain.Job, error) {
		store.mu.Lock()
		defer store.mu.Unlock()
		if len(store.doneJobs) > 0 {
			return nil, nil
		}
		return []domain.Job{runningJob("job-1")}, nil
	}
	store.queueCountsFunc = func(ctx context.Context, jobID string) (domain.QueueCounts, error) {
		return domain.QueueCounts{Success: 9}, nil
	}
	proc := &mockProcessor{processBatchFunc: func(ctx context.Context, job *domain.Job) (executor.BatchResult, error) {
		if remaining > 0 {
			remaining--
			return executor.BatchResult{Processed: 3, Succeeded: 3}, nil
		}
		return executor.BatchResult{}, nil
	}}

	if err := newTestCoordinator(store, proc).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(store.doneJobs) != 1 || store.doneJobs[0] != "job-1" {
		t.Errorf("done jobs = %v, want [job-1]", store.doneJobs)
	}
	if store.statsCalls == 0 {
		t.Error("final rollup should run before the job is marked done")
	}
	if store.reapCalls == 0 {
		t.Error("reaper should sweep every iteration")
	}
}

func TestRunDoesNotFinishJobWithProcessingRows(t *testing.T) {
	iterations := 0
	store := &mockStore{}
	store.runningJobsFunc = func(ctx context.Context) ([]domain.Job, error) {
		iterations++
		if iterations > 3 {
			return nil, nil
		}
		return []domain.Job{runningJob("job-1")}, nil
	}
	store.queueCountsFunc = func(ctx context.Context, jobID string) (domain.QueueCounts, error) {
		// Another worker still owns a claim on this job.
		return domain.QueueCounts{Processing: 2}, nil
	}
	proc := &mockProcessor{processBatchFunc: func(ctx context.Context, job *domain.Job) (executor.BatchResult, error) {
		return executor.BatchResult{}, nil
	}}

	if err := newTestCoordinator(store, proc).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(store.doneJobs) != 0 {
		t.Errorf("job with processing rows must stay running, done = %v", store.doneJobs)
	}
}

func TestRunBatchErrorKeepsLooping(t *testing.T) {
	calls := 0
	store := &mockStore{}
	store.runningJobsFunc = func(ctx context.Context) ([]domain.Job, error) {
		if calls >= 2 {
			return nil, nil
		}
		return []domain.Job{runningJob("job-1")}, nil
	}
	proc := &mockProcessor{processBatchFunc: func(ctx context.Context, job *domain.Job) (executor.BatchResult, error) {
		calls++
		return executor.BatchResult{BatchFailed: true}, errors.New("places upsert failed")
	}}

	if err := newTestCoordinator(store, proc).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if calls != 2 {
		t.Errorf("ProcessBatch calls = %d, want 2", calls)
	}
	if len(store.doneJobs) != 0 {
		t.Errorf("failed batches must not finish the job, done = %v", store.doneJobs)
	}
}

func TestRunSurvivesJobListFailure(t *testing.T) {
	attempts := 0
	store := &mockStore{}
	store.runningJobsFunc = func(ctx context.Context) ([]domain.Job, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection reset by peer")
		}
		return nil, nil
	}
	proc := &mockProcessor{processBatchFunc: func(ctx context.Context, job *domain.Job) (executor.BatchResult, error) {
		t.Fatal("no batches should run")
		return executor.BatchResult{}, nil
	}}

	if err := newTestCoordinator(store, proc).Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if attempts != 2 {
		t.Errorf("RunningJobs attempts = %d, want 2 (retry after the failure)", attempts)
	}
}

func TestRunStopsAtBatchBoundaryOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var processed int
	store := &mockStore{}
	store.runningJobsFunc = func(ctx context.Context) ([]domain.Job, error) {
		return []domain.Job{runningJob("job-1"), runningJob("job-2")}, nil
	}
	proc := &mockProcessor{processBatchFunc: func(ctx context.Context, job *domain.Job) (executor.BatchResult, error) {
		processed++
		cancel()
		if ctx.Err() != nil {
			t.Error("batch context must survive shutdown")
		}
		return executor.BatchResult{Processed: 1}, nil
	}}

	coord := New(Params{
		Store: store, Processor: proc,
		LoopDelay: time.Millisecond, IdlePoll: time.Millisecond,
		ClaimReclaimAfter: time.Hour,
	})
	if err := coord.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d batches after cancel, want 1 (stop between jobs)", processed)
	}
}

func TestRunExitsImmediatelyWhenIdle(t *testing.T) {
	store := &mockStore{}
	store.runningJobsFunc = func(ctx context.Context) ([]domain.Job, error) {
		return nil, nil
	}
	proc := &mockProcessor{processBatchFunc: func(ctx context.Context, job *domain.Job) (executor.BatchResult, error) {
		t.Fatal("no batches should run")
		return executor.BatchResult{}, nil
	}}

	done := make(chan error, 1)
	go func() { done <- newTestCoordinator(store, proc).Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not exit when idle")
	}
}
