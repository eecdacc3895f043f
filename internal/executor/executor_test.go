package executor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serptap/serptap/internal/domain"
	"github.com/serptap/serptap/internal/serper"
)

type mockStore struct {
	mu    sync.Mutex
	calls []string

	claimBatchFunc         func(ctx context.Context, jobID string, limit int) (*domain.Batch, error)
	markQueryResultsFunc   func(ctx context.Context, jobID, claimID string, results []domain.QueryResult, chunkSize int) error
	skipRemainingPagesFunc func(ctx context.Context, jobID string, zips []string) (int, error)
	releaseClaimFunc       func(ctx context.Context, claimID string) (int, error)
	upsertPlacesFunc       func(ctx context.Context, places []domain.Place, chunkSize int) (int, error)
	updateJobStatsFunc     func(ctx context.Context, jobID string) error
}

func (m *mockStore) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockStore) ClaimBatch(ctx context.Context, jobID string, limit int) (*domain.Batch, error) {
	m.record("ClaimBatch")
	return m.claimBatchFunc(ctx, jobID, limit)
}

func (m *mockStore) MarkQueryResults(ctx context.Context, jobID, claimID string, results []domain.QueryResult, chunkSize int) error {
	m.record("MarkQueryResults")
	if m.markQueryResultsFunc == nil {
		return nil
	}
	return m.markQueryResultsFunc(ctx, jobID, claimID, results, chunkSize)
}

func (m *mockStore) SkipRemainingPages(ctx context.Context, jobID string, zips []string) (int, error) {
	m.record("SkipRemainingPages")
	if m.skipRemainingPagesFunc == nil {
		return 0, nil
	}
	return m.skipRemainingPagesFunc(ctx, jobID, zips)
}

func (m *mockStore) ReleaseClaim(ctx context.Context, claimID string) (int, error) {
	m.record("ReleaseClaim")
	if m.releaseClaimFunc == nil {
		return 0, nil
	}
	return m.releaseClaimFunc(ctx, claimID)
}

func (m *mockStore) UpsertPlaces(ctx context.Context, places []domain.Place, chunkSize int) (int, error) {
	m.record("UpsertPlaces")
	if m.upsertPlacesFunc == nil {
		return len(places), nil
	}
	return m.upsertPlacesFunc(ctx, places, chunkSize)
}

func (m *mockStore) UpdateJobStats(ctx context.Context, jobID string) error {
	m.record("UpdateJobStats")
	if m.updateJobStatsFunc == nil {
		return nil
	}
	return m.updateJobStatsFunc(ctx, jobID)
}

type stubSearcher struct {
	searchFunc func(ctx context.Context, q string, page int) (*serper.Result, error)
}

func (s *stubSearcher) Search(ctx context.Context, q string, page int) (*serper.Result, error) {
	return s.searchFunc(ctx, q, page)
}

func fixedResult(n int) *serper.Result {
	res := &serper.Result{Credits: 1, APIStatus: http.StatusOK, ElapsedMS: 10}
	for i := 0; i < n; i++ {
		res.Places = append(res.Places, serper.PlaceRecord{
			UID: "uid-" + string(rune('a'+i)),
			Raw: []byte(`{"placeId":"x"}`),
		})
	}
	return res
}

func testBatch(jobID string, queries ...[2]any) *domain.Batch {
	b := &domain.Batch{ClaimID: "claim-1-abc"}
	for _, q := range queries {
		b.Queries = append(b.Queries, domain.Query{
			JobID:  jobID,
			Zip:    q[0].(string),
			Page:   q[1].(int),
			Q:      q[0].(string) + " plumber",
			Status: domain.QueryStatusProcessing,
		})
	}
	return b
}

func execJob() *domain.Job {
	return &domain.Job{
		ID: "job-1",
		JobParams: domain.JobParams{
			Keyword: "plumber", State: "RI", Pages: 3,
			BatchSize: 10, Concurrency: 4,
		},
		Status: domain.JobStatusRunning,
	}
}

func newTestExecutor(store Store, search serper.Searcher) *Executor {
	return New(Params{
		Store:              store,
		Live:               search,
		Mock:               search,
		EarlyExitThreshold: 10,
		ChunkSize:          500,
	})
}

func TestProcessBatchPlacesBeforeStatuses(t *testing.T) {
	store := &mockStore{
		claimBatchFunc: func(ctx context.Context, jobID string, limit int) (*domain.Batch, error) {
			return testBatch(jobID, [2]any{"02901", 1}), nil
		},
	}
	search := &stubSearcher{searchFunc: func(ctx context.Context, q string, page int) (*serper.Result, error) {
		return fixedResult(10), nil
	}}

	res, err := newTestExecutor(store, search).ProcessBatch(context.Background(), execJob())
	if err != nil {
		t.Fatalf("ProcessBatch() error: %v", err)
	}
	if res.Processed != 1 || res.Succeeded != 1 || res.Places != 10 {
		t.Errorf("unexpected result: %+v", res)
	}

	want := []string{"ClaimBatch", "UpsertPlaces", "MarkQueryResults", "UpdateJobStats"}
	if len(store.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", store.calls, want)
	}
	for i := range want {
		if store.calls[i] != want[i] {
			t.Fatalf("call %d = %s, want %s (order: %v)", i, store.calls[i], want[i], store.calls)
		}
	}
}

func TestProcessBatchEarlyExit(t *testing.T) {
	var skippedZips []string
	store := &mockStore{
		claimBatchFunc: func(ctx context.Context, jobID string, limit int) (*domain.Batch, error) {
			return testBatch(jobID,
				[2]any{"02901", 1}, // 3 results, below threshold
				[2]any{"02902", 1}, // 10 results, full page
				[2]any{"02903", 2}, // later page, never triggers early exit
			), nil
		},
		skipRemainingPagesFunc: func(ctx context.Context, jobID string, zips []string) (int, error) {
			skippedZips = zips
			return 2, nil
		},
	}
	search := &stubSearcher{searchFunc: func(ctx context.Context, q string, page int) (*serper.Result, error) {
		if strings.HasPrefix(q, "02901") || page > 1 {
			return fixedResult(3), nil
		}
		return fixedResult(10), nil
	}}

	res, err := newTestExecutor(store, search).ProcessBatch(context.Background(), execJob())
	if err != nil {
		t.Fatalf("ProcessBatch() error: %v", err)
	}
	if len(skippedZips) != 1 || skippedZips[0] != "02901" {
		t.Errorf("skipped zips = %v, want [02901]", skippedZips)
	}
	if res.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", res.Skipped)
	}
}

func TestProcessBatchFailureIsolation(t *testing.T) {
	var marked []domain.QueryResult
	store := &mockStore{
		claimBatchFunc: func(ctx context.Context, jobID string, limit int) (*domain.Batch, error) {
			return testBatch(jobID, [2]any{"02901", 1}, [2]any{"02902", 1}), nil
		},
		markQueryResultsFunc: func(ctx context.Context, jobID, claimID string, results []domain.QueryResult, chunkSize int) error {
			marked = results
			return nil
		},
	}
	search := &stubSearcher{searchFunc: func(ctx context.Context, q string, page int) (*serper.Result, error) {
		if strings.HasPrefix(q, "02901") {
			return &serper.Result{APIStatus: http.StatusInternalServerError, ElapsedMS: 5},
				&serper.TransientError{Err: errors.New("status 500")}
		}
		return fixedResult(10), nil
	}}

	res, err := newTestExecutor(store, search).ProcessBatch(context.Background(), execJob())
	if err != nil {
		t.Fatalf("ProcessBatch() error: %v", err)
	}
	if res.Failed != 1 || res.Succeeded != 1 || res.BatchFailed {
		t.Errorf("unexpected result: %+v", res)
	}

	byZip := map[string]domain.QueryResult{}
	for _, r := range marked {
		byZip[r.Zip] = r
	}
	failed := byZip["02901"]
	if failed.Status != domain.QueryStatusFailed || failed.Error == nil {
		t.Errorf("failed query not recorded: %+v", failed)
	}
	if failed.APIStatus == nil || *failed.APIStatus != http.StatusInternalServerError {
		t.Errorf("failed query should carry the API status: %+v", failed)
	}
	if byZip["02902"].Status != domain.QueryStatusSuccess {
		t.Errorf("sibling query should succeed: %+v", byZip["02902"])
	}
}

func TestProcessBatchUpsertFailureReleasesClaim(t *testing.T) {
	var released string
	store := &mockStore{
		claimBatchFunc: func(ctx context.Context, jobID string, limit int) (*domain.Batch, error) {
			return testBatch(jobID, [2]any{"02901", 1}), nil
		},
		upsertPlacesFunc: func(ctx context.Context, places []domain.Place, chunkSize int) (int, error) {
			return 0, errors.New("connection reset")
		},
		releaseClaimFunc: func(ctx context.Context, claimID string) (int, error) {
			released = claimID
			return 1, nil
		},
	}
	search := &stubSearcher{searchFunc: func(ctx context.Context, q string, page int) (*serper.Result, error) {
		return fixedResult(10), nil
	}}

	res, err := newTestExecutor(store, search).ProcessBatch(context.Background(), execJob())
	if err == nil {
		t.Fatal("ProcessBatch() should fail when places cannot be persisted")
	}
	if !res.BatchFailed {
		t.Error("BatchFailed should be set")
	}
	if released != "claim-1-abc" {
		t.Errorf("released claim = %q, want claim-1-abc", released)
	}
	for _, call := range store.calls {
		if call == "MarkQueryResults" {
			t.Error("statuses must not be written after an aborted places upsert")
		}
	}
}

func TestProcessBatchConcurrencyCap(t *testing.T) {
	const queries = 20
	batch := &domain.Batch{ClaimID: "claim-1-abc"}
	for i := 0; i < queries; i++ {
		batch.Queries = append(batch.Queries, domain.Query{
			JobID: "job-1", Zip: "0290" + string(rune('0'+i%10)), Page: i/10 + 1,
		})
	}
	store := &mockStore{
		claimBatchFunc: func(ctx context.Context, jobID string, limit int) (*domain.Batch, error) {
			return batch, nil
		},
	}

	var inFlight, peak atomic.Int32
	search := &stubSearcher{searchFunc: func(ctx context.Context, q string, page int) (*serper.Result, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return fixedResult(0), nil
	}}

	job := execJob()
	job.Concurrency = 4
	if _, err := newTestExecutor(store, search).ProcessBatch(context.Background(), job); err != nil {
		t.Fatalf("ProcessBatch() error: %v", err)
	}
	if got := peak.Load(); got > 4 {
		t.Errorf("peak in-flight searches = %d, want <= 4", got)
	}
}

func TestProcessBatchEmptyQueue(t *testing.T) {
	var searched atomic.Int32
	store := &mockStore{
		claimBatchFunc: func(ctx context.Context, jobID string, limit int) (*domain.Batch, error) {
			return &domain.Batch{ClaimID: "claim-1-abc"}, nil
		},
	}
	search := &stubSearcher{searchFunc: func(ctx context.Context, q string, page int) (*serper.Result, error) {
		searched.Add(1)
		return fixedResult(0), nil
	}}

	res, err := newTestExecutor(store, search).ProcessBatch(context.Background(), execJob())
	if err != nil {
		t.Fatalf("ProcessBatch() error: %v", err)
	}
	if res.Processed != 0 || searched.Load() != 0 {
		t.Errorf("empty claim should do nothing, got %+v with %d searches", res, searched.Load())
	}
}

func TestProcessBatchDryRunUsesMock(t *testing.T) {
	var liveCalls, mockCalls atomic.Int32
	live := &stubSearcher{searchFunc: func(ctx context.Context, q string, page int) (*serper.Result, error) {
		liveCalls.Add(1)
		return fixedResult(0), nil
	}}
	mock := &stubSearcher{searchFunc: func(ctx context.Context, q string, page int) (*serper.Result, error) {
		mockCalls.Add(1)
		return fixedResult(0), nil
	}}
	store := &mockStore{
		claimBatchFunc: func(ctx context.Context, jobID string, limit int) (*domain.Batch, error) {
			return testBatch(jobID, [2]any{"02901", 1}), nil
		},
	}

	exec := New(Params{Store: store, Live: live, Mock: mock, EarlyExitThreshold: 10, ChunkSize: 500})
	job := execJob()
	job.DryRun = true
	if _, err := exec.ProcessBatch(context.Background(), job); err != nil {
		t.Fatalf("ProcessBatch() error: %v", err)
	}
	if liveCalls.Load() != 0 || mockCalls.Load() != 1 {
		t.Errorf("dry run must use the mock client (live=%d mock=%d)", liveCalls.Load(), mockCalls.Load())
	}
}

func TestProcessBatchRecordsZeroCredits(t *testing.T) {
	var marked []domain.QueryResult
	store := &mockStore{
		claimBatchFunc: func(ctx context.Context, jobID string, limit int) (*domain.Batch, error) {
			return testBatch(jobID, [2]any{"02901", 1}), nil
		},
		markQueryResultsFunc: func(ctx context.Context, jobID, claimID string, results []domain.QueryResult, chunkSize int) error {
			marked = results
			return nil
		},
	}
	search := &stubSearcher{searchFunc: func(ctx context.Context, q string, page int) (*serper.Result, error) {
		return &serper.Result{APIStatus: http.StatusOK, ElapsedMS: 10}, nil
	}}

	if _, err := newTestExecutor(store, search).ProcessBatch(context.Background(), execJob()); err != nil {
		t.Fatalf("ProcessBatch() error: %v", err)
	}
	if len(marked) != 1 {
		t.Fatalf("marked %d results, want 1", len(marked))
	}
	// A zero-credit response is recorded as 0, not left unset.
	if marked[0].Credits == nil || *marked[0].Credits != 0 {
		t.Errorf("Credits = %v, want explicit 0", marked[0].Credits)
	}
}

func TestProcessBatchCreditsSummed(t *testing.T) {
	store := &mockStore{
		claimBatchFunc: func(ctx context.Context, jobID string, limit int) (*domain.Batch, error) {
			return testBatch(jobID, [2]any{"02901", 1}, [2]any{"02902", 1}, [2]any{"02903", 1}), nil
		},
	}
	search := &stubSearcher{searchFunc: func(ctx context.Context, q string, page int) (*serper.Result, error) {
		return fixedResult(10), nil
	}}

	res, err := newTestExecutor(store, search).ProcessBatch(context.Background(), execJob())
	if err != nil {
		t.Fatalf("ProcessBatch() error: %v", err)
	}
	if res.Credits != 3 {
		t.Errorf("Credits = %d, want 3", res.Credits)
	}
}
