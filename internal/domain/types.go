package domain

import "time"

// Job status values. A job is created running and transitions to done exactly
// once, when no queued or processing queries remain.
const (
	JobStatusRunning = "running"
	JobStatusDone    = "done"
)

// Query status values. A query is created queued; processing is the only
// non-terminal intermediate state. success, failed and skipped are terminal.
const (
	QueryStatusQueued     = "queued"
	QueryStatusProcessing = "processing"
	QueryStatusSuccess    = "success"
	QueryStatusFailed     = "failed"
	QueryStatusSkipped    = "skipped"
)

// EarlyExitMarker is written to the error column of queries skipped by the
// early-exit optimization.
const EarlyExitMarker = "early_exit"

// JobParams are the client-supplied parameters of a scraping job. They are
// frozen at creation time.
type JobParams struct {
	Keyword     string
	State       string // two-letter US state code, upper case
	Pages       int    // pages to scrape per zip, >= 1
	BatchSize   int    // queries claimed per batch, >= 1
	Concurrency int    // in-flight search requests per batch, >= 1
	DryRun      bool   // synthetic results, no budget gate
}

// JobTotals is the rollup recomputed from the query and place tables.
// Skipped is tracked as its own bucket: successes+failures+skipped = queries
// once the job is done.
type JobTotals struct {
	Zips      int
	Queries   int
	Successes int
	Failures  int
	Skipped   int
	Places    int
	Credits   int
}

// Job is one client-requested scrape over (keyword, state) at a page depth.
type Job struct {
	ID string
	JobParams
	Status     string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Totals     JobTotals
}

// Query is a single (zip, page) unit of work, the atom of the queue.
// The key (JobID, Zip, Page) is globally unique.
type Query struct {
	JobID        string
	Zip          string
	Page         int
	Q            string // search string sent to the API, "{zip} {keyword}"
	Status       string
	ClaimID      *string
	ClaimedAt    *time.Time
	APIStatus    *int
	ResultsCount *int
	Credits      *int
	Error        *string
	RanAt        *time.Time
}

// Batch is the set of queries returned by one atomic claim. All queries share
// the claim ID and are in processing state until written back or reaped.
type Batch struct {
	ClaimID string
	Queries []Query
}

// QueryResult is one row of a batched status writeback. Only rows still
// processing under the writer's claim are updated.
type QueryResult struct {
	Zip          string
	Page         int
	Status       string // success or failed
	APIStatus    *int
	ResultsCount *int
	Credits      *int
	Error        *string
	RanAt        time.Time
}

// Place is one search result belonging to a job, unique by (JobID, PlaceUID).
// PayloadRaw always holds the verbatim API record; Payload is nil when the
// record is not valid JSON, so ingestion never loses data under schema drift.
type Place struct {
	IngestID     string
	JobID        string
	PlaceUID     string
	Keyword      string
	State        string
	Zip          string
	Page         int
	Payload      []byte
	PayloadRaw   string
	APIStatus    int
	APIMillis    int64
	ResultsCount int
	Credits      int
	IngestTS     time.Time
}

// QueueCounts holds per-status query counts for one job.
type QueueCounts struct {
	Queued     int
	Processing int
	Success    int
	Failed     int
	Skipped    int
}

// Remaining reports whether any non-terminal queries are left. The job
// completion predicate is !Remaining().
func (c QueueCounts) Remaining() bool {
	return c.Queued > 0 || c.Processing > 0
}
