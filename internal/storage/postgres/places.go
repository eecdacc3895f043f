package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/serptap/serptap/internal/domain"
)

// Data lineage markers stamped on every place row.
const (
	placeSource        = "serper_places"
	placeSourceVersion = "v1"
)

// UpsertPlaces inserts place rows in chunks of chunkSize. A (job_id,
// place_uid) key that already exists is left untouched, so replaying a batch
// after a crash never duplicates places. Callers pass Payload nil for
// records that are not valid JSON; payload_raw always keeps the verbatim
// bytes. Returns the number of rows actually inserted.
func (s *Store) UpsertPlaces(ctx context.Context, places []domain.Place, chunkSize int) (int, error) {
	inserted := 0
	for _, chunk := range chunked(places, chunkSize) {
		ingestIDs := make([]string, len(chunk))
		jobIDs := make([]string, len(chunk))
		uids := make([]string, len(chunk))
		keywords := make([]string, len(chunk))
		states := make([]string, len(chunk))
		zips := make([]string, len(chunk))
		pages := make([]int32, len(chunk))
		payloads := make([]*string, len(chunk))
		raws := make([]string, len(chunk))
		apiStatuses := make([]int32, len(chunk))
		apiMillis := make([]int64, len(chunk))
		resultCounts := make([]int32, len(chunk))
		credits := make([]int32, len(chunk))
		for i, p := range chunk {
			ingestIDs[i] = p.IngestID
			jobIDs[i] = p.JobID
			uids[i] = p.PlaceUID
			keywords[i] = p.Keyword
			states[i] = p.State
			zips[i] = p.Zip
			pages[i] = int32(p.Page)
			if p.Payload != nil {
				v := string(p.Payload)
				payloads[i] = &v
			}
			raws[i] = p.PayloadRaw
			apiStatuses[i] = int32(p.APIStatus)
			apiMillis[i] = p.APIMillis
			resultCounts[i] = int32(p.ResultsCount)
			credits[i] = int32(p.Credits)
		}
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO serper_places (
				ingest_id, job_id, place_uid, keyword, state, zip, page,
				payload, payload_raw, api_status, api_ms, results_count,
				credits, source, source_version
			)
			SELECT r.ingest_id, r.job_id, r.place_uid, r.keyword, r.state,
			       r.zip, r.page, r.payload::jsonb, r.payload_raw,
			       r.api_status, r.api_ms, r.results_count, r.credits, $14, $15
			FROM unnest(
				$1::text[], $2::text[], $3::text[], $4::text[], $5::text[],
				$6::text[], $7::int[], $8::text[], $9::text[], $10::int[],
				$11::bigint[], $12::int[], $13::int[]
			) AS r(ingest_id, job_id, place_uid, keyword, state, zip, page,
			       payload, payload_raw, api_status, api_ms, results_count, credits)
			ON CONFLICT (job_id, place_uid) DO NOTHING`,
			ingestIDs, jobIDs, uids, keywords, states, zips, pages,
			payloads, raws, apiStatuses, apiMillis, resultCounts, credits,
			placeSource, placeSourceVersion)
		if err != nil {
			return inserted, fmt.Errorf("upsert places: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// ParseSuccessRatio counts the day's ingested place rows and how many of
// them carry a parsed payload. A NULL payload marks a record the jsonb
// parser rejected; the raw text is still on the row.
func (s *Store) ParseSuccessRatio(ctx context.Context, day time.Time) (parsed, total int, err error) {
	start := day.UTC().Truncate(24 * time.Hour)
	err = s.pool.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE payload IS NOT NULL), count(*)
		FROM serper_places
		WHERE ingest_ts >= $1 AND ingest_ts < $2`,
		start, start.Add(24*time.Hour)).Scan(&parsed, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("parse success ratio: %w", err)
	}
	return parsed, total, nil
}

// PlaceCount returns the number of places stored for a job.
func (s *Store) PlaceCount(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM serper_places WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("place count %s: %w", jobID, err)
	}
	return n, nil
}
