package jobs

import (
	"fmt"
	"sort"

	"github.com/serptap/serptap/internal/domain"
)

// ExpandQueries produces the full (zip, page) work list for a job in
// deterministic order: zips ascending, pages 1..pages within each zip. The
// order matches the claim order, so batches walk the state zip by zip.
func ExpandQueries(jobID, keyword string, zips []string, pages int) []domain.Query {
	sorted := make([]string, len(zips))
	copy(sorted, zips)
	sort.Strings(sorted)

	queries := make([]domain.Query, 0, len(sorted)*pages)
	for _, zip := range sorted {
		for page := 1; page <= pages; page++ {
			queries = append(queries, domain.Query{
				JobID:  jobID,
				Zip:    zip,
				Page:   page,
				Q:      fmt.Sprintf("%s %s", zip, keyword),
				Status: domain.QueryStatusQueued,
			})
		}
	}
	return queries
}
