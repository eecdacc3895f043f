package serper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"net/http"
	"strings"
)

// MockClient produces synthetic Serper-shaped results without network
// access. It serves offline development and dry-run jobs. Results are
// deterministic per (q, page) so repeated runs stay comparable.
type MockClient struct{}

var _ Searcher = (*MockClient)(nil)

// NewMockClient creates a mock search client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Search fabricates between 0 and 10 places for the query. The zip is taken
// from the first token of q, matching the real query format.
func (m *MockClient) Search(_ context.Context, q string, page int) (*Result, error) {
	zip := q
	if i := strings.IndexByte(q, ' '); i >= 0 {
		zip = q[:i]
	}

	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d", q, page)
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	n := rng.Intn(resultsPerPage + 1)
	result := &Result{
		Credits:   1,
		APIStatus: http.StatusOK,
		ElapsedMS: int64(rng.Intn(200) + 50),
	}
	for i := 0; i < n; i++ {
		uid := fmt.Sprintf("mock-%s-%d-%d", zip, page, i)
		raw := fmt.Sprintf(
			`{"placeId":%q,"title":"Mock Business %d","address":"%d Main St, %s","position":%d}`,
			uid, i+1, 100+i, zip, i+1)
		result.Places = append(result.Places, PlaceRecord{UID: uid, Raw: []byte(raw)})
	}
	return result, nil
}
