// Package serper talks to the Serper places search API. The client owns the
// retry policy: transient failures (timeouts, connection errors, 5xx, 429)
// are retried with backoff, everything else fails fast.
package serper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// resultsPerPage is the fixed page size requested from the API.
const resultsPerPage = 10

// Searcher runs one search query against a results page.
type Searcher interface {
	Search(ctx context.Context, q string, page int) (*Result, error)
}

// PlaceRecord is one place from a search response. Raw holds the verbatim
// record bytes; UID is placeId when present, otherwise cid.
type PlaceRecord struct {
	UID string
	Raw []byte
}

// Result is the outcome of one search request. It is returned non-nil even
// on error so callers can record the HTTP status and elapsed time of the
// failed attempt.
type Result struct {
	Places    []PlaceRecord
	Credits   int
	APIStatus int
	ElapsedMS int64
}

// Config holds search client settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Client is the live Serper API client.
type Client struct {
	http *resty.Client
}

var _ Searcher = (*Client)(nil)

// NewClient builds a client with retry limited to transient failure classes.
func NewClient(cfg Config) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("X-API-KEY", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelay).
		SetRetryMaxWaitTime(8 * cfg.RetryDelay).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	return &Client{http: httpClient}
}

type searchRequest struct {
	Q    string `json:"q"`
	Page int    `json:"page"`
	Num  int    `json:"num"`
}

type searchResponse struct {
	Places  []json.RawMessage `json:"places"`
	Credits int               `json:"credits"`
}

type placeKeys struct {
	PlaceID string `json:"placeId"`
	CID     string `json:"cid"`
}

// Search runs one places query. Records without a usable uid are dropped.
func (c *Client) Search(ctx context.Context, q string, page int) (*Result, error) {
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(searchRequest{Q: q, Page: page, Num: resultsPerPage}).
		Post("/places")
	result := &Result{ElapsedMS: time.Since(start).Milliseconds()}

	if err != nil {
		return result, &TransientError{Err: fmt.Errorf("search %q page %d: %w", q, page, err)}
	}

	result.APIStatus = resp.StatusCode()
	switch {
	case resp.StatusCode() == http.StatusOK:
		// fall through to parsing
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
		return result, &TransientError{Err: fmt.Errorf("search %q page %d: status %d", q, page, resp.StatusCode())}
	default:
		return result, &PermanentError{Err: fmt.Errorf("search %q page %d: status %d", q, page, resp.StatusCode())}
	}

	var parsed searchResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return result, &PermanentError{Err: fmt.Errorf("search %q page %d: decode response: %w", q, page, err)}
	}

	result.Credits = parsed.Credits
	for _, raw := range parsed.Places {
		var keys placeKeys
		if err := json.Unmarshal(raw, &keys); err != nil {
			continue
		}
		uid := keys.PlaceID
		if uid == "" {
			uid = keys.CID
		}
		if uid == "" {
			continue
		}
		result.Places = append(result.Places, PlaceRecord{UID: uid, Raw: raw})
	}
	return result, nil
}
