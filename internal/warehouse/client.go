package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/metrics"
	"github.com/Revenue-Institute/revenue-institute-email-tracking/internal/token"
)

// DefaultEndpoint is the BigQuery v2 REST root.
const DefaultEndpoint = "https://bigquery.googleapis.com/bigquery/v2"

// maxErrorBody bounds how much of a rejected response is kept for logging.
const maxErrorBody = 2 << 10

// Row is a single streaming insert row. InsertID is the dedup key the
// warehouse uses to drop resent rows.
type Row struct {
	InsertID string          `json:"insertId"`
	JSON     json.RawMessage `json:"json"`
}

// RowError describes why the warehouse refused one row of a batch.
type RowError struct {
	Index  int           `json:"index"`
	Errors []ErrorDetail `json:"errors"`
}

// ErrorDetail is a single reason attached to a RowError.
type ErrorDetail struct {
	Reason   string `json:"reason"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message"`
}

// InsertResult is the outcome of an accepted insert call. A non-empty
// RowErrors means the call succeeded but some rows were refused.
type InsertResult struct {
	RowErrors []RowError `json:"insertErrors"`
}

// APIError is returned when the warehouse rejects the whole call.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("warehouse rejected insert: status %d: %s", e.StatusCode, e.Body)
}

// Inserter appends rows to a warehouse table.
type Inserter interface {
	InsertRows(ctx context.Context, table string, rows []Row) (*InsertResult, error)
}

// Client calls the streaming insert endpoint with a bearer token obtained
// from its token source for every call.
type Client struct {
	httpClient *http.Client
	tokens     token.Source
	endpoint   string
	project    string
	dataset    string
}

// NewClient creates a warehouse client for project/dataset.
func NewClient(httpClient *http.Client, tokens token.Source, endpoint, project, dataset string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	return &Client{
		httpClient: httpClient,
		tokens:     tokens,
		endpoint:   endpoint,
		project:    project,
		dataset:    dataset,
	}
}

type insertAllRequest struct {
	Rows                []Row `json:"rows"`
	SkipInvalidRows     bool  `json:"skipInvalidRows"`
	IgnoreUnknownValues bool  `json:"ignoreUnknownValues"`
}

// InsertRows performs a single insertAll call.
func (c *Client) InsertRows(ctx context.Context, table string, rows []Row) (*InsertResult, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		metrics.TokenIssuance.WithLabelValues("failure").Inc()

		return nil, fmt.Errorf("obtaining warehouse token: %w", err)
	}

	metrics.TokenIssuance.WithLabelValues("success").Inc()

	body, err := json.Marshal(insertAllRequest{Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("encoding rows: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.insertURL(table), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling warehouse: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading warehouse response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(payload) > maxErrorBody {
			payload = payload[:maxErrorBody]
		}

		if invalidator, ok := c.tokens.(interface{ Invalidate() }); ok && resp.StatusCode == http.StatusUnauthorized {
			invalidator.Invalidate()
		}

		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(payload)}
	}

	var result InsertResult
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("decoding warehouse response: %w", err)
		}
	}

	return &result, nil
}

func (c *Client) insertURL(table string) string {
	return fmt.Sprintf("%s/projects/%s/datasets/%s/tables/%s/insertAll",
		c.endpoint, url.PathEscape(c.project), url.PathEscape(c.dataset), url.PathEscape(table))
}

// IsRetryable reports whether a failed call may succeed when resent.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusUnauthorized ||
			apiErr.StatusCode >= http.StatusInternalServerError
	}

	return !errors.Is(err, token.ErrSigning)
}

// NewHTTPClient returns the client used for warehouse and token calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
