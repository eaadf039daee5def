// Package airtable provides a paginated reader for the Airtable REST API.
//
// Every list endpoint returns at most one page of records plus an opaque
// offset token. The Client follows the token until the API stops returning
// one and hands back the complete, order-preserving concatenation of all
// pages. Any page failure aborts the whole fetch: callers never see a
// partial table, since partial data would skew relationship deduplication
// downstream.
package airtable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	// DefaultBaseURL is the Airtable API root.
	DefaultBaseURL = "https://api.airtable.com"

	// MaxPageSize is the largest page the list endpoint accepts.
	MaxPageSize = 100
)

// Config holds configuration for the Airtable client.
type Config struct {
	// BaseURL is the API root (default: https://api.airtable.com)
	BaseURL string

	// BaseID is the Airtable base to read from
	BaseID string

	// Token is the personal access token sent as a bearer credential
	Token string

	// PageSize is the number of records requested per page (1-100, default 100)
	PageSize int

	// MaxRetries is how many times a failed page request is retried
	// before the whole fetch is aborted (default 3, negative disables retries)
	MaxRetries int

	// RetryBase is the first backoff delay; it doubles per attempt (default 500ms)
	RetryBase time.Duration

	// RetryMax caps a single backoff delay (default 10s)
	RetryMax time.Duration

	// HTTPClient performs the requests (default: 30s timeout client)
	HTTPClient *http.Client

	// OnPage is called after each page is decoded, with the table ID and
	// the number of records in the page
	OnPage func(table string, records int)

	// Logger for client activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults. BaseID and Token must still be set.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    DefaultBaseURL,
		PageSize:   MaxPageSize,
		MaxRetries: 3,
		RetryBase:  500 * time.Millisecond,
		RetryMax:   10 * time.Second,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     log.New(os.Stderr, "[airtable] ", log.LstdFlags),
	}
}

// Client reads records from one Airtable base.
type Client struct {
	baseURL string
	baseID  string
	token   string

	pageSize   int
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration

	http   *http.Client
	onPage func(table string, records int)
	logger *log.Logger

	// sleep is replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Client. Zero-valued config fields fall back to DefaultConfig.
func New(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if strings.TrimSpace(config.BaseID) == "" {
		return nil, fmt.Errorf("base id is required")
	}
	if strings.TrimSpace(config.Token) == "" {
		return nil, fmt.Errorf("token is required")
	}

	defaults := DefaultConfig()
	c := &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		baseID:     config.BaseID,
		token:      config.Token,
		pageSize:   config.PageSize,
		maxRetries: config.MaxRetries,
		retryBase:  config.RetryBase,
		retryMax:   config.RetryMax,
		http:       config.HTTPClient,
		onPage:     config.OnPage,
		logger:     config.Logger,
		sleep:      sleepContext,
	}
	if c.baseURL == "" {
		c.baseURL = defaults.BaseURL
	}
	if c.pageSize <= 0 || c.pageSize > MaxPageSize {
		c.pageSize = defaults.PageSize
	}
	if c.maxRetries == 0 {
		c.maxRetries = defaults.MaxRetries
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.retryBase <= 0 {
		c.retryBase = defaults.RetryBase
	}
	if c.retryMax <= 0 {
		c.retryMax = defaults.RetryMax
	}
	if c.http == nil {
		c.http = defaults.HTTPClient
	}
	if c.logger == nil {
		c.logger = defaults.Logger
	}

	return c, nil
}

// FetchAll returns every record of the table, following offset tokens until
// the last page.
func (c *Client) FetchAll(ctx context.Context, tableID string) ([]Record, error) {
	return c.fetch(ctx, tableID, url.Values{})
}

// FetchModifiedSince returns the records of the table modified at or after
// since, filtered server-side with LAST_MODIFIED_TIME().
func (c *Client) FetchModifiedSince(ctx context.Context, tableID string, since time.Time) ([]Record, error) {
	params := url.Values{}
	params.Set("filterByFormula", ModifiedSinceFormula(since))
	return c.fetch(ctx, tableID, params)
}

// ModifiedSinceFormula returns the filterByFormula expression selecting
// records modified at or after since.
func ModifiedSinceFormula(since time.Time) string {
	return fmt.Sprintf("NOT(IS_BEFORE(LAST_MODIFIED_TIME(), '%s'))", since.UTC().Format(time.RFC3339))
}

// Ping checks that the API is reachable and the credential is accepted by
// reading a single record from the table.
func (c *Client) Ping(ctx context.Context, tableID string) error {
	params := url.Values{}
	params.Set("pageSize", "1")
	params.Set("maxRecords", "1")
	if _, err := c.getPage(ctx, tableID, params); err != nil {
		return err
	}
	return nil
}

// fetch runs the pagination loop. Records are accumulated in arrival order;
// any page failure discards everything fetched so far.
func (c *Client) fetch(ctx context.Context, tableID string, params url.Values) ([]Record, error) {
	if strings.TrimSpace(tableID) == "" {
		return nil, &TransferError{Table: tableID, Err: fmt.Errorf("table id is required")}
	}
	params.Set("pageSize", strconv.Itoa(c.pageSize))

	var records []Record
	pages := 0
	for {
		p, err := c.getPage(ctx, tableID, params)
		if err != nil {
			return nil, err
		}
		pages++
		records = append(records, p.Records...)

		if c.onPage != nil {
			c.onPage(tableID, len(p.Records))
		}

		if p.Offset == "" {
			break
		}
		params.Set("offset", p.Offset)
	}

	c.logger.Printf("Fetched %s: %d records in %d pages", tableID, len(records), pages)
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// getPage requests one page, retrying transient failures with capped
// exponential backoff.
func (c *Client) getPage(ctx context.Context, tableID string, params url.Values) (*page, error) {
	endpoint := fmt.Sprintf("%s/v0/%s/%s?%s", c.baseURL, url.PathEscape(c.baseID), url.PathEscape(tableID), params.Encode())

	var lastErr error
	for attempt := 0; ; attempt++ {
		p, retryAfter, err := c.doPage(ctx, tableID, endpoint)
		if err == nil {
			return p, nil
		}
		lastErr = err

		if attempt >= c.maxRetries || !isRetryable(err) || ctx.Err() != nil {
			return nil, lastErr
		}

		delay := c.backoff(attempt)
		if retryAfter > delay {
			delay = retryAfter
		}
		c.logger.Printf("Retrying %s after %v (attempt %d/%d): %v", tableID, delay, attempt+1, c.maxRetries, err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, &TransferError{Table: tableID, Err: err}
		}
	}
}

// doPage performs a single request. The returned duration is the server's
// Retry-After hint, if any.
func (c *Client) doPage(ctx context.Context, tableID, endpoint string) (*page, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, &TransferError{Table: tableID, Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &TransferError{Table: tableID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), &TransferError{
			Table:  tableID,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		}
	}

	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, 0, &TransferError{Table: tableID, Status: resp.StatusCode, Err: fmt.Errorf("malformed page: %w", err)}
	}
	for i, r := range p.Records {
		if r.ID == "" {
			return nil, 0, &TransferError{Table: tableID, Status: resp.StatusCode, Err: fmt.Errorf("malformed page: record %d has no id", i)}
		}
	}

	return &p, 0, nil
}

// backoff returns the delay before retry number attempt+1.
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(float64(c.retryBase) * math.Pow(2, float64(attempt)))
	if d <= 0 || d > c.retryMax {
		return c.retryMax
	}
	return d
}

// isRetryable reports whether a page failure may succeed on retry:
// transport errors, rate limiting, and server errors.
func isRetryable(err error) bool {
	var te *TransferError
	if !errors.As(err, &te) {
		return false
	}
	if te.Status == 0 {
		return !errors.Is(te.Err, context.Canceled) && !errors.Is(te.Err, context.DeadlineExceeded)
	}
	return te.Status == http.StatusTooManyRequests || te.Status >= 500
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
