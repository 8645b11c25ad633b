package catalogue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Client talks to a catalogue deployment over its REST interface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.RWMutex
	token string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token used for authenticated calls.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client for the catalogue at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, typically after a login completes.
// Safe for concurrent use with in-flight requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// LoginURL is the same-origin login flow entry point, meant to be opened in a
// separate tab/window.
func (c *Client) LoginURL() string {
	return c.baseURL + "/api/login"
}

// Search runs one query-endpoint call. Cancelling ctx aborts the request;
// callers cancel superseded searches so stale responses never land.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	params := url.Values{}
	params.Set("q", req.Query)
	params.Set("limit", strconv.Itoa(req.Limit))
	params.Set("offset", strconv.Itoa(req.Offset))
	if req.SortField != "" {
		params.Set("sort", req.SortField)
	}
	if req.SortOrder != "" {
		params.Set("order", req.SortOrder)
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, &QueryError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d: %s", resp.StatusCode, errorMessage(resp.Body))
	}

	var page SearchPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &page, nil
}

// FacetOptions fetches the option list for one facet type, filtered by the
// ancestor selections in filters (keys are "<type>_name").
func (c *Client) FacetOptions(ctx context.Context, facetType string, filters map[string]string) ([]FacetOption, error) {
	params := url.Values{}
	for k, v := range filters {
		params.Set(k, v)
	}

	path := "/api/facets/" + url.PathEscape(facetType)
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("facet options for %s returned %d: %s", facetType, resp.StatusCode, errorMessage(resp.Body))
	}

	var options []FacetOption
	if err := json.NewDecoder(resp.Body).Decode(&options); err != nil {
		return nil, fmt.Errorf("decoding facet options: %w", err)
	}
	return options, nil
}

// FetchByIDs returns full records for exactly the given identifiers.
func (c *Client) FetchByIDs(ctx context.Context, ids []int64) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/records/batch", map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch fetch returned %d: %s", resp.StatusCode, errorMessage(resp.Body))
	}

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding batch response: %w", err)
	}
	return records, nil
}

// UpdateMetadata submits a metadata replacement for one record. A 401/403, or
// a transport failure indistinguishable from an auth redirect, reports
// ErrAuthRequired so callers can run the deferred-login retry.
func (c *Client) UpdateMetadata(ctx context.Context, id int64, metadata map[string]any) (*Record, error) {
	path := fmt.Sprintf("/api/records/%d/metadata", id)
	resp, err := c.do(ctx, http.MethodPut, path, map[string]any{"metadata": metadata})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: server returned %d", ErrAuthRequired, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("metadata update returned %d: %s", resp.StatusCode, errorMessage(resp.Body))
	}

	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding updated record: %w", err)
	}
	return &rec, nil
}

// Health reports whether the catalogue backend answers at all.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// WaitLogin blocks until the catalogue reports a completed login flow or ctx
// is cancelled. One call consumes one login signal; there is no polling loop.
// When the response carries a session token (device-flow style), it replaces
// the client's bearer token so the next write succeeds.
func (c *Client) WaitLogin(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/login/wait", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login wait returned %d", resp.StatusCode)
	}

	var body struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("parsing login wait response: %w", err)
	}
	if body.SessionToken != "" {
		c.SetToken(body.SessionToken)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if token := c.bearerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "unreadable error body"
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(bytes.TrimSpace(data))
}
