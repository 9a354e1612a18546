// Package docfork is the client for the Docfork documentation API and the
// MCP tools built on it.
package docfork

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docfork/docfork-mcp/auth"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.docfork.com/v2/mcp"

const (
	userAgent        = "docfork-mcp"
	maxErrorBodySize = 500
	maxResponseBytes = 16 << 20
)

// Section is one search hit.
type Section struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
}

// SearchResponse is the body of GET /search.
type SearchResponse struct {
	Sections  []Section `json:"sections"`
	Truncated bool      `json:"truncated,omitempty"`
}

// ReadResponse is the body of GET /read.
type ReadResponse struct {
	Text              string `json:"text"`
	LibraryIdentifier string `json:"library_identifier"`
	VersionInfo       string `json:"version_info"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status string
	Code   int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithObserver registers a callback invoked after every API call with the
// operation name, the HTTP status (0 on transport failure) and the latency.
func WithObserver(fn func(op string, status int, dur time.Duration)) Option {
	return func(c *Client) { c.observe = fn }
}

// Client calls the Docfork API. Credentials are taken from the auth.Config
// carried on the call context.
type Client struct {
	base    string
	http    *http.Client
	log     *slog.Logger
	observe func(string, int, time.Duration)
}

// NewClient returns a client for baseURL, or DefaultBaseURL when empty.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search queries documentation. library and tokens are optional.
func (c *Client) Search(ctx context.Context, query, library, tokens string) (*SearchResponse, error) {
	q := url.Values{}
	q.Set("query", query)
	if library != "" {
		q.Set("libraryId", library)
	}
	if tokens != "" {
		q.Set("tokens", tokens)
	}

	var out SearchResponse
	if err := c.get(ctx, "search", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Read fetches the full content behind a documentation URL.
func (c *Client) Read(ctx context.Context, target string) (*ReadResponse, error) {
	var out ReadResponse
	if err := c.get(ctx, "read", url.Values{"url": {target}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, op string, q url.Values, out any) error {
	start := time.Now()
	// Backend calls run to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/"+op+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	setHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		c.done(ctx, op, 0, start, err)
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		apiErr := &APIError{Status: resp.Status, Code: resp.StatusCode, Body: string(body)}
		c.done(ctx, op, resp.StatusCode, start, apiErr)
		return apiErr
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		c.done(ctx, op, resp.StatusCode, start, err)
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	c.done(ctx, op, resp.StatusCode, start, nil)
	return nil
}

func (c *Client) done(ctx context.Context, op string, status int, start time.Time, err error) {
	dur := time.Since(start)
	if c.observe != nil {
		c.observe(op, status, dur)
	}
	if err != nil {
		c.log.WarnContext(ctx, "docfork.api.fail", slog.String("op", op), slog.Int("status", status), slog.String("err", err.Error()), slog.Duration("dur", dur))
		return
	}
	c.log.DebugContext(ctx, "docfork.api.ok", slog.String("op", op), slog.Int("status", status), slog.Duration("dur", dur))
}

func setHeaders(ctx context.Context, h http.Header) {
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "application/json")

	cfg, ok := auth.FromContext(ctx)
	if !ok {
		return
	}
	if cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Cabinet != "" {
		h.Set("X-Docfork-Cabinet", cfg.Cabinet)
	}
	if cfg.ClientIP != "" {
		h.Set("X-Docfork-Client-IP", cfg.ClientIP)
	}
	if cfg.ClientInfo != "" {
		h.Set("X-Docfork-Client", cfg.ClientInfo)
	}
}
