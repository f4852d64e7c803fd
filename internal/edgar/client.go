// Package edgar locates and downloads SEC EDGAR filings.
package edgar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/seenimoa/insightagent/internal/config"
	"github.com/seenimoa/insightagent/internal/infra"
	"github.com/seenimoa/insightagent/internal/registry"
	"github.com/seenimoa/insightagent/pkg/models"
)

const (
	DefaultBaseURL    = "https://data.sec.gov"
	DefaultArchiveURL = "https://www.sec.gov/Archives/edgar/data"
	DefaultFeedURL    = "https://www.sec.gov/cgi-bin/browse-edgar"

	DefaultRequestDelay  = 200 * time.Millisecond
	DefaultTimeout       = 30 * time.Second
	DefaultIndexCacheTTL = 10 * time.Minute

	// maxDocumentBytes bounds a single response body. Large 10-K documents
	// run to tens of megabytes.
	maxDocumentBytes = 128 << 20
	maxErrorBody     = 512
)

// ErrNoUserAgent is returned when a request is attempted without a
// User-Agent; SEC rejects anonymous clients.
var ErrNoUserAgent = errors.New("edgar: a User-Agent identifying the caller is required")

// Client talks to the EDGAR submissions API and the filing archive. All
// requests made through one Client share a pacer, so consecutive requests
// are spaced by at least the configured delay.
type Client struct {
	baseURL    string
	archiveURL string
	feedURL    string
	userAgent  string
	http       *http.Client
	pacer      *infra.Pacer
	indexes    *infra.Cache[*Index]
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option    { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }
func WithArchiveURL(u string) Option { return func(c *Client) { c.archiveURL = strings.TrimRight(u, "/") } }
func WithFeedURL(u string) Option    { return func(c *Client) { c.feedURL = u } }
func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// WithRequestDelay sets the minimum spacing between SEC requests.
func WithRequestDelay(d time.Duration) Option {
	return func(c *Client) { c.pacer = infra.NewPacer(d) }
}

// WithPacer shares an existing pacer, e.g. between clients in one process.
func WithPacer(p *infra.Pacer) Option { return func(c *Client) { c.pacer = p } }

// WithIndexCacheTTL sets how long submissions indexes are cached; 0 disables caching.
func WithIndexCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.indexes = infra.NewCache[*Index](ttl) }
}

// NewClient creates an EDGAR client with SEC defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		archiveURL: DefaultArchiveURL,
		feedURL:    DefaultFeedURL,
		http:       &http.Client{Timeout: DefaultTimeout},
		pacer:      infra.NewPacer(DefaultRequestDelay),
		indexes:    infra.NewCache[*Index](DefaultIndexCacheTTL),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig creates a client from the edgar config section. Empty
// URLs and non-positive timeouts keep the SEC defaults.
func NewClientFromConfig(cfg config.EDGARConfig, log *slog.Logger) *Client {
	opts := []Option{
		WithUserAgent(cfg.UserAgent),
		WithRequestDelay(cfg.RequestDelay()),
		WithIndexCacheTTL(cfg.CacheTTL()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.ArchiveURL != "" {
		opts = append(opts, WithArchiveURL(cfg.ArchiveURL))
	}
	if cfg.FeedURL != "" {
		opts = append(opts, WithFeedURL(cfg.FeedURL))
	}
	if cfg.TimeoutSec > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}))
	}
	if log != nil {
		opts = append(opts, WithLogger(log))
	}
	return NewClient(opts...)
}

// ── Submissions ──

// FetchIndex returns the filing index for a padded CIK. Indexes are cached
// per CIK, so repeated lookups within the TTL see the same data.
func (c *Client) FetchIndex(ctx context.Context, cik string) (*Index, error) {
	if idx, ok := c.indexes.Get(cik); ok {
		return idx, nil
	}

	url := fmt.Sprintf("%s/submissions/CIK%s.json", c.baseURL, cik)
	var resp submissionsResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	idx := newIndex(cik, &resp)
	c.indexes.Set(cik, idx)
	c.log.Debug("edgar index loaded", "cik", cik, "recent", len(idx.Recent.Filings), "archives", len(idx.Archives))
	return idx, nil
}

// FetchArchive returns one archive segment by file name (e.g.
// "CIK0000320193-submissions-001.json"). Like FetchDocument it waits the
// full request delay first.
func (c *Client) FetchArchive(ctx context.Context, name string) (Segment, error) {
	if err := c.pacer.Pause(ctx); err != nil {
		return Segment{}, err
	}
	url := fmt.Sprintf("%s/submissions/%s", c.baseURL, name)
	var cols filingColumns
	if err := c.getJSON(ctx, url, &cols); err != nil {
		return Segment{}, err
	}
	return newSegment(name, cols), nil
}

// ── Documents ──

// DocumentURL returns the archive URL of a filing's primary document.
func (c *Client) DocumentURL(cik string, ref models.FilingReference) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.archiveURL, registry.UnpadCIK(cik), ref.AccessionID, ref.PrimaryDocument)
}

// FetchDocument downloads a filing's primary document as text. It always
// waits the full request delay first, even when the index came from cache.
func (c *Client) FetchDocument(ctx context.Context, cik string, ref models.FilingReference) (string, error) {
	if err := c.pacer.Pause(ctx); err != nil {
		return "", err
	}
	body, err := c.get(ctx, c.DocumentURL(cik, ref), "text/html,application/xhtml+xml")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ── HTTP ──

func (c *Client) getJSON(ctx context.Context, url string, dest any) error {
	body, err := c.get(ctx, url, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return &RemoteFetchError{URL: url, StatusCode: http.StatusOK, Err: fmt.Errorf("parse SEC JSON: %w", err)}
	}
	return nil
}

// get performs a paced GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, url, accept string) ([]byte, error) {
	if strings.TrimSpace(c.userAgent) == "" {
		return nil, ErrNoUserAgent
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("edgar: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)

	c.log.Debug("edgar request", "url", url)
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RemoteFetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RemoteFetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, &RemoteFetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
