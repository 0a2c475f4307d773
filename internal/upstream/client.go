package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgnsrekt/tv_datafeed/internal/metrics"
	"github.com/dgnsrekt/tv_datafeed/internal/types"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	searchPath  = "/v1/tradingview/search"
	historyPath = "/v1/tradingview/history"

	// SearchLimit caps the number of search results requested.
	SearchLimit = 30

	maxBodyBytes = 16 << 20
)

// ErrBadResponse marks a response that arrived but could not be understood.
var ErrBadResponse = errors.New("upstream: bad response")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s: HTTP %d", e.Endpoint, e.StatusCode)
}

// Client talks to the market-data HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration

	// Identical in-flight searches share one request. The request outlives
	// any single caller's context.
	searches singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit throttles outgoing requests. rps <= 0 disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient builds a client for baseURL (e.g. "https://api.dex.guru").
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchParams are the search endpoint's query parameters. Empty fields are
// omitted except Query.
type SearchParams struct {
	Query    string
	Type     string
	Exchange string
	Limit    int
}

func (p SearchParams) values() url.Values {
	q := url.Values{}
	q.Set("query", p.Query)
	if p.Limit > 0 {
		q.Set("limit", fmt.Sprint(p.Limit))
	}
	if p.Type != "" {
		q.Set("type", p.Type)
	}
	if p.Exchange != "" {
		q.Set("exchange", p.Exchange)
	}
	return q
}

// Search returns the symbol records matching p. Records are kept verbatim,
// including fields SymbolDescriptor does not name.
func (c *Client) Search(ctx context.Context, p SearchParams) ([]types.SymbolDescriptor, error) {
	q := p.values()
	ch := c.searches.DoChan(q.Encode(), func() (any, error) {
		fetchCtx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(fetchCtx, c.timeout)
			defer cancel()
		}
		return c.search(fetchCtx, q)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("upstream: search: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := res.Val.([]types.SymbolDescriptor)
		if res.Shared && out != nil {
			out = append([]types.SymbolDescriptor(nil), out...)
		}
		return out, nil
	}
}

func (c *Client) search(ctx context.Context, q url.Values) ([]types.SymbolDescriptor, error) {
	body, err := c.get(ctx, "search", searchPath, q)
	if err != nil {
		return nil, err
	}
	var out []types.SymbolDescriptor
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrBadResponse, err)
	}
	return out, nil
}

// HistoryParams are the history endpoint's query parameters.
type HistoryParams struct {
	Symbol     string
	Resolution string
	From       int64
	To         int64
}

// History fetches the raw history arrays. A nil response with nil error
// means the body was JSON null.
func (c *Client) History(ctx context.Context, p HistoryParams) (*HistoryResponse, error) {
	q := url.Values{}
	q.Set("symbol", p.Symbol)
	q.Set("resolution", p.Resolution)
	q.Set("from", fmt.Sprint(p.From))
	q.Set("to", fmt.Sprint(p.To))

	body, err := c.get(ctx, "history", historyPath, q)
	if err != nil {
		return nil, err
	}
	var out *HistoryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrBadResponse, err)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("upstream: %s: rate limit wait: %w", endpoint, err)
		}
	}

	u := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.UpstreamLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "transport_error").Inc()
		return nil, fmt.Errorf("upstream: %s: %w", endpoint, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Debug("upstream body close failed", "endpoint", endpoint, "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "http_error").Inc()
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "transport_error").Inc()
		return nil, fmt.Errorf("upstream: %s: read body: %w", endpoint, err)
	}
	metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
	slog.Debug("upstream request", "endpoint", endpoint, "url", u, "status", resp.StatusCode, "bytes", len(body), "duration_ms", time.Since(start).Milliseconds())
	return body, nil
}
