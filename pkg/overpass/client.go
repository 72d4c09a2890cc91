// Package overpass queries the OpenStreetMap Overpass API for address records
// within a geographic filter.
package overpass

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BBox is a geographic bounding box.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// AroundFilter selects addresses within a radius of a center point.
type AroundFilter struct {
	Center      Point
	RadiusMiles float64
}

// Filter is a tagged union selecting one geographic query shape. Exactly one
// field must be set.
type Filter struct {
	Around      *AroundFilter
	Polygon     []Point
	BBox        *BBox
	PostalCodes []string
}

// Client issues a single bounded geographic query. No retries are built in at
// this layer; retries, if any, belong to the caller.
type Client interface {
	// Query returns the address records matching the filter.
	Query(ctx context.Context, f Filter) ([]Address, error)
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithBaseURL points the client at a different Overpass endpoint.
func WithBaseURL(u string) Option {
	return func(c *client) {
		c.baseURL = u
	}
}

// WithTimeout sets the per-query deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		c.timeout = d
	}
}

// WithRateLimit sets the requests-per-second limit for outbound queries.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	limiter    *rate.Limiter
}

// NewClient creates an Overpass client with the given options.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		baseURL:    "https://overpass-api.de/api/interpreter",
		timeout:    60 * time.Second,
		limiter:    rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query implements Client.
func (c *client) Query(ctx context.Context, f Filter) ([]Address, error) {
	ql, err := buildQL(f, c.timeout)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "overpass: rate limiter wait")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	form := url.Values{"data": {ql}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &QueryError{Kind: classify(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &QueryError{Kind: classify(err), Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &QueryError{Kind: KindRateLimited, Err: eris.New("HTTP 429")}
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, &QueryError{Kind: KindTimeout, Err: eris.New("HTTP 504")}
	case resp.StatusCode != http.StatusOK:
		return nil, &QueryError{Kind: KindOther, Err: eris.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 200))}
	}

	var raw response
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &QueryError{Kind: KindOther, Err: eris.Wrap(err, "decode response")}
	}

	// Overpass reports server-side aborts as a 200 with a remark.
	if raw.Remark != "" {
		return nil, &QueryError{Kind: classify(eris.New(raw.Remark)), Err: eris.Errorf("remark: %s", raw.Remark)}
	}

	return parseElements(raw.Elements), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
