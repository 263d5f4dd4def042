// Package market is the HTTP client for the marketplace's internal product
// and order endpoints that gateway tools proxy to.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/plebmarket/mcpgate/internal/model"
)

// ErrUnavailable is returned when the marketplace cannot be reached at all,
// as opposed to answering with an error status.
var ErrUnavailable = errors.New("marketplace unavailable")

// StatusError is a non-2xx answer from the marketplace.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("marketplace returned %d", e.StatusCode)
	}
	return fmt.Sprintf("marketplace returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the marketplace.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Options tune a Client.
type Options struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

// Client talks to one marketplace base URL. It is safe for concurrent use;
// the bearer token is supplied per call so a single Client serves every
// session.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

// New returns a Client for baseURL. A zero RequestsPerSecond disables the
// outbound throttle.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse market base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("market base url must be http or https, got %q", baseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{baseURL: u, http: hc, limiter: lim}, nil
}

// BaseURL returns the configured marketplace URL.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// SearchProducts lists products whose name or description matches query.
func (c *Client) SearchProducts(ctx context.Context, token, query string, limit int) ([]model.Product, error) {
	q := url.Values{}
	if query != "" {
		q.Set("search", query)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Products []model.Product `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/products", q, token, nil, &out); err != nil {
		return nil, err
	}
	if out.Products == nil {
		out.Products = []model.Product{}
	}
	return out.Products, nil
}

// GetProduct fetches one product by id.
func (c *Client) GetProduct(ctx context.Context, token, id string) (*model.Product, error) {
	var p model.Product
	if err := c.do(ctx, http.MethodGet, "/api/products/"+url.PathEscape(id), nil, token, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateOrder places an order on behalf of the caller.
func (c *Client) CreateOrder(ctx context.Context, token string, req model.OrderRequest) (*model.Order, error) {
	var o model.Order
	if err := c.do(ctx, http.MethodPost, "/api/orders", nil, token, req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrder fetches the current state of an order.
func (c *Client) GetOrder(ctx context.Context, token, id string) (*model.Order, error) {
	var o model.Order
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(id), nil, token, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Stats returns aggregate marketplace counts for the status endpoint.
func (c *Client) Stats(ctx context.Context) (*model.MarketStats, error) {
	var s model.MarketStats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, "", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("market throttle: %w", err)
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} or {"error": {"message": "..."}}
// from an error body, falling back to the raw text.
func errorMessage(data []byte) string {
	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &flat) == nil && flat.Error != "" {
		return flat.Error
	}
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
