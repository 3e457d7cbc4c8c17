// Package inventory is the client of the third-party stock and price feed.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

var (
	// ErrUnknownSKU means the feed has no record of the product.
	ErrUnknownSKU = errors.New("sku unknown to inventory feed")
	// ErrMalformed means the feed answered 200 with a body we cannot use.
	// Retrying will not help.
	ErrMalformed = errors.New("malformed inventory response")
)

// StatusError is a non-200, non-404 answer. It is transient.
type StatusError struct {
	SKU  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inventory feed: sku %s: unexpected status %d", e.SKU, e.Code)
}

type Quote struct {
	Stock int
	Price decimal.NullDecimal // invalid when the feed omits it
}

type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithInterval sets the minimum spacing between requests; zero disables
// throttling.
func WithInterval(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type quoteBody struct {
	Stock *int             `json:"stock"`
	Price *decimal.Decimal `json:"price"`
}

// Fetch returns the feed's current stock and price for sku. It waits on
// the shared limiter first, so concurrent callers are throttled too.
func (c *Client) Fetch(ctx context.Context, sku string) (Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Quote{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/product/"+url.PathEscape(sku), nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("inventory feed: sku %s: %w", sku, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Quote{}, fmt.Errorf("sku %s: %w", sku, ErrUnknownSKU)
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Quote{}, &StatusError{SKU: sku, Code: resp.StatusCode}
	}

	var body quoteBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("%w: sku %s: %v", ErrMalformed, sku, err)
	}
	if body.Stock == nil {
		return Quote{}, fmt.Errorf("%w: sku %s: missing stock", ErrMalformed, sku)
	}
	if *body.Stock < 0 {
		return Quote{}, fmt.Errorf("%w: sku %s: negative stock %d", ErrMalformed, sku, *body.Stock)
	}
	q := Quote{Stock: *body.Stock}
	if body.Price != nil {
		if body.Price.IsNegative() {
			return Quote{}, fmt.Errorf("%w: sku %s: negative price", ErrMalformed, sku)
		}
		q.Price = decimal.NewNullDecimal(*body.Price)
	}
	return q, nil
}
