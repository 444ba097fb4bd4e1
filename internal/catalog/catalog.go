// Package catalog reads product data from the storefront backend so cart
// lines can be shown with current names, prices and images.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"erp/ecommerce/cart-service/internal/cart"
	"erp/ecommerce/cart-service/internal/logging"
	"erp/ecommerce/cart-service/internal/metrics"
)

const (
	productsPath = "/store/api/products/"
	maxBody      = 4 << 20
)

// BackendUnavailableError reports that the product backend could not be
// reached or answered with something unusable.
type BackendUnavailableError struct {
	URL    string
	Status int
	Err    error
}

func (e *BackendUnavailableError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("catalog backend %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("catalog backend %s: %v", e.URL, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// Product is one catalog entry. Raw keeps every field the backend sent.
type Product struct {
	ID    cart.ID
	Name  string
	Price json.RawMessage
	Image string
	Raw   map[string]json.RawMessage
}

type Options struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type cacheItem struct {
	products []Product
	expires  time.Time
}

type Client struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	group   singleflight.Group
	cacheMu sync.RWMutex
	cache   *cacheItem
}

func New(opts Options) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		client:  opts.HTTPClient,
		ttl:     opts.CacheTTL,
		logger:  logging.OrNop(opts.Logger),
		metrics: opts.Metrics,
		now:     time.Now,
	}
	if c.client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		c.client = &http.Client{Timeout: timeout}
	}
	return c
}

// Configured reports whether a backend URL was given.
func (c *Client) Configured() bool { return c != nil && c.baseURL != "" }

// Products returns the catalog, served from cache while it is fresh.
// Concurrent misses share one backend request.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	if !c.Configured() {
		return nil, &BackendUnavailableError{Err: errors.New("backend url is not configured")}
	}
	if products, ok := c.cached(); ok {
		c.metrics.CatalogFetch("cached")
		return products, nil
	}
	v, err, _ := c.group.Do("products", func() (any, error) {
		products, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(products)
		return products, nil
	})
	if err != nil {
		c.metrics.CatalogFetch("error")
		c.logger.Warn("catalog fetch failed", zap.String("url", c.baseURL+productsPath), zap.Error(err))
		return nil, err
	}
	c.metrics.CatalogFetch("ok")
	return v.([]Product), nil
}

// Invalidate drops the cached catalog.
func (c *Client) Invalidate() {
	c.cacheMu.Lock()
	c.cache = nil
	c.cacheMu.Unlock()
}

func (c *Client) fetch(ctx context.Context) ([]Product, error) {
	url := c.baseURL + productsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &BackendUnavailableError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, &BackendUnavailableError{URL: url, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, &BackendUnavailableError{URL: url, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &BackendUnavailableError{
			URL:    url,
			Status: res.StatusCode,
			Err:    fmt.Errorf("status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	products, err := decodeProducts(body)
	if err != nil {
		return nil, &BackendUnavailableError{URL: url, Err: err}
	}
	return products, nil
}

// ---- Cache ----

func (c *Client) cached() ([]Product, bool) {
	c.cacheMu.RLock()
	item := c.cache
	c.cacheMu.RUnlock()
	if item == nil || !c.now().Before(item.expires) {
		return nil, false
	}
	return item.products, true
}

func (c *Client) store(products []Product) {
	if c.ttl <= 0 {
		return
	}
	c.cacheMu.Lock()
	c.cache = &cacheItem{products: products, expires: c.now().Add(c.ttl)}
	c.cacheMu.Unlock()
}

// ---- Decoding ----

// decodeProducts accepts a bare array or a paginated {"results": [...]}
// envelope. Entries without a usable id are skipped.
func decodeProducts(body []byte) ([]Product, error) {
	body = bytes.TrimSpace(body)
	var entries []map[string]json.RawMessage
	if len(body) > 0 && body[0] == '{' {
		var page struct {
			Results []map[string]json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode products: %w", err)
		}
		entries = page.Results
	} else if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}

	products := make([]Product, 0, len(entries))
	for _, fields := range entries {
		id, err := cart.ParseID(fields["id"])
		if err != nil {
			continue
		}
		p := Product{ID: id, Price: fields["price"], Raw: fields}
		p.Name = stringField(fields, "name")
		p.Image = stringField(fields, "image")
		products = append(products, p)
	}
	return products, nil
}

func stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// ---- Enrichment ----

// Enrich returns copies of items with the matching product's fields laid
// over the captured ones. Id and quantity always come from the cart.
func Enrich(items []cart.Item, products []Product) []cart.Item {
	byID := make(map[cart.ID]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	out := make([]cart.Item, len(items))
	for i, it := range items {
		merged := cart.Item{ID: it.ID, Quantity: it.Quantity, Fields: make(map[string]json.RawMessage, len(it.Fields))}
		for k, v := range it.Fields {
			merged.Fields[k] = v
		}
		if p, ok := byID[it.ID]; ok {
			for k, v := range p.Raw {
				if k == "id" || k == "quantity" {
					continue
				}
				merged.Fields[k] = v
			}
		}
		out[i] = merged
	}
	return out
}
