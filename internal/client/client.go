// Package client is the browser-side cart provider: one shared cache of the
// server's cart for a single cookie jar, refreshed from and mutated through
// the cart HTTP endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"erp/ecommerce/cart-service/internal/cart"
	"erp/ecommerce/cart-service/internal/logging"
)

const (
	cartPath = "/api/cart"
	viewPath = "/api/cart/view"
)

var (
	// ErrInvalidOperation is returned when the server rejects a request as
	// malformed. The cache is left as it was.
	ErrInvalidOperation = errors.New("client: invalid cart operation")
	// ErrConflict is returned when another writer changed the cart first.
	// The cache has been re-fetched by the time it is returned.
	ErrConflict = errors.New("client: cart changed concurrently")
)

// TransportError reports a network failure or unexpected response status.
type TransportError struct {
	Method string
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Snapshot is the provider's view at one point in time. Err is the
// failure behind StatusError.
type Snapshot struct {
	Status Status
	State  cart.State
	Err    error
}

type Options struct {
	BaseURL string
	Timeout time.Duration
	// Jar defaults to a fresh in-memory jar.
	Jar        http.CookieJar
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Provider struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	group   singleflight.Group

	// reqMu orders the round trips that replace the cache, so a response
	// never lands after a newer one.
	reqMu sync.Mutex

	mu        sync.Mutex
	snap      Snapshot
	listeners map[int]func(Snapshot)
	nextID    int
}

func New(opts Options) (*Provider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("client: base url is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if hc.Jar == nil {
		jar := opts.Jar
		if jar == nil {
			var err error
			if jar, err = cookiejar.New(nil); err != nil {
				return nil, err
			}
		}
		clone := *hc
		clone.Jar = jar
		hc = &clone
	}
	return &Provider{
		baseURL:   baseURL,
		http:      hc,
		logger:    logging.OrNop(opts.Logger),
		snap:      Snapshot{Status: StatusIdle, State: cart.Empty()},
		listeners: make(map[int]func(Snapshot)),
	}, nil
}

// Jar exposes the cookie jar holding the session cookie.
func (p *Provider) Jar() http.CookieJar { return p.http.Jar }

// ---- Subscription ----

func (p *Provider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Count is the total quantity of the cached cart.
func (p *Provider) Count() int { return p.Snapshot().State.Count() }

// Subscribe registers fn for every snapshot change and returns a function
// that removes it. fn runs on the goroutine that caused the change and must
// not call Refresh or a mutation synchronously.
func (p *Provider) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) set(update func(*Snapshot)) {
	p.mu.Lock()
	update(&p.snap)
	snap := p.snap
	fns := make([]func(Snapshot), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// ---- Operations ----

// Refresh fetches the cart. Concurrent calls share one request, which
// runs detached from any single caller: a caller whose ctx ends gets
// ctx.Err() while the others still receive the result. The HTTP client
// timeout bounds the shared request.
func (p *Provider) Refresh(ctx context.Context) (cart.State, error) {
	detached := context.WithoutCancel(ctx)
	ch := p.group.DoChan("refresh", func() (any, error) {
		p.reqMu.Lock()
		defer p.reqMu.Unlock()
		return p.reload(detached)
	})
	select {
	case <-ctx.Done():
		return p.Snapshot().State, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return p.Snapshot().State, res.Err
		}
		return res.Val.(cart.State), nil
	}
}

// reload fetches the cart into the cache. Callers hold reqMu.
func (p *Provider) reload(ctx context.Context) (cart.State, error) {
	p.set(func(s *Snapshot) { s.Status = StatusLoading })
	st, err := p.roundTrip(ctx, http.MethodGet, nil)
	if err != nil {
		p.set(func(s *Snapshot) {
			s.Status = StatusError
			s.Err = err
		})
		return cart.State{}, err
	}
	p.replace(st)
	return st, nil
}

func (p *Provider) AddToCart(ctx context.Context, product cart.Item) (cart.State, error) {
	return p.mutate(ctx, cart.Add(product))
}

func (p *Provider) RemoveFromCart(ctx context.Context, id cart.ID) (cart.State, error) {
	return p.mutate(ctx, cart.Remove(id))
}

func (p *Provider) UpdateQuantity(ctx context.Context, id cart.ID, quantity int) (cart.State, error) {
	return p.mutate(ctx, cart.Update(id, quantity))
}

func (p *Provider) ClearCart(ctx context.Context) (cart.State, error) {
	return p.mutate(ctx, cart.Clear())
}

// mutate posts op and replaces the cache with the server's answer. The
// cache is never merged locally. Mutations of one provider run one at a
// time.
func (p *Provider) mutate(ctx context.Context, op cart.Operation) (cart.State, error) {
	payload, err := op.Payload()
	if err != nil {
		return p.Snapshot().State, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return p.Snapshot().State, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	st, err := p.roundTrip(ctx, http.MethodPost, body)
	switch {
	case err == nil:
		p.replace(st)
		return st, nil
	case errors.Is(err, ErrConflict):
		p.logger.Info("cart conflict, refetching", zap.String("action", string(op.Kind)))
		if _, rerr := p.reload(ctx); rerr != nil {
			return p.Snapshot().State, errors.Join(err, rerr)
		}
		return p.Snapshot().State, err
	case errors.Is(err, ErrInvalidOperation):
		return p.Snapshot().State, err
	default:
		p.set(func(s *Snapshot) {
			s.Status = StatusError
			s.Err = err
		})
		return p.Snapshot().State, err
	}
}

// View is the catalog-enriched cart served by /api/cart/view.
type View struct {
	Items    []cart.Item `json:"items"`
	Count    int         `json:"count"`
	Enriched bool        `json:"enriched"`
}

// View fetches the enriched cart. It does not touch the cache.
func (p *Provider) View(ctx context.Context) (View, error) {
	url := p.baseURL + viewPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return View{}, &TransportError{Method: http.MethodGet, URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	res, err := p.http.Do(req)
	if err != nil {
		return View{}, &TransportError{Method: http.MethodGet, URL: url, Err: err}
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return View{}, &TransportError{Method: http.MethodGet, URL: url, Err: err}
	}
	if res.StatusCode != http.StatusOK {
		return View{}, &TransportError{Method: http.MethodGet, URL: url, Status: res.StatusCode, Err: errors.New(serverMessage(raw))}
	}
	var v View
	if err := json.Unmarshal(raw, &v); err != nil {
		return View{}, &TransportError{Method: http.MethodGet, URL: url, Status: res.StatusCode, Err: fmt.Errorf("decode view: %w", err)}
	}
	return v, nil
}

func (p *Provider) replace(st cart.State) {
	p.set(func(s *Snapshot) {
		s.Status = StatusReady
		s.State = st
		s.Err = nil
	})
}

func (p *Provider) roundTrip(ctx context.Context, method string, body []byte) (cart.State, error) {
	url := p.baseURL + cartPath
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return cart.State{}, &TransportError{Method: method, URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := p.http.Do(req)
	if err != nil {
		return cart.State{}, &TransportError{Method: method, URL: url, Err: err}
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return cart.State{}, &TransportError{Method: method, URL: url, Err: err}
	}

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		return cart.State{}, fmt.Errorf("%w: %s", ErrInvalidOperation, serverMessage(raw))
	case http.StatusConflict:
		return cart.State{}, ErrConflict
	default:
		return cart.State{}, &TransportError{
			Method: method,
			URL:    url,
			Status: res.StatusCode,
			Err:    errors.New(serverMessage(raw)),
		}
	}

	var st cart.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return cart.State{}, &TransportError{Method: method, URL: url, Status: res.StatusCode, Err: fmt.Errorf("decode cart: %w", err)}
	}
	return st, nil
}

func serverMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
