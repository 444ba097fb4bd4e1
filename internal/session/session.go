// Package session persists one cart per browser in a sealed cookie.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"erp/ecommerce/cart-service/internal/cart"
	"erp/ecommerce/cart-service/internal/logging"
	"erp/ecommerce/cart-service/internal/metrics"
	"erp/ecommerce/cart-service/internal/store"
)

var (
	// ErrSessionIntegrity means a session cookie was present but could not
	// be decrypted or verified.
	ErrSessionIntegrity = errors.New("session: integrity check failed")
	// ErrConflict means the session advanced after the caller loaded it.
	ErrConflict = errors.New("session: cart changed concurrently")
	// ErrTooLarge means the sealed cart no longer fits in a cookie.
	ErrTooLarge = errors.New("session: cart too large for cookie")
)

// maxCookieValue keeps name, value and attributes under the 4096 byte limit
// browsers apply per cookie.
const maxCookieValue = 3800

// Payload is the sealed cookie content.
type Payload struct {
	ID              string          `json:"id"`
	Version         uint64          `json:"version"`
	Cart            cart.State      `json:"cart"`
	ShippingAddress json.RawMessage `json:"shippingAddress"`

	// observed is the mirror version seen by refresh, 0 when absent. The
	// next write swaps against it.
	observed uint64
}

func newPayload() Payload {
	return Payload{
		ID:              uuid.NewString(),
		Cart:            cart.Empty(),
		ShippingAddress: json.RawMessage(`[]`),
	}
}

func (p Payload) state() cart.State {
	s := p.Cart.Clone()
	s.Version = p.Version
	return s
}

type Options struct {
	CookieName string
	Password   string
	MaxAge     time.Duration
	Secure     bool
	// Mirror defaults to an in-memory store.
	Mirror  store.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Adapter loads and saves cart state for a Handle.
type Adapter struct {
	cookieName string
	maxAge     time.Duration
	secure     bool
	sealer     *Sealer
	mirror     store.Store
	locks      *keyedMutex
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func New(opts Options) (*Adapter, error) {
	if opts.CookieName == "" {
		return nil, errors.New("session cookie name is required")
	}
	sealer, err := NewSealer(opts.Password, opts.CookieName)
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		cookieName: opts.CookieName,
		maxAge:     opts.MaxAge,
		secure:     opts.Secure,
		sealer:     sealer,
		mirror:     opts.Mirror,
		locks:      newKeyedMutex(),
		logger:     logging.OrNop(opts.Logger),
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
	if a.mirror == nil {
		a.mirror = store.NewMemory()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a, nil
}

// ---------------------------------------------------------------------------
// Load / Save / Mutate
// ---------------------------------------------------------------------------

// Load returns the session's cart, empty when there is none. On
// ErrSessionIntegrity the returned state is empty and usable.
func (a *Adapter) Load(ctx context.Context, h Handle) (cart.State, error) {
	p, err := a.decode(h)
	if err != nil {
		return cart.Empty(), err
	}
	a.refresh(ctx, &p)
	return p.state(), nil
}

// Save persists state. state.Version must be the version returned by Load;
// saving an unchanged state writes nothing.
func (a *Adapter) Save(ctx context.Context, h Handle, state cart.State) error {
	p, err := a.decode(h)
	if err != nil {
		p = newPayload()
	}
	unlock := a.locks.Lock(p.ID)
	defer unlock()

	a.refresh(ctx, &p)
	if state.Version != p.Version {
		a.metrics.Conflict()
		return ErrConflict
	}
	if state.Equal(p.Cart) {
		return nil
	}
	_, err = a.write(ctx, h, p, state)
	return err
}

// Mutate runs fn against the current cart while holding the session's lock
// and persists the result whenever fn succeeds with a changed state. A
// session that fails verification is replaced by a new empty one first.
func (a *Adapter) Mutate(ctx context.Context, h Handle, fn func(cart.State) (cart.State, error)) (cart.State, error) {
	p, err := a.decode(h)
	if err != nil {
		a.logger.Warn("reinitializing session after integrity failure", zap.Error(err))
		p = newPayload()
	}
	unlock := a.locks.Lock(p.ID)
	defer unlock()

	a.refresh(ctx, &p)
	current := p.state()
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	if next.Equal(current) {
		return current, nil
	}
	saved, err := a.write(ctx, h, p, next)
	if err != nil {
		return current, err
	}
	return saved, nil
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

// decode reads the cookie only. A missing cookie yields a new session.
func (a *Adapter) decode(h Handle) (Payload, error) {
	c, err := h.Cookie(a.cookieName)
	if errors.Is(err, http.ErrNoCookie) || (err == nil && c.Value == "") {
		return newPayload(), nil
	}
	if err != nil {
		return newPayload(), fmt.Errorf("%w: %v", ErrSessionIntegrity, err)
	}
	raw, err := a.sealer.Open(c.Value)
	if err != nil {
		a.metrics.IntegrityFailure()
		return newPayload(), err
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		a.metrics.IntegrityFailure()
		return newPayload(), fmt.Errorf("%w: malformed payload", ErrSessionIntegrity)
	}
	if len(p.ShippingAddress) == 0 || string(p.ShippingAddress) == "null" {
		p.ShippingAddress = json.RawMessage(`[]`)
	}
	return p, nil
}

// refresh adopts the mirror's cart when it is ahead of the cookie, which
// happens when a concurrent request of the same browser saved first. A
// mirror behind the authenticated cookie is kept as the swap base and
// overwritten by the next write.
func (a *Adapter) refresh(ctx context.Context, p *Payload) {
	rec, ok, err := a.mirror.Get(ctx, p.ID)
	if err != nil {
		// Unknown mirror state: swap against the cookie so a replica that
		// moved ahead is still detected.
		p.observed = p.Version
		a.logger.Warn("session mirror read failed, using cookie state", zap.String("session", p.ID), zap.Error(err))
		return
	}
	if !ok {
		p.observed = 0
		return
	}
	p.observed = rec.Version
	if rec.Version < p.Version {
		a.logger.Debug("session mirror behind cookie, overwriting on next write",
			zap.String("session", p.ID), zap.Uint64("mirror", rec.Version), zap.Uint64("cookie", p.Version))
		return
	}
	if rec.Version == p.Version {
		return
	}
	var st cart.State
	if err := json.Unmarshal(rec.Payload, &st); err != nil {
		a.logger.Warn("session mirror record unreadable", zap.String("session", p.ID), zap.Error(err))
		return
	}
	p.Cart = st
	p.Version = rec.Version
}

func (a *Adapter) write(ctx context.Context, h Handle, p Payload, next cart.State) (cart.State, error) {
	next = next.Clone()
	next.Version = 0
	p.Cart = next

	body, err := json.Marshal(next)
	if err != nil {
		return cart.State{}, fmt.Errorf("encode cart: %w", err)
	}
	expected := p.observed
	p.Version = max(p.Version, expected) + 1

	sealed, err := a.seal(p)
	if err != nil {
		return cart.State{}, err
	}
	err = a.mirror.CompareAndSwap(ctx, p.ID, expected, store.Record{
		Version:   p.Version,
		Payload:   body,
		UpdatedAt: a.now().UTC(),
	})
	if errors.Is(err, store.ErrVersionMismatch) {
		a.metrics.Conflict()
		return cart.State{}, ErrConflict
	}
	if err != nil {
		return cart.State{}, fmt.Errorf("mirror session: %w", err)
	}

	h.SetCookie(a.cookie(sealed))
	return p.state(), nil
}

func (a *Adapter) seal(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	sealed, err := a.sealer.Seal(raw)
	if err != nil {
		return "", err
	}
	if len(a.cookieName)+len(sealed) > maxCookieValue {
		return "", ErrTooLarge
	}
	return sealed, nil
}

func (a *Adapter) cookie(value string) *http.Cookie {
	c := &http.Cookie{
		Name:     a.cookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if a.maxAge > 0 {
		c.MaxAge = int(a.maxAge / time.Second)
		c.Expires = a.now().Add(a.maxAge).UTC()
	}
	return c
}
