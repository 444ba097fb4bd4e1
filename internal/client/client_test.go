package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"erp/ecommerce/cart-service/internal/action"
	"erp/ecommerce/cart-service/internal/cart"
	"erp/ecommerce/cart-service/internal/server"
	"erp/ecommerce/cart-service/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

func cartService(t *testing.T) *httptest.Server {
	t.Helper()
	sessions, err := session.New(session.Options{
		CookieName: "storefront_session",
		Password:   "client-test-password-long-enough-to-pass",
		MaxAge:     time.Hour,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(server.New(server.Options{Actions: action.New(sessions, nil, nil)}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	p, err := New(Options{BaseURL: baseURL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(p.http.CloseIdleConnections)
	return p
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRefreshStatusTransitions(t *testing.T) {
	p := newProvider(t, cartService(t).URL)
	assert.Equal(t, StatusIdle, p.Snapshot().Status)

	var seen []Status
	unsubscribe := p.Subscribe(func(s Snapshot) { seen = append(seen, s.Status) })
	defer unsubscribe()

	st, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Items)
	assert.Equal(t, []Status{StatusLoading, StatusReady}, seen)
}

func TestMutationsReplaceCacheWithServerState(t *testing.T) {
	p := newProvider(t, cartService(t).URL)
	ctx := context.Background()

	_, err := p.AddToCart(ctx, cart.Item{ID: cart.StringID("a")})
	require.NoError(t, err)
	_, err = p.AddToCart(ctx, cart.Item{ID: cart.StringID("a")})
	require.NoError(t, err)
	_, err = p.AddToCart(ctx, cart.Item{ID: cart.NumberID(2)})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Count())

	st, err := p.UpdateQuantity(ctx, cart.NumberID(2), 4)
	require.NoError(t, err)
	assert.Equal(t, 6, st.Count())

	st, err = p.RemoveFromCart(ctx, cart.StringID("a"))
	require.NoError(t, err)
	require.Len(t, st.Items, 1)

	st, err = p.ClearCart(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Items)
	assert.Equal(t, StatusReady, p.Snapshot().Status)
}

func TestProvidersWithSeparateJarsHaveSeparateCarts(t *testing.T) {
	srv := cartService(t)
	alice := newProvider(t, srv.URL)
	bob := newProvider(t, srv.URL)

	_, err := alice.AddToCart(context.Background(), cart.Item{ID: cart.StringID("a")})
	require.NoError(t, err)
	st, err := bob.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Items)
}

func TestInvalidOperationKeepsCache(t *testing.T) {
	p := newProvider(t, cartService(t).URL)
	ctx := context.Background()
	_, err := p.AddToCart(ctx, cart.Item{ID: cart.StringID("a")})
	require.NoError(t, err)

	_, err = p.AddToCart(ctx, cart.Item{})
	assert.ErrorIs(t, err, ErrInvalidOperation)
	assert.Equal(t, 1, p.Count())
	assert.Equal(t, StatusReady, p.Snapshot().Status)
}

func TestTransportErrorPreservesCache(t *testing.T) {
	srv := cartService(t)
	p := newProvider(t, srv.URL)
	_, err := p.AddToCart(context.Background(), cart.Item{ID: cart.StringID("a")})
	require.NoError(t, err)

	srv.Close()
	_, err = p.AddToCart(context.Background(), cart.Item{ID: cart.StringID("b")})
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.Status)

	snap := p.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, 1, snap.State.Count())
	assert.Error(t, snap.Err)
}

func TestUnexpectedStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	_, err := p.Refresh(context.Background())
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusInternalServerError, te.Status)
	assert.Contains(t, te.Error(), "internal error")
}

func TestConflictForcesRefetch(t *testing.T) {
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"cart changed concurrently"}`))
			return
		}
		atomic.AddInt32(&gets, 1)
		_, _ = w.Write([]byte(`[{"id":"a","quantity":3}]`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	_, err := p.AddToCart(context.Background(), cart.Item{ID: cart.StringID("b")})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(1), atomic.LoadInt32(&gets))
	assert.Equal(t, 3, p.Count())
	assert.Equal(t, StatusReady, p.Snapshot().Status)
}

func TestConcurrentRefreshesShareOneRequest(t *testing.T) {
	var hits int32
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-release
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = p.Refresh(context.Background())
	}()
	<-arrived

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Refresh(context.Background())
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	p := newProvider(t, cartService(t).URL)
	var calls int32
	unsubscribe := p.Subscribe(func(Snapshot) { atomic.AddInt32(&calls, 1) })
	_, err := p.Refresh(context.Background())
	require.NoError(t, err)
	unsubscribe()
	_, err = p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "status(9)", Status(9).String())
}

func TestViewDoesNotTouchCache(t *testing.T) {
	p := newProvider(t, cartService(t).URL)
	ctx := context.Background()
	_, err := p.AddToCart(ctx, cart.Item{ID: cart.StringID("a")})
	require.NoError(t, err)
	before := p.Snapshot()

	v, err := p.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Count)
	assert.False(t, v.Enriched)
	require.Len(t, v.Items, 1)
	assert.Equal(t, before, p.Snapshot())
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	var inFlight, peak int32
	backend := cartService(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		backend.Config.Handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.AddToCart(context.Background(), cart.Item{ID: cart.StringID("a")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	assert.Equal(t, 5, p.Count(), "the cache holds the latest server answer")
	st, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, st.Count())
}

func TestCanceledCallerDoesNotFailSharedRefresh(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-release
		_, _ = w.Write([]byte(`[{"id":"a","quantity":2}]`))
	}))
	defer srv.Close()

	p := newProvider(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := p.Refresh(ctx)
		first <- err
	}()
	<-arrived

	second := make(chan error, 1)
	go func() {
		_, err := p.Refresh(context.Background())
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)
	close(release)
	require.NoError(t, <-second)
	assert.Equal(t, StatusReady, p.Snapshot().Status)
	assert.Equal(t, 2, p.Count())
}
