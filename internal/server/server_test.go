package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp/ecommerce/cart-service/internal/action"
	"erp/ecommerce/cart-service/internal/catalog"
	"erp/ecommerce/cart-service/internal/metrics"
	"erp/ecommerce/cart-service/internal/session"
	"erp/ecommerce/cart-service/internal/store"
)

const (
	cookieName   = "storefront_session"
	testPassword = "server-test-password-of-sufficient-length"
)

type fixture struct {
	server  *Server
	handler http.Handler
	actions *action.Actions
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, mirror store.Store, cat *catalog.Client, origins ...string) *fixture {
	t.Helper()
	m := metrics.New()
	sessions, err := session.New(session.Options{
		CookieName: cookieName,
		Password:   testPassword,
		MaxAge:     time.Hour,
		Mirror:     mirror,
		Metrics:    m,
	})
	require.NoError(t, err)
	acts := action.New(sessions, m, nil)
	s := New(Options{
		Actions:     acts,
		Catalog:     cat,
		Metrics:     m,
		StoreMode:   "memory",
		CORSOrigins: origins,
	})
	return &fixture{server: s, handler: s.Handler(), actions: acts, metrics: m}
}

// client carries one browser's cookie across in-process requests.
type client struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func (c *client) keep(rec *httptest.ResponseRecorder) {
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == cookieName {
			c.cookie = ck
		}
	}
}

func (c *client) send(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	c.keep(rec)
	return rec
}

func (c *client) lines() []map[string]any {
	c.t.Helper()
	rec := c.send(http.MethodGet, "/api/cart", "")
	require.Equal(c.t, http.StatusOK, rec.Code)
	var out []map[string]any
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetEmptyCart(t *testing.T) {
	f := newFixture(t, nil, nil)
	c := &client{t: t, handler: f.handler}

	rec := c.send(http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Result().Cookies())
}

func TestPostAddReturnsBareArrayAndSetsCookie(t *testing.T) {
	f := newFixture(t, nil, nil)
	c := &client{t: t, handler: f.handler}

	rec := c.send(http.MethodPost, "/api/cart", `{"action":"add","product":{"id":1,"name":"Mug","price":"7.50"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1,"name":"Mug","price":"7.50","quantity":1}]`, rec.Body.String())
	require.NotNil(t, c.cookie)
	assert.True(t, c.cookie.HttpOnly)

	rec = c.send(http.MethodPost, "/api/cart", `{"action":"add","product":{"id":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := c.lines()
	require.Len(t, lines, 1)
	assert.Equal(t, float64(2), lines[0]["quantity"])
	assert.Equal(t, "Mug", lines[0]["name"], "first capture of product fields wins")
}

func TestPostUpdateRemoveClear(t *testing.T) {
	f := newFixture(t, nil, nil)
	c := &client{t: t, handler: f.handler}
	c.send(http.MethodPost, "/api/cart", `{"action":"add","product":{"id":"a"}}`)
	c.send(http.MethodPost, "/api/cart", `{"action":"add","product":{"id":"b"}}`)

	rec := c.send(http.MethodPost, "/api/cart", `{"action":"update","product":{"id":"a","quantity":5}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"a","quantity":5},{"id":"b","quantity":1}]`, rec.Body.String())

	rec = c.send(http.MethodPost, "/api/cart", `{"action":"remove","product":{"id":"a"}}`)
	assert.JSONEq(t, `[{"id":"b","quantity":1}]`, rec.Body.String())

	rec = c.send(http.MethodPost, "/api/cart", `{"action":"clear"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPostBogusActionLeavesCartUnchanged(t *testing.T) {
	f := newFixture(t, nil, nil)
	c := &client{t: t, handler: f.handler}
	c.send(http.MethodPost, "/api/cart", `{"action":"add","product":{"id":"a"}}`)
	before := c.cookie.Value

	rec := c.send(http.MethodPost, "/api/cart", `{"action":"bogus","product":{"id":"a"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid action"}`, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, before, c.cookie.Value)

	lines := c.lines()
	require.Len(t, lines, 1)
	assert.Equal(t, float64(1), lines[0]["quantity"])
}

func TestPostRejectsBadRequests(t *testing.T) {
	cases := map[string]struct {
		body  string
		error string
	}{
		"empty body":        {"", "empty request body"},
		"malformed json":    {`{"action":`, "invalid JSON payload"},
		"missing action":    {`{}`, "Invalid action"},
		"add without id":    {`{"action":"add","product":{"name":"x"}}`, ""},
		"update fraction":   {`{"action":"update","product":{"id":"a","quantity":1.5}}`, ""},
		"product is array":  {`{"action":"remove","product":[1]}`, ""},
		"update over limit": {`{"action":"update","product":{"id":"a","quantity":9223372036854775807}}`, "cart: invalid product: quantity cannot exceed 9999"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil, nil)
			c := &client{t: t, handler: f.handler}
			rec := c.send(http.MethodPost, "/api/cart", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tc.error != "" {
				assert.Equal(t, tc.error, body["error"])
			} else {
				assert.NotEmpty(t, body["error"])
			}
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestTamperedCookieReadsEmpty(t *testing.T) {
	f := newFixture(t, nil, nil)
	c := &client{t: t, handler: f.handler, cookie: &http.Cookie{Name: cookieName, Value: "v1.AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"}}
	assert.Empty(t, c.lines())

	rec := c.send(http.MethodPost, "/api/cart", `{"action":"add","product":{"id":"a"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, c.lines(), 1)
}

type conflictingStore struct {
	store.Store
}

func (conflictingStore) CompareAndSwap(context.Context, string, uint64, store.Record) error {
	return store.ErrVersionMismatch
}

func TestConflictMapsTo409(t *testing.T) {
	f := newFixture(t, conflictingStore{Store: store.NewMemory()}, nil)
	c := &client{t: t, handler: f.handler}
	rec := c.send(http.MethodPost, "/api/cart", `{"action":"add","product":{"id":"a"}}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"cart changed concurrently"}`, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())
}

func TestTooLargeMapsTo413(t *testing.T) {
	f := newFixture(t, nil, nil)
	c := &client{t: t, handler: f.handler}
	body := `{"action":"add","product":{"id":"a","blob":"` + strings.Repeat("x", 6000) + `"}}`
	rec := c.send(http.MethodPost, "/api/cart", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestViewEnrichesFromCatalog(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"results": []map[string]any{{"id": 1, "name": "Mug v2", "price": "8.00"}}})
	}))
	defer backend.Close()

	f := newFixture(t, nil, catalog.New(catalog.Options{BaseURL: backend.URL}))
	c := &client{t: t, handler: f.handler}
	c.send(http.MethodPost, "/api/cart", `{"action":"add","product":{"id":1,"name":"Mug","price":"7.50"}}`)
	c.send(http.MethodPost, "/api/cart", `{"action":"add","product":{"id":1}}`)

	rec := c.send(http.MethodGet, "/api/cart/view", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[{"id":1,"name":"Mug v2","price":"8.00","quantity":2}],"count":2,"enriched":true}`, rec.Body.String())
}

func TestViewDegradesWhenCatalogDown(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	f := newFixture(t, nil, catalog.New(catalog.Options{BaseURL: backend.URL}))
	c := &client{t: t, handler: f.handler}
	c.send(http.MethodPost, "/api/cart", `{"action":"add","product":{"id":1,"name":"Mug"}}`)

	rec := c.send(http.MethodGet, "/api/cart/view", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[{"id":1,"name":"Mug","quantity":1}],"count":1,"enriched":false}`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil, nil)
	c := &client{t: t, handler: f.handler}

	rec := c.send(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","module":"ERP-eCommerce","service":"cart-service","mode":"memory"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	c.send(http.MethodPost, "/api/cart", `{"action":"add","product":{"id":"a"}}`)
	rec = c.send(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cart_mutations_total{action="add",outcome="applied"} 1`)
	assert.Contains(t, rec.Body.String(), `route="/api/cart"`)
}

func TestMethodNotAllowedAndNotFound(t *testing.T) {
	f := newFixture(t, nil, nil)
	c := &client{t: t, handler: f.handler}

	rec := c.send(http.MethodDelete, "/api/cart", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.JSONEq(t, `{"error":"method not allowed"}`, rec.Body.String())

	rec = c.send(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSAllowsCredentialsForConfiguredOrigin(t *testing.T) {
	f := newFixture(t, nil, nil, "https://shop.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/api/cart", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRecoverWritesJSON(t *testing.T) {
	f := newFixture(t, nil, nil)
	h := f.server.recoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestHTTPServerTimeouts(t *testing.T) {
	srv := newFixture(t, nil, nil).server.HTTPServer(":0")
	assert.Equal(t, 2*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 30*time.Second, srv.WriteTimeout)
	assert.Equal(t, 120*time.Second, srv.IdleTimeout)
	assert.Equal(t, 1<<20, srv.MaxHeaderBytes)
}

func TestDecodeJSONLimitsBody(t *testing.T) {
	big := bytes.Repeat([]byte("a"), 2<<20)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(append(append([]byte(`{"action":"`), big...), []byte(`"}`)...)))
	var v cartRequest
	assert.EqualError(t, decodeJSON(req, &v), "invalid JSON payload")
}
