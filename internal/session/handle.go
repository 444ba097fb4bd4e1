package session

import (
	"net/http"
	"strings"
	"sync"
)

// Handle is an explicit session handle: whatever can read the browser's
// cookies and send new ones back.
type Handle interface {
	Cookie(name string) (*http.Cookie, error)
	SetCookie(c *http.Cookie)
}

type httpHandle struct {
	w http.ResponseWriter
	r *http.Request

	mu      sync.Mutex
	written map[string]*http.Cookie
}

// HTTPHandle binds a handle to one request/response pair. A cookie set
// through it is returned by later Cookie calls on the same handle, so a view
// that mutates and then reads the cart sees its own write.
func HTTPHandle(w http.ResponseWriter, r *http.Request) Handle {
	return &httpHandle{w: w, r: r, written: make(map[string]*http.Cookie)}
}

func (h *httpHandle) Cookie(name string) (*http.Cookie, error) {
	h.mu.Lock()
	c, ok := h.written[name]
	h.mu.Unlock()
	if ok {
		if c.MaxAge < 0 {
			return nil, http.ErrNoCookie
		}
		return c, nil
	}
	return h.r.Cookie(name)
}

// SetCookie replaces any Set-Cookie header already queued for the same name.
func (h *httpHandle) SetCookie(c *http.Cookie) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.written[c.Name]; ok {
		prefix := c.Name + "="
		var kept []string
		for _, v := range h.w.Header().Values("Set-Cookie") {
			if !strings.HasPrefix(v, prefix) {
				kept = append(kept, v)
			}
		}
		h.w.Header().Del("Set-Cookie")
		for _, v := range kept {
			h.w.Header().Add("Set-Cookie", v)
		}
	}
	h.written[c.Name] = c
	http.SetCookie(h.w, c)
}
