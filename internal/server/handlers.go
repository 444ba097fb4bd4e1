package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"erp/ecommerce/cart-service/internal/cart"
	"erp/ecommerce/cart-service/internal/catalog"
	"erp/ecommerce/cart-service/internal/session"
)

type cartRequest struct {
	Action  string          `json:"action"`
	Product json.RawMessage `json:"product"`
}

type cartView struct {
	Items    []cart.Item `json:"items"`
	Count    int         `json:"count"`
	Enriched bool        `json:"enriched"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"module":  s.module,
		"service": s.serviceName,
		"mode":    s.storeMode,
	})
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	st, err := s.actions.GetCart(r.Context(), session.HTTPHandle(w, r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Lines())
}

func (s *Server) postCart(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	st, err := s.actions.Dispatch(r.Context(), session.HTTPHandle(w, r), req.Action, req.Product)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st.Lines())
}

// viewCart serves the cart merged with current catalog data. Catalog
// failures degrade to the fields captured when the item was added.
func (s *Server) viewCart(w http.ResponseWriter, r *http.Request) {
	st, err := s.actions.GetCart(r.Context(), session.HTTPHandle(w, r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := cartView{Items: st.Lines(), Count: st.Count()}
	if s.catalog.Configured() && len(st.Items) > 0 {
		products, err := s.catalog.Products(r.Context())
		var unavailable *catalog.BackendUnavailableError
		switch {
		case err == nil:
			view.Items = catalog.Enrich(st.Items, products)
			view.Enriched = true
		case errors.As(err, &unavailable):
			s.logger.Info("serving cart without catalog data", zap.Error(err))
		default:
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// ---- Error mapping ----

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidOperation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid action"})
	case errors.Is(err, cart.ErrInvalidProduct):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, session.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cart changed concurrently"})
	case errors.Is(err, session.ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "cart too large"})
	default:
		s.logger.Error("cart request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// ---- JSON helpers ----

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("empty request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid JSON payload")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
