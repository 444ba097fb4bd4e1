// Package action exposes the cart operations as direct calls for server
// rendered views. The HTTP endpoint dispatches through the same Actions, so
// both paths produce the same state for the same operations.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"erp/ecommerce/cart-service/internal/cart"
	"erp/ecommerce/cart-service/internal/logging"
	"erp/ecommerce/cart-service/internal/metrics"
	"erp/ecommerce/cart-service/internal/session"
)

// Mutation outcomes recorded in cart_mutations_total.
const (
	OutcomeApplied  = "applied"
	OutcomeNoop     = "noop"
	OutcomeInvalid  = "invalid"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

type Actions struct {
	sessions *session.Adapter
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func New(sessions *session.Adapter, m *metrics.Metrics, logger *zap.Logger) *Actions {
	return &Actions{sessions: sessions, metrics: m, logger: logging.OrNop(logger)}
}

// GetCart returns the session's cart. A session that fails verification
// reads as an empty cart.
func (a *Actions) GetCart(ctx context.Context, h session.Handle) (cart.State, error) {
	st, err := a.sessions.Load(ctx, h)
	if errors.Is(err, session.ErrSessionIntegrity) {
		a.logger.Debug("session integrity failure, serving empty cart", zap.Error(err))
		return cart.Empty(), nil
	}
	return st, err
}

func (a *Actions) AddToCart(ctx context.Context, h session.Handle, product cart.Item) (cart.State, error) {
	return a.Do(ctx, h, cart.Add(product))
}

func (a *Actions) RemoveFromCart(ctx context.Context, h session.Handle, id cart.ID) (cart.State, error) {
	return a.Do(ctx, h, cart.Remove(id))
}

func (a *Actions) UpdateQuantity(ctx context.Context, h session.Handle, id cart.ID, quantity int) (cart.State, error) {
	return a.Do(ctx, h, cart.Update(id, quantity))
}

func (a *Actions) ClearCart(ctx context.Context, h session.Handle) (cart.State, error) {
	return a.Do(ctx, h, cart.Clear())
}

// Dispatch parses a wire request and applies it.
func (a *Actions) Dispatch(ctx context.Context, h session.Handle, actionName string, product json.RawMessage) (cart.State, error) {
	op, err := cart.ParseOperation(actionName, product)
	if err != nil {
		a.record(actionName, OutcomeInvalid, err)
		return cart.State{}, err
	}
	return a.Do(ctx, h, op)
}

// Do applies op to the session's cart and persists the result.
func (a *Actions) Do(ctx context.Context, h session.Handle, op cart.Operation) (cart.State, error) {
	var before uint64
	st, err := a.sessions.Mutate(ctx, h, func(current cart.State) (cart.State, error) {
		before = current.Version
		return cart.Apply(current, op)
	})
	if err != nil {
		a.record(string(op.Kind), outcomeOf(err), err)
		return st, err
	}
	if st.Version == before {
		a.record(string(op.Kind), OutcomeNoop, nil)
	} else {
		a.record(string(op.Kind), OutcomeApplied, nil)
	}
	return st, nil
}

func (a *Actions) record(actionName, outcome string, err error) {
	actionName = label(actionName)
	a.metrics.Mutation(actionName, outcome)
	fields := []zap.Field{zap.String("action", actionName), zap.String("outcome", outcome)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	a.logger.Debug("cart mutation", fields...)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, cart.ErrInvalidOperation), errors.Is(err, cart.ErrInvalidProduct):
		return OutcomeInvalid
	case errors.Is(err, session.ErrConflict):
		return OutcomeConflict
	default:
		return OutcomeError
	}
}

// label keeps metric cardinality bounded for client supplied action names.
func label(actionName string) string {
	switch k := cart.Kind(strings.ToLower(strings.TrimSpace(actionName))); k {
	case cart.KindAdd, cart.KindRemove, cart.KindUpdate, cart.KindClear:
		return string(k)
	default:
		return "unknown"
	}
}
