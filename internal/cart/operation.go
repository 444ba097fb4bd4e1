package cart

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidOperation is returned for an unrecognised mutation kind.
	ErrInvalidOperation = errors.New("cart: invalid operation")
	// ErrInvalidProduct is returned when a known operation carries an
	// unusable product payload.
	ErrInvalidProduct = errors.New("cart: invalid product")
)

// MaxQuantity is the largest quantity a single cart line may hold.
const MaxQuantity = 9999

type Kind string

const (
	KindAdd    Kind = "add"
	KindRemove Kind = "remove"
	KindUpdate Kind = "update"
	KindClear  Kind = "clear"
)

// Operation is one cart mutation. Item is used by add, ID by remove and
// update, Quantity by update only.
type Operation struct {
	Kind     Kind
	Item     Item
	ID       ID
	Quantity int
}

func Add(item Item) Operation { return Operation{Kind: KindAdd, Item: item} }

func Remove(id ID) Operation { return Operation{Kind: KindRemove, ID: id} }

func Update(id ID, quantity int) Operation {
	return Operation{Kind: KindUpdate, ID: id, Quantity: quantity}
}

func Clear() Operation { return Operation{Kind: KindClear} }

// ---------------------------------------------------------------------------
// Apply
// ---------------------------------------------------------------------------

// Apply returns the state that results from op. The input state is not
// modified, so callers may keep it for comparison.
func Apply(state State, op Operation) (State, error) {
	next := state.Clone()
	switch op.Kind {
	case KindAdd:
		if op.Item.ID.IsZero() {
			return state, fmt.Errorf("%w: id is required", ErrInvalidProduct)
		}
		if i := next.index(op.Item.ID); i >= 0 {
			if next.Items[i].Quantity >= MaxQuantity {
				return state, fmt.Errorf("%w: quantity cannot exceed %d", ErrInvalidProduct, MaxQuantity)
			}
			next.Items[i].Quantity++
			return next, nil
		}
		// A caller supplied quantity is not honoured on first insertion.
		it := op.Item.clone()
		it.Quantity = 1
		next.Items = append(next.Items, it)
		return next, nil
	case KindRemove:
		if i := next.index(op.ID); i >= 0 {
			next.Items = append(next.Items[:i], next.Items[i+1:]...)
		}
		return next, nil
	case KindUpdate:
		if op.Quantity > MaxQuantity {
			return state, fmt.Errorf("%w: quantity cannot exceed %d", ErrInvalidProduct, MaxQuantity)
		}
		i := next.index(op.ID)
		if i < 0 {
			return next, nil
		}
		if op.Quantity <= 0 {
			next.Items = append(next.Items[:i], next.Items[i+1:]...)
			return next, nil
		}
		next.Items[i].Quantity = op.Quantity
		return next, nil
	case KindClear:
		next.Items = []Item{}
		return next, nil
	default:
		return state, fmt.Errorf("%w: %q", ErrInvalidOperation, string(op.Kind))
	}
}

// ---------------------------------------------------------------------------
// Wire mapping
// ---------------------------------------------------------------------------

// ParseOperation maps a request action and its product payload to an
// Operation.
func ParseOperation(action string, product json.RawMessage) (Operation, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(action)))
	switch kind {
	case KindClear:
		return Clear(), nil
	case KindAdd, KindRemove, KindUpdate:
	default:
		return Operation{}, fmt.Errorf("%w: %q", ErrInvalidOperation, action)
	}

	product = bytes.TrimSpace(product)
	if len(product) == 0 || bytes.Equal(product, []byte("null")) {
		return Operation{}, fmt.Errorf("%w: product is required", ErrInvalidProduct)
	}
	fields, err := decodeObject(product)
	if err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidProduct, err)
	}

	switch kind {
	case KindAdd:
		it, err := itemFromFields(fields, false)
		if err != nil {
			return Operation{}, fmt.Errorf("%w: %v", ErrInvalidProduct, err)
		}
		return Add(it), nil
	case KindRemove:
		id, err := ParseID(fields["id"])
		if err != nil {
			return Operation{}, fmt.Errorf("%w: %v", ErrInvalidProduct, err)
		}
		return Remove(id), nil
	default:
		id, err := ParseID(fields["id"])
		if err != nil {
			return Operation{}, fmt.Errorf("%w: %v", ErrInvalidProduct, err)
		}
		raw, ok := fields["quantity"]
		if !ok {
			return Operation{}, fmt.Errorf("%w: quantity is required", ErrInvalidProduct)
		}
		q, err := parseQuantity(raw)
		if err != nil {
			return Operation{}, fmt.Errorf("%w: %v", ErrInvalidProduct, err)
		}
		if q > MaxQuantity {
			return Operation{}, fmt.Errorf("%w: quantity cannot exceed %d", ErrInvalidProduct, MaxQuantity)
		}
		return Update(id, q), nil
	}
}

// Payload renders op in the {action, product} request shape accepted by
// ParseOperation.
func (op Operation) Payload() (map[string]any, error) {
	switch op.Kind {
	case KindAdd:
		return map[string]any{"action": string(op.Kind), "product": op.Item}, nil
	case KindRemove:
		return map[string]any{"action": string(op.Kind), "product": map[string]any{"id": op.ID}}, nil
	case KindUpdate:
		return map[string]any{"action": string(op.Kind), "product": map[string]any{"id": op.ID, "quantity": op.Quantity}}, nil
	case KindClear:
		return map[string]any{"action": string(op.Kind), "product": map[string]any{}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, string(op.Kind))
	}
}
