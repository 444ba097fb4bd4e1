package cart

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// ID
// ---------------------------------------------------------------------------

// ID is an opaque product identifier. JSON strings and JSON numbers are both
// accepted and the original JSON type is kept, so "1" and 1 are distinct.
type ID struct {
	value   string
	numeric bool
}

func StringID(s string) ID { return ID{value: s} }

func NumberID(n int64) ID { return ID{value: strconv.FormatInt(n, 10), numeric: true} }

// ParseID decodes a raw JSON id token.
func ParseID(raw json.RawMessage) (ID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ID{}, errors.New("id is required")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ID{}, fmt.Errorf("invalid id: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return ID{}, errors.New("id is required")
		}
		return StringID(s), nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return ID{}, errors.New("id must be a string or a number")
		}
		if i, err := n.Int64(); err == nil {
			return NumberID(i), nil
		}
		return ID{value: n.String(), numeric: true}, nil
	}
}

func (id ID) String() string { return id.value }

func (id ID) IsZero() bool { return id.value == "" }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(b []byte) error {
	parsed, err := ParseID(b)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ---------------------------------------------------------------------------
// Item
// ---------------------------------------------------------------------------

// Item is one cart line. Fields holds every product attribute other than id
// and quantity exactly as the caller sent it.
type Item struct {
	ID       ID
	Quantity int
	Fields   map[string]json.RawMessage
}

// Field returns the raw value of a captured product attribute.
func (it Item) Field(name string) (json.RawMessage, bool) {
	v, ok := it.Fields[name]
	return v, ok
}

func (it Item) clone() Item {
	out := Item{ID: it.ID, Quantity: it.Quantity}
	if len(it.Fields) > 0 {
		out.Fields = make(map[string]json.RawMessage, len(it.Fields))
		for k, v := range it.Fields {
			out.Fields[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func (it Item) equal(other Item) bool {
	if it.ID != other.ID || it.Quantity != other.Quantity || len(it.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range it.Fields {
		ov, ok := other.Fields[k]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

func (it Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(it.Fields)+2)
	for k, v := range it.Fields {
		out[k] = v
	}
	id, err := it.ID.MarshalJSON()
	if err != nil {
		return nil, err
	}
	out["id"] = id
	out["quantity"] = json.RawMessage(strconv.Itoa(it.Quantity))
	return json.Marshal(out)
}

func (it *Item) UnmarshalJSON(b []byte) error {
	fields, err := decodeObject(b)
	if err != nil {
		return err
	}
	parsed, err := itemFromFields(fields, true)
	if err != nil {
		return err
	}
	*it = parsed
	return nil
}

func decodeObject(b []byte) (map[string]json.RawMessage, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil, errors.New("product must be a JSON object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, errors.New("product must be a JSON object")
	}
	return fields, nil
}

// itemFromFields splits id and quantity off a decoded product object. With
// strictQuantity unset a malformed quantity is dropped rather than rejected.
func itemFromFields(fields map[string]json.RawMessage, strictQuantity bool) (Item, error) {
	id, err := ParseID(fields["id"])
	if err != nil {
		return Item{}, err
	}
	it := Item{ID: id}
	if raw, ok := fields["quantity"]; ok {
		q, err := parseQuantity(raw)
		if err != nil && strictQuantity {
			return Item{}, err
		}
		it.Quantity = q
	}
	for k, v := range fields {
		if k == "id" || k == "quantity" {
			continue
		}
		if it.Fields == nil {
			it.Fields = make(map[string]json.RawMessage, len(fields))
		}
		it.Fields[k] = v
	}
	return it, nil
}

func parseQuantity(raw json.RawMessage) (int, error) {
	n, err := strconv.Atoi(string(bytes.TrimSpace(raw)))
	if err != nil {
		return 0, errors.New("quantity must be an integer")
	}
	return n, nil
}
