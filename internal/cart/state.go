package cart

import (
	"bytes"
	"encoding/json"
)

// State is the full content of one session's cart. Items keep insertion
// order. Version is maintained by the session layer; Apply never touches it.
type State struct {
	Items   []Item `json:"items"`
	Version uint64 `json:"version,omitempty"`
}

// Empty returns a cart with no items.
func Empty() State { return State{Items: []Item{}} }

// Lines returns the items as a non-nil slice, the bare form served over HTTP.
func (s State) Lines() []Item {
	if s.Items == nil {
		return []Item{}
	}
	return s.Items
}

// Find returns the item with the given id.
func (s State) Find(id ID) (Item, bool) {
	if i := s.index(id); i >= 0 {
		return s.Items[i], true
	}
	return Item{}, false
}

// Count is the total quantity across all items.
func (s State) Count() int {
	n := 0
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}

// Equal compares items in order, ignoring Version.
func (s State) Equal(other State) bool {
	if len(s.Items) != len(other.Items) {
		return false
	}
	for i := range s.Items {
		if !s.Items[i].equal(other.Items[i]) {
			return false
		}
	}
	return true
}

func (s State) Clone() State {
	out := State{Items: make([]Item, len(s.Items)), Version: s.Version}
	for i, it := range s.Items {
		out.Items[i] = it.clone()
	}
	return out
}

func (s State) index(id ID) int {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s State) MarshalJSON() ([]byte, error) {
	type wire State
	w := wire(s)
	w.Items = s.Lines()
	return json.Marshal(w)
}

// UnmarshalJSON accepts both the wrapped form {"items": [...]} and a bare
// array of items.
func (s *State) UnmarshalJSON(b []byte) error {
	if trimmed := bytes.TrimSpace(b); len(trimmed) > 0 && trimmed[0] == '[' {
		var items []Item
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*s = State{Items: items}
		return s.normalize()
	}
	type wire State
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = State(w)
	return s.normalize()
}

// normalize restores the invariants on decoded data: unique ids (first
// occurrence wins, later duplicates fold their quantity in) and
// 1 <= quantity <= MaxQuantity.
func (s *State) normalize() error {
	out := make([]Item, 0, len(s.Items))
	seen := make(map[ID]int, len(s.Items))
	for _, it := range s.Items {
		if it.ID.IsZero() || it.Quantity <= 0 {
			continue
		}
		if i, ok := seen[it.ID]; ok {
			out[i].Quantity = min(out[i].Quantity+min(it.Quantity, MaxQuantity), MaxQuantity)
			continue
		}
		it.Quantity = min(it.Quantity, MaxQuantity)
		seen[it.ID] = len(out)
		out = append(out, it)
	}
	s.Items = out
	return nil
}
