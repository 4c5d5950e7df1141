package reconcile

import "encoding/json"

// SelectionSet is an ordered set of chosen identifiers. It is a value: every
// operation returns a new set and leaves the receiver untouched.
type SelectionSet struct {
	ids []string
}

// NewSelectionSet builds a set from ids, dropping blanks and repeats.
func NewSelectionSet(ids ...string) SelectionSet {
	return SelectionSet{}.Merge(ids...)
}

// IDs returns a copy of the identifiers in selection order.
func (s SelectionSet) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of identifiers.
func (s SelectionSet) Len() int { return len(s.ids) }

// Contains reports whether id is selected.
func (s SelectionSet) Contains(id string) bool {
	for _, existing := range s.ids {
		if existing == id {
			return true
		}
	}
	return false
}

// Merge appends the ids that are not yet selected. Identifiers already present
// keep their position, so merging the same ids again changes nothing.
func (s SelectionSet) Merge(ids ...string) SelectionSet {
	seen := make(map[string]struct{}, len(s.ids)+len(ids))
	out := make([]string, 0, len(s.ids)+len(ids))
	for _, id := range s.ids {
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return SelectionSet{ids: out}
}

// Without removes ids, keeping the relative order of the rest.
func (s SelectionSet) Without(ids ...string) SelectionSet {
	if len(ids) == 0 {
		return SelectionSet{ids: s.IDs()}
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := make([]string, 0, len(s.ids))
	for _, id := range s.ids {
		if _, ok := drop[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return SelectionSet{ids: out}
}

// Equal reports whether both sets hold the same ids, ignoring order.
func (s SelectionSet) Equal(other SelectionSet) bool {
	if len(s.ids) != len(other.ids) {
		return false
	}
	for _, id := range other.ids {
		if !s.Contains(id) {
			return false
		}
	}
	return true
}

func (s SelectionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

func (s *SelectionSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewSelectionSet(ids...)
	return nil
}
