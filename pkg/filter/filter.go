// Package filter defines the JSON-serializable query description accepted by
// repositories: where, fields, order, limit/skip and include.
//
// A Filter is plain data so that an HTTP layer can decode it straight out of a
// query-string JSON value:
//
//	{"where": {"age": {"gte": 18}}, "order": ["name ASC"], "limit": 10,
//	 "include": [{"relation": "orders", "scope": {"limit": 5}}]}
//
// Filters are treated as immutable input. Helpers in this package always
// return new values instead of modifying their arguments.
package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Filter is a request for data.
type Filter struct {
	Where   Where       `json:"where,omitempty"`
	Fields  Fields      `json:"fields,omitzero"`
	Order   Order       `json:"order,omitempty"`
	Limit   *int        `json:"limit,omitempty"`
	Skip    *int        `json:"skip,omitempty"`
	Offset  *int        `json:"offset,omitempty"`
	Include []Inclusion `json:"include,omitempty"`
}

// Where is a recursive predicate description. Keys are field names (dot paths
// address JSON document fields) or the reserved combinators and, or, not.
type Where map[string]any

// Inclusion asks for a relation to be resolved onto each result row.
type Inclusion struct {
	Relation string  `json:"relation"`
	Scope    *Filter `json:"scope,omitempty"`
}

// Parse decodes a JSON filter. Numbers are kept as json.Number so that large
// integers survive the round trip.
func Parse(data []byte) (*Filter, error) {
	f := &Filter{}
	if len(bytes.TrimSpace(data)) == 0 {
		return f, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("decode filter: %w", err)
	}
	return f, nil
}

// ParseWhere decodes a JSON where object.
func ParseWhere(data []byte) (Where, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var w Where
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode where: %w", err)
	}
	return w, nil
}

// OffsetValue returns the effective number of rows to skip. skip wins over offset
// when both are present.
func (f *Filter) OffsetValue() *int {
	if f == nil {
		return nil
	}
	if f.Skip != nil {
		return f.Skip
	}
	return f.Offset
}

// Clone returns a shallow copy whose slices can be replaced without affecting
// the original. Where maps are shared and must not be mutated.
func (f *Filter) Clone() *Filter {
	if f == nil {
		return &Filter{}
	}
	out := *f
	if f.Order != nil {
		out.Order = append(Order(nil), f.Order...)
	}
	if f.Include != nil {
		out.Include = append([]Inclusion(nil), f.Include...)
	}
	return &out
}

// And conjoins where clauses. Empty clauses are dropped; a single remaining
// clause is returned as is.
func And(parts ...Where) Where {
	kept := make([]any, 0, len(parts))
	for _, p := range parts {
		if len(p) > 0 {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0].(Where)
	default:
		return Where{"and": kept}
	}
}

// Int is a small helper for building filters in code.
func Int(v int) *int {
	return &v
}

// Order is an ordered list of "field DIRECTION" entries. A single string is
// accepted when decoding.
type Order []string

// UnmarshalJSON accepts either a string or a list of strings.
func (o *Order) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			*o = nil
			return nil
		}
		*o = Order{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("order must be a string or a list of strings")
	}
	*o = list
	return nil
}

// Fields selects the projected columns, either as an ordered list of names or
// as an inclusion/exclusion map.
type Fields struct {
	Names   []string
	Toggles map[string]bool
}

// Select builds a list projection.
func Select(names ...string) Fields {
	return Fields{Names: names}
}

// IsZero reports whether no projection was requested.
func (f Fields) IsZero() bool {
	return len(f.Names) == 0 && len(f.Toggles) == 0
}

// MarshalJSON writes the form the value was built with.
func (f Fields) MarshalJSON() ([]byte, error) {
	if len(f.Toggles) > 0 {
		return json.Marshal(f.Toggles)
	}
	if f.Names == nil {
		return []byte("null"), nil
	}
	return json.Marshal(f.Names)
}

// UnmarshalJSON accepts a list of names or a map of name to boolean.
func (f *Fields) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = Fields{}
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var names []string
		if err := json.Unmarshal(trimmed, &names); err != nil {
			return fmt.Errorf("fields list must contain strings")
		}
		*f = Fields{Names: names}
		return nil
	}
	var toggles map[string]bool
	if err := json.Unmarshal(trimmed, &toggles); err != nil {
		return fmt.Errorf("fields must be a list or a map of booleans")
	}
	*f = Fields{Toggles: toggles}
	return nil
}

// UnmarshalJSON accepts a bare relation name or a {relation, scope} object.
func (i *Inclusion) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*i = Inclusion{Relation: name}
		return nil
	}
	type plain Inclusion
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("include entry must be a relation name or an object: %w", err)
	}
	*i = Inclusion(p)
	return nil
}
