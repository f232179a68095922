package params

import (
	"math"
	"strconv"
)

// Set maps every field of the table to its current numeric value
type Set map[FieldID]float64

// Defaults returns a new Set seeded with the default of every field
func Defaults() Set {
	s := make(Set, len(table))
	for _, f := range table {
		s[f.ID] = f.Default
	}
	return s
}

// Clone returns an independent copy of the set
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Get returns the value of a field and whether it holds a finite number
func (s Set) Get(id FieldID) (float64, bool) {
	v, ok := s[id]
	if !ok || !IsFinite(v) {
		return v, false
	}
	return v, true
}

// Missing returns the fields that are absent or not finite, in form order
func (s Set) Missing() []FieldID {
	var out []FieldID
	for _, f := range table {
		if _, ok := s.Get(f.ID); !ok {
			out = append(out, f.ID)
		}
	}
	return out
}

// Equal reports whether both sets hold the same value for every table field
func (s Set) Equal(other Set) bool {
	for _, f := range table {
		a, okA := s[f.ID]
		b, okB := other[f.ID]
		if okA != okB {
			return false
		}
		if math.IsNaN(a) && math.IsNaN(b) {
			continue
		}
		if a != b {
			return false
		}
	}
	return true
}

// Strings renders every table field as its shortest decimal form, which is
// the representation sent to the prediction service.
func (s Set) Strings() map[string]string {
	out := make(map[string]string, len(table))
	for _, f := range table {
		v, ok := s[f.ID]
		if !ok {
			continue
		}
		out[string(f.ID)] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return out
}

// IsFinite reports whether v is neither NaN nor infinite
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
