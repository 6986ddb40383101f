// Package records defines the generic record shape passed between pipeline
// stages. A Record is an untyped map from column name to value; parsers
// produce Records with string values, and the transform stage coerces them
// into typed values (int64, float64, bool, time.Time).
package records

import "maps"

// Record is one logical row keyed by canonical column name.
type Record map[string]any

// Clone returns a shallow copy of the record. Values are shared; the map
// itself is fresh, so callers may add or replace keys without aliasing.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	maps.Copy(out, r)
	return out
}

// String returns the value for key as a string. Missing keys, nil values,
// and non-string values all yield ("", false).
func (r Record) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the value for key as a float64, accepting int64 and int as
// well. Missing keys and other types yield (0, false).
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
