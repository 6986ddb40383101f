// Package builtin contains the reusable transform rules wired from pipeline
// configuration: coercion, normalization, derived columns, filters.
package builtin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ingest/internal/schema"
	"ingest/pkg/records"
)

// Coerce converts string values into typed values per the declared column
// types. Values already passed validation, so a parse failure here is an
// error (a rule/schema contract violation), not a silent drop.
type Coerce struct {
	Types   map[string]string // field -> "int","float","bool","date","datetime","text"
	Layout  string            // fallback date layout
	Layouts map[string]string // per-field layout overrides
	Truthy  []string          // extra accepted truthy spellings (lowercased on use)
	Falsy   []string
}

// ForSchema builds a Coerce rule matching a schema's declared types and
// layouts, so the coercion contract always agrees with what validation
// accepted.
func ForSchema(s schema.Schema, fallbackLayout string) Coerce {
	c := Coerce{
		Types:   make(map[string]string, len(s.Fields)),
		Layouts: make(map[string]string),
		Layout:  fallbackLayout,
	}
	for _, f := range s.Fields {
		c.Types[f.Name] = f.Type
		if f.Layout != "" {
			c.Layouts[f.Name] = f.Layout
		}
		c.Truthy = append(c.Truthy, f.Truthy...)
		c.Falsy = append(c.Falsy, f.Falsy...)
	}
	return c
}

func (Coerce) Name() string { return "coerce" }

func (c Coerce) Apply(in []records.Record) ([]records.Record, error) {
	if len(c.Types) == 0 {
		return in, nil
	}
	for i, r := range in {
		for field, typ := range c.Types {
			v, ok := r[field]
			if !ok || v == nil {
				continue
			}
			s, isStr := v.(string)
			if !isStr {
				continue // already typed
			}
			s = strings.TrimSpace(s)
			if s == "" {
				r[field] = nil
				continue
			}

			switch normalizeType(typ) {
			case "int":
				n, err := strconv.ParseInt(s, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("row %d: field %s: %q as int: %w", i, field, s, err)
				}
				r[field] = n
			case "float":
				f, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, fmt.Errorf("row %d: field %s: %q as float: %w", i, field, s, err)
				}
				r[field] = f
			case "bool":
				b, err := c.parseBool(s)
				if err != nil {
					return nil, fmt.Errorf("row %d: field %s: %w", i, field, err)
				}
				r[field] = b
			case "date", "datetime":
				t, err := c.parseDate(field, s)
				if err != nil {
					return nil, fmt.Errorf("row %d: field %s: %w", i, field, err)
				}
				r[field] = t
			}
		}
	}
	return in, nil
}

func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "int", "integer":
		return "int"
	case "float", "real", "number":
		return "float"
	case "bool", "boolean":
		return "bool"
	case "date":
		return "date"
	case "datetime", "timestamp":
		return "datetime"
	default:
		return "text"
	}
}

func (c Coerce) parseBool(s string) (bool, error) {
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	low := strings.ToLower(s)
	for _, t := range append([]string{"yes", "y"}, c.Truthy...) {
		if low == strings.ToLower(t) {
			return true, nil
		}
	}
	for _, f := range append([]string{"no", "n"}, c.Falsy...) {
		if low == strings.ToLower(f) {
			return false, nil
		}
	}
	return false, fmt.Errorf("%q is not a recognized bool", s)
}

func (c Coerce) parseDate(field, s string) (time.Time, error) {
	layouts := make([]string, 0, 5)
	if l := c.Layouts[field]; l != "" {
		layouts = append(layouts, l)
	}
	if c.Layout != "" {
		layouts = append(layouts, c.Layout)
	}
	layouts = append(layouts, "2006-01-02", time.RFC3339, "2006-01-02 15:04:05")

	var lastErr error
	for _, l := range layouts {
		t, err := time.Parse(l, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("%q does not match any date layout: %w", s, lastErr)
}
