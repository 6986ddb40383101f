// Package validate implements the schema validation stage. Given a RawBatch
// and a target Schema it produces a ValidatedBatch of conforming rows plus a
// RejectionReport for rows that failed a type, nullability, or enum check.
//
// Malformed individual rows never abort the batch; they are routed to the
// report. The only fatal outcome is a structural mismatch (a required column
// absent from every row, or an empty schema), signaled as *SchemaMismatchError.
package validate

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"ingest/internal/batch"
	"ingest/internal/schema"
	"ingest/pkg/records"
)

// SchemaMismatchError reports a structural mismatch between a RawBatch and
// the declared schema. It is fatal for the ingestion unit and not retried.
type SchemaMismatchError struct {
	Schema  string
	Missing []string // required columns absent from every row
	Detail  string
}

func (e *SchemaMismatchError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("schema mismatch for %s: required columns missing from all rows: %s",
			e.Schema, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("schema mismatch for %s: %s", e.Schema, e.Detail)
}

// Validator validates raw batches against a single schema. The zero value is
// not usable; construct with a Schema and call Apply. A Validator is safe for
// concurrent use; per-field metadata is built once on first Apply.
type Validator struct {
	Schema     schema.Schema
	DateLayout string // optional global fallback date layout

	metaOnce sync.Once
	meta     []fieldMeta
}

// fieldMeta captures hot-path data for a single schema field.
type fieldMeta struct {
	name     string
	kind     string // "int","float","bool","date","datetime","text"
	required bool
	nullable bool
	layout   string

	enumSet   map[string]struct{}
	truthySet map[string]struct{}
	falsySet  map[string]struct{}
	enumList  []string
}

// default truthy/falsy sets (lowercased).
var (
	defaultTruthy = map[string]struct{}{
		"1": {}, "t": {}, "true": {}, "yes": {}, "y": {},
	}
	defaultFalsy = map[string]struct{}{
		"0": {}, "f": {}, "false": {}, "no": {}, "n": {},
	}
)

func (v *Validator) buildMeta() {
	v.metaOnce.Do(func() {
		v.meta = make([]fieldMeta, 0, len(v.Schema.Fields))
		for _, f := range v.Schema.Fields {
			m := fieldMeta{
				name:     f.Name,
				kind:     normalizeKind(f.Type),
				required: f.Required,
				nullable: f.Nullable,
				layout:   f.Layout,
			}
			if len(f.Enum) > 0 {
				m.enumSet = make(map[string]struct{}, len(f.Enum))
				for _, s := range f.Enum {
					m.enumSet[s] = struct{}{}
				}
				m.enumList = append(m.enumList, f.Enum...)
			}
			if len(f.Truthy) > 0 {
				m.truthySet = make(map[string]struct{}, len(f.Truthy))
				for _, s := range f.Truthy {
					m.truthySet[strings.ToLower(s)] = struct{}{}
				}
			}
			if len(f.Falsy) > 0 {
				m.falsySet = make(map[string]struct{}, len(f.Falsy))
				for _, s := range f.Falsy {
					m.falsySet[strings.ToLower(s)] = struct{}{}
				}
			}
			v.meta = append(v.meta, m)
		}
	})
}

func normalizeKind(t string) string {
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

// Apply validates every row of raw against the configured schema.
//
// Conforming rows are returned (in input order, map instances shared with the
// input) in a ValidatedBatch carrying the schema id. Rows that fail a per-row
// check land in the RejectionReport with a reason code. A structural error
// returns a *SchemaMismatchError and no batch.
func (v *Validator) Apply(raw batch.RawBatch) (batch.ValidatedBatch, batch.RejectionReport, error) {
	v.buildMeta()

	report := batch.RejectionReport{Source: raw.Source}

	if len(v.meta) == 0 {
		return batch.ValidatedBatch{}, report, &SchemaMismatchError{
			Schema: v.Schema.Name, Detail: "schema declares no fields",
		}
	}

	// Structural check: a required column absent from every row means the
	// extract does not match the declared schema at all.
	if len(raw.Rows) > 0 {
		if missing := v.missingEverywhere(raw.Rows); len(missing) > 0 {
			return batch.ValidatedBatch{}, report, &SchemaMismatchError{
				Schema: v.Schema.Name, Missing: missing,
			}
		}
	}

	out := make([]records.Record, 0, len(raw.Rows))
	for i, rec := range raw.Rows {
		if reason, detail, ok := v.checkRecord(rec); ok {
			out = append(out, rec)
		} else {
			report.Add(i, reason, detail)
		}
	}

	log.Printf("validate: source=%s rows=%d ok=%d rejected=%d schema_id=%d",
		raw.Source.File, len(raw.Rows), len(out), len(report.Entries), v.Schema.ID)

	return batch.ValidatedBatch{SchemaID: v.Schema.ID, Rows: out}, report, nil
}

// missingEverywhere returns required column names that no row carries.
func (v *Validator) missingEverywhere(rows []records.Record) []string {
	var missing []string
	for _, m := range v.meta {
		if !m.required {
			continue
		}
		found := false
		for _, rec := range rows {
			if _, ok := rec[m.name]; ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, m.name)
		}
	}
	return missing
}

// checkRecord validates one row. ok=false carries a reason code and detail.
func (v *Validator) checkRecord(rec records.Record) (reason, detail string, ok bool) {
	for i := range v.meta {
		m := &v.meta[i]

		val, present := rec[m.name]
		if !present {
			if m.required {
				return batch.ReasonMissingColumn, m.name, false
			}
			continue
		}

		s, isStr := val.(string)
		if !isStr {
			// Non-string values only appear when a source hands us typed
			// data already; accept and let the transform stage coerce.
			continue
		}
		s = strings.TrimSpace(s)

		if s == "" {
			if m.required && !m.nullable {
				return batch.ReasonNullViolation, m.name, false
			}
			continue
		}

		if reason, detail, ok := v.checkTyped(m, s); !ok {
			return reason, detail, false
		}
	}
	return "", "", true
}

func (v *Validator) checkTyped(m *fieldMeta, s string) (reason, detail string, ok bool) {
	switch m.kind {
	case "int":
		if _, err := strconv.ParseInt(s, 10, 64); err != nil {
			return batch.ReasonTypeMismatch, fmt.Sprintf("%s: %q is not an int", m.name, s), false
		}
	case "float":
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return batch.ReasonTypeMismatch, fmt.Sprintf("%s: %q is not a number", m.name, s), false
		}
	case "bool":
		low := strings.ToLower(s)
		truthy, falsy := m.truthySet, m.falsySet
		if truthy == nil {
			truthy = defaultTruthy
		}
		if falsy == nil {
			falsy = defaultFalsy
		}
		if _, t := truthy[low]; t {
			break
		}
		if _, f := falsy[low]; f {
			break
		}
		return batch.ReasonTypeMismatch, fmt.Sprintf("%s: %q is not a recognized bool", m.name, s), false
	case "date", "datetime":
		if !v.parseableDate(m, s) {
			return batch.ReasonTypeMismatch, fmt.Sprintf("%s: %q does not match any date layout", m.name, s), false
		}
	}

	if m.enumSet != nil {
		if _, okEnum := m.enumSet[s]; !okEnum {
			return batch.ReasonEnumViolation,
				fmt.Sprintf("%s: %q not in enum [%s]", m.name, s, strings.Join(m.enumList, ", ")), false
		}
	}
	return "", "", true
}

// parseableDate tries the field layout, then the validator's global fallback,
// then common ISO forms.
func (v *Validator) parseableDate(m *fieldMeta, s string) bool {
	layouts := make([]string, 0, 4)
	if m.layout != "" {
		layouts = append(layouts, m.layout)
	}
	if v.DateLayout != "" {
		layouts = append(layouts, v.DateLayout)
	}
	layouts = append(layouts, "2006-01-02", time.RFC3339, "2006-01-02 15:04:05")

	for _, l := range layouts {
		if _, err := time.Parse(l, s); err == nil {
			return true
		}
	}
	return false
}
