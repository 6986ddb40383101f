package builtin

import "ingest/pkg/records"

// Filter keeps records whose numeric field is at least Min (strictly greater
// when Exclusive). Records with a null or non-numeric value are dropped, not
// errored: the rule is a predicate, e.g. quantity > 0.
type Filter struct {
	Field     string
	Min       float64
	Exclusive bool
}

func (Filter) Name() string { return "filter" }

func (f Filter) Apply(in []records.Record) ([]records.Record, error) {
	out := in[:0]
	for _, r := range in {
		v, ok := r.Float(f.Field)
		if !ok {
			continue
		}
		if f.Exclusive {
			if v > f.Min {
				out = append(out, r)
			}
			continue
		}
		if v >= f.Min {
			out = append(out, r)
		}
	}
	return out, nil
}

// Require drops records missing a value for any of the listed fields.
type Require struct {
	Fields []string
}

func (Require) Name() string { return "require" }

func (rq Require) Apply(in []records.Record) ([]records.Record, error) {
	out := in[:0]
	for _, rec := range in {
		ok := true
		for _, f := range rq.Fields {
			v, exists := rec[f]
			if !exists || v == nil || v == "" {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
