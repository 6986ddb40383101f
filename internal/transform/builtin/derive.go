package builtin

import (
	"fmt"
	"math"
	"time"

	"ingest/pkg/records"
)

// Product derives Target = A * B rounded to Scale decimal places, e.g.
// total_amount = quantity * price. It must run after Coerce; a non-numeric
// operand is a contract violation and aborts the unit.
type Product struct {
	Target string
	A, B   string
	Scale  int
}

func (Product) Name() string { return "product" }

func (p Product) Apply(in []records.Record) ([]records.Record, error) {
	pow := math.Pow10(p.Scale)
	for i, r := range in {
		if r[p.A] == nil || r[p.B] == nil {
			r[p.Target] = nil
			continue
		}
		a, okA := r.Float(p.A)
		b, okB := r.Float(p.B)
		if !okA || !okB {
			return nil, fmt.Errorf("row %d: %s=%v %s=%v are not both numeric", i, p.A, r[p.A], p.B, r[p.B])
		}
		r[p.Target] = math.Round(a*b*pow) / pow
	}
	return in, nil
}

// TimeParts derives calendar columns (year, month, quarter, day_name,
// month_name, hour) from a datetime column, prefixed to avoid collisions
// with declared fields. It must run after Coerce.
type TimeParts struct {
	Source string
	Prefix string // optional; "" derives bare names like "year"
}

func (TimeParts) Name() string { return "time_parts" }

func (tp TimeParts) Apply(in []records.Record) ([]records.Record, error) {
	for i, r := range in {
		v := r[tp.Source]
		if v == nil {
			continue
		}
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("row %d: field %s is %T, not a datetime (is coerce before time_parts?)", i, tp.Source, v)
		}
		r[tp.Prefix+"year"] = int64(t.Year())
		r[tp.Prefix+"month"] = int64(t.Month())
		r[tp.Prefix+"quarter"] = int64((int(t.Month())-1)/3 + 1)
		r[tp.Prefix+"day_name"] = t.Weekday().String()
		r[tp.Prefix+"month_name"] = t.Month().String()
		r[tp.Prefix+"hour"] = int64(t.Hour())
	}
	return in, nil
}

// Constant sets a fixed value on every record, e.g. tagging rows with the
// fiscal year of the source sheet.
type Constant struct {
	Field string
	Value any
}

func (Constant) Name() string { return "constant" }

func (c Constant) Apply(in []records.Record) ([]records.Record, error) {
	for _, r := range in {
		r[c.Field] = c.Value
	}
	return in, nil
}
