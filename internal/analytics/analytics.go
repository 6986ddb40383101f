// Package analytics derives reporting tables from a cleaned, enriched
// retail table: customer RFM, product performance, country sales, and
// monthly trends, plus a whole-table business summary. Each derived table
// is a plain record slice so it can be snapshotted and committed through
// the same write path as the base table.
//
// Input rows may come straight from the transform stage (typed values) or
// back out of snapshot data files (JSON types: float64 numbers, RFC 3339
// timestamp strings); the accessors below accept both.
package analytics

import (
	"math"
	"sort"
	"time"

	"ingest/pkg/records"
)

func str(r records.Record, key string) string {
	s, _ := r.String(key)
	return s
}

func num(r records.Record, key string) float64 {
	f, _ := r.Float(key)
	return f
}

func timestamp(r records.Record, key string) (time.Time, bool) {
	switch v := r[key].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// CustomerRFM groups rows by customer and derives recency (days since last
// purchase, relative to the newest purchase in the table), frequency (row
// count), and monetary value (summed total_amount).
func CustomerRFM(rows []records.Record) []records.Record {
	type acc struct {
		last      time.Time
		frequency int64
		monetary  float64
	}
	var maxDate time.Time
	byCustomer := make(map[string]*acc)
	for _, r := range rows {
		t, ok := timestamp(r, "invoice_date")
		if ok && t.After(maxDate) {
			maxDate = t
		}
		c := str(r, "customer_id")
		a := byCustomer[c]
		if a == nil {
			a = &acc{}
			byCustomer[c] = a
		}
		if ok && t.After(a.last) {
			a.last = t
		}
		a.frequency++
		a.monetary += num(r, "total_amount")
	}

	out := make([]records.Record, 0, len(byCustomer))
	for c, a := range byCustomer {
		out = append(out, records.Record{
			"customer_id":    c,
			"last_purchase":  a.last.UTC(),
			"frequency":      a.frequency,
			"monetary_value": round2(a.monetary),
			"recency_days":   int64(maxDate.Sub(a.last).Hours() / 24),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return str(out[i], "customer_id") < str(out[j], "customer_id")
	})
	return out
}

// ProductPerformance groups rows by stock code and description and derives
// total quantity sold, total revenue, and the distinct customer count.
func ProductPerformance(rows []records.Record) []records.Record {
	type key struct{ code, desc string }
	type acc struct {
		quantity  float64
		revenue   float64
		customers map[string]struct{}
	}
	byProduct := make(map[key]*acc)
	for _, r := range rows {
		k := key{str(r, "stock_code"), str(r, "description")}
		a := byProduct[k]
		if a == nil {
			a = &acc{customers: make(map[string]struct{})}
			byProduct[k] = a
		}
		a.quantity += num(r, "quantity")
		a.revenue += num(r, "total_amount")
		a.customers[str(r, "customer_id")] = struct{}{}
	}

	out := make([]records.Record, 0, len(byProduct))
	for k, a := range byProduct {
		out = append(out, records.Record{
			"stock_code":          k.code,
			"description":         k.desc,
			"total_quantity_sold": int64(a.quantity),
			"total_revenue":       round2(a.revenue),
			"unique_customers":    int64(len(a.customers)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if str(a, "stock_code") != str(b, "stock_code") {
			return str(a, "stock_code") < str(b, "stock_code")
		}
		return str(a, "description") < str(b, "description")
	})
	return out
}

// CountrySales groups rows by country and derives total revenue, order
// count, and the distinct customer count.
func CountrySales(rows []records.Record) []records.Record {
	type acc struct {
		revenue   float64
		orders    int64
		customers map[string]struct{}
	}
	byCountry := make(map[string]*acc)
	for _, r := range rows {
		c := str(r, "country")
		a := byCountry[c]
		if a == nil {
			a = &acc{customers: make(map[string]struct{})}
			byCountry[c] = a
		}
		a.revenue += num(r, "total_amount")
		a.orders++
		a.customers[str(r, "customer_id")] = struct{}{}
	}

	out := make([]records.Record, 0, len(byCountry))
	for c, a := range byCountry {
		out = append(out, records.Record{
			"country":          c,
			"total_revenue":    round2(a.revenue),
			"total_orders":     a.orders,
			"unique_customers": int64(len(a.customers)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return str(out[i], "country") < str(out[j], "country")
	})
	return out
}

// MonthlyTrends groups rows by fiscal year and calendar month (using the
// invoice_ time-part columns) and derives monthly revenue and order count.
func MonthlyTrends(rows []records.Record) []records.Record {
	type key struct {
		fiscal      string
		year, month int64
		monthName   string
	}
	type acc struct {
		revenue float64
		orders  int64
	}
	byMonth := make(map[key]*acc)
	for _, r := range rows {
		k := key{
			fiscal:    str(r, "fiscal_year"),
			year:      int64(num(r, "invoice_year")),
			month:     int64(num(r, "invoice_month")),
			monthName: str(r, "invoice_month_name"),
		}
		a := byMonth[k]
		if a == nil {
			a = &acc{}
			byMonth[k] = a
		}
		a.revenue += num(r, "total_amount")
		a.orders++
	}

	out := make([]records.Record, 0, len(byMonth))
	for k, a := range byMonth {
		out = append(out, records.Record{
			"fiscal_year":     k.fiscal,
			"year":            k.year,
			"month":           k.month,
			"month_name":      k.monthName,
			"monthly_revenue": round2(a.revenue),
			"monthly_orders":  a.orders,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if str(a, "fiscal_year") != str(b, "fiscal_year") {
			return str(a, "fiscal_year") < str(b, "fiscal_year")
		}
		if num(a, "year") != num(b, "year") {
			return num(a, "year") < num(b, "year")
		}
		return num(a, "month") < num(b, "month")
	})
	return out
}

// Summary is the whole-table business rollup.
type Summary struct {
	TotalRevenue    float64
	TotalOrders     int64
	UniqueCustomers int64
	UniqueProducts  int64
}

// Summarize computes the business summary: total revenue, distinct invoice
// count, and distinct customer and product counts.
func Summarize(rows []records.Record) Summary {
	var revenue float64
	orders := make(map[string]struct{})
	customers := make(map[string]struct{})
	products := make(map[string]struct{})
	for _, r := range rows {
		revenue += num(r, "total_amount")
		orders[str(r, "invoice")] = struct{}{}
		customers[str(r, "customer_id")] = struct{}{}
		products[str(r, "stock_code")] = struct{}{}
	}
	return Summary{
		TotalRevenue:    round2(revenue),
		TotalOrders:     int64(len(orders)),
		UniqueCustomers: int64(len(customers)),
		UniqueProducts:  int64(len(products)),
	}
}
