package analytics

import (
	"testing"
	"time"

	"ingest/pkg/records"
)

func row(invoice, stock, desc string, qty int64, total float64, cust, country string, date time.Time) records.Record {
	return records.Record{
		"invoice":            invoice,
		"stock_code":         stock,
		"description":        desc,
		"quantity":           qty,
		"total_amount":       total,
		"customer_id":        cust,
		"country":            country,
		"invoice_date":       date,
		"fiscal_year":        "2009-2010",
		"invoice_year":       int64(date.Year()),
		"invoice_month":      int64(date.Month()),
		"invoice_month_name": date.Month().String(),
	}
}

func sampleRows() []records.Record {
	d := func(day int, month time.Month) time.Time {
		return time.Date(2010, month, day, 12, 0, 0, 0, time.UTC)
	}
	return []records.Record{
		row("INV-1", "SC-1", "Mug", 2, 5.00, "C1", "United Kingdom", d(10, time.January)),
		row("INV-1", "SC-2", "Bowl", 1, 3.50, "C1", "United Kingdom", d(10, time.January)),
		row("INV-2", "SC-1", "Mug", 4, 10.00, "C2", "France", d(20, time.February)),
		row("INV-3", "SC-1", "Mug", 1, 2.50, "C1", "United Kingdom", d(25, time.February)),
	}
}

func TestCustomerRFM(t *testing.T) {
	got := CustomerRFM(sampleRows())
	if len(got) != 2 {
		t.Fatalf("len=%d; want 2 customers", len(got))
	}

	c1 := got[0]
	if str(c1, "customer_id") != "C1" {
		t.Fatalf("got[0]=%v; want C1 first", c1)
	}
	if f, _ := c1.Float("frequency"); f != 3 {
		t.Fatalf("C1 frequency=%v; want 3", f)
	}
	if m, _ := c1.Float("monetary_value"); m != 11.00 {
		t.Fatalf("C1 monetary_value=%v; want 11.00", m)
	}
	if r, _ := c1.Float("recency_days"); r != 0 {
		t.Fatalf("C1 recency_days=%v; want 0 (newest purchase)", r)
	}

	c2 := got[1]
	if r, _ := c2.Float("recency_days"); r != 5 {
		t.Fatalf("C2 recency_days=%v; want 5", r)
	}
	if m, _ := c2.Float("monetary_value"); m != 10.00 {
		t.Fatalf("C2 monetary_value=%v; want 10.00", m)
	}
}

/*
TestCustomerRFM_SnapshotTypedRows feeds rows shaped the way they come back
out of snapshot data files (RFC 3339 timestamp strings, float64 numbers)
and expects the same aggregates as for natively typed rows.
*/
func TestCustomerRFM_SnapshotTypedRows(t *testing.T) {
	rows := []records.Record{
		{"customer_id": "C1", "invoice_date": "2010-02-25T12:00:00Z", "total_amount": 2.5},
		{"customer_id": "C1", "invoice_date": "2010-01-10T12:00:00Z", "total_amount": 8.5},
	}
	got := CustomerRFM(rows)
	if len(got) != 1 {
		t.Fatalf("len=%d; want 1", len(got))
	}
	if m, _ := got[0].Float("monetary_value"); m != 11.00 {
		t.Fatalf("monetary_value=%v; want 11.00", m)
	}
	last, ok := got[0]["last_purchase"].(time.Time)
	if !ok || last.Day() != 25 {
		t.Fatalf("last_purchase=%v; want Feb 25", got[0]["last_purchase"])
	}
}

func TestProductPerformance(t *testing.T) {
	got := ProductPerformance(sampleRows())
	if len(got) != 2 {
		t.Fatalf("len=%d; want 2 products", len(got))
	}

	mug := got[0]
	if str(mug, "stock_code") != "SC-1" {
		t.Fatalf("got[0]=%v; want SC-1 first", mug)
	}
	if q, _ := mug.Float("total_quantity_sold"); q != 7 {
		t.Fatalf("SC-1 quantity=%v; want 7", q)
	}
	if rev, _ := mug.Float("total_revenue"); rev != 17.50 {
		t.Fatalf("SC-1 revenue=%v; want 17.50", rev)
	}
	if u, _ := mug.Float("unique_customers"); u != 2 {
		t.Fatalf("SC-1 unique_customers=%v; want 2", u)
	}
}

func TestCountrySales(t *testing.T) {
	got := CountrySales(sampleRows())
	if len(got) != 2 {
		t.Fatalf("len=%d; want 2 countries", len(got))
	}

	fr, uk := got[0], got[1]
	if str(fr, "country") != "France" || str(uk, "country") != "United Kingdom" {
		t.Fatalf("order=%v,%v; want France then United Kingdom", fr["country"], uk["country"])
	}
	if o, _ := uk.Float("total_orders"); o != 3 {
		t.Fatalf("UK total_orders=%v; want 3", o)
	}
	if rev, _ := uk.Float("total_revenue"); rev != 11.00 {
		t.Fatalf("UK total_revenue=%v; want 11.00", rev)
	}
	if u, _ := fr.Float("unique_customers"); u != 1 {
		t.Fatalf("FR unique_customers=%v; want 1", u)
	}
}

func TestMonthlyTrends(t *testing.T) {
	got := MonthlyTrends(sampleRows())
	if len(got) != 2 {
		t.Fatalf("len=%d; want 2 months", len(got))
	}

	jan, feb := got[0], got[1]
	if m, _ := jan.Float("month"); m != 1 {
		t.Fatalf("got[0] month=%v; want January first", m)
	}
	if rev, _ := jan.Float("monthly_revenue"); rev != 8.50 {
		t.Fatalf("January revenue=%v; want 8.50", rev)
	}
	if o, _ := feb.Float("monthly_orders"); o != 2 {
		t.Fatalf("February orders=%v; want 2", o)
	}
	if str(feb, "month_name") != "February" || str(feb, "fiscal_year") != "2009-2010" {
		t.Fatalf("feb=%v", feb)
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(sampleRows())
	want := Summary{TotalRevenue: 21.00, TotalOrders: 3, UniqueCustomers: 2, UniqueProducts: 2}
	if got != want {
		t.Fatalf("Summarize=%+v; want %+v", got, want)
	}
}

func TestEmptyInput(t *testing.T) {
	if got := CustomerRFM(nil); len(got) != 0 {
		t.Fatalf("CustomerRFM(nil)=%v", got)
	}
	if got := Summarize(nil); got != (Summary{}) {
		t.Fatalf("Summarize(nil)=%+v", got)
	}
}
