package csv

import (
	"context"
	"strings"
	"testing"
)

func TestRead_HeaderMapAndTypes(t *testing.T) {
	in := "Invoice,StockCode,Quantity,Customer ID\n" +
		"536365,85123A,6,17850\n" +
		"536366,71053,2,\n"

	b, err := Read(context.Background(), strings.NewReader(in), "retail.csv", Options{
		TrimSpace: true,
		HeaderMap: map[string]string{
			"Invoice":     "invoice",
			"StockCode":   "stock_code",
			"Quantity":    "quantity",
			"Customer ID": "customer_id",
		},
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b.Source.File != "retail.csv" {
		t.Fatalf("Source.File=%q", b.Source.File)
	}
	if len(b.Rows) != 2 {
		t.Fatalf("len(Rows)=%d; want 2", len(b.Rows))
	}
	if b.Rows[0]["invoice"] != "536365" || b.Rows[0]["stock_code"] != "85123A" {
		t.Fatalf("row 0=%#v", b.Rows[0])
	}
	// Present-but-empty cell stays an empty string, not absent.
	if v, ok := b.Rows[1]["customer_id"]; !ok || v != "" {
		t.Fatalf("row 1 customer_id=%#v ok=%v; want empty string", v, ok)
	}
}

func TestRead_SheetProvenance(t *testing.T) {
	in := "invoice,quantity\nA,1\n"
	b, err := Read(context.Background(), strings.NewReader(in), "retail.csv", Options{Sheet: "Year 2009-2010"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if b.Source.File != "retail.csv" || b.Source.Sheet != "Year 2009-2010" {
		t.Fatalf("provenance=%+v; want file and sheet recorded", b.Source)
	}
}

func TestRead_BOMStripped(t *testing.T) {
	in := "\uFEFFinvoice,quantity\nA,1\n"
	b, err := Read(context.Background(), strings.NewReader(in), "bom.csv", Options{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if _, ok := b.Rows[0]["invoice"]; !ok {
		t.Fatalf("BOM leaked into first header: %#v", b.Rows[0])
	}
}

/*
TestRead_ShortRowLeavesKeysAbsent checks that a ragged row omits the
missing trailing columns entirely, so validation can tell a structurally
missing cell from an empty one.
*/
func TestRead_ShortRowLeavesKeysAbsent(t *testing.T) {
	in := "a,b,c\n1,2,3\n4,5\n"
	b, err := Read(context.Background(), strings.NewReader(in), "short.csv", Options{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(b.Rows) != 2 {
		t.Fatalf("len(Rows)=%d; want 2", len(b.Rows))
	}
	if _, ok := b.Rows[1]["c"]; ok {
		t.Fatalf("short row grew a c key: %#v", b.Rows[1])
	}
	if b.Rows[1]["a"] != "4" || b.Rows[1]["b"] != "5" {
		t.Fatalf("row 1=%#v", b.Rows[1])
	}
}

func TestRead_CustomDelimiterAndMaxRows(t *testing.T) {
	in := "a;b\n1;2\n3;4\n5;6\n"
	b, err := Read(context.Background(), strings.NewReader(in), "semi.csv", Options{
		Comma:   ';',
		MaxRows: 2,
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(b.Rows) != 2 {
		t.Fatalf("len(Rows)=%d; want 2 (MaxRows)", len(b.Rows))
	}
	if b.Rows[0]["a"] != "1" || b.Rows[0]["b"] != "2" {
		t.Fatalf("row 0=%#v", b.Rows[0])
	}
}

func TestRead_EmptyInput(t *testing.T) {
	_, err := Read(context.Background(), strings.NewReader(""), "empty.csv", Options{})
	if err == nil {
		t.Fatal("want error for input with no header")
	}
}

func TestRead_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Read(ctx, strings.NewReader("a\n1\n"), "x.csv", Options{})
	if err == nil {
		t.Fatal("want context error")
	}
}
