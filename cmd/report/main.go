// Command report derives the analytics tables from a committed base table:
// customer RFM, product performance, country sales, and monthly trends.
// Each derived table is rebuilt from the base table's full history and
// committed as a snapshot of its own, so reports version the same way the
// base table does. It finishes by printing the business summary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"ingest/internal/analytics"
	"ingest/internal/catalog"
	"ingest/internal/config"
	"ingest/internal/objstore"
	"ingest/internal/snapshot"
	"ingest/internal/transform"
	"ingest/pkg/records"

	_ "ingest/internal/catalog/all"
	_ "ingest/internal/objstore/all"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "configs/pipelines/retail.json", "pipeline config JSON path")
	flag.Parse()

	spec, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	cat, err := catalog.New(ctx, catalog.Config{Kind: spec.Catalog.Kind, DSN: spec.Catalog.DSN})
	if err != nil {
		log.Fatalf("init catalog: %v", err)
	}
	defer cat.Close()

	store, err := objstore.New(ctx, objstore.Config{
		Kind:           spec.Store.Kind,
		Bucket:         spec.Store.Bucket,
		Endpoint:       spec.Store.Endpoint,
		Region:         spec.Store.Region,
		ForcePathStyle: spec.Store.ForcePathStyle,
		Root:           spec.Store.Root,
	})
	if err != nil {
		log.Fatalf("init store: %v", err)
	}

	current, err := cat.Current(ctx, spec.Table)
	if err != nil {
		log.Fatalf("table=%s current: %v", spec.Table, err)
	}
	if current == "" {
		log.Fatalf("table=%s has no committed snapshot", spec.Table)
	}

	rows, err := snapshot.TableRows(ctx, store, spec.Table, current)
	if err != nil {
		log.Fatalf("table=%s read: %v", spec.Table, err)
	}
	log.Printf("report: table=%s snapshot=%s rows=%d", spec.Table, current, len(rows))

	derived := []struct {
		suffix string
		rows   []records.Record
	}{
		{"customer_rfm", analytics.CustomerRFM(rows)},
		{"product_performance", analytics.ProductPerformance(rows)},
		{"country_sales", analytics.CountrySales(rows)},
		{"monthly_trends", analytics.MonthlyTrends(rows)},
	}

	writer := &snapshot.Writer{Store: store}
	failed := false
	for _, d := range derived {
		table := spec.Table + "_" + d.suffix
		id, err := publish(ctx, cat, writer, table, spec.Schema.ID, d.rows)
		if err != nil {
			log.Printf("report: table=%s publish: %v", table, err)
			failed = true
			continue
		}
		log.Printf("report: table=%s snapshot=%s rows=%d", table, id, len(d.rows))
	}

	s := analytics.Summarize(rows)
	fmt.Printf("total_revenue=%.2f total_orders=%d unique_customers=%d unique_products=%d\n",
		s.TotalRevenue, s.TotalOrders, s.UniqueCustomers, s.UniqueProducts)

	if failed {
		os.Exit(1)
	}
}

// publish writes rows as a snapshot of table and advances the pointer. The
// report is a single writer per table, so a short CAS retry absorbs any
// concurrent run of the same command.
func publish(ctx context.Context, cat catalog.Catalog, w *snapshot.Writer, table string, schemaID int64, rows []records.Record) (string, error) {
	canon := make([]transform.Canonical, len(rows))
	for i, r := range rows {
		canon[i] = transform.Canonical{Fields: r, Fingerprint: transform.Fingerprint(r, nil)}
	}

	const attempts = 3
	for attempt := 1; ; attempt++ {
		parent, err := cat.Current(ctx, table)
		if err != nil {
			return "", fmt.Errorf("read current: %w", err)
		}
		m, err := w.Write(ctx, table, schemaID, parent, canon)
		if err != nil {
			return "", err
		}
		err = cat.Commit(ctx, table, parent, m.SnapshotID)
		if err == nil {
			return m.SnapshotID, nil
		}
		if !errors.Is(err, catalog.ErrConcurrentModification) || attempt == attempts {
			return "", fmt.Errorf("commit: %w", err)
		}
	}
}
