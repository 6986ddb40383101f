// Command tables inspects the catalog: it lists registered tables with
// their current snapshot, and with -history walks a table's snapshot
// lineage newest-first.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"ingest/internal/catalog"
	"ingest/internal/config"
	"ingest/internal/objstore"
	"ingest/internal/snapshot"

	_ "ingest/internal/catalog/all"
	_ "ingest/internal/objstore/all"
)

func main() {
	var (
		cfgPath string
		history string
		limit   int
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/retail.json", "pipeline config JSON path")
	flag.StringVar(&history, "history", "", "show the snapshot history of this table")
	flag.IntVar(&limit, "limit", 10, "max history entries to show")
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

	if history == "" {
		listTables(ctx, cat)
		return
	}

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
	showHistory(ctx, cat, store, history, limit)
}

func listTables(ctx context.Context, cat catalog.Catalog) {
	refs, err := cat.Tables(ctx)
	if err != nil {
		log.Fatalf("list tables: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tSNAPSHOT\tUPDATED")
	for _, r := range refs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Table, r.SnapshotID, r.UpdatedAt.Format(time.RFC3339))
	}
	w.Flush()
}

func showHistory(ctx context.Context, cat catalog.Catalog, store objstore.Store, table string, limit int) {
	current, err := cat.Current(ctx, table)
	if err != nil {
		log.Fatalf("table=%s current: %v", table, err)
	}
	if current == "" {
		log.Fatalf("table=%s has no committed snapshot", table)
	}
	manifests, err := snapshot.History(ctx, store, table, current, limit)
	if err != nil {
		log.Fatalf("table=%s history: %v", table, err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SNAPSHOT\tPARENT\tROWS\tFILES\tCREATED")
	for _, m := range manifests {
		parent := m.ParentID
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			m.SnapshotID, parent, m.RowCount, len(m.Files), m.CreatedAt.Format(time.RFC3339))
	}
	w.Flush()
}
