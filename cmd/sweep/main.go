// Command sweep garbage-collects orphaned data files from the object store.
// Snapshot writes that lost a commit race, or that failed partway, leave
// data files no manifest references; sweep deletes those once they are
// older than the grace window. Files reachable from the current snapshot's
// parent chain are never touched.
package main

import (
	"context"
	"flag"
	"log"
	"os"
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
		table   string
		grace   time.Duration
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/retail.json", "pipeline config JSON path")
	flag.StringVar(&table, "table", "", "table to sweep (default: all tables in the catalog)")
	flag.DurationVar(&grace, "grace", time.Hour, "minimum age before an unreferenced file is deleted")
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

	var tables []string
	if table != "" {
		tables = []string{table}
	} else {
		refs, err := cat.Tables(ctx)
		if err != nil {
			log.Fatalf("list tables: %v", err)
		}
		for _, r := range refs {
			tables = append(tables, r.Table)
		}
	}

	failed := false
	for _, t := range tables {
		current, err := cat.Current(ctx, t)
		if err != nil {
			log.Printf("table=%s current: %v", t, err)
			failed = true
			continue
		}
		res, err := snapshot.Sweep(ctx, store, t, current, grace, time.Now())
		if err != nil {
			log.Printf("table=%s sweep: %v", t, err)
			failed = true
			continue
		}
		log.Printf("table=%s scanned=%d referenced=%d deleted=%d skipped=%d",
			t, res.Scanned, res.Referenced, len(res.Deleted), res.Skipped)
	}
	if failed {
		os.Exit(1)
	}
}
