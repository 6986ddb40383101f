package snapshot

import (
	"context"
	"fmt"
	"log"
	"time"

	"ingest/internal/objstore"
)

// SweepResult summarizes one orphan sweep of a table.
type SweepResult struct {
	Scanned    int
	Referenced int
	Deleted    []string
	Skipped    int // orphans younger than the grace period
}

// Sweep deletes data files under a table's prefix that no manifest reachable
// from currentID references. Such files are leftovers from failed or
// cancelled runs: written, never committed, invisible to readers.
//
// grace protects in-flight runs: an unreferenced file younger than grace may
// belong to a candidate snapshot that has not committed yet, so it is
// skipped. currentID == "" (no committed snapshot) treats every file past
// the grace age as orphaned.
func Sweep(ctx context.Context, store objstore.Store, table, currentID string, grace time.Duration, now time.Time) (SweepResult, error) {
	var res SweepResult

	referenced := map[string]struct{}{}
	if currentID != "" {
		manifests, err := History(ctx, store, table, currentID, 0)
		if err != nil {
			return res, fmt.Errorf("sweep %s: walk history: %w", table, err)
		}
		for _, m := range manifests {
			for _, f := range m.Files {
				referenced[f.Path] = struct{}{}
			}
		}
	}
	res.Referenced = len(referenced)

	objs, err := store.List(ctx, DataPrefix(table))
	if err != nil {
		return res, fmt.Errorf("sweep %s: list data: %w", table, err)
	}
	res.Scanned = len(objs)

	for _, o := range objs {
		if _, ok := referenced[o.Key]; ok {
			continue
		}
		if now.Sub(o.ModTime) < grace {
			res.Skipped++
			continue
		}
		if err := store.Delete(ctx, o.Key); err != nil {
			return res, fmt.Errorf("sweep %s: delete %s: %w", table, o.Key, err)
		}
		res.Deleted = append(res.Deleted, o.Key)
	}

	log.Printf("sweep: table=%s scanned=%d referenced=%d deleted=%d skipped=%d",
		table, res.Scanned, res.Referenced, len(res.Deleted), res.Skipped)
	return res, nil
}
