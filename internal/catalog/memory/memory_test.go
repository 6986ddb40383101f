package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ingest/internal/catalog"
)

func TestCommit_FirstAndAdvance(t *testing.T) {
	c := New()
	ctx := context.Background()

	cur, err := c.Current(ctx, "retail")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur != "" {
		t.Fatalf("Current=%q; want empty for fresh table", cur)
	}

	if err := c.Commit(ctx, "retail", "", "snap-1"); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if err := c.Commit(ctx, "retail", "snap-1", "snap-2"); err != nil {
		t.Fatalf("advance Commit: %v", err)
	}

	cur, _ = c.Current(ctx, "retail")
	if cur != "snap-2" {
		t.Fatalf("Current=%q; want snap-2", cur)
	}
}

func TestCommit_StaleParentRejected(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.Commit(ctx, "retail", "", "snap-1"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Stale parent: the table moved past snap-0 long ago.
	err := c.Commit(ctx, "retail", "snap-0", "snap-2")
	if !errors.Is(err, catalog.ErrConcurrentModification) {
		t.Fatalf("err=%v; want ErrConcurrentModification", err)
	}

	// A second first-commit is also a conflict.
	err = c.Commit(ctx, "retail", "", "snap-3")
	if !errors.Is(err, catalog.ErrConcurrentModification) {
		t.Fatalf("err=%v; want ErrConcurrentModification", err)
	}

	cur, _ := c.Current(ctx, "retail")
	if cur != "snap-1" {
		t.Fatalf("Current=%q; losing commits must not move the pointer", cur)
	}
}

/*
TestCommit_ConcurrentExactlyOneWins races N goroutines committing against
the same parent; exactly one must win and the rest must observe a conflict.
*/
func TestCommit_ConcurrentExactlyOneWins(t *testing.T) {
	c := New()
	ctx := context.Background()
	if err := c.Commit(ctx, "retail", "", "base"); err != nil {
		t.Fatalf("seed Commit: %v", err)
	}

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Commit(ctx, "retail", "base", "contender")
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, catalog.ErrConcurrentModification):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins=%d conflicts=%d; want exactly one winner", wins, conflicts)
	}
}

func TestTables_SortedListing(t *testing.T) {
	c := New()
	ctx := context.Background()
	for _, tbl := range []string{"orders", "customers", "invoices"} {
		if err := c.Commit(ctx, tbl, "", "snap-"+tbl); err != nil {
			t.Fatalf("Commit %s: %v", tbl, err)
		}
	}

	refs, err := c.Tables(ctx)
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	want := []string{"customers", "invoices", "orders"}
	if len(refs) != len(want) {
		t.Fatalf("len(refs)=%d; want %d", len(refs), len(want))
	}
	for i, ref := range refs {
		if ref.Table != want[i] {
			t.Fatalf("refs[%d].Table=%s; want %s", i, ref.Table, want[i])
		}
	}
}

func TestRunLog(t *testing.T) {
	c := New()
	ctx := context.Background()

	r, err := c.GetRun(ctx, "unit-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r != nil {
		t.Fatalf("GetRun=%+v; want nil for unknown unit", r)
	}

	run := catalog.Run{
		UnitID:     "unit-1",
		Table:      "retail",
		Stage:      "done",
		Outcome:    catalog.OutcomeDone,
		SnapshotID: "snap-1",
	}
	if err := c.PutRun(ctx, run); err != nil {
		t.Fatalf("PutRun: %v", err)
	}

	got, err := c.GetRun(ctx, "unit-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil || got.SnapshotID != "snap-1" || got.Outcome != catalog.OutcomeDone {
		t.Fatalf("got=%+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not stamped")
	}

	// Upsert replaces.
	run.Outcome = catalog.OutcomeFailed
	if err := c.PutRun(ctx, run); err != nil {
		t.Fatalf("PutRun update: %v", err)
	}
	got, _ = c.GetRun(ctx, "unit-1")
	if got.Outcome != catalog.OutcomeFailed {
		t.Fatalf("Outcome=%s; want failed after upsert", got.Outcome)
	}
}
