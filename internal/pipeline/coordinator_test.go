package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"ingest/internal/catalog"
	catmem "ingest/internal/catalog/memory"
	objmem "ingest/internal/objstore/memory"
	"ingest/internal/schema"
	"ingest/internal/snapshot"
	"ingest/internal/transform"
	"ingest/internal/transform/builtin"
	"ingest/internal/validate"
	"ingest/pkg/records"
)

// bytesSource serves fixed CSV bytes as an ingestion source.
type bytesSource struct {
	name string
	data string
}

func (b bytesSource) Name() string { return b.name }
func (b bytesSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(b.data)), nil
}

// failingSource always fails to open.
type failingSource struct{ err error }

func (f failingSource) Name() string { return "failing" }
func (f failingSource) Open(ctx context.Context) (io.ReadCloser, error) { return nil, f.err }

// failRule aborts the transform chain.
type failRule struct{ err error }

func (failRule) Name() string { return "fail" }
func (f failRule) Apply(in []records.Record) ([]records.Record, error) { return nil, f.err }

func testSchema() schema.Schema {
	return schema.Schema{
		ID:   1,
		Name: "retail_invoice",
		Fields: []schema.Field{
			{Name: "invoice", Type: "text", Required: true},
			{Name: "quantity", Type: "int", Required: true},
		},
	}
}

type fixture struct {
	coord *Coordinator
	cat   *catmem.Catalog
	store *objmem.Store
}

func newFixture(rules ...transform.Rule) *fixture {
	cat := catmem.New()
	store := objmem.New()
	s := testSchema()
	if rules == nil {
		rules = []transform.Rule{builtin.ForSchema(s, "")}
	}
	return &fixture{
		coord: &Coordinator{
			Job:             "test",
			Table:           "retail",
			Catalog:         cat,
			Store:           store,
			Validator:       &validate.Validator{Schema: s},
			Transformer:     transform.New(transform.Config{Rules: rules, FingerprintFields: []string{"invoice"}}),
			Writer:          &snapshot.Writer{Store: store, InitialBackoff: time.Millisecond},
			ConflictBackoff: time.Millisecond,
		},
		cat:   cat,
		store: store,
	}
}

func goodCSV(rows int) string {
	var sb strings.Builder
	sb.WriteString("invoice,quantity\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&sb, "INV-%03d,%d\n", i, i+1)
	}
	return sb.String()
}

func TestSubmit_EndToEnd(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	st, err := fx.coord.Submit(ctx, Unit{ID: "u1", Source: bytesSource{"u1.csv", goodCSV(5)}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if st.Stage != StageDone || st.Rows != 5 || st.Rejected != 0 || st.Skipped {
		t.Fatalf("st=%+v; want done with 5 rows", st)
	}

	cur, _ := fx.cat.Current(ctx, "retail")
	if cur != st.SnapshotID {
		t.Fatalf("catalog points at %q; want %q", cur, st.SnapshotID)
	}

	m, err := snapshot.Load(ctx, fx.store, "retail", st.SnapshotID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.RowCount != 5 || m.ParentID != "" || m.SchemaID != 1 {
		t.Fatalf("manifest=%+v", m)
	}

	run, err := fx.cat.GetRun(ctx, "u1")
	if err != nil || run == nil {
		t.Fatalf("GetRun: run=%v err=%v", run, err)
	}
	if run.Outcome != catalog.OutcomeDone || run.SnapshotID != st.SnapshotID {
		t.Fatalf("run=%+v", run)
	}
}

/*
TestSubmit_IdempotentResubmission verifies a unit recorded as done is
skipped on resubmission: same snapshot id back, no new snapshot written,
table pointer untouched.
*/
func TestSubmit_IdempotentResubmission(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	unit := Unit{ID: "u1", Source: bytesSource{"u1.csv", goodCSV(3)}}

	first, err := fx.coord.Submit(ctx, unit)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	objectsAfterFirst := fx.store.Len()

	second, err := fx.coord.Submit(ctx, unit)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if !second.Skipped || second.SnapshotID != first.SnapshotID {
		t.Fatalf("second=%+v; want skipped with snapshot %s", second, first.SnapshotID)
	}
	if fx.store.Len() != objectsAfterFirst {
		t.Fatalf("resubmission wrote objects: %d -> %d", objectsAfterFirst, fx.store.Len())
	}
	cur, _ := fx.cat.Current(ctx, "retail")
	if cur != first.SnapshotID {
		t.Fatalf("pointer moved to %q", cur)
	}
}

func TestSubmit_PartialRejections(t *testing.T) {
	fx := newFixture()
	csv := "invoice,quantity\nINV-1,2\nINV-2,lots\nINV-3,4\n"

	st, err := fx.coord.Submit(context.Background(), Unit{ID: "u1", Source: bytesSource{"u1.csv", csv}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if st.Stage != StageDone || st.Rows != 2 || st.Rejected != 1 {
		t.Fatalf("st=%+v; want done, rows=2, rejected=1", st)
	}
}

func TestSubmit_AllRejectedIsTerminalRejected(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	csv := "invoice,quantity\nINV-1,bad\nINV-2,worse\n"

	st, err := fx.coord.Submit(ctx, Unit{ID: "u1", Source: bytesSource{"u1.csv", csv}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if st.Stage != StageRejected || st.Rejected != 2 {
		t.Fatalf("st=%+v; want rejected with 2 rejections", st)
	}

	cur, _ := fx.cat.Current(ctx, "retail")
	if cur != "" {
		t.Fatalf("rejected unit moved the pointer to %q", cur)
	}
	run, _ := fx.cat.GetRun(ctx, "u1")
	if run == nil || run.Outcome != catalog.OutcomeRejected {
		t.Fatalf("run=%+v; want rejected outcome", run)
	}
}

func TestSubmit_SchemaMismatchFailsValidation(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	csv := "other,columns\na,b\n"

	st, err := fx.coord.Submit(ctx, Unit{ID: "u1", Source: bytesSource{"u1.csv", csv}})
	var sm *validate.SchemaMismatchError
	if !errors.As(err, &sm) {
		t.Fatalf("err=%v; want *SchemaMismatchError", err)
	}
	if st.Stage != StageFailed || st.FailedAt != StageValidating {
		t.Fatalf("st=%+v; want failed at validating", st)
	}
	if cur, _ := fx.cat.Current(ctx, "retail"); cur != "" {
		t.Fatalf("failed unit moved the pointer to %q", cur)
	}
}

func TestSubmit_SourceOpenFailure(t *testing.T) {
	fx := newFixture()
	boom := errors.New("connection refused")

	st, err := fx.coord.Submit(context.Background(), Unit{ID: "u1", Source: failingSource{err: boom}})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v; want wrapped open error", err)
	}
	if st.Stage != StageFailed || st.FailedAt != StageValidating {
		t.Fatalf("st=%+v; want failed at validating", st)
	}
}

func TestSubmit_TransformErrorIsFatal(t *testing.T) {
	boom := errors.New("rule bug")
	fx := newFixture(failRule{err: boom})
	ctx := context.Background()

	st, err := fx.coord.Submit(ctx, Unit{ID: "u1", Source: bytesSource{"u1.csv", goodCSV(2)}})
	var te *transform.Error
	if !errors.As(err, &te) {
		t.Fatalf("err=%v; want *transform.Error", err)
	}
	if st.Stage != StageFailed || st.FailedAt != StageTransforming {
		t.Fatalf("st=%+v; want failed at transforming", st)
	}
	if fx.store.Len() != 0 {
		t.Fatalf("transform failure wrote %d objects", fx.store.Len())
	}
	run, _ := fx.cat.GetRun(ctx, "u1")
	if run == nil || run.Outcome != catalog.OutcomeFailed {
		t.Fatalf("run=%+v; want failed outcome", run)
	}
}

func TestSubmit_WriteFailure(t *testing.T) {
	fx := newFixture()
	fx.store.PutErr = errors.New("disk on fire")
	fx.coord.Writer.MaxAttempts = 2

	st, err := fx.coord.Submit(context.Background(), Unit{ID: "u1", Source: bytesSource{"u1.csv", goodCSV(2)}})
	var we *snapshot.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("err=%v; want *snapshot.WriteError", err)
	}
	if st.Stage != StageFailed || st.FailedAt != StageWriting {
		t.Fatalf("st=%+v; want failed at writing", st)
	}
	if cur, _ := fx.cat.Current(context.Background(), "retail"); cur != "" {
		t.Fatalf("failed write moved the pointer to %q", cur)
	}
}

/*
TestSubmit_PerUnitConstantsAndSheet ingests two units carrying different
constant columns, as when each extract is one spreadsheet tab tagged with
its own fiscal year, and checks every written row carries its own unit's
value rather than a pipeline-global one.
*/
func TestSubmit_PerUnitConstantsAndSheet(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	units := []Unit{
		{
			ID:        "u-2009",
			Source:    bytesSource{"2009.csv", goodCSV(2)},
			Sheet:     "Year 2009-2010",
			Constants: map[string]any{"fiscal_year": "2009-2010"},
		},
		{
			ID:        "u-2010",
			Source:    bytesSource{"2010.csv", goodCSV(2)},
			Sheet:     "Year 2010-2011",
			Constants: map[string]any{"fiscal_year": "2010-2011"},
		},
	}

	for _, u := range units {
		st, err := fx.coord.Submit(ctx, u)
		if err != nil {
			t.Fatalf("Submit %s: %v", u.ID, err)
		}
		m, err := snapshot.Load(ctx, fx.store, "retail", st.SnapshotID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		rows, err := snapshot.Rows(ctx, fx.store, m)
		if err != nil {
			t.Fatalf("Rows: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("unit %s wrote %d rows; want 2", u.ID, len(rows))
		}
		for _, r := range rows {
			if got := r["fiscal_year"]; got != u.Constants["fiscal_year"] {
				t.Fatalf("unit %s row fiscal_year=%v; want %v", u.ID, got, u.Constants["fiscal_year"])
			}
		}
	}
}

/*
TestSubmit_SchemaDriftNeedsOptIn commits under one schema id, then submits
a batch declaring a different id against the same table: blocked unless the
coordinator opts into schema changes, in which case the new manifest records
the new id with the old snapshot as parent.
*/
func TestSubmit_SchemaDriftNeedsOptIn(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	first, err := fx.coord.Submit(ctx, Unit{ID: "u1", Source: bytesSource{"u1.csv", goodCSV(2)}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	s2 := testSchema()
	s2.ID = 2
	drifted := &Coordinator{
		Job:         "test",
		Table:       "retail",
		Catalog:     fx.cat,
		Store:       fx.store,
		Validator:   &validate.Validator{Schema: s2},
		Transformer: transform.New(transform.Config{Rules: []transform.Rule{builtin.ForSchema(s2, "")}}),
		Writer:      &snapshot.Writer{Store: fx.store, InitialBackoff: time.Millisecond},
	}

	st, err := drifted.Submit(ctx, Unit{ID: "u2", Source: bytesSource{"u2.csv", goodCSV(2)}})
	if err == nil || st.Stage != StageFailed {
		t.Fatalf("st=%+v err=%v; want failure on schema drift", st, err)
	}
	if st.FailedAt != StageWriting {
		t.Fatalf("FailedAt=%s; want writing (pre-commit check, no commit was attempted)", st.FailedAt)
	}
	if cur, _ := fx.cat.Current(ctx, "retail"); cur != first.SnapshotID {
		t.Fatalf("pointer moved to %q", cur)
	}

	drifted.AllowSchemaChange = true
	st, err = drifted.Submit(ctx, Unit{ID: "u3", Source: bytesSource{"u3.csv", goodCSV(2)}})
	if err != nil || st.Stage != StageDone {
		t.Fatalf("st=%+v err=%v; want done with opt-in", st, err)
	}
	m, err := snapshot.Load(ctx, fx.store, "retail", st.SnapshotID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.SchemaID != 2 || m.ParentID != first.SnapshotID {
		t.Fatalf("manifest=%+v; want schema 2 parented on %s", m, first.SnapshotID)
	}
}

// racingCatalog lets a rival writer land a complete snapshot just before
// each of the first `races` commits, forcing a conflict. The rival writes a
// real manifest first: a committed pointer always references one.
type racingCatalog struct {
	catalog.Catalog
	store *objmem.Store
	races int
	rival string
}

func (r *racingCatalog) Commit(ctx context.Context, table, expectedParent, newID string) error {
	if r.races > 0 {
		r.races--
		w := &snapshot.Writer{Store: r.store, InitialBackoff: time.Millisecond}
		m, err := w.Write(ctx, table, 1, expectedParent, nil)
		if err != nil {
			return err
		}
		r.rival = m.SnapshotID
		if err := r.Catalog.Commit(ctx, table, expectedParent, r.rival); err != nil {
			return err
		}
	}
	return r.Catalog.Commit(ctx, table, expectedParent, newID)
}

/*
TestSubmit_CommitConflictRetriesAgainstWinner loses the first commit race
and verifies the retry re-parents on the winner's snapshot: only the write
and commit stages re-run, and the final manifest's parent is the rival.
*/
func TestSubmit_CommitConflictRetriesAgainstWinner(t *testing.T) {
	fx := newFixture()
	rc := &racingCatalog{Catalog: fx.cat, store: fx.store, races: 1}
	fx.coord.Catalog = rc
	ctx := context.Background()

	st, err := fx.coord.Submit(ctx, Unit{ID: "u1", Source: bytesSource{"u1.csv", goodCSV(3)}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if st.Stage != StageDone {
		t.Fatalf("st=%+v; want done after conflict retry", st)
	}

	m, err := snapshot.Load(ctx, fx.store, "retail", st.SnapshotID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.ParentID != rc.rival {
		t.Fatalf("ParentID=%q; want rival %q", m.ParentID, rc.rival)
	}
	if cur, _ := fx.cat.Current(ctx, "retail"); cur != st.SnapshotID {
		t.Fatalf("pointer=%q; want winner-rebased snapshot %q", cur, st.SnapshotID)
	}
}

// conflictCatalog rejects every commit as concurrent.
type conflictCatalog struct{ catalog.Catalog }

func (conflictCatalog) Commit(ctx context.Context, table, expectedParent, newID string) error {
	return catalog.ErrConcurrentModification
}

func TestSubmit_CommitConflictBudgetExhausted(t *testing.T) {
	fx := newFixture()
	fx.coord.Catalog = conflictCatalog{fx.cat}
	fx.coord.CommitAttempts = 2

	st, err := fx.coord.Submit(context.Background(), Unit{ID: "u1", Source: bytesSource{"u1.csv", goodCSV(1)}})
	if !errors.Is(err, catalog.ErrConcurrentModification) {
		t.Fatalf("err=%v; want ErrConcurrentModification", err)
	}
	if st.Stage != StageFailed || st.FailedAt != StageCommitting {
		t.Fatalf("st=%+v; want failed at committing", st)
	}
}

func TestSubmit_NoBackoffAfterFinalAttempt(t *testing.T) {
	fx := newFixture()
	fx.coord.Catalog = conflictCatalog{fx.cat}
	fx.coord.CommitAttempts = 1
	fx.coord.ConflictBackoff = time.Hour

	done := make(chan error, 1)
	go func() {
		_, err := fx.coord.Submit(context.Background(), Unit{ID: "u1", Source: bytesSource{"u1.csv", goodCSV(1)}})
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, catalog.ErrConcurrentModification) {
			t.Fatalf("err=%v; want ErrConcurrentModification", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("single-attempt exhaustion blocked on the conflict backoff")
	}
}

/*
TestSubmitAll_LinearHistory runs several units concurrently against one
table and verifies every commit landed: the parent chain from the final
pointer covers one snapshot per unit, and total row count is preserved.
*/
func TestSubmitAll_LinearHistory(t *testing.T) {
	fx := newFixture()
	fx.coord.CommitAttempts = 20 // plenty for n writers racing on one table
	ctx := context.Background()

	const n = 6
	units := make([]Unit, 0, n)
	for i := 0; i < n; i++ {
		units = append(units, Unit{
			ID:     fmt.Sprintf("u%d", i),
			Source: bytesSource{fmt.Sprintf("u%d.csv", i), goodCSV(2)},
		})
	}

	statuses := fx.coord.SubmitAll(ctx, units, 4)
	if len(statuses) != n {
		t.Fatalf("len(statuses)=%d; want %d", len(statuses), n)
	}
	for _, st := range statuses {
		if st.Err != nil || st.Stage != StageDone {
			t.Fatalf("st=%+v; want all done", st)
		}
	}

	cur, _ := fx.cat.Current(ctx, "retail")
	hist, err := snapshot.History(ctx, fx.store, "retail", cur, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != n {
		t.Fatalf("len(hist)=%d; want %d (one snapshot per unit)", len(hist), n)
	}
	var rows int64
	for _, m := range hist {
		rows += m.RowCount
	}
	if rows != n*2 {
		t.Fatalf("rows=%d; want %d", rows, n*2)
	}
}

func TestSubmitAll_FailureDoesNotCancelSiblings(t *testing.T) {
	fx := newFixture()
	units := []Unit{
		{ID: "ok-1", Source: bytesSource{"a.csv", goodCSV(1)}},
		{ID: "bad", Source: failingSource{err: errors.New("nope")}},
		{ID: "ok-2", Source: bytesSource{"b.csv", goodCSV(1)}},
	}

	statuses := fx.coord.SubmitAll(context.Background(), units, 1)
	if statuses[0].Stage != StageDone || statuses[2].Stage != StageDone {
		t.Fatalf("statuses=%+v; want siblings done", statuses)
	}
	if statuses[1].Stage != StageFailed || statuses[1].Err == nil {
		t.Fatalf("statuses[1]=%+v; want failed with error", statuses[1])
	}
}
