// Package pipeline sequences one ingestion unit through the four stages:
// validate, transform, write, commit. It owns the per-unit state machine,
// the idempotency check against the run log, and the conflict retry loop.
//
// State machine per unit:
//
//	pending → validating → transforming → writing → committing → done
//
// with rejected and failed as terminal error states. A failure at any stage
// aborts the unit without touching the catalog pointer: files written by an
// aborted unit stay unreferenced (invisible to readers) until the sweeper
// collects them.
//
// Concurrency: units for different tables need no coordination at all, and
// concurrent writers on one table race only at commit. On a commit conflict
// the coordinator refreshes the parent id and re-runs writing+committing; it
// never re-validates or re-transforms, and never merges into the stale
// candidate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"ingest/internal/batch"
	"ingest/internal/catalog"
	"ingest/internal/metrics"
	"ingest/internal/objstore"
	csvparser "ingest/internal/parser/csv"
	"ingest/internal/snapshot"
	"ingest/internal/source"
	"ingest/internal/transform"
	"ingest/internal/validate"
)

// Stage names, also recorded on run log entries.
type Stage string

const (
	StagePending      Stage = "pending"
	StageValidating   Stage = "validating"
	StageTransforming Stage = "transforming"
	StageWriting      Stage = "writing"
	StageCommitting   Stage = "committing"
	StageDone         Stage = "done"
	StageRejected     Stage = "rejected"
	StageFailed       Stage = "failed"
)

// stageError pins a failure to the stage that produced it, so pre-commit
// failures inside the write+commit loop are not misattributed to the commit.
type stageError struct {
	stage Stage
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// Unit is one ingestion unit: a stable id plus the extract it refers to.
// The id is the idempotency key; resubmitting a unit whose id is recorded
// as done is a no-op.
type Unit struct {
	ID     string
	Source source.Source

	// Sheet labels the spreadsheet tab the extract came from; recorded in
	// batch provenance.
	Sheet string

	// Constants are stamped onto every validated row of this unit before
	// the shared transform chain runs, e.g. a per-extract fiscal year.
	Constants map[string]any
}

// Status is the terminal outcome of one unit.
type Status struct {
	UnitID     string
	Stage      Stage // done, rejected, or failed
	FailedAt   Stage // stage that failed, when Stage is failed
	SnapshotID string
	Rows       int // rows committed (or that would commit)
	Rejected   int
	Skipped    bool // true when the run log short-circuited a resubmission
	Err        error
}

// Coordinator runs ingestion units against a single target table. It is
// safe for concurrent use; all mutable state lives in the catalog and the
// object store.
type Coordinator struct {
	Job   string
	Table string

	Catalog     catalog.Catalog
	Store       objstore.Store
	Validator   *validate.Validator
	Transformer *transform.Transformer
	Writer      *snapshot.Writer

	// ParseOptions configure how unit sources are read into raw batches.
	ParseOptions csvparser.Options

	// CommitAttempts bounds the write+commit retry loop under contention.
	// <=0 defaults to 5.
	CommitAttempts int

	// StageTimeout caps each stage's wall time. 0 disables the cap.
	// Cancellation never commits partial snapshots: a timed-out write
	// leaves orphaned files for the sweeper.
	StageTimeout time.Duration

	// ConflictBackoff seeds the backoff between conflicting commit
	// attempts; <=0 defaults to 100ms. Jitter comes from the backoff
	// implementation, which matters when many writers collide at once.
	ConflictBackoff time.Duration

	// AllowSchemaChange permits committing a snapshot whose schema id
	// differs from the parent's. Off by default: a drifted schema id is
	// treated as a misconfigured pipeline, not an evolution request.
	AllowSchemaChange bool
}

func (c *Coordinator) commitAttempts() int {
	if c.CommitAttempts > 0 {
		return c.CommitAttempts
	}
	return 5
}

// stageCtx applies the per-stage timeout.
func (c *Coordinator) stageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.StageTimeout > 0 {
		return context.WithTimeout(ctx, c.StageTimeout)
	}
	return context.WithCancel(ctx)
}

// Submit runs one unit to a terminal status. The returned Status always
// describes the outcome; err is non-nil only for the failed terminal state
// and carries the stage's cause (schema mismatch, transform bug, storage
// failure, exhausted commit conflicts).
func (c *Coordinator) Submit(ctx context.Context, unit Unit) (Status, error) {
	st := Status{UnitID: unit.ID, Stage: StagePending}

	// Idempotency: a unit already recorded as done is skipped without
	// producing a snapshot or moving the table pointer.
	prior, err := c.Catalog.GetRun(ctx, unit.ID)
	if err != nil {
		return c.fail(ctx, st, StagePending, fmt.Errorf("run log lookup: %w", err))
	}
	if prior != nil && prior.Outcome == catalog.OutcomeDone {
		log.Printf("pipeline: unit=%s already done snapshot=%s, skipping", unit.ID, prior.SnapshotID)
		st.Stage = StageDone
		st.SnapshotID = prior.SnapshotID
		st.Skipped = true
		return st, nil
	}

	// Validating.
	vb, report, err := c.runValidate(ctx, unit)
	st.Rejected = len(report.Entries)
	if err != nil {
		return c.fail(ctx, st, StageValidating, err)
	}
	if len(vb.Rows) == 0 && len(report.Entries) > 0 {
		// Every row was rejected: terminal rejected, nothing to commit.
		st.Stage = StageRejected
		c.record(ctx, unit, catalog.Run{
			Stage: string(StageValidating), Outcome: catalog.OutcomeRejected,
			Detail: fmt.Sprintf("all %d rows rejected", len(report.Entries)),
		})
		return st, nil
	}

	// Per-unit constants land before the shared chain so derived columns
	// and fingerprints can depend on them.
	for _, row := range vb.Rows {
		for k, v := range unit.Constants {
			row[k] = v
		}
	}

	// Transforming.
	canon, err := c.runTransform(ctx, vb)
	if err != nil {
		return c.fail(ctx, st, StageTransforming, err)
	}
	st.Rows = len(canon)

	// Writing + committing, with targeted retry on commit conflicts.
	manifest, err := c.writeAndCommit(ctx, vb.SchemaID, canon)
	if err != nil {
		failedAt := StageCommitting
		var serr *stageError
		if errors.As(err, &serr) {
			failedAt = serr.stage
		}
		return c.fail(ctx, st, failedAt, err)
	}

	st.Stage = StageDone
	st.SnapshotID = manifest.SnapshotID
	c.record(ctx, unit, catalog.Run{
		Stage: string(StageDone), Outcome: catalog.OutcomeDone, SnapshotID: manifest.SnapshotID,
	})
	log.Printf("pipeline: unit=%s done table=%s snapshot=%s rows=%d rejected=%d",
		unit.ID, c.Table, manifest.SnapshotID, st.Rows, st.Rejected)
	return st, nil
}

func (c *Coordinator) runValidate(ctx context.Context, unit Unit) (batch.ValidatedBatch, batch.RejectionReport, error) {
	sctx, cancel := c.stageCtx(ctx)
	defer cancel()
	start := time.Now()

	vb, report, err := c.readAndValidate(sctx, unit)
	metrics.RecordStage(c.Job, string(StageValidating), err, time.Since(start))
	if err == nil {
		metrics.RecordRows(c.Job, "validated", int64(len(vb.Rows)))
		metrics.RecordRows(c.Job, "rejected", int64(len(report.Entries)))
	}
	return vb, report, err
}

func (c *Coordinator) readAndValidate(ctx context.Context, unit Unit) (batch.ValidatedBatch, batch.RejectionReport, error) {
	rc, err := unit.Source.Open(ctx)
	if err != nil {
		return batch.ValidatedBatch{}, batch.RejectionReport{}, fmt.Errorf("open source: %w", err)
	}
	defer rc.Close()

	opts := c.ParseOptions
	opts.Sheet = unit.Sheet
	raw, err := csvparser.Read(ctx, rc, unit.Source.Name(), opts)
	if err != nil {
		return batch.ValidatedBatch{}, batch.RejectionReport{}, fmt.Errorf("parse source: %w", err)
	}
	metrics.RecordRows(c.Job, "read", int64(len(raw.Rows)))

	return c.Validator.Apply(raw)
}

func (c *Coordinator) runTransform(ctx context.Context, vb batch.ValidatedBatch) ([]transform.Canonical, error) {
	sctx, cancel := c.stageCtx(ctx)
	defer cancel()
	start := time.Now()

	if err := sctx.Err(); err != nil {
		return nil, err
	}
	canon, err := c.Transformer.Apply(vb)
	metrics.RecordStage(c.Job, string(StageTransforming), err, time.Since(start))
	if err == nil {
		metrics.RecordRows(c.Job, "transformed", int64(len(canon)))
	}
	return canon, err
}

// writeAndCommit builds a candidate snapshot against the table's current
// snapshot and swaps the pointer. On ErrConcurrentModification it rebuilds
// the candidate against the winner's snapshot and tries again, up to the
// attempt budget. Each rebuild writes fresh files; the stale candidate is
// left for the sweeper.
func (c *Coordinator) writeAndCommit(ctx context.Context, schemaID int64, canon []transform.Canonical) (snapshot.Manifest, error) {
	bo := backoff.NewExponentialBackOff()
	if c.ConflictBackoff > 0 {
		bo.InitialInterval = c.ConflictBackoff
	} else {
		bo.InitialInterval = 100 * time.Millisecond
	}
	bo.MaxInterval = 5 * time.Second

	attempts := c.commitAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		parent, err := c.Catalog.Current(ctx, c.Table)
		if err != nil {
			return snapshot.Manifest{}, &stageError{StageWriting, fmt.Errorf("read current snapshot: %w", err)}
		}
		if err := c.checkSchemaContinuity(ctx, parent, schemaID); err != nil {
			return snapshot.Manifest{}, &stageError{StageWriting, err}
		}

		manifest, err := c.runWrite(ctx, schemaID, parent, canon)
		if err != nil {
			return snapshot.Manifest{}, &stageError{StageWriting, err}
		}

		err = c.runCommit(ctx, parent, manifest.SnapshotID)
		if err == nil {
			metrics.RecordCommit(c.Job, "committed")
			metrics.RecordRows(c.Job, "written", manifest.RowCount)
			return manifest, nil
		}
		if !errors.Is(err, catalog.ErrConcurrentModification) {
			metrics.RecordCommit(c.Job, "failed")
			return snapshot.Manifest{}, fmt.Errorf("commit %s: %w", c.Table, err)
		}

		metrics.RecordCommit(c.Job, "conflict")
		log.Printf("pipeline: table=%s commit conflict on parent=%s attempt=%d/%d",
			c.Table, parent, attempt, attempts)

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return snapshot.Manifest{}, ctx.Err()
		}
	}
	return snapshot.Manifest{}, fmt.Errorf("commit %s after %d attempts: %w",
		c.Table, attempts, catalog.ErrConcurrentModification)
}

// checkSchemaContinuity refuses to extend a table whose current snapshot
// was written under a different schema id, unless the pipeline opts in.
// A first commit (no parent) always passes.
func (c *Coordinator) checkSchemaContinuity(ctx context.Context, parent string, schemaID int64) error {
	if parent == "" || c.AllowSchemaChange {
		return nil
	}
	m, err := snapshot.Load(ctx, c.Store, c.Table, parent)
	if err != nil {
		return fmt.Errorf("load parent manifest: %w", err)
	}
	if m.SchemaID != schemaID {
		return fmt.Errorf("table %s has schema id %d, batch declares %d: schema changes require allow_schema_change",
			c.Table, m.SchemaID, schemaID)
	}
	return nil
}

func (c *Coordinator) runWrite(ctx context.Context, schemaID int64, parent string, canon []transform.Canonical) (snapshot.Manifest, error) {
	sctx, cancel := c.stageCtx(ctx)
	defer cancel()
	start := time.Now()

	manifest, err := c.Writer.Write(sctx, c.Table, schemaID, parent, canon)
	metrics.RecordStage(c.Job, string(StageWriting), err, time.Since(start))
	return manifest, err
}

func (c *Coordinator) runCommit(ctx context.Context, parent, newID string) error {
	sctx, cancel := c.stageCtx(ctx)
	defer cancel()
	start := time.Now()

	err := c.Catalog.Commit(sctx, c.Table, parent, newID)
	metrics.RecordStage(c.Job, string(StageCommitting), err, time.Since(start))
	return err
}

// fail records a terminal failure and returns the failed status. Nothing the
// unit wrote is referenced by the catalog, so readers never see it.
func (c *Coordinator) fail(ctx context.Context, st Status, at Stage, cause error) (Status, error) {
	st.Stage = StageFailed
	st.FailedAt = at
	st.Err = cause
	c.record(ctx, Unit{ID: st.UnitID}, catalog.Run{
		Stage: string(at), Outcome: catalog.OutcomeFailed, Detail: cause.Error(),
	})
	log.Printf("pipeline: unit=%s failed at %s: %v", st.UnitID, at, cause)
	return st, cause
}

// record writes the run log entry; a logging failure here must not mask the
// unit's actual outcome, so it is logged and swallowed.
func (c *Coordinator) record(ctx context.Context, unit Unit, run catalog.Run) {
	run.UnitID = unit.ID
	run.Table = c.Table
	// Detach from a possibly-expired stage context; run log writes are
	// small and bounded.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.Catalog.PutRun(wctx, run); err != nil {
		log.Printf("pipeline: unit=%s record run: %v", unit.ID, err)
	}
}

// SubmitAll runs units concurrently with at most workers in flight and
// returns one Status per unit, index-aligned. Unit failures do not cancel
// sibling units; only ctx cancellation stops the pool.
func (c *Coordinator) SubmitAll(ctx context.Context, units []Unit, workers int) []Status {
	if workers <= 0 {
		workers = 1
	}
	statuses := make([]Status, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, u := range units {
		g.Go(func() error {
			st, err := c.Submit(gctx, u)
			if err != nil {
				st.Err = err
			}
			statuses[i] = st
			return nil // unit failures are reported via statuses
		})
	}
	_ = g.Wait()
	return statuses
}
