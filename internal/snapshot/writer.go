package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"ingest/internal/objstore"
	"ingest/internal/transform"
)

// WriteError is a storage I/O failure that survived the bounded retry
// budget. It is transient by classification; the coordinator surfaces it as
// a failed unit that is safe to resubmit.
type WriteError struct {
	Table    string
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("snapshot write for %s failed after %d attempts: %v", e.Table, e.Attempts, e.Err)
}
func (e *WriteError) Unwrap() error { return e.Err }

// Writer appends canonical records to a table as a candidate snapshot. The
// snapshot is not visible to readers until its id is committed to the
// catalog; until then its files are unreferenced.
//
// Writes are idempotent by construction: every put attempt uses a freshly
// generated file name, so a retried attempt can never collide with a
// half-written predecessor.
type Writer struct {
	Store objstore.Store

	// MaxFileRows caps rows per data file; larger batches split into
	// multiple files. <=0 means a single file.
	MaxFileRows int

	// MaxAttempts bounds put retries per object. <=0 defaults to 4.
	MaxAttempts int

	// InitialBackoff seeds the exponential backoff between put attempts.
	// <=0 defaults to 100ms. Jitter comes from the backoff implementation.
	InitialBackoff time.Duration

	// Seams for tests.
	NowFn   func() time.Time
	NewIDFn func() string
}

func (w *Writer) now() time.Time {
	if w.NowFn != nil {
		return w.NowFn()
	}
	return time.Now().UTC()
}

func (w *Writer) newID() string {
	if w.NewIDFn != nil {
		return w.NewIDFn()
	}
	return uuid.NewString()
}

func (w *Writer) maxAttempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return 4
}

func (w *Writer) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if w.InitialBackoff > 0 {
		b.InitialInterval = w.InitialBackoff
	} else {
		b.InitialInterval = 100 * time.Millisecond
	}
	b.MaxInterval = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.maxAttempts()-1)), ctx)
}

// Write persists recs as a new candidate snapshot of table with the given
// parent and returns its manifest. Pure append: every object gets a fresh
// generated name, existing files are never touched. On storage failure past
// the retry budget it returns a *WriteError.
func (w *Writer) Write(ctx context.Context, table string, schemaID int64, parentID string, recs []transform.Canonical) (Manifest, error) {
	snapID := w.newID()

	chunkRows := w.MaxFileRows
	if chunkRows <= 0 {
		chunkRows = len(recs)
		if chunkRows == 0 {
			chunkRows = 1
		}
	}

	var files []DataFile
	for start := 0; start < len(recs); start += chunkRows {
		end := min(start+chunkRows, len(recs))
		body, err := encodeNDJSON(recs[start:end])
		if err != nil {
			return Manifest{}, fmt.Errorf("encode data file for %s: %w", table, err)
		}
		df, err := w.putDataFile(ctx, table, body, int64(end-start))
		if err != nil {
			return Manifest{}, err
		}
		files = append(files, df)
	}

	m := Manifest{
		SnapshotID: snapID,
		Table:      table,
		ParentID:   parentID,
		SchemaID:   schemaID,
		RowCount:   int64(len(recs)),
		CreatedAt:  w.now(),
		Files:      files,
	}
	if err := m.Verify(); err != nil {
		return Manifest{}, err
	}

	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := w.putWithRetry(ctx, ManifestKey(table, snapID), body); err != nil {
		return Manifest{}, &WriteError{Table: table, Attempts: w.maxAttempts(), Err: err}
	}

	log.Printf("snapshot: table=%s id=%s parent=%s rows=%d files=%d",
		table, snapID, parentID, len(recs), len(files))
	return m, nil
}

// putDataFile stores one data file, generating a fresh name for every
// attempt so a lost-then-landed put can never be overwritten.
func (w *Writer) putDataFile(ctx context.Context, table string, body []byte, rows int64) (DataFile, error) {
	var key string
	op := func() error {
		key = DataPrefix(table) + w.newID() + ".ndjson"
		if err := w.Store.Put(ctx, key, body); err != nil {
			if errors.Is(err, objstore.ErrExists) {
				// uuid collision is a caller/seam bug, not transient
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, w.newBackoff(ctx)); err != nil {
		return DataFile{}, &WriteError{Table: table, Attempts: w.maxAttempts(), Err: err}
	}
	return DataFile{Path: key, RowCount: rows, Size: int64(len(body))}, nil
}

func (w *Writer) putWithRetry(ctx context.Context, key string, body []byte) error {
	op := func() error {
		if err := w.Store.Put(ctx, key, body); err != nil {
			if errors.Is(err, objstore.ErrExists) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	return backoff.Retry(op, w.newBackoff(ctx))
}

// encodeNDJSON renders records one JSON object per line. The fingerprint
// rides along as "_fp" in fixed-width hex so downstream audits can recompute
// and compare without precision loss.
func encodeNDJSON(recs []transform.Canonical) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range recs {
		row := c.Fields.Clone()
		row["_fp"] = fmt.Sprintf("%016x", c.Fingerprint)
		if err := enc.Encode(row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
