// Package catalog defines the shared catalog contract: the mapping from
// table name to its current snapshot id, advanced only by compare-and-swap,
// plus the ingestion-run log used for idempotent resubmission.
//
// The snapshot pointer is the single piece of mutable state in the whole
// system. Backends must implement Commit as one atomic operation; everything
// upstream of commit runs without coordination.
//
// Backends (postgres, mysql, mssql, sqlite, memory) register themselves at
// init time; importing ingest/internal/catalog/all enables all of them.
package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrConcurrentModification is returned by Commit when the table's current
// snapshot id no longer equals the expected parent: another writer committed
// first. The caller must rebuild its candidate snapshot against the new
// current id and retry; it must never merge into the stale one.
var ErrConcurrentModification = errors.New("catalog: concurrent modification")

// TableRef is a table's entry in the catalog: its name and the snapshot id
// readers should resolve.
type TableRef struct {
	Table      string
	SnapshotID string
	UpdatedAt  time.Time
}

// Run outcomes.
const (
	OutcomeDone     = "done"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Run records the terminal state of one ingestion unit. A unit id already
// recorded with OutcomeDone is skipped on resubmission.
type Run struct {
	UnitID     string
	Table      string
	Stage      string // last stage reached
	Outcome    string
	SnapshotID string // committed snapshot, when Outcome is done
	Detail     string // failure cause, when present
	UpdatedAt  time.Time
}

// Catalog is the store contract. All calls honor ctx deadlines; Commit is
// atomic per backend.
type Catalog interface {
	// Current returns the table's current snapshot id, or "" when the
	// table has no committed snapshot yet.
	Current(ctx context.Context, table string) (string, error)

	// Commit advances table from expectedParent to newID. expectedParent
	// "" asserts the table has no snapshot yet (first commit). Returns
	// ErrConcurrentModification when the assertion fails.
	Commit(ctx context.Context, table, expectedParent, newID string) error

	// Tables lists all table refs, ordered by name.
	Tables(ctx context.Context) ([]TableRef, error)

	// GetRun returns the recorded run for a unit id, or (nil, nil) when
	// the unit has never reached a terminal state.
	GetRun(ctx context.Context, unitID string) (*Run, error)

	// PutRun upserts a run record keyed by unit id.
	PutRun(ctx context.Context, run Run) error

	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Kind selects the backend: "postgres", "mysql", "mssql", "sqlite", "memory".
	Kind string `json:"kind"`
	// DSN is the backend connection string (ignored by memory).
	DSN string `json:"dsn,omitempty"`
}

// Factory constructs a Catalog from a Config.
type Factory func(ctx context.Context, cfg Config) (Catalog, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for a backend kind.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// New constructs the Catalog selected by cfg.Kind.
func New(ctx context.Context, cfg Config) (Catalog, error) {
	regMu.RLock()
	fn, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, errors.New("unsupported catalog.kind=" + cfg.Kind)
	}
	return fn(ctx, cfg)
}

// ListKinds returns the registered backend kinds, sorted, as a snapshot copy.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
