// Package memory implements an in-process catalog.Catalog. It exists for
// tests and single-process experimentation; the CAS semantics are identical
// to the SQL backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ingest/internal/catalog"
)

func init() {
	catalog.Register("memory", func(ctx context.Context, cfg catalog.Config) (catalog.Catalog, error) {
		return New(), nil
	})
}

// Catalog is a map-backed catalog. Safe for concurrent use; Commit holds the
// mutex across the compare and the swap, which is what makes it atomic.
type Catalog struct {
	mu     sync.Mutex
	tables map[string]catalog.TableRef
	runs   map[string]catalog.Run
}

// New returns an empty in-memory catalog.
func New() *Catalog {
	return &Catalog{
		tables: map[string]catalog.TableRef{},
		runs:   map[string]catalog.Run{},
	}
}

func (c *Catalog) Current(ctx context.Context, table string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables[table].SnapshotID, nil
}

func (c *Catalog) Commit(ctx context.Context, table, expectedParent, newID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tables[table].SnapshotID != expectedParent {
		return catalog.ErrConcurrentModification
	}
	c.tables[table] = catalog.TableRef{Table: table, SnapshotID: newID, UpdatedAt: time.Now().UTC()}
	return nil
}

func (c *Catalog) Tables(ctx context.Context) ([]catalog.TableRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]catalog.TableRef, 0, len(c.tables))
	for _, ref := range c.tables {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out, nil
}

func (c *Catalog) GetRun(ctx context.Context, unitID string) (*catalog.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[unitID]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (c *Catalog) PutRun(ctx context.Context, run catalog.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	run.UpdatedAt = time.Now().UTC()
	c.runs[run.UnitID] = run
	return nil
}

func (c *Catalog) Close() error { return nil }
