// Package sqlite implements a SQLite-backed catalog.Catalog using
// database/sql. A single-file catalog is convenient for development and for
// single-node deployments; the CAS runs as a conditional UPDATE, which
// SQLite serializes per database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // cgo-free driver; alternative: github.com/mattn/go-sqlite3

	"ingest/internal/catalog"
)

func init() {
	catalog.Register("sqlite", func(ctx context.Context, cfg catalog.Config) (catalog.Catalog, error) {
		return New(ctx, cfg.DSN)
	})
}

const ddl = `
CREATE TABLE IF NOT EXISTS table_refs (
	name        TEXT PRIMARY KEY,
	snapshot_id TEXT NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS ingestion_runs (
	unit_id     TEXT PRIMARY KEY,
	table_name  TEXT NOT NULL,
	stage       TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	snapshot_id TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMP NOT NULL
);`

// Catalog is a SQLite-backed catalog.
type Catalog struct {
	db *sql.DB
}

// New opens (and if needed creates) the catalog database at dsn, e.g.
// "file:catalog.db?cache=shared" or a bare file path.
func New(ctx context.Context, dsn string) (*Catalog, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite catalog: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite catalog: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite catalog: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite catalog: bootstrap: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Current(ctx context.Context, table string) (string, error) {
	var id string
	err := c.db.QueryRowContext(ctx,
		`SELECT snapshot_id FROM table_refs WHERE name = ?`, table).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite catalog: current %s: %w", table, err)
	}
	return id, nil
}

func (c *Catalog) Commit(ctx context.Context, table, expectedParent, newID string) error {
	now := time.Now().UTC()

	if expectedParent == "" {
		res, err := c.db.ExecContext(ctx,
			`INSERT INTO table_refs(name, snapshot_id, updated_at) VALUES(?, ?, ?)
			 ON CONFLICT(name) DO NOTHING`,
			table, newID, now)
		if err != nil {
			return fmt.Errorf("sqlite catalog: commit %s: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return catalog.ErrConcurrentModification
		}
		return nil
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE table_refs SET snapshot_id = ?, updated_at = ?
		 WHERE name = ? AND snapshot_id = ?`,
		newID, now, table, expectedParent)
	if err != nil {
		return fmt.Errorf("sqlite catalog: commit %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.ErrConcurrentModification
	}
	return nil
}

func (c *Catalog) Tables(ctx context.Context) ([]catalog.TableRef, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, snapshot_id, updated_at FROM table_refs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlite catalog: tables: %w", err)
	}
	defer rows.Close()

	var out []catalog.TableRef
	for rows.Next() {
		var ref catalog.TableRef
		if err := rows.Scan(&ref.Table, &ref.SnapshotID, &ref.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (c *Catalog) GetRun(ctx context.Context, unitID string) (*catalog.Run, error) {
	var r catalog.Run
	err := c.db.QueryRowContext(ctx,
		`SELECT unit_id, table_name, stage, outcome, snapshot_id, detail, updated_at
		 FROM ingestion_runs WHERE unit_id = ?`, unitID).
		Scan(&r.UnitID, &r.Table, &r.Stage, &r.Outcome, &r.SnapshotID, &r.Detail, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite catalog: get run %s: %w", unitID, err)
	}
	return &r, nil
}

func (c *Catalog) PutRun(ctx context.Context, run catalog.Run) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs(unit_id, table_name, stage, outcome, snapshot_id, detail, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(unit_id) DO UPDATE SET
		   table_name = excluded.table_name,
		   stage = excluded.stage,
		   outcome = excluded.outcome,
		   snapshot_id = excluded.snapshot_id,
		   detail = excluded.detail,
		   updated_at = excluded.updated_at`,
		run.UnitID, run.Table, run.Stage, run.Outcome, run.SnapshotID, run.Detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite catalog: put run %s: %w", run.UnitID, err)
	}
	return nil
}

func (c *Catalog) Close() error { return c.db.Close() }
