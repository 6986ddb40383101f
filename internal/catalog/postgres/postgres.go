// Package postgres implements a Postgres-backed catalog.Catalog using pgx
// v5 with a connection pool. This is the backend intended for production
// deployments with multiple concurrent writers: the CAS runs as a single
// conditional statement, so commit atomicity comes from Postgres itself,
// not from any client-side locking.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest/internal/catalog"
)

func init() {
	catalog.Register("postgres", func(ctx context.Context, cfg catalog.Config) (catalog.Catalog, error) {
		return New(ctx, cfg.DSN)
	})
}

const ddl = `
CREATE TABLE IF NOT EXISTS table_refs (
	name        TEXT PRIMARY KEY,
	snapshot_id TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS ingestion_runs (
	unit_id     TEXT PRIMARY KEY,
	table_name  TEXT NOT NULL,
	stage       TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	snapshot_id TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL
);`

// Catalog is a Postgres-backed catalog.
type Catalog struct {
	pool *pgxpool.Pool
}

// New connects a pool and bootstraps the catalog tables.
func New(ctx context.Context, dsn string) (*Catalog, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres catalog: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres catalog: pgxpool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres catalog: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres catalog: bootstrap: %w", err)
	}
	return &Catalog{pool: pool}, nil
}

func (c *Catalog) Current(ctx context.Context, table string) (string, error) {
	var id string
	err := c.pool.QueryRow(ctx,
		`SELECT snapshot_id FROM table_refs WHERE name = $1`, table).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres catalog: current %s: %w", table, err)
	}
	return id, nil
}

func (c *Catalog) Commit(ctx context.Context, table, expectedParent, newID string) error {
	now := time.Now().UTC()

	if expectedParent == "" {
		tag, err := c.pool.Exec(ctx,
			`INSERT INTO table_refs(name, snapshot_id, updated_at) VALUES($1, $2, $3)
			 ON CONFLICT (name) DO NOTHING`,
			table, newID, now)
		if err != nil {
			return fmt.Errorf("postgres catalog: commit %s: %w", table, err)
		}
		if tag.RowsAffected() == 0 {
			return catalog.ErrConcurrentModification
		}
		return nil
	}

	tag, err := c.pool.Exec(ctx,
		`UPDATE table_refs SET snapshot_id = $1, updated_at = $2
		 WHERE name = $3 AND snapshot_id = $4`,
		newID, now, table, expectedParent)
	if err != nil {
		return fmt.Errorf("postgres catalog: commit %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrConcurrentModification
	}
	return nil
}

func (c *Catalog) Tables(ctx context.Context) ([]catalog.TableRef, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT name, snapshot_id, updated_at FROM table_refs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("postgres catalog: tables: %w", err)
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
	err := c.pool.QueryRow(ctx,
		`SELECT unit_id, table_name, stage, outcome, snapshot_id, detail, updated_at
		 FROM ingestion_runs WHERE unit_id = $1`, unitID).
		Scan(&r.UnitID, &r.Table, &r.Stage, &r.Outcome, &r.SnapshotID, &r.Detail, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres catalog: get run %s: %w", unitID, err)
	}
	return &r, nil
}

func (c *Catalog) PutRun(ctx context.Context, run catalog.Run) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO ingestion_runs(unit_id, table_name, stage, outcome, snapshot_id, detail, updated_at)
		 VALUES($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (unit_id) DO UPDATE SET
		   table_name = EXCLUDED.table_name,
		   stage = EXCLUDED.stage,
		   outcome = EXCLUDED.outcome,
		   snapshot_id = EXCLUDED.snapshot_id,
		   detail = EXCLUDED.detail,
		   updated_at = EXCLUDED.updated_at`,
		run.UnitID, run.Table, run.Stage, run.Outcome, run.SnapshotID, run.Detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres catalog: put run %s: %w", run.UnitID, err)
	}
	return nil
}

func (c *Catalog) Close() error {
	c.pool.Close()
	return nil
}
