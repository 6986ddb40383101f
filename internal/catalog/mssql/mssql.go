// Package mssql implements a SQL Server-backed catalog.Catalog using
// database/sql. First commits insert through a NOT EXISTS guard and run
// upserts use update-then-insert inside a transaction; both paths resolve
// the race via RowsAffected rather than dialect-specific MERGE locking.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"ingest/internal/catalog"
)

func init() {
	catalog.Register("mssql", func(ctx context.Context, cfg catalog.Config) (catalog.Catalog, error) {
		return New(ctx, cfg.DSN)
	})
}

var ddl = []string{
	`IF OBJECT_ID('table_refs', 'U') IS NULL
	 CREATE TABLE table_refs (
		name        NVARCHAR(255) PRIMARY KEY,
		snapshot_id NVARCHAR(64) NOT NULL,
		updated_at  DATETIME2 NOT NULL
	 )`,
	`IF OBJECT_ID('ingestion_runs', 'U') IS NULL
	 CREATE TABLE ingestion_runs (
		unit_id     NVARCHAR(255) PRIMARY KEY,
		table_name  NVARCHAR(255) NOT NULL,
		stage       NVARCHAR(32) NOT NULL,
		outcome     NVARCHAR(32) NOT NULL,
		snapshot_id NVARCHAR(64) NOT NULL DEFAULT '',
		detail      NVARCHAR(MAX),
		updated_at  DATETIME2 NOT NULL
	 )`,
}

// Catalog is a SQL Server-backed catalog.
type Catalog struct {
	db *sql.DB
}

// New opens a connection pool and bootstraps the catalog tables.
func New(ctx context.Context, dsn string) (*Catalog, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("mssql catalog: DSN must not be empty")
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql catalog: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mssql catalog: ping: %w", err)
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("mssql catalog: bootstrap: %w", err)
		}
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Current(ctx context.Context, table string) (string, error) {
	var id string
	err := c.db.QueryRowContext(ctx,
		`SELECT snapshot_id FROM table_refs WHERE name = @p1`, table).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("mssql catalog: current %s: %w", table, err)
	}
	return id, nil
}

func (c *Catalog) Commit(ctx context.Context, table, expectedParent, newID string) error {
	now := time.Now().UTC()

	if expectedParent == "" {
		res, err := c.db.ExecContext(ctx,
			`INSERT INTO table_refs(name, snapshot_id, updated_at)
			 SELECT @p1, @p2, @p3
			 WHERE NOT EXISTS (SELECT 1 FROM table_refs WHERE name = @p1)`,
			table, newID, now)
		if err != nil {
			// A concurrent first commit can also surface as a PK violation.
			if isDuplicateKey(err) {
				return catalog.ErrConcurrentModification
			}
			return fmt.Errorf("mssql catalog: commit %s: %w", table, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return catalog.ErrConcurrentModification
		}
		return nil
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE table_refs SET snapshot_id = @p1, updated_at = @p2
		 WHERE name = @p3 AND snapshot_id = @p4`,
		newID, now, table, expectedParent)
	if err != nil {
		return fmt.Errorf("mssql catalog: commit %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return catalog.ErrConcurrentModification
	}
	return nil
}

func isDuplicateKey(err error) bool {
	// 2627: PK violation, 2601: unique index violation.
	s := err.Error()
	return strings.Contains(s, "2627") || strings.Contains(s, "2601") ||
		strings.Contains(s, "duplicate key")
}

func (c *Catalog) Tables(ctx context.Context) ([]catalog.TableRef, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, snapshot_id, updated_at FROM table_refs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("mssql catalog: tables: %w", err)
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
	var detail sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT unit_id, table_name, stage, outcome, snapshot_id, detail, updated_at
		 FROM ingestion_runs WHERE unit_id = @p1`, unitID).
		Scan(&r.UnitID, &r.Table, &r.Stage, &r.Outcome, &r.SnapshotID, &detail, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mssql catalog: get run %s: %w", unitID, err)
	}
	r.Detail = detail.String
	return &r, nil
}

func (c *Catalog) PutRun(ctx context.Context, run catalog.Run) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mssql catalog: put run %s: begin: %w", run.UnitID, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE ingestion_runs
		 SET table_name = @p1, stage = @p2, outcome = @p3, snapshot_id = @p4, detail = @p5, updated_at = @p6
		 WHERE unit_id = @p7`,
		run.Table, run.Stage, run.Outcome, run.SnapshotID, run.Detail, now, run.UnitID)
	if err != nil {
		return fmt.Errorf("mssql catalog: put run %s: %w", run.UnitID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ingestion_runs(unit_id, table_name, stage, outcome, snapshot_id, detail, updated_at)
			 VALUES(@p1, @p2, @p3, @p4, @p5, @p6, @p7)`,
			run.UnitID, run.Table, run.Stage, run.Outcome, run.SnapshotID, run.Detail, now); err != nil {
			return fmt.Errorf("mssql catalog: put run %s: insert: %w", run.UnitID, err)
		}
	}
	return tx.Commit()
}

func (c *Catalog) Close() error { return c.db.Close() }
