// Package mysql implements a MySQL/MariaDB-backed catalog.Catalog using
// database/sql. The CAS is a conditional UPDATE checked via RowsAffected;
// note that CLIENT_FOUND_ROWS must stay off (the driver default) so affected
// rows means changed rows.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"ingest/internal/catalog"
)

func init() {
	catalog.Register("mysql", func(ctx context.Context, cfg catalog.Config) (catalog.Catalog, error) {
		return New(ctx, cfg.DSN)
	})
}

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS table_refs (
		name        VARCHAR(255) PRIMARY KEY,
		snapshot_id VARCHAR(64) NOT NULL,
		updated_at  DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ingestion_runs (
		unit_id     VARCHAR(255) PRIMARY KEY,
		table_name  VARCHAR(255) NOT NULL,
		stage       VARCHAR(32) NOT NULL,
		outcome     VARCHAR(32) NOT NULL,
		snapshot_id VARCHAR(64) NOT NULL DEFAULT '',
		detail      TEXT,
		updated_at  DATETIME(6) NOT NULL
	)`,
}

// Catalog is a MySQL-backed catalog.
type Catalog struct {
	db *sql.DB
}

// New opens a connection pool and bootstraps the catalog tables. The DSN
// should include parseTime=true so DATETIME columns scan into time.Time.
func New(ctx context.Context, dsn string) (*Catalog, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("mysql catalog: DSN must not be empty")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql catalog: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql catalog: ping: %w", err)
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("mysql catalog: bootstrap: %w", err)
		}
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
		return "", fmt.Errorf("mysql catalog: current %s: %w", table, err)
	}
	return id, nil
}

func (c *Catalog) Commit(ctx context.Context, table, expectedParent, newID string) error {
	now := time.Now().UTC()

	if expectedParent == "" {
		res, err := c.db.ExecContext(ctx,
			`INSERT IGNORE INTO table_refs(name, snapshot_id, updated_at) VALUES(?, ?, ?)`,
			table, newID, now)
		if err != nil {
			return fmt.Errorf("mysql catalog: commit %s: %w", table, err)
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
		return fmt.Errorf("mysql catalog: commit %s: %w", table, err)
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
		return nil, fmt.Errorf("mysql catalog: tables: %w", err)
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
		 FROM ingestion_runs WHERE unit_id = ?`, unitID).
		Scan(&r.UnitID, &r.Table, &r.Stage, &r.Outcome, &r.SnapshotID, &detail, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mysql catalog: get run %s: %w", unitID, err)
	}
	r.Detail = detail.String
	return &r, nil
}

func (c *Catalog) PutRun(ctx context.Context, run catalog.Run) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs(unit_id, table_name, stage, outcome, snapshot_id, detail, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE
		   table_name = VALUES(table_name),
		   stage = VALUES(stage),
		   outcome = VALUES(outcome),
		   snapshot_id = VALUES(snapshot_id),
		   detail = VALUES(detail),
		   updated_at = VALUES(updated_at)`,
		run.UnitID, run.Table, run.Stage, run.Outcome, run.SnapshotID, run.Detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mysql catalog: put run %s: %w", run.UnitID, err)
	}
	return nil
}

func (c *Catalog) Close() error { return c.db.Close() }
