package snapshot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"ingest/internal/objstore"
	"ingest/pkg/records"
)

// Load fetches and decodes the manifest of one snapshot.
func Load(ctx context.Context, store objstore.Store, table, snapshotID string) (Manifest, error) {
	body, err := store.Get(ctx, ManifestKey(table, snapshotID))
	if err != nil {
		return Manifest{}, fmt.Errorf("load manifest %s/%s: %w", table, snapshotID, err)
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s/%s: %w", table, snapshotID, err)
	}
	return m, nil
}

// Rows decodes the data files of one snapshot in manifest order. The "_fp"
// audit field is stripped; values carry JSON types (numbers are float64,
// timestamps are RFC 3339 strings).
func Rows(ctx context.Context, store objstore.Store, m Manifest) ([]records.Record, error) {
	out := make([]records.Record, 0, m.RowCount)
	for _, f := range m.Files {
		body, err := store.Get(ctx, f.Path)
		if err != nil {
			return nil, fmt.Errorf("read data file %s: %w", f.Path, err)
		}
		sc := bufio.NewScanner(bytes.NewReader(body))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var rec records.Record
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, fmt.Errorf("decode row in %s: %w", f.Path, err)
			}
			delete(rec, "_fp")
			out = append(out, rec)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("scan data file %s: %w", f.Path, err)
		}
	}
	return out, nil
}

// TableRows reads the full table as of snapshotID: the union of every delta
// on the parent chain, oldest snapshot first.
func TableRows(ctx context.Context, store objstore.Store, table, snapshotID string) ([]records.Record, error) {
	hist, err := History(ctx, store, table, snapshotID, 0)
	if err != nil {
		return nil, err
	}
	var out []records.Record
	for i := len(hist) - 1; i >= 0; i-- {
		rows, err := Rows(ctx, store, hist[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// History walks the parent chain starting from snapshotID and returns
// manifests newest-first. limit <= 0 walks to the first snapshot.
func History(ctx context.Context, store objstore.Store, table, snapshotID string, limit int) ([]Manifest, error) {
	var out []Manifest
	id := snapshotID
	for id != "" {
		m, err := Load(ctx, store, table, id)
		if err != nil {
			return out, err
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
		id = m.ParentID
	}
	return out, nil
}
