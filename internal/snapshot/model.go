// Package snapshot implements versioned, append-only table storage on top of
// an object store. Each ingestion commit produces an immutable Snapshot: a
// set of newline-delimited JSON data files plus a manifest recording file
// references, row counts, the schema id, and the parent snapshot id.
// Snapshots form a linear history per table; nothing is ever rewritten.
//
// Object layout under the store:
//
//	tables/<table>/data/<uuid>.ndjson
//	tables/<table>/manifests/<snapshot-id>.json
package snapshot

import (
	"fmt"
	"time"
)

// DataFile references one immutable data file belonging to a snapshot.
type DataFile struct {
	Path     string `json:"path"`
	RowCount int64  `json:"row_count"`
	Size     int64  `json:"size_bytes"`
}

// Manifest is the metadata describing one snapshot. It is serialized to the
// object store and never modified after creation.
type Manifest struct {
	SnapshotID string     `json:"snapshot_id"`
	Table      string     `json:"table"`
	ParentID   string     `json:"parent_id"` // "" for the first snapshot of a table
	SchemaID   int64      `json:"schema_id"`
	RowCount   int64      `json:"row_count"`
	CreatedAt  time.Time  `json:"created_at"`
	Files      []DataFile `json:"files"`
}

// Verify checks the manifest's internal consistency: the declared row count
// must equal the sum of its file row counts.
func (m Manifest) Verify() error {
	var sum int64
	for _, f := range m.Files {
		sum += f.RowCount
	}
	if sum != m.RowCount {
		return fmt.Errorf("manifest %s: row_count=%d but files sum to %d", m.SnapshotID, m.RowCount, sum)
	}
	return nil
}

// DataPrefix returns the object-store prefix holding a table's data files.
func DataPrefix(table string) string { return "tables/" + table + "/data/" }

// ManifestKey returns the object-store key of a snapshot's manifest.
func ManifestKey(table, snapshotID string) string {
	return "tables/" + table + "/manifests/" + snapshotID + ".json"
}
