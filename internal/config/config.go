// Package config defines the canonical, JSON-serializable configuration
// model for the ingestion pipeline. It is intentionally small, explicit, and
// dependency-free so that pipelines can be loaded from disk and passed
// through the program without additional glue code.
//
// Design goals:
//
//  1. Stability: changes to this package should be additive and backwards-
//     compatible whenever possible.
//  2. Clarity: field names in Go mirror the JSON structure used in pipeline
//     files under configs/pipelines/*.json.
//  3. Minimalism: no third-party config libraries; decoding is performed by
//     the standard library, with a light Options helper for typed access.
//
// Example (trimmed):
//
//	{
//	  "job":    "retail",
//	  "table":  "retail_invoices",
//	  "schema": { "id": 1, "fields": [...] },
//	  "units":  [ { "id": "retail-2009", "path": "extracts/2009.csv" } ],
//	  "transform": [ { "kind": "coerce" }, { "kind": "product", "options": {...} } ],
//	  "catalog": { "kind": "sqlite", "dsn": "file:catalog.db" },
//	  "store":   { "kind": "fs", "root": "./lake" }
//	}
package config

import (
	"encoding/json"
	"io"
	"os"

	"ingest/internal/schema"
)

// Pipeline describes one full ingestion pipeline: a target table with its
// schema, the units to ingest, the transform chain, and the backends.
type Pipeline struct {
	// Job names the pipeline for metrics labeling and run identification.
	Job string `json:"job"`

	// Table is the target table name in the catalog.
	Table string `json:"table"`

	// Schema is the declared contract batches must satisfy.
	Schema schema.Schema `json:"schema"`

	// DateLayout is the global fallback date layout for validation and
	// coercion; individual fields may override via their Layout.
	DateLayout string `json:"date_layout,omitempty"`

	// Source selects how unit references resolve to byte streams.
	Source Source `json:"source"`

	// Units lists the ingestion units to submit.
	Units []Unit `json:"units"`

	// Transform lists the ordered rules applied to validated batches. Each
	// has a kind and an options bag whose shape the rule defines.
	Transform []Transform `json:"transform"`

	// Dedup configures fingerprint-based duplicate merging within a batch.
	Dedup Dedup `json:"dedup"`

	// AllowSchemaChange permits commits whose schema id differs from the
	// table's current snapshot. Off by default.
	AllowSchemaChange bool `json:"allow_schema_change,omitempty"`

	// Catalog selects and configures the catalog backend.
	Catalog Catalog `json:"catalog"`

	// Store selects and configures the object-store backend.
	Store Store `json:"store"`

	Runtime Runtime `json:"runtime"`
}

// Source selects the source implementation used to open units.
type Source struct {
	// Kind is "file" or "http".
	Kind string `json:"kind"`

	// Options configures parsing, interpreted by the CSV reader. Typical
	// keys: comma (string), trim_space (bool), max_rows (int).
	Options Options `json:"options"`
}

// Unit identifies one ingestion unit. ID is the idempotency key; exactly one
// of Path or URL must be set depending on the source kind.
type Unit struct {
	ID    string `json:"id"`
	Path  string `json:"path,omitempty"`
	URL   string `json:"url,omitempty"`
	Sheet string `json:"sheet,omitempty"`

	// Constants are columns stamped onto every row of this unit with a
	// fixed value, e.g. the fiscal year of the extract it came from.
	Constants map[string]any `json:"constants,omitempty"`
}

// Transform defines a single rule in the transformation chain.
type Transform struct {
	// Kind selects the rule: "coerce", "normalize", "title_case",
	// "constant", "product", "time_parts", "filter", "require".
	Kind string `json:"kind"`

	// Options is a free-form map interpreted by the selected rule.
	Options Options `json:"options"`
}

// Dedup configures in-batch duplicate merging.
type Dedup struct {
	// Fields feed the record fingerprint; empty hashes every field.
	Fields []string `json:"fields,omitempty"`

	// KeepFirst keeps the first-seen duplicate instead of the last-seen.
	KeepFirst bool `json:"keep_first,omitempty"`
}

// Catalog configures the catalog backend.
type Catalog struct {
	// Kind is "postgres", "mysql", "mssql", "sqlite", or "memory".
	Kind string `json:"kind"`
	DSN  string `json:"dsn,omitempty"`
}

// Store configures the object-store backend.
type Store struct {
	// Kind is "s3", "fs", or "memory".
	Kind string `json:"kind"`

	Bucket         string `json:"bucket,omitempty"`
	Endpoint       string `json:"endpoint,omitempty"`
	Region         string `json:"region,omitempty"`
	ForcePathStyle bool   `json:"force_path_style,omitempty"`

	Root string `json:"root,omitempty"`
}

// Runtime controls concurrency and retry knobs. Zero values defer to the
// component defaults (and to environment overrides applied by the CLI).
type Runtime struct {
	// Workers bounds concurrently processed units.
	Workers int `json:"workers"`

	// CommitAttempts bounds the write+commit retry loop per unit.
	CommitAttempts int `json:"commit_attempts"`

	// StageTimeoutMS caps each pipeline stage's wall time, milliseconds.
	StageTimeoutMS int `json:"stage_timeout_ms"`

	// MaxFileRows caps rows per written data file.
	MaxFileRows int `json:"max_file_rows"`
}

// Load decodes a pipeline file from disk.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode decodes a pipeline from r.
func Decode(r io.Reader) (Pipeline, error) {
	var p Pipeline
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}
