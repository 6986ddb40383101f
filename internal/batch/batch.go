// Package batch holds the batch shapes that move between pipeline stages:
// the untyped RawBatch read from a source, the typed ValidatedBatch that
// passed schema validation, and the RejectionReport collecting rows that
// did not.
package batch

import (
	"time"

	"ingest/pkg/records"
)

// SourceInfo identifies where a RawBatch came from.
type SourceInfo struct {
	File       string    `json:"file"`
	Sheet      string    `json:"sheet,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// RawBatch is an ordered sequence of untyped rows plus its source identity.
// Downstream stages share the row maps rather than copying them, so a
// RawBatch must not be reused after it has been handed to validation.
type RawBatch struct {
	Source SourceInfo
	Rows   []records.Record
}

// ValidatedBatch holds rows confirmed to conform to the schema identified
// by SchemaID. Row order matches the surviving subset of the RawBatch.
type ValidatedBatch struct {
	SchemaID int64
	Rows     []records.Record
}

// Reason codes for rejected rows.
const (
	ReasonTypeMismatch  = "TypeMismatch"
	ReasonNullViolation = "NullViolation"
	ReasonMissingColumn = "MissingColumn"
	ReasonEnumViolation = "EnumViolation"
)

// Rejection records a single row that failed validation. Row is the index
// into the originating RawBatch.
type Rejection struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// RejectionReport aggregates per-row failures for one batch. Rejected rows
// are reported here rather than silently dropped.
type RejectionReport struct {
	Source  SourceInfo
	Entries []Rejection
}

// Add appends one rejection.
func (r *RejectionReport) Add(row int, reason, detail string) {
	r.Entries = append(r.Entries, Rejection{Row: row, Reason: reason, Detail: detail})
}

// Counts returns the number of rejections per reason code.
func (r *RejectionReport) Counts() map[string]int {
	out := make(map[string]int, 4)
	for _, e := range r.Entries {
		out[e.Reason]++
	}
	return out
}
