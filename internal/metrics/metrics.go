// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the ingestion pipeline.
//
// The package is minimal and opinionated:
//
//   - A narrow Backend interface focused on counters and timing data.
//   - A global, pluggable backend defaulting to a no-op implementation, so
//     metrics are always safe to call even when nothing is configured.
//   - The same isolation pattern as the catalog and objstore abstractions:
//     the rest of the codebase depends only on this interface, and concrete
//     metric systems live in subpackages (prompush, dogstatsd).
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error { return backend.Flush() }

// RecordStage measures one pipeline stage execution: a counter partitioned
// by stage and status plus a duration observation.
func RecordStage(job, stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"stage":  stage,
		"status": status,
	}

	backend.IncCounter("ingest_stage_total", 1, lbls)
	backend.ObserveHistogram("ingest_stage_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a row-level counter for the given job and kind.
//
// Typical kinds mirror the run summary fields:
//   - "read"
//   - "validated"
//   - "rejected"
//   - "transformed"
//   - "written"
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("ingest_rows_total", float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordCommit counts one catalog commit attempt outcome: "committed",
// "conflict", or "failed".
func RecordCommit(job, outcome string) {
	backend.IncCounter("ingest_commits_total", 1, Labels{
		"job":     job,
		"outcome": outcome,
	})
}
