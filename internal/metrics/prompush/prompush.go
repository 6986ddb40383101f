// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// It adapts the generic metrics.Backend interface to Prometheus by:
//
//   - Using client_golang CounterVec and SummaryVec collectors.
//   - Mapping the pipeline labels (job, stage, status, kind, outcome) onto
//     Prometheus labels, with job as the Pushgateway grouping key.
//   - Pushing collected metrics to a Pushgateway instead of exposing a
//     scrape endpoint, since ingestion runs are batch jobs that may finish
//     before any scrape happens.
//
// All Prometheus-specific dependencies live here so the rest of the project
// can swap to alternative backends (e.g. dogstatsd) without changes.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"ingest/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stageCounter  *prometheus.CounterVec // ingest_stage_total
	stageDuration *prometheus.SummaryVec // ingest_stage_duration_seconds
	rowCounter    *prometheus.CounterVec // ingest_rows_total
	commitCounter *prometheus.CounterVec // ingest_commits_total
}

// NewBackend constructs a Pushgateway backend. jobName becomes the
// Pushgateway "job" grouping key; gatewayURL is the server base URL.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "ingest"
	}

	reg := prometheus.NewRegistry()

	stageCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_stage_total",
			Help: "Total pipeline stage executions, partitioned by stage and status.",
		},
		[]string{"stage", "status"},
	)
	stageDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "ingest_stage_duration_seconds",
			Help:       "Duration of pipeline stages in seconds, partitioned by stage and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"stage", "status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_rows_total",
			Help: "Row-level counts per kind (read, validated, rejected, transformed, written).",
		},
		[]string{"kind"},
	)
	commitCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_commits_total",
			Help: "Catalog commit attempts per outcome (committed, conflict, failed).",
		},
		[]string{"outcome"},
	)

	for _, c := range []prometheus.Collector{stageCounter, stageDuration, rowCounter, commitCounter} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register collector: %w", err)
		}
	}

	return &Backend{
		gatewayURL:    gatewayURL,
		jobName:       jobName,
		reg:           reg,
		stageCounter:  stageCounter,
		stageDuration: stageDuration,
		rowCounter:    rowCounter,
		commitCounter: commitCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "ingest_stage_total":
		b.stageCounter.WithLabelValues(labels["stage"], labels["status"]).Add(delta)
	case "ingest_rows_total":
		b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
	case "ingest_commits_total":
		b.commitCounter.WithLabelValues(labels["outcome"]).Add(delta)
	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case "ingest_stage_duration_seconds":
		b.stageDuration.WithLabelValues(labels["stage"], labels["status"]).Observe(value)
	default:
	}
}

// Flush pushes the registry to the Pushgateway under the configured job.
func (b *Backend) Flush() error {
	if err := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push(); err != nil {
		return fmt.Errorf("prompush: push to %s: %w", b.gatewayURL, err)
	}
	return nil
}
