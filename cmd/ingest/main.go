// Command ingest runs a batch ingestion pipeline: it validates extracts
// against the declared schema, transforms them into canonical records,
// writes an immutable snapshot to the object store, and registers the
// snapshot in the catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"ingest/internal/config"
	"ingest/internal/metrics"
	"ingest/internal/metrics/dogstatsd"
	"ingest/internal/metrics/prompush"
	"ingest/internal/pipeline"

	// Register all backends with the catalog and object-store factories.
	// Config selects which to use but we build in support for all of them.
	_ "ingest/internal/catalog/all"
	_ "ingest/internal/objstore/all"
)

func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		statsdAddrFlg     string
		validateOnly      bool
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/retail.json", "pipeline config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (pushgateway, dogstatsd, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&statsdAddrFlg, "statsd-addr", "", "DogStatsD address (overrides env DOGSTATSD_ADDR)")
	flag.BoolVar(&validateOnly, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")
	flag.Parse()

	spec, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	issues := config.ValidatePipeline(spec)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validateOnly {
		log.Printf("configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	setupMetrics(metricsBackendFlg, pushGatewayURLFlg, statsdAddrFlg, spec.Job, *verbose)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	ctx := context.Background()
	start := time.Now()

	coord, cleanup, err := buildCoordinator(ctx, spec)
	if err != nil {
		fatalf("%v", err)
	}
	defer cleanup()

	units, err := buildUnits(spec)
	if err != nil {
		fatalf("%v", err)
	}

	if *verbose {
		log.Printf("pipeline: job=%s table=%s catalog=%s store=%s units=%d",
			spec.Job, spec.Table, spec.Catalog.Kind, spec.Store.Kind, len(units))
	}

	rt := newRuntimeConfig(spec)
	statuses := coord.SubmitAll(ctx, units, rt.workers)

	failed := 0
	for _, st := range statuses {
		switch {
		case st.Err != nil:
			failed++
			log.Printf("unit=%s stage=%s failed_at=%s err=%v", st.UnitID, st.Stage, st.FailedAt, st.Err)
		case st.Skipped:
			log.Printf("unit=%s skipped=true snapshot=%s", st.UnitID, st.SnapshotID)
		case st.Stage == pipeline.StageRejected:
			log.Printf("unit=%s stage=%s rejected=%d", st.UnitID, st.Stage, st.Rejected)
		default:
			log.Printf("unit=%s stage=%s snapshot=%s rows=%d rejected=%d",
				st.UnitID, st.Stage, st.SnapshotID, st.Rows, st.Rejected)
		}
	}

	log.Printf("completed units=%d failed=%d in %s", len(statuses), failed, time.Since(start).Truncate(time.Millisecond))
	if failed > 0 {
		os.Exit(1)
	}
}

// setupMetrics wires the selected metrics backend: flag → env → default.
func setupMetrics(backendName, gwURL, statsdAddr, job string, verbose bool) {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	if job == "" {
		job = "ingest_job"
	}

	switch backendName {
	case "pushgateway":
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(job, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=%v url=%v job=%v", backendName, gwURL, job)
		metrics.SetBackend(b)

	case "dogstatsd":
		if statsdAddr == "" {
			statsdAddr = os.Getenv("DOGSTATSD_ADDR")
		}
		if statsdAddr == "" {
			statsdAddr = "127.0.0.1:8125"
		}
		b, err := dogstatsd.NewBackend(dogstatsd.Config{
			Addr:      statsdAddr,
			Namespace: "ingest.",
			GlobalTags: []string{
				"job:" + job,
			},
		})
		if err != nil {
			log.Printf("metrics: failed to init dogstatsd backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=%v addr=%v job=%v", backendName, statsdAddr, job)
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
