// Package main wires the ingestion pipeline end-to-end. This file keeps the
// CLI layer thin: it maps the pipeline spec onto concrete backends, the rule
// chain, and the coordinator, depending only on backend-agnostic interfaces.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"ingest/internal/catalog"
	"ingest/internal/config"
	"ingest/internal/objstore"
	csvparser "ingest/internal/parser/csv"
	"ingest/internal/pipeline"
	"ingest/internal/snapshot"
	"ingest/internal/source"
	"ingest/internal/source/file"
	"ingest/internal/source/httpsrc"
	"ingest/internal/transform"
	"ingest/internal/transform/builtin"
	"ingest/internal/validate"
)

// runtimeConfig contains the resolved concurrency and retry configuration
// for a run. Values are derived from the pipeline spec with optional
// environment variable overrides (12-factor style).
type runtimeConfig struct {
	workers        int
	commitAttempts int
	stageTimeout   time.Duration
	maxFileRows    int
}

// Function variables used to introduce test seams. In production these point
// to real implementations; tests can override them.
var (
	newCatalogFn = func(ctx context.Context, cfg catalog.Config) (catalog.Catalog, error) {
		return catalog.New(ctx, cfg)
	}
	newStoreFn = func(ctx context.Context, cfg objstore.Config) (objstore.Store, error) {
		return objstore.New(ctx, cfg)
	}
)

func newRuntimeConfig(spec config.Pipeline) runtimeConfig {
	return runtimeConfig{
		workers:        pickInt(spec.Runtime.Workers, getenvInt("INGEST_WORKERS", 4)),
		commitAttempts: pickInt(spec.Runtime.CommitAttempts, getenvInt("INGEST_COMMIT_ATTEMPTS", 5)),
		stageTimeout:   time.Duration(pickInt(spec.Runtime.StageTimeoutMS, getenvInt("INGEST_STAGE_TIMEOUT_MS", 0))) * time.Millisecond,
		maxFileRows:    pickInt(spec.Runtime.MaxFileRows, getenvInt("INGEST_MAX_FILE_ROWS", 50000)),
	}
}

// pickInt returns v when positive, otherwise fallback.
func pickInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func getenvInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// buildCoordinator assembles the full pipeline from the spec. The returned
// cleanup closes the catalog connection.
func buildCoordinator(ctx context.Context, spec config.Pipeline) (*pipeline.Coordinator, func(), error) {
	rt := newRuntimeConfig(spec)

	cat, err := newCatalogFn(ctx, catalog.Config{Kind: spec.Catalog.Kind, DSN: spec.Catalog.DSN})
	if err != nil {
		return nil, nil, fmt.Errorf("init catalog: %w", err)
	}

	store, err := newStoreFn(ctx, objstore.Config{
		Kind:           spec.Store.Kind,
		Bucket:         spec.Store.Bucket,
		Endpoint:       spec.Store.Endpoint,
		Region:         spec.Store.Region,
		ForcePathStyle: spec.Store.ForcePathStyle,
		Root:           spec.Store.Root,
	})
	if err != nil {
		cat.Close()
		return nil, nil, fmt.Errorf("init store: %w", err)
	}

	rules, err := buildRules(spec)
	if err != nil {
		cat.Close()
		return nil, nil, err
	}

	coord := &pipeline.Coordinator{
		Job:     spec.Job,
		Table:   spec.Table,
		Catalog: cat,
		Store:   store,
		Validator: &validate.Validator{
			Schema:     spec.Schema,
			DateLayout: spec.DateLayout,
		},
		Transformer: transform.New(transform.Config{
			Rules:             rules,
			FingerprintFields: spec.Dedup.Fields,
			KeepFirst:         spec.Dedup.KeepFirst,
		}),
		Writer: &snapshot.Writer{
			Store:       store,
			MaxFileRows: rt.maxFileRows,
		},
		ParseOptions:      parseOptions(spec),
		CommitAttempts:    rt.commitAttempts,
		StageTimeout:      rt.stageTimeout,
		AllowSchemaChange: spec.AllowSchemaChange,
	}
	cleanup := func() { cat.Close() }
	return coord, cleanup, nil
}

func parseOptions(spec config.Pipeline) csvparser.Options {
	return csvparser.Options{
		Comma:     spec.Source.Options.Rune("comma", ','),
		TrimSpace: spec.Source.Options.Bool("trim_space", true),
		MaxRows:   spec.Source.Options.Int("max_rows", 0),
		HeaderMap: spec.Schema.HeaderMap,
	}
}

// buildRules maps the spec's transform list onto builtin rules. A "coerce"
// entry without options derives its types from the pipeline schema so the
// coercion contract always matches what validation accepted.
func buildRules(spec config.Pipeline) ([]transform.Rule, error) {
	rules := make([]transform.Rule, 0, len(spec.Transform))
	for i, t := range spec.Transform {
		opt := t.Options
		switch t.Kind {
		case "coerce":
			rules = append(rules, builtin.ForSchema(spec.Schema, spec.DateLayout))
		case "normalize":
			rules = append(rules, builtin.Normalize{})
		case "title_case":
			rules = append(rules, builtin.TitleCase{Fields: opt.StringSlice("fields")})
		case "constant":
			rules = append(rules, builtin.Constant{
				Field: opt.String("field", ""),
				Value: opt["value"],
			})
		case "product":
			rules = append(rules, builtin.Product{
				Target: opt.String("target", ""),
				A:      opt.String("a", ""),
				B:      opt.String("b", ""),
				Scale:  opt.Int("scale", 2),
			})
		case "time_parts":
			rules = append(rules, builtin.TimeParts{
				Source: opt.String("source", ""),
				Prefix: opt.String("prefix", ""),
			})
		case "filter":
			rules = append(rules, builtin.Filter{
				Field:     opt.String("field", ""),
				Min:       opt.Float("min", 0),
				Exclusive: opt.Bool("exclusive", false),
			})
		case "require":
			rules = append(rules, builtin.Require{Fields: opt.StringSlice("fields")})
		default:
			return nil, fmt.Errorf("transform[%d]: unsupported kind=%s", i, t.Kind)
		}
	}
	return rules, nil
}

// buildUnits resolves the spec's unit list into sources.
func buildUnits(spec config.Pipeline) ([]pipeline.Unit, error) {
	units := make([]pipeline.Unit, 0, len(spec.Units))
	for i, u := range spec.Units {
		var src source.Source
		switch spec.Source.Kind {
		case "file":
			src = file.NewLocal(u.Path)
		case "http":
			src = httpsrc.NewRemote(u.URL, 30*time.Second)
		default:
			return nil, fmt.Errorf("units[%d]: unsupported source.kind=%s", i, spec.Source.Kind)
		}
		units = append(units, pipeline.Unit{ID: u.ID, Source: src, Sheet: u.Sheet, Constants: u.Constants})
	}
	return units, nil
}
