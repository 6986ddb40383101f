// Package config provides configuration models and helpers for ingestion
// pipelines.
//
// This file adds a lightweight linter/validator for Pipeline values. It
// performs static checks over a decoded Pipeline and returns a list of
// issues (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be
	// surfaced to users but does not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "store.kind", "units[1].id").
// Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a
// single error in contexts that expect one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

var (
	knownSourceKinds    = []string{"file", "http"}
	knownTransformKinds = []string{"coerce", "normalize", "title_case", "constant", "product", "time_parts", "filter", "require"}
	knownCatalogKinds   = []string{"postgres", "mysql", "mssql", "sqlite", "memory"}
	knownStoreKinds     = []string{"s3", "fs", "memory"}
)

// ValidatePipeline performs static validation/linting of a Pipeline.
//
// It does not mutate the pipeline. Callers decide whether to treat warnings
// as fatal.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}
	if strings.TrimSpace(p.Table) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "table",
			Message:  "table must not be empty",
		})
	}

	issues = append(issues, validateSchema(p)...)
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateUnits(p)...)
	issues = append(issues, validateTransforms(p.Transform)...)
	issues = append(issues, validateBackends(p)...)
	issues = append(issues, validateRuntime(p.Runtime)...)

	return issues
}

func validateSchema(p Pipeline) []Issue {
	var issues []Issue
	if len(p.Schema.Fields) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "schema.fields",
			Message:  "schema must declare at least one field",
		})
	}
	if p.Schema.ID <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "schema.id",
			Message:  "schema.id must be a positive published schema id",
		})
	}
	seen := map[string]bool{}
	for i, f := range p.Schema.Fields {
		if strings.TrimSpace(f.Name) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("schema.fields[%d].name", i),
				Message:  "field name must not be empty",
			})
			continue
		}
		if seen[f.Name] {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("schema.fields[%d].name", i),
				Message:  fmt.Sprintf("duplicate field %q", f.Name),
			})
		}
		seen[f.Name] = true
	}
	return issues
}

func validateSource(s Source) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.kind",
			Message:  "source.kind must not be empty",
		})
		return issues
	}
	// Unknown kinds are warnings for forward compatibility.
	if !contains(knownSourceKinds, s.Kind) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.kind",
			Message:  fmt.Sprintf("unknown source kind %q (known: %s)", s.Kind, strings.Join(knownSourceKinds, ", ")),
		})
	}
	return issues
}

func validateUnits(p Pipeline) []Issue {
	var issues []Issue
	if len(p.Units) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "units",
			Message:  "at least one ingestion unit is required",
		})
	}
	seen := map[string]bool{}
	for i, u := range p.Units {
		path := fmt.Sprintf("units[%d]", i)
		if strings.TrimSpace(u.ID) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".id",
				Message:  "unit id must not be empty; it is the idempotency key",
			})
		} else if seen[u.ID] {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".id",
				Message:  fmt.Sprintf("duplicate unit id %q", u.ID),
			})
		}
		seen[u.ID] = true

		switch p.Source.Kind {
		case "file":
			if strings.TrimSpace(u.Path) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + ".path",
					Message:  "path is required for source.kind=file",
				})
			}
		case "http":
			if strings.TrimSpace(u.URL) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     path + ".url",
					Message:  "url is required for source.kind=http",
				})
			}
		}
	}
	return issues
}

func validateTransforms(ts []Transform) []Issue {
	var issues []Issue
	for i, t := range ts {
		path := fmt.Sprintf("transform[%d]", i)
		if strings.TrimSpace(t.Kind) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".kind",
				Message:  "transform.kind must not be empty",
			})
			continue
		}
		if !contains(knownTransformKinds, t.Kind) {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".kind",
				Message:  fmt.Sprintf("unknown transform kind %q (known: %s)", t.Kind, strings.Join(knownTransformKinds, ", ")),
			})
		}
	}
	return issues
}

func validateBackends(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Catalog.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "catalog.kind",
			Message:  "catalog.kind must not be empty",
		})
	} else if !contains(knownCatalogKinds, p.Catalog.Kind) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "catalog.kind",
			Message:  fmt.Sprintf("unknown catalog kind %q (known: %s)", p.Catalog.Kind, strings.Join(knownCatalogKinds, ", ")),
		})
	}
	if p.Catalog.Kind != "memory" && p.Catalog.Kind != "" && strings.TrimSpace(p.Catalog.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "catalog.dsn",
			Message:  fmt.Sprintf("dsn is required for catalog.kind=%s", p.Catalog.Kind),
		})
	}

	if strings.TrimSpace(p.Store.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "store.kind",
			Message:  "store.kind must not be empty",
		})
	} else if !contains(knownStoreKinds, p.Store.Kind) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "store.kind",
			Message:  fmt.Sprintf("unknown store kind %q (known: %s)", p.Store.Kind, strings.Join(knownStoreKinds, ", ")),
		})
	}
	switch p.Store.Kind {
	case "s3":
		if strings.TrimSpace(p.Store.Bucket) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "store.bucket",
				Message:  "bucket is required for store.kind=s3",
			})
		}
	case "fs":
		if strings.TrimSpace(p.Store.Root) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "store.root",
				Message:  "root is required for store.kind=fs",
			})
		}
	}

	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue
	check := func(name string, v int) {
		if v < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "runtime." + name,
				Message:  name + " must not be negative",
			})
		}
	}
	check("workers", r.Workers)
	check("commit_attempts", r.CommitAttempts)
	check("stage_timeout_ms", r.StageTimeoutMS)
	check("max_file_rows", r.MaxFileRows)
	return issues
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
