package config

import (
	"strings"
	"testing"

	"ingest/internal/schema"
)

func validPipeline() Pipeline {
	return Pipeline{
		Job:   "retail",
		Table: "retail_invoices",
		Schema: schema.Schema{
			ID:   1,
			Name: "retail_invoice",
			Fields: []schema.Field{
				{Name: "invoice", Type: "text", Required: true},
				{Name: "quantity", Type: "int", Required: true},
			},
		},
		Source: Source{Kind: "file"},
		Units: []Unit{
			{ID: "u1", Path: "extracts/a.csv"},
		},
		Transform: []Transform{
			{Kind: "coerce"},
		},
		Catalog: Catalog{Kind: "sqlite", DSN: "file:catalog.db"},
		Store:   Store{Kind: "fs", Root: "./lake"},
	}
}

func countSeverity(issues []Issue, sev IssueSeverity) int {
	n := 0
	for _, i := range issues {
		if i.Severity == sev {
			n++
		}
	}
	return n
}

func findPath(issues []Issue, path string) *Issue {
	for i := range issues {
		if issues[i].Path == path {
			return &issues[i]
		}
	}
	return nil
}

func TestValidatePipeline_Valid(t *testing.T) {
	issues := ValidatePipeline(validPipeline())
	if len(issues) != 0 {
		t.Fatalf("issues=%v; want none", issues)
	}
}

func TestValidatePipeline_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Pipeline)
		path   string
	}{
		{"empty job", func(p *Pipeline) { p.Job = "" }, "job"},
		{"empty table", func(p *Pipeline) { p.Table = " " }, "table"},
		{"no schema fields", func(p *Pipeline) { p.Schema.Fields = nil }, "schema.fields"},
		{"zero schema id", func(p *Pipeline) { p.Schema.ID = 0 }, "schema.id"},
		{"duplicate field", func(p *Pipeline) {
			p.Schema.Fields = append(p.Schema.Fields, schema.Field{Name: "invoice", Type: "text"})
		}, "schema.fields[2].name"},
		{"empty source kind", func(p *Pipeline) { p.Source.Kind = "" }, "source.kind"},
		{"no units", func(p *Pipeline) { p.Units = nil }, "units"},
		{"empty unit id", func(p *Pipeline) { p.Units[0].ID = "" }, "units[0].id"},
		{"duplicate unit id", func(p *Pipeline) {
			p.Units = append(p.Units, Unit{ID: "u1", Path: "b.csv"})
		}, "units[1].id"},
		{"file unit without path", func(p *Pipeline) { p.Units[0].Path = "" }, "units[0].path"},
		{"http unit without url", func(p *Pipeline) {
			p.Source.Kind = "http"
			p.Units[0] = Unit{ID: "u1"}
		}, "units[0].url"},
		{"empty transform kind", func(p *Pipeline) { p.Transform[0].Kind = "" }, "transform[0].kind"},
		{"empty catalog kind", func(p *Pipeline) { p.Catalog.Kind = "" }, "catalog.kind"},
		{"sql catalog without dsn", func(p *Pipeline) { p.Catalog.DSN = "" }, "catalog.dsn"},
		{"s3 store without bucket", func(p *Pipeline) { p.Store = Store{Kind: "s3"} }, "store.bucket"},
		{"fs store without root", func(p *Pipeline) { p.Store = Store{Kind: "fs"} }, "store.root"},
		{"negative workers", func(p *Pipeline) { p.Runtime.Workers = -1 }, "runtime.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPipeline()
			tt.mutate(&p)
			issues := ValidatePipeline(p)
			found := findPath(issues, tt.path)
			if found == nil {
				t.Fatalf("issues=%v; want one at %s", issues, tt.path)
			}
			if found.Severity != SeverityError {
				t.Fatalf("issue=%v; want error severity", found)
			}
		})
	}
}

/*
TestValidatePipeline_UnknownKindsWarn verifies unrecognized kinds are
warnings rather than errors, for forward compatibility.
*/
func TestValidatePipeline_UnknownKindsWarn(t *testing.T) {
	p := validPipeline()
	p.Source.Kind = "ftp"
	p.Units[0] = Unit{ID: "u1", Path: "a.csv"}
	p.Transform = append(p.Transform, Transform{Kind: "frobnicate"})

	issues := ValidatePipeline(p)
	if countSeverity(issues, SeverityError) != 0 {
		t.Fatalf("issues=%v; want no errors", issues)
	}
	if countSeverity(issues, SeverityWarning) != 2 {
		t.Fatalf("issues=%v; want 2 warnings", issues)
	}
}

func TestValidatePipeline_MemoryBackendsNeedNoDSN(t *testing.T) {
	p := validPipeline()
	p.Catalog = Catalog{Kind: "memory"}
	p.Store = Store{Kind: "memory"}

	if issues := ValidatePipeline(p); len(issues) != 0 {
		t.Fatalf("issues=%v; want none for memory backends", issues)
	}
}

func TestIssue_Error(t *testing.T) {
	i := Issue{Severity: SeverityError, Path: "store.kind", Message: "boom"}
	got := i.Error()
	for _, want := range []string{"error", "store.kind", "boom"} {
		if !strings.Contains(got, want) {
			t.Fatalf("Error()=%q; want it to contain %q", got, want)
		}
	}
}
