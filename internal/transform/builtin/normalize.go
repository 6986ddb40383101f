package builtin

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ingest/pkg/records"
)

// Normalize trims whitespace and cleans encoding artifacts (non-breaking
// spaces, mojibake from double-encoded UTF-8) on every string value.
type Normalize struct{}

func (Normalize) Name() string { return "normalize" }

func (Normalize) Apply(in []records.Record) ([]records.Record, error) {
	for _, r := range in {
		for k, v := range r {
			if s, ok := v.(string); ok {
				s = strings.ReplaceAll(s, " ", " ")
				s = strings.ReplaceAll(s, "Â ", " ")
				r[k] = strings.TrimSpace(s)
			}
		}
	}
	return in, nil
}

// TitleCase rewrites the named string fields into title case, e.g. product
// descriptions that arrive in ALL CAPS from the upstream extract.
type TitleCase struct {
	Fields []string
}

func (TitleCase) Name() string { return "title_case" }

func (t TitleCase) Apply(in []records.Record) ([]records.Record, error) {
	caser := cases.Title(language.English)
	for _, r := range in {
		for _, f := range t.Fields {
			if s, ok := r[f].(string); ok && s != "" {
				r[f] = caser.String(strings.ToLower(s))
			}
		}
	}
	return in, nil
}
