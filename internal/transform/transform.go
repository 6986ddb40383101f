// Package transform implements the transformation stage: an ordered chain of
// deterministic rules applied to a validated batch, followed by fingerprint
// computation and in-batch deduplication.
//
// Rules operate on whole batches so they can both rewrite values (coerce,
// normalize, derive) and drop records (filter). A rule error is fatal for the
// ingestion unit: the input already passed validation, so a failing rule
// indicates a rule/schema contract violation rather than bad data.
package transform

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"

	"ingest/internal/batch"
	"ingest/pkg/records"
)

// Rule is one deterministic transformation step.
type Rule interface {
	// Name identifies the rule in errors and logs.
	Name() string
	// Apply transforms the batch. Implementations may mutate records in
	// place and may return a shorter slice (filtering), but must be
	// deterministic.
	Apply(in []records.Record) ([]records.Record, error)
}

// Error is a fatal transform failure: a rule raised on a value that passed
// validation. It is not retried.
type Error struct {
	Rule string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("transform rule %s: %v", e.Rule, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Canonical is a post-transform record in the target table's shape, carrying
// a content fingerprint over its normalized key fields.
type Canonical struct {
	Fields      records.Record
	Fingerprint uint64
}

// Config configures a Transformer for one target table.
type Config struct {
	// Rules is the ordered chain applied to every batch.
	Rules []Rule

	// FingerprintFields selects which fields feed the fingerprint. Empty
	// means all fields of each record.
	FingerprintFields []string

	// KeepFirst keeps the first-seen record on a fingerprint collision
	// within a batch. Default is last-seen wins.
	KeepFirst bool
}

// Transformer applies the configured rule chain, computes fingerprints, and
// merges in-batch duplicates. Safe for concurrent use; it holds no per-batch
// state.
type Transformer struct {
	cfg Config
}

// New returns a Transformer for the given config.
func New(cfg Config) *Transformer { return &Transformer{cfg: cfg} }

// Apply runs the rule chain over the validated batch and returns canonical,
// deduplicated records. Order of first occurrence is preserved; with
// last-seen-wins the later duplicate replaces the earlier one in place.
func (t *Transformer) Apply(vb batch.ValidatedBatch) ([]Canonical, error) {
	rows := vb.Rows
	for _, rule := range t.cfg.Rules {
		if rule == nil {
			continue
		}
		out, err := rule.Apply(rows)
		if err != nil {
			return nil, &Error{Rule: rule.Name(), Err: err}
		}
		rows = out
	}

	canon := make([]Canonical, 0, len(rows))
	seen := make(map[uint64]int, len(rows))
	dupes := 0

	for _, rec := range rows {
		fp := Fingerprint(rec, t.cfg.FingerprintFields)
		if at, ok := seen[fp]; ok {
			dupes++
			if !t.cfg.KeepFirst {
				canon[at] = Canonical{Fields: rec, Fingerprint: fp}
			}
			continue
		}
		seen[fp] = len(canon)
		canon = append(canon, Canonical{Fields: rec, Fingerprint: fp})
	}

	if dupes > 0 || len(rows) != len(vb.Rows) {
		log.Printf("transform: in=%d out=%d dropped=%d merged_dupes=%d",
			len(vb.Rows), len(canon), len(vb.Rows)-len(rows), dupes)
	}
	return canon, nil
}

// Fingerprint hashes the normalized rendering of the selected fields. With a
// nil or empty field list all fields participate, in sorted name order so the
// hash is independent of map iteration.
func Fingerprint(rec records.Record, fields []string) uint64 {
	if len(fields) == 0 {
		fields = make([]string, 0, len(rec))
		for k := range rec {
			fields = append(fields, k)
		}
		sort.Strings(fields)
	}

	h := xxh3.New()
	for _, f := range fields {
		h.WriteString(f)
		h.Write(sepUnit)
		h.WriteString(renderValue(rec[f]))
		h.Write(sepRecord)
	}
	return h.Sum64()
}

var (
	sepUnit   = []byte{0x1f}
	sepRecord = []byte{0x1e}
)

// renderValue produces a stable, type-tagged string form of a field value so
// that e.g. int64(1) and "1" do not collide.
func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "_"
	case string:
		return "s:" + x
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case int:
		return "i:" + strconv.Itoa(x)
	case float64:
		return "f:" + strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("x:%v", x)
	}
}
