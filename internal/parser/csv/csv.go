// Package csv reads a delimited extract into a RawBatch. It tolerates the
// usual real-world CSV damage: UTF-8 BOM on the first header, unescaped
// quotes, variable field counts, localized headers that need remapping.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"ingest/internal/batch"
	"ingest/pkg/records"
)

// Options configures the reader. All fields are optional; zero values get
// sensible defaults.
type Options struct {
	// Comma specifies the field delimiter. When zero, ',' is used.
	Comma rune

	// TrimSpace trims leading/trailing spaces from each field value.
	TrimSpace bool

	// HeaderMap maps source header names to canonical keys,
	// e.g. { "Customer ID": "customer_id" }. Unmapped headers pass through.
	HeaderMap map[string]string

	// Sheet labels the batch provenance when the extract came from a
	// spreadsheet tab; informational only.
	Sheet string

	// MaxRows caps the number of data rows read. 0 reads everything.
	MaxRows int
}

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// StripHeaderBOM removes a UTF-8 BOM from the first header cell if present.
func StripHeaderBOM(headers []string) []string {
	if len(headers) == 0 {
		return headers
	}
	headers[0] = strings.TrimPrefix(headers[0], utf8BOM)
	return headers
}

// Read consumes r fully and returns a RawBatch whose rows are keyed by the
// canonical (post-HeaderMap) header names. Cells missing from a short row
// are absent from that row's record rather than empty strings, so the
// validator can distinguish "missing" from "null".
func Read(ctx context.Context, r io.Reader, sourceName string, opt Options) (batch.RawBatch, error) {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.FieldsPerRecord = -1 // tolerate ragged rows
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return batch.RawBatch{}, fmt.Errorf("read header: %w", err)
	}
	header = StripHeaderBOM(header)

	cols := make([]string, len(header))
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		if mapped, ok := opt.HeaderMap[name]; ok && mapped != "" {
			name = mapped
		}
		cols[i] = name
	}

	out := batch.RawBatch{
		Source: batch.SourceInfo{File: sourceName, Sheet: opt.Sheet, IngestedAt: time.Now().UTC()},
	}

	for {
		if err := ctx.Err(); err != nil {
			return batch.RawBatch{}, err
		}
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return batch.RawBatch{}, fmt.Errorf("read row %d: %w", len(out.Rows)+2, err)
		}

		rec := make(records.Record, len(cols))
		for i, v := range row {
			if i >= len(cols) {
				break // extra unheadered cells are dropped
			}
			if opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			rec[cols[i]] = v
		}
		out.Rows = append(out.Rows, rec)

		if opt.MaxRows > 0 && len(out.Rows) >= opt.MaxRows {
			break
		}
	}
	return out, nil
}
