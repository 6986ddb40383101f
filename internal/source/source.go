// Package source abstracts where raw extracts come from. A Source opens a
// byte stream; the CSV parser turns that stream into a RawBatch.
package source

import (
	"context"
	"io"
)

// Source opens the underlying extract for reading.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name identifies the source for logs and batch provenance, e.g. a
	// file path or URL.
	Name() string
}
