// Package file implements a local filesystem-backed source.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Local is a filesystem source that opens one file from local disk.
type Local struct{ path string }

// NewLocal returns a Local source bound to path. Safe for concurrent use as
// long as the underlying location supports concurrent reads.
func NewLocal(path string) *Local { return &Local{path: path} }

// Name returns the bound path.
func (l *Local) Name() string { return l.path }

// Open opens the configured path for reading.
//
// If the context is already canceled at the time of the call, Open returns
// the context error without touching the filesystem. Filesystem errors are
// wrapped with the path while keeping errors.Is(err, os.ErrNotExist) intact.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	return f, nil
}
