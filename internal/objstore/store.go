// Package objstore defines the object-store contract used by the snapshot
// writer and the orphan sweeper, plus a registry of concrete backends.
//
// The contract is deliberately narrow: put, get, list, delete. Data files and
// manifests are written once under generated names and never overwritten, so
// Put is required to fail on an existing key where the backend can enforce it.
//
// Backends (s3, fs, memory) register themselves at init time; importing
// ingest/internal/objstore/all enables every built-in backend.
package objstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotExist is returned by Get for a missing key.
var ErrNotExist = errors.New("objstore: object does not exist")

// ErrExists is returned by Put when the key is already present. Snapshot
// data is immutable; a duplicate key always indicates a caller bug.
var ErrExists = errors.New("objstore: object already exists")

// Object describes one stored object as returned by List.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is the minimal object-store API the pipeline depends on. All calls
// honor ctx cancellation and deadlines.
type Store interface {
	// Put stores body under key. Keys are never overwritten.
	Put(ctx context.Context, key string, body []byte) error
	// Get returns the full object body, or ErrNotExist.
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns objects whose key starts with prefix, in key order.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Config selects and configures a backend.
type Config struct {
	// Kind selects the backend: "s3", "fs", "memory".
	Kind string `json:"kind"`

	// Bucket is the S3 bucket name (s3 backend).
	Bucket string `json:"bucket,omitempty"`
	// Endpoint overrides the S3 endpoint, e.g. a MinIO address. Empty uses
	// AWS defaults.
	Endpoint string `json:"endpoint,omitempty"`
	// Region is the S3 region.
	Region string `json:"region,omitempty"`
	// ForcePathStyle enables path-style addressing (required by MinIO).
	ForcePathStyle bool `json:"force_path_style,omitempty"`

	// Root is the base directory (fs backend).
	Root string `json:"root,omitempty"`
}

// Factory constructs a Store from a Config.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for a backend kind. Backends
// call this from init; tests may override kinds with fakes.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// New constructs the Store selected by cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	fn, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, errors.New("unsupported store.kind=" + cfg.Kind)
	}
	return fn(ctx, cfg)
}

// ListKinds returns the registered backend kinds, sorted, as a snapshot copy.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
