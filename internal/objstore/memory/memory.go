// Package memory implements an in-process objstore.Store backed by a map.
// It exists for tests and local experimentation; contents do not survive
// the process.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ingest/internal/objstore"
)

func init() {
	objstore.Register("memory", func(ctx context.Context, cfg objstore.Config) (objstore.Store, error) {
		return New(), nil
	})
}

type object struct {
	body    []byte
	modTime time.Time
}

// Store is a map-backed object store. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	objs map[string]object

	// PutErr, when set, is returned by the next Put calls while non-nil.
	// Test seam for exercising write retry paths.
	PutErr error
}

// New returns an empty in-memory store.
func New() *Store { return &Store{objs: map[string]object{}} }

func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	if _, ok := s.objs[key]; ok {
		return objstore.ErrExists
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	s.objs[key] = object{body: cp, modTime: time.Now()}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objs[key]
	if !ok {
		return nil, objstore.ErrNotExist
	}
	cp := make([]byte, len(o.body))
	copy(cp, o.body)
	return cp, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]objstore.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []objstore.Object
	for k, o := range s.objs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, objstore.Object{Key: k, Size: int64(len(o.body)), ModTime: o.modTime})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objs, key)
	return nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objs)
}
