// Package fs implements a local-filesystem objstore.Store. Object keys map
// to file paths under a root directory. Writes use O_EXCL so existing
// objects are never overwritten, matching the store contract.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"ingest/internal/objstore"
)

func init() {
	objstore.Register("fs", func(ctx context.Context, cfg objstore.Config) (objstore.Store, error) {
		return New(cfg.Root)
	})
}

// Store is a directory-backed object store.
type Store struct {
	root string
}

// New returns a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("fs: root must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fs: create root %s: %w", dir, err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("fs: mkdir for %s: %w", key, err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return objstore.ErrExists
		}
		return fmt.Errorf("fs: create %s: %w", key, err)
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(p)
		return fmt.Errorf("fs: write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(p)
		return fmt.Errorf("fs: close %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, objstore.ErrNotExist
		}
		return nil, fmt.Errorf("fs: read %s: %w", key, err)
	}
	return b, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]objstore.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []objstore.Object
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, objstore.Object{Key: key, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fs: list %s: %w", prefix, err)
	}
	// WalkDir visits lexically, so out is already in key order.
	return out, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fs: delete %s: %w", key, err)
	}
	return nil
}
