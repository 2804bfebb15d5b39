package local

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
)

// Roots spreads objects over several independent base directories. Each
// object goes to the deepest root that contains it, so unrelated output
// directories never need a shared parent.
type Roots struct {
	stores []*BlobStore
}

// NewRoots opens one BlobStore per distinct directory. Relative object paths
// resolve against the first directory.
func NewRoots(dirs ...string) (*Roots, error) {
	if len(dirs) == 0 {
		return nil, fmt.Errorf("at least one base directory is required")
	}
	r := &Roots{}
	seen := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		store, err := New(Config{BaseDir: dir})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", dir, err)
		}
		if seen[store.BaseDir()] {
			continue
		}
		seen[store.BaseDir()] = true
		r.stores = append(r.stores, store)
	}
	return r, nil
}

// BaseDirs returns the absolute roots in the order they were given.
func (r *Roots) BaseDirs() []string {
	dirs := make([]string, len(r.stores))
	for i, s := range r.stores {
		dirs[i] = s.BaseDir()
	}
	return dirs
}

func (r *Roots) storeFor(path string) (*BlobStore, error) {
	if !filepath.IsAbs(path) {
		return r.stores[0], nil
	}
	path = filepath.Clean(path)
	var best *BlobStore
	for _, s := range r.stores {
		if contains(s.BaseDir(), path) && (best == nil || len(s.BaseDir()) > len(best.BaseDir())) {
			best = s
		}
	}
	if best == nil {
		return nil, fmt.Errorf("path traversal detected: %s", path)
	}
	return best, nil
}

// Exists reports whether a regular file is present at path.
func (r *Roots) Exists(ctx context.Context, path string) (bool, error) {
	s, err := r.storeFor(path)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, path)
}

// PutObject writes the object through the root that owns path.
func (r *Roots) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	s, err := r.storeFor(path)
	if err != nil {
		return "", err
	}
	return s.PutObject(ctx, path, contentType, data)
}
