package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"bamlls/internal/fileuri"
)

// DefaultMarker is the directory name that makes a directory a project root.
const DefaultMarker = "baml_src"

// FindRoot walks up from start looking for an ancestor directory named marker.
// start itself is considered, so a root directory resolves to itself.
func FindRoot(marker, start string) (root string, ok bool, err error) {
	if marker == "" {
		marker = DefaultMarker
	}
	if start == "" {
		start = "."
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start path: %w", err)
	}
	for {
		if filepath.Base(dir) == marker {
			info, err := os.Stat(dir)
			if err == nil && info.IsDir() {
				return dir, true, nil
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return "", false, fmt.Errorf("failed to stat %q: %w", dir, err)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

type resolved struct {
	root string
	ok   bool
}

// Resolver memoizes FindRoot per path in a bounded LRU.
type Resolver struct {
	marker string
	cache  *lru.Cache[string, resolved]
}

// NewResolver builds a resolver for marker keeping up to size paths.
func NewResolver(marker string, size int) (*Resolver, error) {
	if marker == "" {
		marker = DefaultMarker
	}
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, resolved](size)
	if err != nil {
		return nil, err
	}
	return &Resolver{marker: marker, cache: cache}, nil
}

// Marker returns the marker directory name.
func (r *Resolver) Marker() string {
	return r.marker
}

// Resolve returns the owning root of path. Lookup failures resolve to no root.
func (r *Resolver) Resolve(path string) (string, bool) {
	path = fileuri.CanonicalPath(path)
	if path == "" {
		return "", false
	}
	if hit, ok := r.cache.Get(path); ok {
		return hit.root, hit.ok
	}
	root, ok, err := FindRoot(r.marker, path)
	if err != nil {
		// not cached: a transient stat failure should not stick
		return "", false
	}
	r.cache.Add(path, resolved{root: root, ok: ok})
	return root, ok
}

// Invalidate drops memoized results for path and everything beneath it, plus
// every entry that resolved to a root inside path. It returns the number of
// dropped entries.
func (r *Resolver) Invalidate(path string) int {
	path = fileuri.CanonicalPath(path)
	if path == "" {
		return 0
	}
	dropped := 0
	for _, key := range r.cache.Keys() {
		hit, ok := r.cache.Peek(key)
		if !ok {
			continue
		}
		if fileuri.WithinRoot(path, key) || (hit.ok && fileuri.WithinRoot(path, hit.root)) {
			r.cache.Remove(key)
			dropped++
		}
	}
	return dropped
}

// Purge forgets every memoized path.
func (r *Resolver) Purge() {
	r.cache.Purge()
}

// DiscoverFiles lists files under root whose extension is in exts, sorted.
func DiscoverFiles(root string, exts []string) ([]string, error) {
	want := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		want[strings.ToLower(ext)] = struct{}{}
	}
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := want[strings.ToLower(filepath.Ext(path))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
