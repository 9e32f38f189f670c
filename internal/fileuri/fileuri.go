// Package fileuri converts between editor document URIs and canonical
// filesystem paths. Every component keys documents by the canonical URI
// returned from Canonical.
package fileuri

import (
	"net/url"
	"path/filepath"
	"strings"
)

// ToPath converts a file URI (or a bare path) to an absolute path.
// Non-file schemes yield "".
func ToPath(uri string) string {
	if uri == "" {
		return ""
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "" && parsed.Scheme != "file" {
		// a single-letter scheme is a Windows drive, not a URI
		if len(parsed.Scheme) != 1 {
			return ""
		}
		parsed = &url.URL{Path: uri}
	}
	path := parsed.Path
	if parsed.Scheme == "" {
		path = uri
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		path = unescaped
	}
	path = filepath.FromSlash(path)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

// FromPath converts a filesystem path to a file URI.
func FromPath(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := url.URL{Scheme: "file", Path: slashed}
	return u.String()
}

// Canonical normalizes a URI by round-tripping it through the filesystem path.
func Canonical(uri string) string {
	path := ToPath(uri)
	if path == "" {
		return ""
	}
	return FromPath(path)
}

// CanonicalPath returns an absolute, cleaned path.
func CanonicalPath(path string) string {
	if path == "" {
		return ""
	}
	candidate := filepath.FromSlash(path)
	if abs, err := filepath.Abs(candidate); err == nil {
		candidate = abs
	}
	return filepath.Clean(candidate)
}

// WithinRoot reports whether path equals root or lies underneath it.
func WithinRoot(root, path string) bool {
	if root == "" || path == "" {
		return false
	}
	root = filepath.Clean(filepath.FromSlash(root))
	path = filepath.Clean(filepath.FromSlash(path))
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." {
		return false
	}
	prefix := ".." + string(filepath.Separator)
	return !strings.HasPrefix(rel, prefix)
}

// Ext returns the lower-cased extension of a URI or path, including the dot.
func Ext(uriOrPath string) string {
	return strings.ToLower(filepath.Ext(uriOrPath))
}
