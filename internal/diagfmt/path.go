package diagfmt

import (
	"path/filepath"
	"strings"
)

func formatPath(path string, mode PathMode, base string) string {
	switch mode {
	case PathModeAbsolute:
		return path
	case PathModeBasename:
		return filepath.Base(path)
	case PathModeRelative:
		if rel, ok := relative(path, base); ok {
			return rel
		}
		return path
	default:
		if rel, ok := relative(path, base); ok && !strings.HasPrefix(rel, "..") {
			return rel
		}
		return path
	}
}

func relative(path, base string) (string, bool) {
	if base == "" || !filepath.IsAbs(path) {
		return "", false
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", false
	}
	return rel, true
}
