// Package diagfmt renders compile diagnostics for terminals and tools.
package diagfmt

// PathMode specifies how file paths are displayed.
type PathMode uint8

const (
	// PathModeAuto shows paths relative to BaseDir when they are inside it.
	PathModeAuto PathMode = iota
	// PathModeAbsolute always uses absolute paths.
	PathModeAbsolute
	PathModeRelative
	PathModeBasename
)

// PrettyOpts configures pretty-printing of diagnostics.
type PrettyOpts struct {
	Color    bool
	Context  int // lines shown above the primary line
	PathMode PathMode
	BaseDir  string
	Width    int // 0 means no limit
}

// JSONOpts configures JSON output of diagnostics.
type JSONOpts struct {
	IncludePositions bool
	PathMode         PathMode
	BaseDir          string
	Max              int // truncates output, not the bag
}
