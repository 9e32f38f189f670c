// Package compiler wraps the opaque compile step of a project root.
package compiler

import (
	"context"
	"errors"

	"bamlls/internal/diag"
	"bamlls/internal/model"
)

// File is one member of a root as handed to a compiler.
type File struct {
	Path string `json:"path" msgpack:"path"`
	Text string `json:"content" msgpack:"content"`
}

// Output is what a compiler returns. A nil Model means the compile was fatal.
type Output struct {
	Diagnostics []diag.Diagnostic
	Model       *model.Model
}

// Compiler compiles the full file set of one root. Implementations must not
// modify files and may be called concurrently for different roots.
type Compiler interface {
	Compile(ctx context.Context, root string, files []File) (Output, error)
}

// Func adapts a plain function to Compiler.
type Func func(ctx context.Context, root string, files []File) (Output, error)

// Compile calls f.
func (f Func) Compile(ctx context.Context, root string, files []File) (Output, error) {
	return f(ctx, root, files)
}

// TestGenerator is implemented by compilers that can render a test file for
// the functions named in request.
type TestGenerator interface {
	GenerateTests(ctx context.Context, root string, files []File, request any) (string, error)
}

// ErrNoTestGenerator is returned when the configured compiler cannot
// generate test files.
var ErrNoTestGenerator = errors.New("compiler cannot generate test files")
