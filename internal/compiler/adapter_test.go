package compiler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bamlls/internal/diag"
	"bamlls/internal/model"
	"bamlls/internal/source"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdapterConvertsPanicToDiagnostic(t *testing.T) {
	a := NewAdapter(Func(func(context.Context, string, []File) (Output, error) {
		panic("boom")
	}), Options{Logger: quietLogger()})

	res := a.Compile(context.Background(), root, []File{
		{Path: root + "/b.baml", Text: "b"},
		{Path: root + "/a.baml", Text: "a"},
	})
	assert.True(t, res.Fault)
	assert.Nil(t, res.Model)
	require.Len(t, res.Diagnostics, 1)
	d := res.Diagnostics[0]
	assert.Equal(t, diag.SevError, d.Severity)
	assert.Equal(t, CodeFault, d.Code)
	assert.Equal(t, root+"/a.baml", d.Path)
	assert.Contains(t, d.Message, "boom")
	assert.Equal(t, source.Range{}, d.Range)
}

func TestAdapterConvertsErrorToDiagnostic(t *testing.T) {
	a := NewAdapter(Func(func(context.Context, string, []File) (Output, error) {
		return Output{Model: model.New(model.Data{})}, errors.New("exit status 2")
	}), Options{Logger: quietLogger()})
	res := a.Compile(context.Background(), root, []File{{Path: root + "/a.baml", Text: "a"}})
	assert.True(t, res.Fault)
	assert.Nil(t, res.Model)
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0].Message, "exit status 2")
}

func TestAdapterDoesNotMutateInputs(t *testing.T) {
	var seen []string
	a := NewAdapter(Func(func(_ context.Context, _ string, files []File) (Output, error) {
		for _, f := range files {
			seen = append(seen, f.Path)
		}
		files[0].Text = "scribbled"
		return Output{}, nil
	}), Options{Logger: quietLogger()})

	files := []File{{Path: root + "/b.baml", Text: "b"}, {Path: root + "/a.baml", Text: "a"}}
	a.Compile(context.Background(), root, files)
	assert.Equal(t, []string{root + "/a.baml", root + "/b.baml"}, seen)
	assert.Equal(t, root+"/b.baml", files[0].Path)
	assert.Equal(t, "b", files[0].Text)
	assert.Equal(t, "a", files[1].Text)
}

func TestAdapterShapesDiagnostics(t *testing.T) {
	text := "line one\nline two\n"
	path := root + "/a.baml"
	a := NewAdapter(Func(func(context.Context, string, []File) (Output, error) {
		return Output{Diagnostics: []diag.Diagnostic{
			diag.Errorf(path, source.NewSpan(14, 17), "E", "second"),
			diag.Errorf(root+"/elsewhere.baml", source.NewSpan(0, 1), "E", "dropped"),
			diag.Warningf(path, source.NewSpan(0, 4), "W", "first"),
			diag.Warningf(path, source.NewSpan(0, 4), "W", "first"),
			diag.Errorf(path, source.NewSpan(10, 999), "E", "clamped"),
		}}, nil
	}), Options{Logger: quietLogger()})

	res := a.Compile(context.Background(), root, []File{{Path: path, Text: text}})
	require.Len(t, res.Diagnostics, 3)
	assert.Equal(t, "first", res.Diagnostics[0].Message)
	assert.Equal(t, "clamped", res.Diagnostics[1].Message)
	assert.Equal(t, "second", res.Diagnostics[2].Message)

	assert.Equal(t, source.Span{Start: 10, End: uint32(len(text))}, res.Diagnostics[1].Span)
	assert.Equal(t, source.Range{
		Start: source.Position{Line: 1, Character: 1},
		End:   source.Position{Line: 2, Character: 0},
	}, res.Diagnostics[1].Range)
	assert.Equal(t, source.Position{Line: 1, Character: 5}, res.Diagnostics[2].Range.Start)
	assert.Equal(t, text, res.Lines[path].Text())
}

func TestAdapterCapsDiagnosticsPerFile(t *testing.T) {
	path := root + "/a.baml"
	a := NewAdapter(Func(func(context.Context, string, []File) (Output, error) {
		var out Output
		for i := 0; i < 10; i++ {
			out.Diagnostics = append(out.Diagnostics, diag.Errorf(path, source.NewSpan(i, i+1), "E", "x"))
		}
		return out, nil
	}), Options{MaxDiagnostics: 3, Logger: quietLogger()})
	res := a.Compile(context.Background(), root, []File{{Path: path, Text: "0123456789"}})
	assert.Len(t, res.Diagnostics, 3)
}

func TestAdapterIsDeterministic(t *testing.T) {
	a := NewAdapter(Outline{}, Options{Logger: quietLogger()})
	files := []File{{Path: root + "/main.baml", Text: fooSource}}
	first := a.Compile(context.Background(), root, files)
	second := a.Compile(context.Background(), root, files)
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
	assert.Equal(t, first.Model.Data(), second.Model.Data())
}

func TestAdapterUsesDiskCache(t *testing.T) {
	cache, err := OpenDiskCache(t.TempDir())
	require.NoError(t, err)
	var calls atomic.Int32
	inner := Outline{}
	a := NewAdapter(Func(func(ctx context.Context, root string, files []File) (Output, error) {
		calls.Add(1)
		return inner.Compile(ctx, root, files)
	}), Options{Cache: cache, Logger: quietLogger()})

	files := []File{{Path: root + "/main.baml", Text: fooSource}}
	first := a.Compile(context.Background(), root, files)
	require.False(t, first.Cached)
	second := a.Compile(context.Background(), root, files)
	require.True(t, second.Cached)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first.Model.Data(), second.Model.Data())
	assert.NotNil(t, second.Lines[root+"/main.baml"])

	files[0].Text += "\n"
	third := a.Compile(context.Background(), root, files)
	assert.False(t, third.Cached)
	assert.Equal(t, int32(2), calls.Load())

	require.NoError(t, cache.DropAll())
	fourth := a.Compile(context.Background(), root, files)
	assert.False(t, fourth.Cached)
}

func TestAdapterDoesNotCacheFaults(t *testing.T) {
	cache, err := OpenDiskCache(t.TempDir())
	require.NoError(t, err)
	var calls atomic.Int32
	a := NewAdapter(Func(func(context.Context, string, []File) (Output, error) {
		calls.Add(1)
		return Output{}, errors.New("transient")
	}), Options{Cache: cache, Logger: quietLogger()})
	files := []File{{Path: root + "/a.baml", Text: "a"}}
	a.Compile(context.Background(), root, files)
	a.Compile(context.Background(), root, files)
	assert.Equal(t, int32(2), calls.Load())
}

func TestKeySeparatesFields(t *testing.T) {
	a := Key(root, []File{{Path: "ab", Text: "c"}})
	b := Key(root, []File{{Path: "a", Text: "bc"}})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Key(root, []File{{Path: "ab", Text: "c"}}))
}
