package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKeepsLastPerPath(t *testing.T) {
	got := dedup([]Change{
		{Path: "a", Op: Create},
		{Path: "b", Op: Write},
		{Path: "a", Op: Remove},
	})
	assert.Equal(t, []Change{{Path: "a", Op: Remove}, {Path: "b", Op: Write}}, got)
}

func TestConvertOp(t *testing.T) {
	assert.Equal(t, Create, convertOp(fsnotify.Create))
	assert.Equal(t, Write, convertOp(fsnotify.Write))
	assert.Equal(t, Remove, convertOp(fsnotify.Rename))
	assert.Equal(t, Write, convertOp(fsnotify.Chmod))
}

func TestWatcherReportsFilteredChanges(t *testing.T) {
	root := t.TempDir()
	var mu sync.Mutex
	var got []Change
	w, err := New(func(changes []Change) {
		mu.Lock()
		got = append(got, changes...)
		mu.Unlock()
	}, Options{Debounce: 20 * time.Millisecond, Extensions: []string{".baml"}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()
	require.NoError(t, w.AddRoot(root))
	require.NoError(t, w.AddRoot(root))
	assert.Len(t, w.Roots(), 1)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("x"), 0o644))
	target := filepath.Join(root, "main.baml")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range got {
			if c.Path == target {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, c := range got {
		assert.NotEqual(t, filepath.Join(root, "notes.md"), c.Path)
	}
}
