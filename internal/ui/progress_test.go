package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTracksRoots(t *testing.T) {
	events := make(chan Event)
	m := NewProgressModel("checking", []string{"/a/baml_src", "/b/baml_src"}, events).(*progressModel)

	m.Update(eventMsg{Root: "/a/baml_src", Status: StatusCompiling, Files: 3})
	assert.InDelta(t, 0.25, m.fraction(), 1e-9)

	m.Update(eventMsg{Root: "/a/baml_src", Status: StatusOK})
	m.Update(eventMsg{Root: "/b/baml_src", Status: StatusFailed})
	m.Update(eventMsg{Root: "/elsewhere", Status: StatusFailed})
	assert.InDelta(t, 1.0, m.fraction(), 1e-9)

	view := m.View()
	assert.Contains(t, view, "/a/baml_src (3 files)")
	assert.Contains(t, view, "failed")

	_, cmd := m.Update(doneMsg{})
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "done: checking")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "/very/l...", truncate("/very/long/path", 10))
	assert.Equal(t, "ab", truncate("abcdef", 2))
	assert.Equal(t, "日本...", truncate("日本語のパス", 7))
}
