package docstore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uri = "file:///p/baml_src/main.baml"

func TestOpenUpdateClose(t *testing.T) {
	s := New()
	doc := s.Open(uri, "baml", "a", 3)
	assert.Equal(t, 3, doc.Version)
	assert.Equal(t, "/p/baml_src/main.baml", doc.Path)

	doc = s.Update(uri, "ab")
	assert.Equal(t, 4, doc.Version)
	assert.Equal(t, "baml", doc.LanguageID)

	got, ok := s.Get(uri)
	require.True(t, ok)
	assert.Equal(t, "ab", got.Text)

	assert.True(t, s.Close(uri))
	assert.False(t, s.Close(uri))
	_, ok = s.Get(uri)
	assert.False(t, ok)
}

func TestUpdateUnknownOpensImplicitly(t *testing.T) {
	s := New()
	doc := s.Update(uri, "text")
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, "baml", doc.LanguageID)
}

func TestRevisionsAreImmutable(t *testing.T) {
	s := New()
	first := s.Open(uri, "baml", "one\n", 1)
	lines := first.Lines()
	s.Update(uri, "two\nthree\n")
	assert.Equal(t, "one\n", first.Text)
	assert.Equal(t, 2, lines.LineCount())
	assert.Same(t, lines, first.Lines())
}

func TestSeqIsMonotonic(t *testing.T) {
	s := New()
	a := s.Open(uri, "baml", "", 1)
	b := s.Update(uri, "x")
	assert.Less(t, a.Seq, b.Seq)
	before := s.Seq()
	s.Bump()
	assert.Greater(t, s.Seq(), before)
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s := New()
	s.Open(uri, "baml", "", 0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Update(uri, fmt.Sprint(i))
		}(i)
	}
	wg.Wait()
	doc, _ := s.Get(uri)
	assert.Equal(t, 50, doc.Version)
}

func TestSnapshotSkipsClosed(t *testing.T) {
	s := New()
	s.Open(uri, "baml", "x", 1)
	docs, seq := s.Snapshot([]string{uri, "file:///p/baml_src/other.baml"})
	assert.Len(t, docs, 1)
	assert.Equal(t, s.Seq(), seq)
}
