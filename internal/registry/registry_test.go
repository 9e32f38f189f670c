package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bamlls/internal/diag"
	"bamlls/internal/model"
	"bamlls/internal/source"
)

const (
	root = "/p/baml_src"
	uriA = "file:///p/baml_src/a.baml"
	uriB = "file:///p/baml_src/b.baml"
)

func fooModel() *model.Model {
	return model.New(model.Data{
		Root:      root,
		Functions: []model.Function{{Name: model.Name{Value: "Foo", Path: root + "/a.baml"}}},
	})
}

func errorsFor(uri string) map[string][]diag.Diagnostic {
	return map[string][]diag.Diagnostic{
		uri: {diag.Errorf(root+"/a.baml", source.NewSpan(0, 1), "E1", "broken")},
	}
}

func TestMembership(t *testing.T) {
	r := New()
	assert.True(t, r.AddDocument(root, uriB))
	assert.True(t, r.AddDocument(root, uriA))
	assert.False(t, r.AddDocument(root, uriA))
	assert.Equal(t, []string{uriA, uriB}, r.Members(root))
	assert.True(t, r.IsMember(root, uriA))

	assert.True(t, r.RemoveDocument(root, uriA))
	assert.False(t, r.RemoveDocument(root, uriA))
	assert.Equal(t, []string{uriB}, r.Members(root))
	assert.Equal(t, []string{root}, r.Roots())
}

func TestFatalCommitKeepsLastGoodModel(t *testing.T) {
	r := New()
	r.AddDocument(root, uriA)
	good := fooModel()

	out := r.Commit(root, Commit{Seq: 1, Model: good})
	require.True(t, out.Applied)
	assert.Same(t, good, out.Updated)
	assert.False(t, r.Failed(root))

	out = r.Commit(root, Commit{Seq: 2, Diagnostics: errorsFor(uriA)})
	require.True(t, out.Applied)
	assert.True(t, out.ModelRemoved)
	assert.Nil(t, out.Updated)
	assert.Same(t, good, r.Model(root))
	assert.True(t, r.Failed(root))
	require.Len(t, r.Diagnostics(root, uriA), 1)
	assert.Equal(t, "broken", r.Diagnostics(root, uriA)[0].Message)

	// a second failure does not repeat the removal
	out = r.Commit(root, Commit{Seq: 3, Diagnostics: errorsFor(uriA)})
	assert.False(t, out.ModelRemoved)

	out = r.Commit(root, Commit{Seq: 4, Model: good})
	require.True(t, out.Applied)
	assert.Empty(t, out.Publish[uriA])
	assert.Contains(t, out.Publish, uriA)
	assert.Empty(t, r.Diagnostics(root, uriA))
}

func TestCommitDiscardsOutOfOrderResults(t *testing.T) {
	r := New()
	r.AddDocument(root, uriA)
	newer := fooModel()

	require.True(t, r.Commit(root, Commit{Seq: 5, Model: newer}).Applied)
	out := r.Commit(root, Commit{Seq: 3, Model: fooModel()})
	assert.False(t, out.Applied)
	assert.Equal(t, Superseded, out.Reason)
	assert.Same(t, newer, r.Model(root))
}

func TestCommitDiscardsStaleSnapshot(t *testing.T) {
	r := New()
	r.AddDocument(root, uriA)
	r.Touch(root, 7)
	out := r.Commit(root, Commit{Seq: 6, Model: fooModel()})
	assert.False(t, out.Applied)
	assert.Equal(t, Stale, out.Reason)
	assert.Nil(t, r.Model(root))

	assert.True(t, r.Commit(root, Commit{Seq: 7, Model: fooModel()}).Applied)
}

func TestCommitClearsRemovedMembers(t *testing.T) {
	r := New()
	r.AddDocument(root, uriA)
	r.AddDocument(root, uriB)
	r.Commit(root, Commit{Seq: 1, Diagnostics: errorsFor(uriB)})
	r.RemoveDocument(root, uriB)

	out := r.Commit(root, Commit{Seq: 2, Model: fooModel()})
	require.Contains(t, out.Publish, uriB)
	assert.Nil(t, out.Publish[uriB])
	assert.Nil(t, r.Diagnostics(root, uriB))
}

func TestMarkEmptySignalsOnce(t *testing.T) {
	r := New()
	r.AddDocument(root, uriA)
	r.Commit(root, Commit{Seq: 1, Model: fooModel(), Diagnostics: errorsFor(uriA)})
	r.RemoveDocument(root, uriA)

	out := r.MarkEmpty(root, 2)
	assert.True(t, out.Transition)
	assert.True(t, out.ModelRemoved)
	assert.Equal(t, []string{uriA}, out.Cleared)
	assert.Nil(t, r.Model(root))

	out = r.MarkEmpty(root, 3)
	assert.False(t, out.Transition)
	assert.False(t, out.ModelRemoved)

	r.AddDocument(root, uriA)
	r.RemoveDocument(root, uriA)
	assert.True(t, r.MarkEmpty(root, 4).Transition)
}

func TestRootsAreIndependent(t *testing.T) {
	const other = "/q/baml_src"
	r := New()
	r.AddDocument(root, uriA)
	r.AddDocument(other, "file:///q/baml_src/x.baml")
	good := fooModel()
	r.Commit(other, Commit{Seq: 1, Model: good})
	r.Commit(root, Commit{Seq: 2, Diagnostics: errorsFor(uriA)})

	assert.Same(t, good, r.Model(other))
	assert.False(t, r.Failed(other))
	last, ok := r.LastCommitted()
	require.True(t, ok)
	assert.Equal(t, root, last)
}

func TestConcurrentCommitsKeepNewest(t *testing.T) {
	r := New()
	r.AddDocument(root, uriA)
	models := make([]*model.Model, 64)
	var wg sync.WaitGroup
	for i := range models {
		models[i] = fooModel()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Commit(root, Commit{Seq: uint64(i + 1), Model: models[i]})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, uint64(64), r.Snapshot(root).Seq)
	assert.Same(t, models[63], r.Model(root))
}
