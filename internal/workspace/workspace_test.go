package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bamlls/internal/compiler"
	"bamlls/internal/diag"
	"bamlls/internal/fileuri"
	"bamlls/internal/model"
	"bamlls/internal/schedule"
	"bamlls/internal/source"
)

func fnSource(name string) string {
	return fmt.Sprintf("function %s {\n  input string\n  output string\n}\n\nimpl<llm, %s> v1 {\n  client GPT4\n  prompt #\"hi\"#\n}\n", name, name)
}

const brokenSource = "function {\n  input\n"

type event struct {
	kind   string
	target string
}

type message struct {
	sev  diag.Severity
	text string
}

type recordingSink struct {
	mu       sync.Mutex
	events   []event
	diags    map[string][][]diag.Diagnostic
	models   map[string][]*model.Model
	messages []message
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		diags:  make(map[string][][]diag.Diagnostic),
		models: make(map[string][]*model.Model),
	}
}

func (s *recordingSink) DiagnosticsUpdated(uri string, list []diag.Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{"diagnostics", uri})
	s.diags[uri] = append(s.diags[uri], list)
}

func (s *recordingSink) ModelUpdated(root string, m *model.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{"model", root})
	s.models[root] = append(s.models[root], m)
}

func (s *recordingSink) ModelRemoved(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{"removed", root})
}

func (s *recordingSink) UserMessage(sev diag.Severity, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message{sev, text})
}

func (s *recordingSink) count(kind, target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.kind == kind && ev.target == target {
			n++
		}
	}
	return n
}

func (s *recordingSink) eventsUnder(root string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.target == root || strings.HasPrefix(ev.target, fileuri.FromPath(root)+"/") {
			n++
		}
	}
	return n
}

func (s *recordingSink) lastDiagnostics(uri string) ([]diag.Diagnostic, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.diags[uri]
	if len(all) == 0 {
		return nil, false
	}
	return all[len(all)-1], true
}

func (s *recordingSink) allDiagnostics(uri string) [][]diag.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]diag.Diagnostic(nil), s.diags[uri]...)
}

func (s *recordingSink) publishedModels(root string) []*model.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Model(nil), s.models[root]...)
}

func (s *recordingSink) userMessages() []message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message(nil), s.messages...)
}

// countingCompiler records the text of every compiled file and can hold the
// first compile until released.
type countingCompiler struct {
	mu      sync.Mutex
	texts   []string
	started chan struct{}
	release chan struct{}
}

func (c *countingCompiler) Compile(ctx context.Context, root string, files []compiler.File) (compiler.Output, error) {
	c.mu.Lock()
	var b strings.Builder
	for _, f := range files {
		b.WriteString(f.Text)
	}
	c.texts = append(c.texts, b.String())
	first := len(c.texts) == 1
	c.mu.Unlock()
	if first && c.release != nil {
		c.started <- struct{}{}
		<-c.release
	}
	return compiler.Outline{}.Compile(ctx, root, files)
}

func (c *countingCompiler) compiled() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

type fakeBuilder struct {
	mu    sync.Mutex
	roots []string
	err   error
}

func (b *fakeBuilder) Build(_ context.Context, root string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roots = append(b.roots, root)
	if b.err != nil {
		return "boom output", b.err
	}
	return "ok", nil
}

func (b *fakeBuilder) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.roots...)
}

const quiet = 30 * time.Millisecond

func newWorkspace(t *testing.T, c compiler.Compiler, mutate ...func(*Options)) (*Workspace, *recordingSink) {
	t.Helper()
	if c == nil {
		c = compiler.Outline{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := Options{
		Marker:     "baml_src",
		Validation: schedule.Config{Quiet: quiet, MaxWait: 10 * quiet},
		CodeLens:   schedule.Config{Quiet: quiet, MaxWait: 10 * quiet},
		Build:      schedule.Config{Quiet: quiet},
		Compiler:   compiler.NewAdapter(c, compiler.Options{Logger: logger}),
		Logger:     logger,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	sink := newRecordingSink()
	w, err := New(sink, opts)
	require.NoError(t, err)
	t.Cleanup(w.Shutdown)
	return w, sink
}

func waitIdle(t *testing.T, w *Workspace) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx))
}

func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func makeRoot(t *testing.T) string {
	t.Helper()
	root := filepath.Join(tempDir(t), "baml_src")
	require.NoError(t, os.MkdirAll(root, 0o755))
	return root
}

func hasFunction(m *model.Model, name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.Function(name)
	return ok
}

func TestRapidEditsCommitLatestText(t *testing.T) {
	counter := &countingCompiler{}
	w, sink := newWorkspace(t, counter)
	root := makeRoot(t)
	uri := fileuri.FromPath(filepath.Join(root, "main.baml"))

	w.Open(uri, "baml", fnSource("Foo0"), 1)
	for i := 1; i <= 5; i++ {
		w.Change(uri, fnSource(fmt.Sprintf("Foo%d", i)))
	}
	waitIdle(t, w)

	m := w.Model(root)
	assert.True(t, hasFunction(m, "Foo5"))
	assert.False(t, hasFunction(m, "Foo0"))
	models := sink.publishedModels(root)
	require.NotEmpty(t, models)
	assert.True(t, hasFunction(models[len(models)-1], "Foo5"))
	assert.Less(t, len(counter.compiled()), 6)
}

func TestParseErrorFixedWithinQuietWindowIsNeverCompiled(t *testing.T) {
	counter := &countingCompiler{}
	w, sink := newWorkspace(t, counter, func(o *Options) {
		o.Validation = schedule.Config{Quiet: 200 * time.Millisecond, MaxWait: time.Second}
	})
	root := makeRoot(t)
	uri := fileuri.FromPath(filepath.Join(root, "main.baml"))

	w.Open(uri, "baml", fnSource("Foo"), 1)
	waitIdle(t, w)
	w.Change(uri, brokenSource)
	w.Change(uri, fnSource("Bar"))
	waitIdle(t, w)

	assert.Equal(t, []string{fnSource("Foo"), fnSource("Bar")}, counter.compiled())
	for _, list := range sink.allDiagnostics(uri) {
		assert.False(t, diag.HasErrors(list))
	}
	assert.True(t, hasFunction(w.Model(root), "Bar"))
}

func TestFatalCompileKeepsLastGoodModel(t *testing.T) {
	w, sink := newWorkspace(t, nil)
	root := makeRoot(t)
	uri := fileuri.FromPath(filepath.Join(root, "main.baml"))

	w.Open(uri, "baml", fnSource("Foo"), 1)
	waitIdle(t, w)
	require.True(t, hasFunction(w.Model(root), "Foo"))

	time.Sleep(2 * quiet)
	w.Change(uri, brokenSource)
	waitIdle(t, w)

	assert.True(t, hasFunction(w.Model(root), "Foo"))
	assert.True(t, w.Registry().Failed(root))
	assert.True(t, diag.HasErrors(w.Diagnostics(uri)))
	last, ok := sink.lastDiagnostics(uri)
	require.True(t, ok)
	assert.True(t, diag.HasErrors(last))
	assert.Equal(t, 1, sink.count("removed", root))
	assert.Len(t, w.DefinitionByName(uri, "Foo"), 1)

	time.Sleep(2 * quiet)
	w.Change(uri, fnSource("Foo"))
	waitIdle(t, w)
	assert.False(t, w.Registry().Failed(root))
	assert.Empty(t, w.Diagnostics(uri))
}

func TestRootsAreIndependent(t *testing.T) {
	w, sink := newWorkspace(t, nil)
	rootA := makeRoot(t)
	rootB := makeRoot(t)
	uriA := fileuri.FromPath(filepath.Join(rootA, "a.baml"))
	uriB := fileuri.FromPath(filepath.Join(rootB, "b.baml"))

	w.Open(uriA, "baml", fnSource("A"), 1)
	w.Open(uriB, "baml", fnSource("B"), 1)
	waitIdle(t, w)
	modelB := w.Model(rootB)
	require.True(t, hasFunction(modelB, "B"))
	eventsB := sink.eventsUnder(rootB)

	time.Sleep(2 * quiet)
	w.Change(uriA, brokenSource)
	waitIdle(t, w)

	assert.True(t, diag.HasErrors(w.Diagnostics(uriA)))
	assert.Same(t, modelB, w.Model(rootB))
	assert.Empty(t, w.Diagnostics(uriB))
	assert.Equal(t, eventsB, sink.eventsUnder(rootB))
	assert.False(t, hasFunction(w.Model(rootA), "B"))
}

func TestDocumentOutsideAnyRootWarnsOnce(t *testing.T) {
	w, sink := newWorkspace(t, nil)
	dir := tempDir(t)
	uri := fileuri.FromPath(filepath.Join(dir, "loose.baml"))

	w.Open(uri, "baml", fnSource("Foo"), 1)
	w.Change(uri, fnSource("Bar"))
	w.Open(fileuri.FromPath(filepath.Join(dir, "app.py")), "python", "print(1)", 1)
	waitIdle(t, w)

	msgs := sink.userMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, diag.SevError, msgs[0].sev)
	assert.Contains(t, msgs[0].text, "baml_src")
	assert.Contains(t, msgs[0].text, uri)
	assert.Empty(t, w.Registry().Roots())
	assert.Empty(t, w.DocumentSymbols(uri))
}

func TestMarkerCreatedAdoptsOpenDocument(t *testing.T) {
	w, sink := newWorkspace(t, nil)
	dir := tempDir(t)
	root := filepath.Join(dir, "baml_src")
	uri := fileuri.FromPath(filepath.Join(root, "main.baml"))

	w.Open(uri, "baml", fnSource("Foo"), 1)
	waitIdle(t, w)
	require.Len(t, sink.userMessages(), 1)
	assert.Nil(t, w.Model(root))

	require.NoError(t, os.MkdirAll(root, 0o755))
	w.FilesChanged([]FileEvent{{URI: fileuri.FromPath(root), Kind: FileCreated, IsDir: true}})
	waitIdle(t, w)

	assert.True(t, hasFunction(w.Model(root), "Foo"))
	assert.Len(t, sink.userMessages(), 1)
}

func TestEmptyRootWarnsOncePerTransition(t *testing.T) {
	w, sink := newWorkspace(t, nil)
	root := makeRoot(t)
	path := filepath.Join(root, "main.baml")
	uri := fileuri.FromPath(path)
	// a function without impls compiles with a warning
	noImpls := "function Foo {\n  input string\n  output string\n}\n"
	require.NoError(t, os.WriteFile(path, []byte(noImpls), 0o644))

	w.Open(uri, "baml", noImpls, 1)
	waitIdle(t, w)
	w.Close(uri)
	waitIdle(t, w)
	require.NotEmpty(t, w.Diagnostics(uri))
	require.NotNil(t, w.Model(root))

	require.NoError(t, os.Remove(path))
	w.FilesChanged([]FileEvent{{URI: uri, Kind: FileDeleted}})
	waitIdle(t, w)
	w.RevalidateAll()
	waitIdle(t, w)

	var warnings []message
	for _, m := range sink.userMessages() {
		if m.sev == diag.SevWarning {
			warnings = append(warnings, m)
		}
	}
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].text, root)
	assert.Nil(t, w.Model(root))
	assert.Equal(t, 1, sink.count("removed", root))
	last, ok := sink.lastDiagnostics(uri)
	require.True(t, ok)
	assert.Empty(t, last)

	require.NoError(t, os.WriteFile(path, []byte(fnSource("Foo")), 0o644))
	w.FilesChanged([]FileEvent{{URI: uri, Kind: FileCreated}})
	waitIdle(t, w)
	assert.True(t, hasFunction(w.Model(root), "Foo"))
}

func TestCloseRevalidatesFromDisk(t *testing.T) {
	w, _ := newWorkspace(t, nil)
	root := makeRoot(t)
	path := filepath.Join(root, "main.baml")
	uri := fileuri.FromPath(path)
	require.NoError(t, os.WriteFile(path, []byte(fnSource("Disk")), 0o644))

	w.Open(uri, "baml", fnSource("Editor"), 1)
	waitIdle(t, w)
	assert.True(t, hasFunction(w.Model(root), "Editor"))
	assert.False(t, hasFunction(w.Model(root), "Disk"))

	w.Close(uri)
	waitIdle(t, w)
	assert.True(t, hasFunction(w.Model(root), "Disk"))
	assert.False(t, hasFunction(w.Model(root), "Editor"))
}

func TestUnsavedFileDropsOutOnClose(t *testing.T) {
	w, sink := newWorkspace(t, nil)
	root := makeRoot(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.baml"), []byte(fnSource("Disk")), 0o644))
	uri := fileuri.FromPath(filepath.Join(root, "scratch.baml"))

	w.Open(uri, "baml", brokenSource, 1)
	waitIdle(t, w)
	require.True(t, diag.HasErrors(w.Diagnostics(uri)))

	w.Close(uri)
	waitIdle(t, w)
	assert.False(t, w.Registry().IsMember(root, uri))
	assert.True(t, hasFunction(w.Model(root), "Disk"))
	last, ok := sink.lastDiagnostics(uri)
	require.True(t, ok)
	assert.Empty(t, last)
}

func TestStaleResultIsDiscarded(t *testing.T) {
	counter := &countingCompiler{started: make(chan struct{}, 1), release: make(chan struct{})}
	w, sink := newWorkspace(t, counter)
	root := makeRoot(t)
	uri := fileuri.FromPath(filepath.Join(root, "main.baml"))

	w.Open(uri, "baml", fnSource("Old"), 1)
	select {
	case <-counter.started:
	case <-time.After(5 * time.Second):
		t.Fatal("compile did not start")
	}
	w.Change(uri, fnSource("New"))
	close(counter.release)
	waitIdle(t, w)

	assert.True(t, hasFunction(w.Model(root), "New"))
	for _, m := range sink.publishedModels(root) {
		assert.False(t, hasFunction(m, "Old"))
	}
	assert.Len(t, counter.compiled(), 2)
}

func TestDocumentOpenedDuringCompileIsNotDropped(t *testing.T) {
	w, sink := newWorkspace(t, nil)
	root := makeRoot(t)
	a := fileuri.FromPath(filepath.Join(root, "a.baml"))
	b := fileuri.FromPath(filepath.Join(root, "b.baml"))
	w.Open(a, "baml", fnSource("Alpha"), 1)
	waitIdle(t, w)

	// b's text is stored, then a compile of the root runs before b joins the
	// member set.
	doc := w.docs.Open(b, "baml", fnSource("Beta"), 1)
	w.validateRoot(context.Background(), root)
	w.track(b, doc.Seq)
	waitIdle(t, w)

	m := w.Model(root)
	assert.True(t, hasFunction(m, "Alpha"))
	assert.True(t, hasFunction(m, "Beta"))
	_, ok := sink.lastDiagnostics(b)
	assert.True(t, ok, "diagnostics for b were never published")
}

func TestFilesChangedAddsMembers(t *testing.T) {
	w, _ := newWorkspace(t, nil)
	root := makeRoot(t)
	uri := fileuri.FromPath(filepath.Join(root, "main.baml"))
	w.Open(uri, "baml", fnSource("Foo"), 1)
	waitIdle(t, w)

	other := filepath.Join(root, "types.baml")
	require.NoError(t, os.WriteFile(other, []byte("class Resume {\n  name string\n}\n"), 0o644))
	w.FilesChanged([]FileEvent{{URI: fileuri.FromPath(other), Kind: FileCreated}})
	waitIdle(t, w)

	m := w.Model(root)
	require.NotNil(t, m)
	_, ok := m.Type("Resume")
	assert.True(t, ok)
	assert.True(t, hasFunction(m, "Foo"))
}

func TestFirstOpenDiscoversFilesOnDisk(t *testing.T) {
	w, _ := newWorkspace(t, nil)
	root := makeRoot(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "nested", "types.baml"), []byte("class Resume {\n  name string\n}\n"), 0o644))

	var seen []string
	w.onRoot = func(r string) { seen = append(seen, r) }
	w.Open(fileuri.FromPath(filepath.Join(root, "main.baml")), "baml", fnSource("Foo"), 1)
	waitIdle(t, w)

	assert.Equal(t, []string{root}, seen)
	assert.Len(t, w.Registry().Members(root), 2)
	_, ok := w.Model(root).Type("Resume")
	assert.True(t, ok)
}

const queryText = `function Foo {
  input Resume
  output string
}

impl<llm, Foo> bar {
  client GPT4
  prompt #"hi"#
}

test case1 for Foo {
  input "x"
}

/// A resume.
class Resume {
  name string
}
`

func TestQueries(t *testing.T) {
	w, _ := newWorkspace(t, nil)
	root := makeRoot(t)
	uri := fileuri.FromPath(filepath.Join(root, "main.baml"))
	w.Open(uri, "baml", queryText, 1)
	waitIdle(t, w)

	locs := w.Definition(uri, source.Position{Line: 1, Character: 9})
	require.Len(t, locs, 1)
	assert.Equal(t, uri, locs[0].URI)
	assert.Equal(t, 15, locs[0].Range.Start.Line)

	assert.Empty(t, w.Definition(uri, source.Position{Line: 4, Character: 0}))
	assert.Empty(t, w.DefinitionByName(uri, "Nope"))

	hover, ok := w.Hover(uri, source.Position{Line: 15, Character: 8})
	require.True(t, ok)
	assert.Contains(t, hover.Markdown, "A resume.")

	assert.NotEmpty(t, w.DocumentSymbols(uri))

	lenses := w.CodeLenses(uri)
	require.Len(t, lenses, 4)
	for _, lens := range lenses {
		assert.Equal(t, root, lens.Payload.ProjectID)
		assert.Equal(t, "Foo", lens.Payload.FunctionName)
	}
	waitIdle(t, w)
}

func TestHostLanguageDefinitionUsesLastCommittedRoot(t *testing.T) {
	w, sink := newWorkspace(t, nil)
	root := makeRoot(t)
	uri := fileuri.FromPath(filepath.Join(root, "main.baml"))
	w.Open(uri, "baml", fnSource("Foo"), 1)
	waitIdle(t, w)

	py := fileuri.FromPath(filepath.Join(tempDir(t), "app.py"))
	w.Open(py, "python", "b.Foo()\n", 1)

	locs := w.Definition(py, source.Position{Line: 0, Character: 3})
	require.Len(t, locs, 1)
	assert.Equal(t, uri, locs[0].URI)
	assert.Equal(t, locs, w.DefinitionByName(py, "Foo"))
	assert.Empty(t, sink.userMessages())
}

func TestSaveRunsBuild(t *testing.T) {
	builder := &fakeBuilder{}
	w, sink := newWorkspace(t, nil, func(o *Options) { o.Builder = builder })
	root := makeRoot(t)
	uri := fileuri.FromPath(filepath.Join(root, "main.baml"))
	w.Open(uri, "baml", fnSource("Foo"), 1)
	w.Save(uri)
	waitIdle(t, w)

	assert.Equal(t, []string{root}, builder.calls())
	msgs := sink.userMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, diag.SevInfo, msgs[0].sev)
	assert.Equal(t, msgBuildOK, msgs[0].text)

	builder.err = errors.New("exit status 1")
	time.Sleep(2 * quiet)
	w.Save(uri)
	waitIdle(t, w)
	msgs = sink.userMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, diag.SevError, msgs[1].sev)
	assert.Contains(t, msgs[1].text, "boom output")
}

func TestPersistWritesEditorText(t *testing.T) {
	w, _ := newWorkspace(t, nil)
	root := makeRoot(t)
	path := filepath.Join(root, "main.baml")
	uri := fileuri.FromPath(path)
	w.Open(uri, "baml", fnSource("Foo"), 1)

	require.NoError(t, w.Persist(uri))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fnSource("Foo"), string(data))

	assert.Error(t, w.Persist(fileuri.FromPath(filepath.Join(root, "missing.baml"))))
}

func TestWordAt(t *testing.T) {
	text := "b.Foo_1(x)"
	assert.Equal(t, "Foo_1", wordAt(text, 3))
	assert.Equal(t, "Foo_1", wordAt(text, 2))
	assert.Equal(t, "Foo_1", wordAt(text, 7))
	assert.Equal(t, "b", wordAt(text, 0))
	assert.Equal(t, "", wordAt(text, 99))
}

func TestDefinitionByNameNormalizesUnicode(t *testing.T) {
	w, _ := newWorkspace(t, nil)
	root := makeRoot(t)
	uri := fileuri.FromPath(filepath.Join(root, "main.baml"))
	w.Open(uri, "baml", fnSource("Caf\u00e9"), 1)
	waitIdle(t, w)

	py := fileuri.FromPath(filepath.Join(tempDir(t), "app.py"))
	// decomposed e followed by a combining acute accent
	assert.Len(t, w.DefinitionByName(py, "Cafe\u0301"), 1)
}
