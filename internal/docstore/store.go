// Package docstore keeps the in-memory text of every open document.
package docstore

import (
	"sort"
	"sync"

	"bamlls/internal/fileuri"
	"bamlls/internal/source"
)

// Document is one immutable revision of an open file. Updates replace the
// whole value, so a *Document held by a reader never changes underneath it.
type Document struct {
	URI        string
	Path       string
	LanguageID string
	Text       string
	Version    int
	// Seq is the store-wide recency token assigned to this revision.
	Seq uint64

	linesOnce sync.Once
	lines     *source.LineIndex
}

// Lines returns the position index for this revision, built on first use.
func (d *Document) Lines() *source.LineIndex {
	if d == nil {
		return nil
	}
	d.linesOnce.Do(func() {
		d.lines = source.NewLineIndex(d.Text)
	})
	return d.lines
}

// Store is safe for concurrent use. Mutations are serialized and each one
// advances the store sequence number.
type Store struct {
	mu   sync.RWMutex
	docs map[string]*Document
	seq  uint64
}

// New returns an empty store.
func New() *Store {
	return &Store{docs: make(map[string]*Document)}
}

// Open records a document as opened by the editor, replacing any earlier revision.
func (s *Store) Open(uri, languageID, text string, version int) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(uri, languageID, text, version)
}

// Update replaces the full text of uri and bumps its version. An unknown uri
// is opened implicitly.
func (s *Store) Update(uri, text string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.docs[uri]
	if !ok {
		return s.putLocked(uri, languageFor(uri), text, 1)
	}
	return s.putLocked(uri, prev.LanguageID, text, prev.Version+1)
}

func (s *Store) putLocked(uri, languageID, text string, version int) *Document {
	s.seq++
	doc := &Document{
		URI:        uri,
		Path:       fileuri.ToPath(uri),
		LanguageID: languageID,
		Text:       text,
		Version:    version,
		Seq:        s.seq,
	}
	s.docs[uri] = doc
	return doc
}

// Close forgets uri. It reports whether the document was open.
func (s *Store) Close(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[uri]; !ok {
		return false
	}
	delete(s.docs, uri)
	s.seq++
	return true
}

// Get returns the current revision of uri.
func (s *Store) Get(uri string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[uri]
	return doc, ok
}

// Seq returns the current recency token.
func (s *Store) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Bump advances the recency token without touching any document, for
// changes that happen outside the store (files created or deleted on disk).
func (s *Store) Bump() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Snapshot returns the open revisions among uris together with the recency
// token, read under a single lock so that the set is self-consistent.
func (s *Store) Snapshot(uris []string) (map[string]*Document, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Document, len(uris))
	for _, uri := range uris {
		if doc, ok := s.docs[uri]; ok {
			out[uri] = doc
		}
	}
	return out, s.seq
}

// URIs lists open documents in sorted order.
func (s *Store) URIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

func languageFor(uri string) string {
	switch fileuri.Ext(uri) {
	case ".baml":
		return "baml"
	case ".json":
		return "json"
	case ".py":
		return "python"
	case ".ts":
		return "typescript"
	}
	return ""
}
