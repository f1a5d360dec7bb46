// Package docstore holds the open documents of the host editor: their
// line content, cursor state, and lifecycle. Observers can subscribe to
// per-document close and line-change events.
package docstore

import (
	"strings"
	"sync"

	"github.com/dshills/doclink/internal/lsp"
)

// document is one open document.
type document struct {
	id         lsp.DocumentID
	path       string
	lines      []string
	version    int
	cursorLine int
	cursorCol  int // byte column
}

// Store manages open documents. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	nextID  lsp.DocumentID
	docs    map[lsp.DocumentID]*document
	byPath  map[string]lsp.DocumentID
	current lsp.DocumentID

	// Subscriptions, keyed by document then subscription ID.
	// Callbacks run outside the lock.
	nextSubID  uint64
	closedSubs map[lsp.DocumentID]map[uint64]func(lsp.DocumentID)
	linesSubs  map[lsp.DocumentID]map[uint64]func(lsp.DocumentID)
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:       make(map[lsp.DocumentID]*document),
		byPath:     make(map[string]lsp.DocumentID),
		closedSubs: make(map[lsp.DocumentID]map[uint64]func(lsp.DocumentID)),
		linesSubs:  make(map[lsp.DocumentID]map[uint64]func(lsp.DocumentID)),
	}
}

// Open opens a document with the given content and makes it current.
func (s *Store) Open(path, content string) (lsp.DocumentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPath[path]; exists {
		return 0, lsp.ErrDocumentAlreadyOpen
	}

	s.nextID++
	id := s.nextID

	s.docs[id] = &document{
		id:      id,
		path:    path,
		lines:   splitLines(content),
		version: 1,
	}
	s.byPath[path] = id
	s.current = id

	return id, nil
}

// Close closes a document and notifies close observers.
func (s *Store) Close(id lsp.DocumentID) error {
	s.mu.Lock()
	doc, exists := s.docs[id]
	if !exists {
		s.mu.Unlock()
		return lsp.ErrDocumentNotOpen
	}

	delete(s.docs, id)
	delete(s.byPath, doc.path)
	if s.current == id {
		s.current = 0
	}

	subs := collectSubs(s.closedSubs[id])
	delete(s.closedSubs, id)
	delete(s.linesSubs, id)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(id)
	}
	return nil
}

// SetCurrent makes a document the focused one.
func (s *Store) SetCurrent(id lsp.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[id]; !exists {
		return lsp.ErrDocumentNotOpen
	}
	s.current = id
	return nil
}

// CurrentDocument returns the focused document.
func (s *Store) CurrentDocument() (lsp.DocumentID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == 0 {
		return 0, false
	}
	return s.current, true
}

// IsOpen reports whether the document is open.
func (s *Store) IsOpen(id lsp.DocumentID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.docs[id]
	return exists
}

// Path returns the file path of an open document.
func (s *Store) Path(id lsp.DocumentID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[id]
	if !exists {
		return "", false
	}
	return doc.path, true
}

// DocumentByPath returns the open document for a file path.
func (s *Store) DocumentByPath(path string) (lsp.DocumentID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byPath[path]
	return id, exists
}

// LineCount returns the number of lines, or 0 if the document is not open.
func (s *Store) LineCount(id lsp.DocumentID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[id]
	if !exists {
		return 0
	}
	return len(doc.lines)
}

// LineContent returns the raw content of a line without its terminator.
func (s *Store) LineContent(id lsp.DocumentID, line int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[id]
	if !exists || line < 0 || line >= len(doc.lines) {
		return "", false
	}
	return doc.lines[line], true
}

// Content returns the full document content.
func (s *Store) Content(id lsp.DocumentID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[id]
	if !exists {
		return "", false
	}
	return strings.Join(doc.lines, "\n"), true
}

// Version returns the document's change version.
func (s *Store) Version(id lsp.DocumentID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[id]
	if !exists {
		return 0
	}
	return doc.version
}

// Cursor returns the cursor position (zero-based line, byte column).
func (s *Store) Cursor(id lsp.DocumentID) (line, byteCol int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[id]
	if !exists {
		return 0, 0, false
	}
	return doc.cursorLine, doc.cursorCol, true
}

// SetCursor moves the cursor, clamping to the document's line bounds.
func (s *Store) SetCursor(id lsp.DocumentID, line, byteCol int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.docs[id]
	if !exists {
		return lsp.ErrDocumentNotOpen
	}

	if line < 0 {
		line = 0
	}
	if line >= len(doc.lines) {
		line = len(doc.lines) - 1
	}
	if line < 0 {
		line = 0
	}
	if byteCol < 0 {
		byteCol = 0
	}
	if line < len(doc.lines) && byteCol > len(doc.lines[line]) {
		byteCol = len(doc.lines[line])
	}

	doc.cursorLine = line
	doc.cursorCol = byteCol
	return nil
}

// SetLine replaces a single line's content. Line-change observers fire.
func (s *Store) SetLine(id lsp.DocumentID, line int, content string) error {
	return s.mutateLines(id, func(doc *document) bool {
		if line < 0 || line >= len(doc.lines) {
			return false
		}
		doc.lines[line] = content
		return true
	})
}

// InsertLine inserts a line before the given index. Line-change
// observers fire.
func (s *Store) InsertLine(id lsp.DocumentID, line int, content string) error {
	return s.mutateLines(id, func(doc *document) bool {
		if line < 0 || line > len(doc.lines) {
			return false
		}
		doc.lines = append(doc.lines[:line], append([]string{content}, doc.lines[line:]...)...)
		return true
	})
}

// DeleteLine removes a line. Line-change observers fire.
func (s *Store) DeleteLine(id lsp.DocumentID, line int) error {
	return s.mutateLines(id, func(doc *document) bool {
		if line < 0 || line >= len(doc.lines) {
			return false
		}
		doc.lines = append(doc.lines[:line], doc.lines[line+1:]...)
		return true
	})
}

// Replace swaps the entire document content. Line-change observers fire.
func (s *Store) Replace(id lsp.DocumentID, content string) error {
	return s.mutateLines(id, func(doc *document) bool {
		doc.lines = splitLines(content)
		return true
	})
}

// mutateLines applies an edit and fires line-change observers on success.
func (s *Store) mutateLines(id lsp.DocumentID, edit func(*document) bool) error {
	s.mu.Lock()
	doc, exists := s.docs[id]
	if !exists {
		s.mu.Unlock()
		return lsp.ErrDocumentNotOpen
	}

	if !edit(doc) {
		s.mu.Unlock()
		return lsp.ErrLineOutOfRange
	}
	doc.version++

	// Keep the cursor inside the document.
	if doc.cursorLine >= len(doc.lines) {
		doc.cursorLine = len(doc.lines) - 1
	}
	if doc.cursorLine < 0 {
		doc.cursorLine = 0
	}
	if len(doc.lines) > 0 && doc.cursorCol > len(doc.lines[doc.cursorLine]) {
		doc.cursorCol = len(doc.lines[doc.cursorLine])
	}

	subs := collectSubs(s.linesSubs[id])
	s.mu.Unlock()

	for _, fn := range subs {
		fn(id)
	}
	return nil
}

// OnClosed registers a callback for when a document closes.
func (s *Store) OnClosed(id lsp.DocumentID, fn func(lsp.DocumentID)) func() {
	return s.subscribe(s.closedSubs, id, fn)
}

// OnLinesChanged registers a callback for when a document's line
// structure changes.
func (s *Store) OnLinesChanged(id lsp.DocumentID, fn func(lsp.DocumentID)) func() {
	return s.subscribe(s.linesSubs, id, fn)
}

func (s *Store) subscribe(table map[lsp.DocumentID]map[uint64]func(lsp.DocumentID), id lsp.DocumentID, fn func(lsp.DocumentID)) func() {
	s.mu.Lock()
	s.nextSubID++
	subID := s.nextSubID

	subs, exists := table[id]
	if !exists {
		subs = make(map[uint64]func(lsp.DocumentID))
		table[id] = subs
	}
	subs[subID] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if subs, exists := table[id]; exists {
			delete(subs, subID)
			if len(subs) == 0 {
				delete(table, id)
			}
		}
		s.mu.Unlock()
	}
}

// OpenDocuments returns the IDs of all open documents.
func (s *Store) OpenDocuments() []lsp.DocumentID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]lsp.DocumentID, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	return ids
}

// collectSubs snapshots a subscriber map for delivery outside the lock.
func collectSubs(subs map[uint64]func(lsp.DocumentID)) []func(lsp.DocumentID) {
	if len(subs) == 0 {
		return nil
	}
	out := make([]func(lsp.DocumentID), 0, len(subs))
	for _, fn := range subs {
		out = append(out, fn)
	}
	return out
}

// splitLines splits content into lines. Empty content is one empty line.
func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.Split(content, "\n")
}
