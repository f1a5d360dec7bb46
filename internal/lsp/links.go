package lsp

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// DocumentID identifies an open document in the host editor.
type DocumentID int64

// DocumentStore is the host editor's view of open documents. The link
// service reads content and cursor state through it and subscribes to
// lifecycle events.
type DocumentStore interface {
	// IsOpen reports whether the document is still open.
	IsOpen(id DocumentID) bool

	// Path returns the file path of an open document.
	Path(id DocumentID) (string, bool)

	// DocumentByPath returns the open document for a file path.
	DocumentByPath(path string) (DocumentID, bool)

	// LineCount returns the number of lines in the document, or 0 if
	// the document is not open.
	LineCount(id DocumentID) int

	// LineContent returns the raw content of a line without its
	// terminator. ok is false when the line does not exist.
	LineContent(id DocumentID, line int) (content string, ok bool)

	// CurrentDocument returns the focused document.
	CurrentDocument() (DocumentID, bool)

	// Cursor returns the cursor position in editor coordinates
	// (zero-based line, byte column).
	Cursor(id DocumentID) (line, byteCol int, ok bool)

	// OnClosed registers a callback for when the document closes.
	// The returned function unsubscribes.
	OnClosed(id DocumentID, fn func(id DocumentID)) (unsubscribe func())

	// OnLinesChanged registers a callback for when the document's line
	// structure changes. The returned function unsubscribes.
	OnLinesChanged(id DocumentID, fn func(id DocumentID)) (unsubscribe func())
}

// ConnectionManager is the slice of server management the link service
// needs. *Manager satisfies it.
type ConnectionManager interface {
	SupportsDocumentLinks(ctx context.Context, path string) bool
	DocumentLinksAsync(ctx context.Context, path string, done func([]DocumentLink, error))
}

// LinkDecoration is one per-line highlight span in editor coordinates.
type LinkDecoration struct {
	Line      int
	StartByte int
	EndByte   int // -1 means to end of line
	Tooltip   string
	Style     string
}

// DecorationRenderer receives highlight spans for display. Implementations
// must tolerate spans for lines that have since scrolled away.
type DecorationRenderer interface {
	SetLinkDecorations(id DocumentID, decorations []LinkDecoration)
	ClearLinkDecorations(id DocumentID)
}

// Navigator moves the editor to a location in a file, opening the file
// if needed. Coordinates are editor coordinates.
type Navigator interface {
	NavigateTo(ctx context.Context, path string, line, byteCol int) error
}

// ResourceOpener hands a non-navigable URI to the environment
// (browser, mail client, OS handler).
type ResourceOpener interface {
	OpenURI(ctx context.Context, uri string) error
}

// LinkConfig controls link presentation.
type LinkConfig struct {
	// HighlightEnabled toggles decoration rendering. Discovery and
	// activation work regardless.
	HighlightEnabled bool

	// HighlightStyle names the style decorations are tagged with.
	HighlightStyle string
}

// DefaultLinkConfig returns the default presentation settings.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		HighlightEnabled: true,
		HighlightStyle:   "link",
	}
}

// LinkService maintains a per-document registry of server-reported links
// and provides cursor hit testing and activation.
//
// Discovery is asynchronous: Refresh fires a request and returns; the
// response is committed later if the document is still open and no newer
// response has landed in the meantime.
type LinkService struct {
	mu      sync.Mutex
	store   DocumentStore
	manager ConnectionManager

	registry map[DocumentID]*documentLinks
	nextSeq  uint64

	config   LinkConfig
	renderer DecorationRenderer
	nav      Navigator
	opener   ResourceOpener
	logger   *slog.Logger
}

// documentLinks is one registry entry.
type documentLinks struct {
	links        []DocumentLink
	committedSeq uint64

	// Lifecycle subscriptions, registered on first commit.
	attached    bool
	unsubClosed func()
	unsubLines  func()

	// Unresolved-target warning is emitted once per document session.
	warnedUnresolved bool
}

// LinkServiceOption configures the link service.
type LinkServiceOption func(*LinkService)

// WithDecorationRenderer sets the renderer for link highlights.
func WithDecorationRenderer(r DecorationRenderer) LinkServiceOption {
	return func(ls *LinkService) {
		ls.renderer = r
	}
}

// WithNavigator sets the navigator used for file targets.
func WithNavigator(n Navigator) LinkServiceOption {
	return func(ls *LinkService) {
		ls.nav = n
	}
}

// WithResourceOpener sets the opener used for external targets.
func WithResourceOpener(o ResourceOpener) LinkServiceOption {
	return func(ls *LinkService) {
		ls.opener = o
	}
}

// WithLinkConfig sets the initial presentation settings.
func WithLinkConfig(cfg LinkConfig) LinkServiceOption {
	return func(ls *LinkService) {
		ls.config = cfg
	}
}

// WithLinkLogger sets the logger.
func WithLinkLogger(logger *slog.Logger) LinkServiceOption {
	return func(ls *LinkService) {
		ls.logger = logger
	}
}

// NewLinkService creates a link service bound to a document store and
// connection manager.
func NewLinkService(store DocumentStore, manager ConnectionManager, opts ...LinkServiceOption) *LinkService {
	ls := &LinkService{
		store:    store,
		manager:  manager,
		registry: make(map[DocumentID]*documentLinks),
		config:   DefaultLinkConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ls)
	}
	ls.logger = ls.logger.With("component", "links")
	return ls
}

// Refresh requests the current links for a document. It returns
// immediately; the registry updates when the response arrives.
//
/// Call it on the refresh triggers: focus gained, edit-mode left, idle
// tick, server attach. Redundant calls are cheap and safe.
func (ls *LinkService) Refresh(ctx context.Context, id DocumentID) {
	path, ok := ls.store.Path(id)
	if !ok {
		return
	}

	if !ls.manager.SupportsDocumentLinks(ctx, path) {
		// No capability: the registry is left untouched.
		ls.logger.Debug("link refresh skipped, no provider", "doc", id, "path", path)
		return
	}

	ls.mu.Lock()
	ls.nextSeq++
	seq := ls.nextSeq
	ls.mu.Unlock()

	reqID := uuid.NewString()
	ls.logger.Debug("link refresh requested", "request_id", reqID, "doc", id, "path", path)

	ls.manager.DocumentLinksAsync(ctx, path, func(links []DocumentLink, err error) {
		if err != nil {
			ls.logger.Warn("link request failed", "request_id", reqID, "doc", id, "error", err)
			return
		}
		if err := ls.commit(id, seq, links); err != nil {
			ls.logger.Debug("link result dropped", "request_id", reqID, "doc", id, "reason", err)
			return
		}
		ls.logger.Debug("links updated", "request_id", reqID, "doc", id, "count", len(links))
	})
}

// commit installs a discovery result into the registry. The result is
// discarded when the document has closed or a newer result is already in.
func (ls *LinkService) commit(id DocumentID, seq uint64, links []DocumentLink) error {
	ls.mu.Lock()

	if !ls.store.IsOpen(id) {
		ls.mu.Unlock()
		return ErrDocumentClosed
	}

	entry := ls.registry[id]
	if entry == nil {
		entry = &documentLinks{}
		ls.registry[id] = entry
	}

	if seq <= entry.committedSeq {
		ls.mu.Unlock()
		return ErrStaleResponse
	}
	entry.committedSeq = seq
	entry.links = links

	attach := !entry.attached
	entry.attached = true
	highlight := ls.config.HighlightEnabled

	ls.mu.Unlock()

	if attach {
		ls.attach(id)
	}
	if highlight {
		ls.renderDecorations(id)
	}
	return nil
}

// attach subscribes the entry to the document's lifecycle.
func (ls *LinkService) attach(id DocumentID) {
	unsubClosed := ls.store.OnClosed(id, ls.handleClosed)
	unsubLines := ls.store.OnLinesChanged(id, ls.handleLinesChanged)

	// A close that fired before the subscriptions took had no listener,
	// so re-check liveness: from here on a close is always delivered.
	if !ls.store.IsOpen(id) {
		unsubClosed()
		unsubLines()
		ls.handleClosed(id)
		return
	}

	ls.mu.Lock()
	entry := ls.registry[id]
	if entry == nil {
		// Closed between commit and attach.
		ls.mu.Unlock()
		unsubClosed()
		unsubLines()
		return
	}
	entry.unsubClosed = unsubClosed
	entry.unsubLines = unsubLines
	ls.mu.Unlock()
}

// handleClosed drops the registry entry for a closed document.
func (ls *LinkService) handleClosed(id DocumentID) {
	ls.mu.Lock()
	entry := ls.registry[id]
	delete(ls.registry, id)
	ls.mu.Unlock()

	if entry != nil {
		if entry.unsubClosed != nil {
			entry.unsubClosed()
		}
		if entry.unsubLines != nil {
			entry.unsubLines()
		}
	}

	if ls.renderer != nil {
		ls.renderer.ClearLinkDecorations(id)
	}
	ls.logger.Debug("link registry dropped", "doc", id)
}

// handleLinesChanged clears stale decorations. The registered links stay
// queryable until the next refresh replaces them.
func (ls *LinkService) handleLinesChanged(id DocumentID) {
	if ls.renderer != nil {
		ls.renderer.ClearLinkDecorations(id)
	}
}

// Links returns the registered links for a document.
func (ls *LinkService) Links(id DocumentID) []DocumentLink {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	entry := ls.registry[id]
	if entry == nil {
		return nil
	}

	// Return a copy
	result := make([]DocumentLink, len(entry.links))
	copy(result, entry.links)
	return result
}

// IsAttached reports whether the registry is subscribed to the
// document's lifecycle, which happens on the first commit.
func (ls *LinkService) IsAttached(id DocumentID) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	entry := ls.registry[id]
	return entry != nil && entry.attached
}

// LinkCount returns the number of registered links for a document.
func (ls *LinkService) LinkCount(id DocumentID) int {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	entry := ls.registry[id]
	if entry == nil {
		return 0
	}
	return len(entry.links)
}

// LinkAt returns the link whose range contains pos, in protocol
// coordinates. When links overlap, the first registered match wins.
// Both range boundaries count as on the link.
func (ls *LinkService) LinkAt(id DocumentID, pos Position) (DocumentLink, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	entry := ls.registry[id]
	if entry == nil {
		return DocumentLink{}, false
	}

	for _, link := range entry.links {
		if !PositionInLinkRange(pos, link.Range) {
			continue
		}
		if link.Target == "" && !entry.warnedUnresolved {
			entry.warnedUnresolved = true
			ls.logger.Warn("link target unresolved", "doc", id, "line", link.Range.Start.Line)
		}
		return link, true
	}
	return DocumentLink{}, false
}

// LinkAtCursor returns the link under the cursor of the focused document,
// translating the cursor's byte column to protocol coordinates.
func (ls *LinkService) LinkAtCursor() (DocumentID, DocumentLink, bool) {
	id, ok := ls.store.CurrentDocument()
	if !ok {
		return 0, DocumentLink{}, false
	}

	line, byteCol, ok := ls.store.Cursor(id)
	if !ok {
		return 0, DocumentLink{}, false
	}

	content, _ := ls.store.LineContent(id, line)
	pos := Position{Line: line, Character: ByteColumnToCharacter(content, byteCol)}

	link, found := ls.LinkAt(id, pos)
	return id, link, found
}

// lineFragment matches the location fragment of a file target:
// a line number, optionally followed by a column ("#12", "#L12", "#12,5").
var lineFragment = regexp.MustCompile(`^L?(\d+)(?:[,:](\d+))?$`)

// Activate follows a link target. File targets with a location fragment
// navigate in the editor; everything else is handed to the resource
// opener.
func (ls *LinkService) Activate(ctx context.Context, target string) error {
	if target == "" {
		return ErrUnresolvedTarget
	}

	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrMalformedTarget, target)
	}
	if u.Scheme == "" {
		return fmt.Errorf("%w: %q has no scheme", ErrMalformedTarget, target)
	}

	if u.Scheme == "file" {
		if m := lineFragment.FindStringSubmatch(u.Fragment); m != nil {
			line, _ := strconv.Atoi(m[1])
			col := 0
			if m[2] != "" {
				col, _ = strconv.Atoi(m[2])
			}
			return ls.navigateTo(ctx, u, line, col)
		}

		// A file target without a recognizable location goes to the
		// opener with any fragment stripped.
		u.Fragment = ""
		return ls.openURI(ctx, u.String())
	}

	return ls.openURI(ctx, target)
}

// navigateTo moves the editor to a file location. The fragment line is
// used as-is; the column is 1-based in protocol units and is translated
// to a byte column against the target line when the document is open.
func (ls *LinkService) navigateTo(ctx context.Context, u *url.URL, line, col int) error {
	if ls.nav == nil {
		return ErrNotSupported
	}

	u2 := *u
	u2.Fragment = ""
	path := URIToFilePath(DocumentURI(u2.String()))

	byteCol := 0
	if col > 0 {
		byteCol = col - 1
		if id, ok := ls.store.DocumentByPath(path); ok {
			if content, ok := ls.store.LineContent(id, line); ok {
				byteCol = CharacterToByteColumn(content, col-1)
			}
		}
	}

	ls.logger.Debug("link navigate", "path", path, "line", line, "col", byteCol)
	return ls.nav.NavigateTo(ctx, path, line, byteCol)
}

func (ls *LinkService) openURI(ctx context.Context, uri string) error {
	if ls.opener == nil {
		return ErrNotSupported
	}
	ls.logger.Debug("link open", "uri", uri)
	return ls.opener.OpenURI(ctx, uri)
}

// ActivateAtCursor activates the link under the cursor of the focused
// document. found reports whether a link was under the cursor at all;
// err reports activation failure for a found link.
func (ls *LinkService) ActivateAtCursor(ctx context.Context) (found bool, err error) {
	_, link, ok := ls.LinkAtCursor()
	if !ok {
		return false, nil
	}
	if link.Target == "" {
		return true, ErrUnresolvedTarget
	}
	return true, ls.Activate(ctx, link.Target)
}

// Configure updates presentation settings and re-renders decorations for
// every registered document.
func (ls *LinkService) Configure(cfg LinkConfig) {
	ls.mu.Lock()
	ls.config = cfg
	ids := make([]DocumentID, 0, len(ls.registry))
	for id := range ls.registry {
		ids = append(ids, id)
	}
	ls.mu.Unlock()

	for _, id := range ids {
		if cfg.HighlightEnabled {
			ls.renderDecorations(id)
		} else if ls.renderer != nil {
			ls.renderer.ClearLinkDecorations(id)
		}
	}
}

// Config returns the current presentation settings.
func (ls *LinkService) Config() LinkConfig {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.config
}

// renderDecorations converts the registered link ranges to per-line byte
// spans and hands them to the renderer. Lines that no longer exist in
// the document are skipped.
func (ls *LinkService) renderDecorations(id DocumentID) {
	if ls.renderer == nil {
		return
	}

	ls.mu.Lock()
	entry := ls.registry[id]
	if entry == nil {
		ls.mu.Unlock()
		return
	}
	links := make([]DocumentLink, len(entry.links))
	copy(links, entry.links)
	style := ls.config.HighlightStyle
	ls.mu.Unlock()

	var decorations []LinkDecoration
	for _, link := range links {
		decorations = append(decorations, ls.linkSpans(id, link, style)...)
	}

	ls.renderer.SetLinkDecorations(id, decorations)
}

// linkSpans splits one link range into per-line spans.
func (ls *LinkService) linkSpans(id DocumentID, link DocumentLink, style string) []LinkDecoration {
	var spans []LinkDecoration
	for line := link.Range.Start.Line; line <= link.Range.End.Line; line++ {
		content, ok := ls.store.LineContent(id, line)
		if !ok {
			ls.logger.Debug("link span skipped", "doc", id, "line", line, "reason", ErrLineOutOfRange)
			continue
		}

		startByte := 0
		if line == link.Range.Start.Line {
			startByte = CharacterToByteColumn(content, link.Range.Start.Character)
		}
		endByte := -1
		if line == link.Range.End.Line {
			endByte = CharacterToByteColumn(content, link.Range.End.Character)
		}

		spans = append(spans, LinkDecoration{
			Line:      line,
			StartByte: startByte,
			EndByte:   endByte,
			Tooltip:   link.Tooltip,
			Style:     style,
		})
	}
	return spans
}

// RefreshAll requests links for every document the store reports open in
// the registry plus the focused document. Useful after a server restart.
func (ls *LinkService) RefreshAll(ctx context.Context) {
	ls.mu.Lock()
	ids := make([]DocumentID, 0, len(ls.registry)+1)
	for id := range ls.registry {
		ids = append(ids, id)
	}
	ls.mu.Unlock()

	if cur, ok := ls.store.CurrentDocument(); ok {
		seen := false
		for _, id := range ids {
			if id == cur {
				seen = true
				break
			}
		}
		if !seen {
			ids = append(ids, cur)
		}
	}

	for _, id := range ids {
		ls.Refresh(ctx, id)
	}
}

// Shutdown drops all registry entries and subscriptions.
func (ls *LinkService) Shutdown() {
	ls.mu.Lock()
	entries := ls.registry
	ls.registry = make(map[DocumentID]*documentLinks)
	ls.mu.Unlock()

	for id, entry := range entries {
		if entry.unsubClosed != nil {
			entry.unsubClosed()
		}
		if entry.unsubLines != nil {
			entry.unsubLines()
		}
		if ls.renderer != nil {
			ls.renderer.ClearLinkDecorations(id)
		}
	}
}
