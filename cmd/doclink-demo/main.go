// Package main is a terminal demo for the document link engine. It opens
// a file, discovers http(s) and file links with an in-process provider,
// highlights them, and activates the link under the cursor on Enter.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"sync"

	"github.com/gdamore/tcell/v2"

	"github.com/dshills/doclink/internal/docstore"
	"github.com/dshills/doclink/internal/lsp"
)

var (
	version = "dev"
)

const sampleText = `Document link demo
==================

Move the cursor with the arrow keys (or hjkl) and press Enter on a
link to activate it. Press r to refresh, q to quit.

Docs: https://go.dev/doc/
Protocol docs: https://microsoft.github.io/language-server-protocol/
A file link: file:///etc/hosts
A located file link: file:///etc/hosts#3,1
`

func main() {
	os.Exit(run())
}

func run() int {
	var debug bool
	var showVersion bool
	flag.BoolVar(&debug, "debug", false, "Write debug log to doclink-demo.log")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("doclink-demo %s\n", version)
		return 0
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if debug {
		f, err := os.Create("doclink-demo.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: open log: %v\n", err)
			return 1
		}
		defer f.Close()
		logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	content := sampleText
	path := "demo.txt"
	if args := flag.Args(); len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		content = string(data)
		path = args[0]
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: create screen: %v\n", err)
		return 1
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: init screen: %v\n", err)
		return 1
	}
	defer screen.Fini()

	app := newApp(screen, logger)

	id, err := app.store.Open(path, content)
	if err != nil {
		screen.Fini()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	app.links.Refresh(context.Background(), id)
	app.loop()

	return 0
}

// app wires the link service to a tcell screen.
type app struct {
	screen tcell.Screen
	logger *slog.Logger

	store *docstore.Store
	links *lsp.LinkService

	mu          sync.Mutex
	decorations map[lsp.DocumentID][]lsp.LinkDecoration
	status      string
}

func newApp(screen tcell.Screen, logger *slog.Logger) *app {
	a := &app{
		screen:      screen,
		logger:      logger,
		store:       docstore.New(),
		decorations: make(map[lsp.DocumentID][]lsp.LinkDecoration),
	}

	a.links = lsp.NewLinkService(a.store, &scanProvider{store: a.store},
		lsp.WithDecorationRenderer(a),
		lsp.WithNavigator(a),
		lsp.WithResourceOpener(a),
		lsp.WithLinkLogger(logger),
	)
	return a
}

// SetLinkDecorations implements lsp.DecorationRenderer.
func (a *app) SetLinkDecorations(id lsp.DocumentID, decorations []lsp.LinkDecoration) {
	a.mu.Lock()
	a.decorations[id] = decorations
	a.mu.Unlock()
	a.postRedraw()
}

// ClearLinkDecorations implements lsp.DecorationRenderer.
func (a *app) ClearLinkDecorations(id lsp.DocumentID) {
	a.mu.Lock()
	delete(a.decorations, id)
	a.mu.Unlock()
	a.postRedraw()
}

// NavigateTo implements lsp.Navigator. Targets pointing at the open
// document move the cursor; anything else just reports the destination.
func (a *app) NavigateTo(ctx context.Context, path string, line, byteCol int) error {
	if id, ok := a.store.DocumentByPath(path); ok {
		if err := a.store.SetCursor(id, line, byteCol); err != nil {
			return err
		}
		a.setStatus(fmt.Sprintf("jumped to %s:%d", path, line))
		return nil
	}
	a.setStatus(fmt.Sprintf("would open %s at line %d", path, line))
	return nil
}

// OpenURI implements lsp.ResourceOpener via the OS handler.
func (a *app) OpenURI(ctx context.Context, uri string) error {
	a.setStatus("opening " + uri)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", uri)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", uri)
	default:
		cmd = exec.Command("xdg-open", uri)
	}
	return cmd.Start()
}

func (a *app) setStatus(msg string) {
	a.mu.Lock()
	a.status = msg
	a.mu.Unlock()
	a.postRedraw()
}

// postRedraw wakes the event loop. Decoration commits arrive from
// provider goroutines, so a plain Show here would race the loop.
func (a *app) postRedraw() {
	_ = a.screen.PostEvent(tcell.NewEventInterrupt(nil))
}

func (a *app) loop() {
	ctx := context.Background()

	for {
		a.draw()

		ev := a.screen.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventResize:
			a.screen.Sync()
		case *tcell.EventInterrupt:
			// Redraw request
		case *tcell.EventKey:
			id, _ := a.store.CurrentDocument()
			line, col, _ := a.store.Cursor(id)

			switch {
			case ev.Key() == tcell.KeyEscape || ev.Rune() == 'q':
				return
			case ev.Rune() == 'r':
				a.links.Refresh(ctx, id)
				a.setStatus("refreshing")
			case ev.Key() == tcell.KeyUp || ev.Rune() == 'k':
				a.store.SetCursor(id, line-1, col)
			case ev.Key() == tcell.KeyDown || ev.Rune() == 'j':
				a.store.SetCursor(id, line+1, col)
			case ev.Key() == tcell.KeyLeft || ev.Rune() == 'h':
				a.store.SetCursor(id, line, col-1)
			case ev.Key() == tcell.KeyRight || ev.Rune() == 'l':
				a.store.SetCursor(id, line, col+1)
			case ev.Key() == tcell.KeyEnter:
				found, err := a.links.ActivateAtCursor(ctx)
				if !found {
					a.setStatus("no link under cursor")
				} else if err != nil {
					a.setStatus("activate failed: " + err.Error())
				}
			}
		}
	}
}

func (a *app) draw() {
	a.screen.Clear()

	id, ok := a.store.CurrentDocument()
	if !ok {
		a.screen.Show()
		return
	}

	a.mu.Lock()
	decorations := a.decorations[id]
	status := a.status
	a.mu.Unlock()

	_, height := a.screen.Size()
	lineCount := a.store.LineCount(id)

	for line := 0; line < lineCount && line < height-1; line++ {
		content, _ := a.store.LineContent(id, line)
		a.drawLine(line, content, spansForLine(decorations, line))
	}

	// Status bar
	style := tcell.StyleDefault.Reverse(true)
	for x, r := range status {
		a.screen.SetContent(x, height-1, r, nil, style)
	}

	curLine, curCol, _ := a.store.Cursor(id)
	a.screen.ShowCursor(screenColumn(a.store, id, curLine, curCol), curLine)
	a.screen.Show()
}

// drawLine renders one line, underlining any decorated spans.
func (a *app) drawLine(line int, content string, spans []lsp.LinkDecoration) {
	x := 0
	for i, r := range content {
		style := tcell.StyleDefault
		for _, span := range spans {
			if i >= span.StartByte && (span.EndByte < 0 || i < span.EndByte) {
				style = style.Underline(true).Foreground(tcell.ColorBlue)
				break
			}
		}
		a.screen.SetContent(x, line, r, nil, style)
		x++
	}
}

func spansForLine(decorations []lsp.LinkDecoration, line int) []lsp.LinkDecoration {
	var spans []lsp.LinkDecoration
	for _, d := range decorations {
		if d.Line == line {
			spans = append(spans, d)
		}
	}
	return spans
}

// screenColumn converts a byte column to a rune column for display.
func screenColumn(store *docstore.Store, id lsp.DocumentID, line, byteCol int) int {
	content, ok := store.LineContent(id, line)
	if !ok {
		return byteCol
	}
	col := 0
	for i := range content {
		if i >= byteCol {
			break
		}
		col++
	}
	return col
}

// linkPattern matches http(s) and file URIs in plain text.
var linkPattern = regexp.MustCompile(`(?:https?|file)://[^\s<>"')]+`)

// scanProvider is an in-process stand-in for a language server: it scans
// document lines for URIs and reports them as links. It satisfies
// lsp.ConnectionManager.
type scanProvider struct {
	store *docstore.Store
}

func (p *scanProvider) SupportsDocumentLinks(ctx context.Context, path string) bool {
	return true
}

func (p *scanProvider) DocumentLinksAsync(ctx context.Context, path string, done func([]lsp.DocumentLink, error)) {
	go func() {
		id, ok := p.store.DocumentByPath(path)
		if !ok {
			done(nil, lsp.ErrDocumentNotOpen)
			return
		}

		var links []lsp.DocumentLink
		lineCount := p.store.LineCount(id)
		for line := 0; line < lineCount; line++ {
			content, ok := p.store.LineContent(id, line)
			if !ok {
				continue
			}
			for _, loc := range linkPattern.FindAllStringIndex(content, -1) {
				target := content[loc[0]:loc[1]]
				links = append(links, lsp.DocumentLink{
					Range: lsp.Range{
						Start: lsp.Position{Line: line, Character: lsp.ByteColumnToCharacter(content, loc[0])},
						End:   lsp.Position{Line: line, Character: lsp.ByteColumnToCharacter(content, loc[1])},
					},
					Target:  target,
					Tooltip: target,
				})
			}
		}
		done(links, nil)
	}()
}
