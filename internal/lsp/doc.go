// Package lsp implements document link support on top of the Language
// Server Protocol: discovery of clickable link ranges via
// textDocument/documentLink, a per-document link registry, cursor hit
// testing, and activation of link targets.
//
// # Architecture
//
// The package is organized around these core components:
//
//   - LinkService: the link registry, refresh orchestration, and
//     resolution API
//   - Manager: routes requests to language servers by file type
//   - Server: single server connection and communication
//   - Transport: JSON-RPC 2.0 protocol implementation
//
// # Quick Start
//
// Wire the service to a connection manager and a document store:
//
//	mgr := lsp.NewManager()
//	mgr.RegisterServer("go", lsp.ServerConfig{Command: "gopls", Args: []string{"serve"}})
//
//	links := lsp.NewLinkService(store, mgr,
//	    lsp.WithNavigator(nav),
//	    lsp.WithResourceOpener(opener),
//	)
//
//	// On focus gained, insert-mode left, idle tick, or server attach:
//	links.Refresh(ctx, docID)
//
//	// At interaction time:
//	if link, ok := links.LinkAt(docID, pos); ok {
//	    links.Activate(ctx, link.Target)
//	}
//
// # Coordinate Systems
//
// The protocol measures columns in UTF-16 code units; the host editor
// measures them in bytes. ByteColumnToCharacter and CharacterToByteColumn
// translate per line, and all registry queries take protocol positions.
//
// # Concurrency
//
// Discovery requests are fire-and-forget with completion callbacks. The
// registry is the only shared mutable state and is guarded internally;
// completions re-validate document liveness and carry a per-document
// sequence number so a slow early response never overwrites a newer
// snapshot.
package lsp
