package lsp

import (
	"encoding/json"
	"runtime"
	"testing"
)

func TestFilePathToURI(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}

	tests := []struct {
		name string
		path string
		want DocumentURI
	}{
		{"absolute", "/home/user/file.md", "file:///home/user/file.md"},
		{"with spaces", "/home/user/my file.md", "file:///home/user/my%20file.md"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilePathToURI(tt.path); got != tt.want {
				t.Errorf("FilePathToURI(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestURIToFilePath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}

	tests := []struct {
		name string
		uri  DocumentURI
		want string
	}{
		{"file uri", "file:///home/user/file.md", "/home/user/file.md"},
		{"escaped spaces", "file:///home/user/my%20file.md", "/home/user/my file.md"},
		{"non-file scheme passes through", "https://example.com/x", "https://example.com/x"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := URIToFilePath(tt.uri); got != tt.want {
				t.Errorf("URIToFilePath(%q) = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}

func TestURIRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}

	paths := []string{"/a/b/c.md", "/with space/file.go", "/unicode/日本語.txt"}
	for _, path := range paths {
		if got := URIToFilePath(FilePathToURI(path)); got != path {
			t.Errorf("round trip %q = %q", path, got)
		}
	}
}

func TestParseDocumentLinkResult(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr bool
	}{
		{"null", `null`, 0, false},
		{"empty", ``, 0, false},
		{"empty array", `[]`, 0, false},
		{"links", `[{"range":{"start":{"line":1,"character":2},"end":{"line":1,"character":9}},"target":"https://x","tooltip":"open"}]`, 1, false},
		{"unresolved link", `[{"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":4}}}]`, 1, false},
		{"malformed", `{"not":"an array"}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDocumentLinkResult(json.RawMessage(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestParseDocumentLinkResultFields(t *testing.T) {
	data := `[{"range":{"start":{"line":1,"character":2},"end":{"line":1,"character":9}},"target":"https://x","tooltip":"open"}]`

	links, err := ParseDocumentLinkResult(json.RawMessage(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	l := links[0]
	if l.Target != "https://x" || l.Tooltip != "open" {
		t.Errorf("link = %+v", l)
	}
	if l.Range.Start != (Position{1, 2}) || l.Range.End != (Position{1, 9}) {
		t.Errorf("range = %+v", l.Range)
	}
}

func TestHasCapability(t *testing.T) {
	tests := []struct {
		name string
		cap  any
		want bool
	}{
		{"nil", nil, false},
		{"true", true, true},
		{"false", false, false},
		{"object", map[string]any{"resolveProvider": true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasCapability(tt.cap); got != tt.want {
				t.Errorf("HasCapability(%v) = %v, want %v", tt.cap, got, tt.want)
			}
		})
	}
}

func TestGetTextDocumentSyncKind(t *testing.T) {
	tests := []struct {
		name string
		caps ServerCapabilities
		want TextDocumentSyncKind
	}{
		{"nil", ServerCapabilities{}, TextDocumentSyncKindNone},
		{"number", ServerCapabilities{TextDocumentSync: float64(1)}, TextDocumentSyncKindFull},
		{"incremental", ServerCapabilities{TextDocumentSync: float64(2)}, TextDocumentSyncKindIncremental},
		{"object with change", ServerCapabilities{TextDocumentSync: map[string]any{"change": float64(2)}}, TextDocumentSyncKindIncremental},
		{"object without change", ServerCapabilities{TextDocumentSync: map[string]any{"openClose": true}}, TextDocumentSyncKindFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetTextDocumentSyncKind(tt.caps); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDocumentLinkCapabilityUnmarshal(t *testing.T) {
	// Capabilities as a real server would report them.
	data := `{"textDocumentSync":1,"documentLinkProvider":{"resolveProvider":true}}`

	var caps ServerCapabilities
	if err := json.Unmarshal([]byte(data), &caps); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if caps.DocumentLinkProvider == nil {
		t.Fatal("DocumentLinkProvider is nil")
	}
	if !caps.DocumentLinkProvider.ResolveProvider {
		t.Error("ResolveProvider = false, want true")
	}
}

func TestDetectLanguageID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"README.md", "markdown"},
		{"main.tf", "terraform"},
		{"main.go", "go"},
		{"style.css", "css"},
		{"app.tsx", "typescriptreact"},
		{"Dockerfile", "dockerfile"},
		{"Makefile", "makefile"},
		{"notes.xyz", "plaintext"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := DetectLanguageID(tt.path); got != tt.want {
				t.Errorf("DetectLanguageID(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
