package docstore

import (
	"errors"
	"testing"

	"github.com/dshills/doclink/internal/lsp"
)

func TestOpenClose(t *testing.T) {
	s := New()

	id, err := s.Open("/a.md", "line one\nline two")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if !s.IsOpen(id) {
		t.Error("document not open after Open")
	}
	if path, _ := s.Path(id); path != "/a.md" {
		t.Errorf("Path = %q", path)
	}
	if got, _ := s.DocumentByPath("/a.md"); got != id {
		t.Errorf("DocumentByPath = %d, want %d", got, id)
	}
	if cur, ok := s.CurrentDocument(); !ok || cur != id {
		t.Errorf("CurrentDocument = %d, %v", cur, ok)
	}

	if _, err := s.Open("/a.md", "again"); !errors.Is(err, lsp.ErrDocumentAlreadyOpen) {
		t.Errorf("duplicate Open error = %v", err)
	}

	if err := s.Close(id); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.IsOpen(id) {
		t.Error("document still open after Close")
	}
	if _, ok := s.CurrentDocument(); ok {
		t.Error("closed document is still current")
	}
	if err := s.Close(id); !errors.Is(err, lsp.ErrDocumentNotOpen) {
		t.Errorf("double Close error = %v", err)
	}
}

func TestLineAccess(t *testing.T) {
	s := New()
	id, _ := s.Open("/a.md", "first\nsecond\nthird")

	if n := s.LineCount(id); n != 3 {
		t.Errorf("LineCount = %d, want 3", n)
	}

	tests := []struct {
		line    int
		want    string
		wantOK  bool
	}{
		{0, "first", true},
		{2, "third", true},
		{3, "", false},
		{-1, "", false},
	}
	for _, tt := range tests {
		got, ok := s.LineContent(id, tt.line)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("LineContent(%d) = %q, %v", tt.line, got, ok)
		}
	}

	if content, _ := s.Content(id); content != "first\nsecond\nthird" {
		t.Errorf("Content = %q", content)
	}
}

func TestCRLFNormalized(t *testing.T) {
	s := New()
	id, _ := s.Open("/a.md", "one\r\ntwo\r\nthree")

	if n := s.LineCount(id); n != 3 {
		t.Fatalf("LineCount = %d, want 3", n)
	}
	if line, _ := s.LineContent(id, 1); line != "two" {
		t.Errorf("line 1 = %q, want %q", line, "two")
	}
}

func TestCursorClamping(t *testing.T) {
	s := New()
	id, _ := s.Open("/a.md", "short\nlonger line")

	tests := []struct {
		name               string
		line, col          int
		wantLine, wantCol  int
	}{
		{"in bounds", 1, 4, 1, 4},
		{"past last line", 9, 0, 1, 0},
		{"negative line", -3, 2, 0, 2},
		{"past line end", 0, 99, 0, 5},
		{"negative column", 1, -1, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SetCursor(id, tt.line, tt.col); err != nil {
				t.Fatalf("SetCursor: %v", err)
			}
			line, col, _ := s.Cursor(id)
			if line != tt.wantLine || col != tt.wantCol {
				t.Errorf("Cursor = (%d, %d), want (%d, %d)", line, col, tt.wantLine, tt.wantCol)
			}
		})
	}
}

func TestLineEdits(t *testing.T) {
	s := New()
	id, _ := s.Open("/a.md", "a\nb\nc")

	if err := s.SetLine(id, 1, "B"); err != nil {
		t.Fatalf("SetLine: %v", err)
	}
	if line, _ := s.LineContent(id, 1); line != "B" {
		t.Errorf("line 1 = %q", line)
	}

	if err := s.InsertLine(id, 1, "inserted"); err != nil {
		t.Fatalf("InsertLine: %v", err)
	}
	if n := s.LineCount(id); n != 4 {
		t.Errorf("LineCount after insert = %d", n)
	}
	if line, _ := s.LineContent(id, 1); line != "inserted" {
		t.Errorf("line 1 after insert = %q", line)
	}

	if err := s.DeleteLine(id, 0); err != nil {
		t.Fatalf("DeleteLine: %v", err)
	}
	if line, _ := s.LineContent(id, 0); line != "inserted" {
		t.Errorf("line 0 after delete = %q", line)
	}

	if err := s.SetLine(id, 99, "x"); !errors.Is(err, lsp.ErrLineOutOfRange) {
		t.Errorf("out of range SetLine error = %v", err)
	}
}

func TestVersionBumpsOnEdit(t *testing.T) {
	s := New()
	id, _ := s.Open("/a.md", "a\nb")

	v1 := s.Version(id)
	s.SetLine(id, 0, "A")
	if v2 := s.Version(id); v2 != v1+1 {
		t.Errorf("version = %d, want %d", v2, v1+1)
	}
}

func TestOnClosedObserver(t *testing.T) {
	s := New()
	id, _ := s.Open("/a.md", "text")

	var got []lsp.DocumentID
	unsub := s.OnClosed(id, func(closed lsp.DocumentID) {
		got = append(got, closed)
	})
	defer unsub()

	s.Close(id)

	if len(got) != 1 || got[0] != id {
		t.Errorf("closed observer got %v", got)
	}
}

func TestOnLinesChangedObserver(t *testing.T) {
	s := New()
	id, _ := s.Open("/a.md", "a\nb")

	fired := 0
	unsub := s.OnLinesChanged(id, func(lsp.DocumentID) { fired++ })

	s.SetLine(id, 0, "A")
	s.InsertLine(id, 1, "x")
	s.DeleteLine(id, 1)
	if fired != 3 {
		t.Errorf("fired = %d, want 3", fired)
	}

	unsub()
	s.SetLine(id, 0, "AA")
	if fired != 3 {
		t.Errorf("observer fired after unsubscribe")
	}
}

func TestObserverNotFiredForOtherDocument(t *testing.T) {
	s := New()
	a, _ := s.Open("/a.md", "a")
	b, _ := s.Open("/b.md", "b")

	fired := 0
	s.OnLinesChanged(a, func(lsp.DocumentID) { fired++ })

	s.SetLine(b, 0, "B")
	if fired != 0 {
		t.Error("observer for /a.md fired on a /b.md edit")
	}
}

func TestReplaceKeepsCursorInBounds(t *testing.T) {
	s := New()
	id, _ := s.Open("/a.md", "one\ntwo\nthree\nfour")
	s.SetCursor(id, 3, 4)

	if err := s.Replace(id, "only"); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	line, col, _ := s.Cursor(id)
	if line != 0 || col > 4 {
		t.Errorf("cursor after replace = (%d, %d)", line, col)
	}
}

func TestEditFiresAfterUnlock(t *testing.T) {
	// Observer reads back from the store. Deadlocks if delivery holds
	// the store lock.
	s := New()
	id, _ := s.Open("/a.md", "a")

	s.OnLinesChanged(id, func(changed lsp.DocumentID) {
		if n := s.LineCount(changed); n == 0 {
			t.Error("store unreadable inside observer")
		}
	})

	s.SetLine(id, 0, "A")
}
