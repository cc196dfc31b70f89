package inbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ziadkadry99/quote-caller/internal/quotes"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

func relPaths(files []File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.RelPath)
	}
	return out
}

func TestCollect(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"acme/2026-03-01.eml":       "Subject: Re: RFQ\n\nABC123 is $12.50 each.",
		"acme/quote.pdf.txt":        "QUOTATION\nABC123  12.50  in stock",
		"globex/reply.txt":          "We can do XYZ789 for 40 dollars.",
		"globex/notes.md":           "lead time two weeks",
		"globex/logo.png":           "not a reply",
		"globex/empty.txt":          "",
		"sent/outgoing.eml":         "our own request",
		".cache/stale.txt":          "cached",
		"globex/binary.txt":         "abc\x00def",
		"globex/duplicate-copy.txt": "We can do XYZ789 for 40 dollars.",
	})

	files, err := Collect(Config{RootDir: root})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := []string{"acme/2026-03-01.eml", "acme/quote.pdf.txt", "globex/duplicate-copy.txt", "globex/notes.md"}
	if diff := cmp.Diff(want, relPaths(files)); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}

	for _, f := range files {
		if f.ContentHash == "" || f.Size == 0 || !filepath.IsAbs(f.Path) {
			t.Errorf("incomplete file info: %+v", f)
		}
		if f.RelPath == "acme/quote.pdf.txt" && f.Kind != quotes.SourcePDF {
			t.Errorf("kind = %q, want pdf", f.Kind)
		}
	}
}

func TestCollectFilters(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"acme/a.eml":       "one",
		"acme/old/b.eml":   "two",
		"globex/c.txt":     "three",
		"globex/d.pdf.txt": "four",
	})

	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{"all", nil, nil, []string{"acme/a.eml", "acme/old/b.eml", "globex/c.txt", "globex/d.pdf.txt"}},
		{"base name glob", []string{"*.eml"}, nil, []string{"acme/a.eml", "acme/old/b.eml"}},
		{"double star", []string{"acme/**"}, []string{"**/old/**"}, []string{"acme/a.eml"}},
		{"exclude pdf", nil, []string{"*.pdf.txt"}, []string{"acme/a.eml", "acme/old/b.eml", "globex/c.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := Collect(Config{RootDir: root, Include: tt.include, Exclude: tt.exclude})
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if diff := cmp.Diff(tt.want, relPaths(files)); diff != "" {
				t.Errorf("files (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCollectMaxFileSize(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"small.txt": "ok",
		"large.txt": "this one is too long",
	})
	files, err := Collect(Config{RootDir: root, MaxFileSize: 5})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if diff := cmp.Diff([]string{"small.txt"}, relPaths(files)); diff != "" {
		t.Errorf("files (-want +got):\n%s", diff)
	}
}

func TestCollectRejectsMissingRoot(t *testing.T) {
	if _, err := Collect(Config{RootDir: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("expected error for missing root")
	}
	root := writeFiles(t, map[string]string{"a.txt": "x"})
	if _, err := Collect(Config{RootDir: filepath.Join(root, "a.txt")}); err == nil {
		t.Error("expected error for a file root")
	}
}

func TestReadBody(t *testing.T) {
	root := writeFiles(t, map[string]string{"r.eml": "\n  ABC123 at $9  \n\n"})
	files, err := Collect(Config{RootDir: root})
	if err != nil || len(files) != 1 {
		t.Fatalf("Collect = %v, %v", files, err)
	}
	body, err := ReadBody(files[0])
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if body != "ABC123 at $9" {
		t.Errorf("body = %q", body)
	}
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name string
		want quotes.Source
		ok   bool
	}{
		{"reply.eml", quotes.SourceEmail, true},
		{"REPLY.TXT", quotes.SourceEmail, true},
		{"notes.md", quotes.SourceEmail, true},
		{"quote.PDF.txt", quotes.SourcePDF, true},
		{"quote.pdf", "", false},
		{"image.png", "", false},
	}
	for _, tt := range tests {
		got, ok := DetectKind(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("DetectKind(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}
