// Package inbox collects supplier reply files (saved emails and text
// extracted from PDF quotes) from a directory tree so they can be stored as
// replies and run through extraction.
package inbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ziadkadry99/quote-caller/internal/quotes"
)

// DefaultMaxFileSize is the largest reply file read (1 MB).
const DefaultMaxFileSize int64 = 1 << 20

// File is one reply file found on disk.
type File struct {
	Path        string        // Absolute path on disk.
	RelPath     string        // Path relative to the root directory.
	Size        int64         // File size in bytes.
	Kind        quotes.Source // email or pdf.
	ContentHash string        // SHA-256 hex digest of the content.
}

// Config controls Collect.
type Config struct {
	RootDir     string   // Directory to search.
	Include     []string // Glob patterns; only matching files are kept.
	Exclude     []string // Glob patterns; matching files are dropped.
	MaxFileSize int64    // Larger files are skipped (0 = default).
}

// Collect walks config.RootDir and returns every readable reply file that
// passes the filters, sorted by relative path. Binary files, unknown
// extensions and byte-identical copies of an earlier file are skipped.
func Collect(config Config) ([]File, error) {
	root, err := filepath.Abs(config.RootDir)
	if err != nil {
		return nil, fmt.Errorf("inbox: resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox: %s is not a directory", root)
	}

	maxSize := config.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var files []File
	seen := make(map[string]bool)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Skip entries we cannot read instead of aborting.
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path != root && shouldExcludeDir(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		kind, ok := DetectKind(name)
		if !ok {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if !MatchesInclude(relPath, config.Include) || MatchesExclude(relPath, config.Exclude) {
			return nil
		}

		fi, err := d.Info()
		if err != nil || fi.Size() == 0 || fi.Size() > maxSize {
			return nil
		}
		if isBinary(path) {
			return nil
		}

		hash, err := hashFile(path)
		if err != nil || seen[hash] {
			return nil
		}
		seen[hash] = true

		files = append(files, File{
			Path:        path,
			RelPath:     filepath.ToSlash(relPath),
			Size:        fi.Size(),
			Kind:        kind,
			ContentHash: hash,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("inbox: traversal: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// ReadBody returns the file's text with surrounding whitespace trimmed.
func ReadBody(f File) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("inbox: reading %s: %w", f.RelPath, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// DetectKind maps a file name to the reply source it holds. Text pulled
// out of a PDF quote is expected as "<name>.pdf.txt".
func DetectKind(name string) (quotes.Source, bool) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".pdf.txt") {
		return quotes.SourcePDF, true
	}
	switch filepath.Ext(lower) {
	case ".eml", ".txt", ".text", ".md":
		return quotes.SourceEmail, true
	}
	return "", false
}

// isBinary reads the first 512 bytes of a file and checks for NUL bytes.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true // treat unreadable files as binary
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return true
	}
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
