// Package ingest handles the file-I/O side of uploads: name sanitizing,
// writing bytes to the upload directory, and page counting. The coordinator
// only consumes the interface; everything here is replaceable.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyName = errors.New("empty file name")
	ErrNotPDF    = errors.New("not a PDF file")
	ErrEmptyFile = errors.New("empty file")
)

// Collaborator is the upload-side dependency of the session coordinator.
type Collaborator interface {
	SanitizeName(raw string) (string, error)
	Persist(safeName string, data []byte) (string, error)
	CountPages(path string) (int, error)
}

// Disk stores uploads as files under a single directory.
type Disk struct {
	dir string
}

func NewDisk(dir string) (*Disk, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{dir: dir}, nil
}

func (d *Disk) Dir() string { return d.dir }

// SanitizeName reduces a client-supplied name to a safe flat file name:
// path components are stripped and anything outside [A-Za-z0-9_.-] becomes
// an underscore.
func (d *Disk) SanitizeName(raw string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(raw, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe := strings.Trim(b.String(), "._")
	if safe == "" {
		return "", ErrEmptyName
	}
	return safe, nil
}

func (d *Disk) Persist(safeName string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	path := filepath.Join(d.dir, safeName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload %q: %w", safeName, err)
	}
	log.Info().Str("module", "ingest").Str("path", path).Int("bytes", len(data)).Msg("upload persisted")
	return path, nil
}

// CountPages counts page objects in the stored PDF. This is a byte-level
// scan, not a full parser: it counts "/Type /Page" entries, which holds for
// PDFs that keep page dictionaries uncompressed.
func (d *Disk) CountPages(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read upload: %w", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return 0, ErrNotPDF
	}
	pages := countMarker(data, []byte("/Type /Page")) + countMarker(data, []byte("/Type/Page"))
	if pages < 1 {
		pages = 1
	}
	return pages, nil
}

// countMarker counts marker occurrences not followed by an 's' ("/Type
// /Pages" is the page-tree node, not a page).
func countMarker(data, marker []byte) int {
	count := 0
	for i := 0; ; {
		j := bytes.Index(data[i:], marker)
		if j < 0 {
			return count
		}
		end := i + j + len(marker)
		if end >= len(data) || data[end] != 's' {
			count++
		}
		i = end
	}
}
