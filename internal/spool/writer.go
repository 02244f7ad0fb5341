package spool

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xtxerr/infoset/internal/snapshot"
)

// Writer places snapshot documents into a spool directory.
//
// Each document is written to a hidden temporary file and renamed into place,
// so the scanner never observes a partially written snapshot.
type Writer struct {
	Dir string
}

// Write encodes doc and stores it under its canonical name.
// It returns the final path.
func (w *Writer) Write(doc *snapshot.Document) (string, error) {
	data, err := doc.Encode()
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return "", fmt.Errorf("create spool dir: %w", err)
	}

	name := doc.Name().String()
	tmp, err := os.CreateTemp(w.Dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("chmod snapshot: %w", err)
	}

	path := filepath.Join(w.Dir, name)
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename snapshot: %w", err)
	}

	log.Debug("snapshot spooled", "path", path, "bytes", len(data))
	return path, nil
}
