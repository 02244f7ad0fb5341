package spool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/xtxerr/infoset/internal/errors"
)

// Handler disposes of processed spool files.
type Handler struct {
	// QuarantineDir receives invalid files. It is created on demand.
	QuarantineDir string

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// Quarantine moves path, unmodified, into the quarantine directory and
// returns its new location. An existing file of the same name is never
// overwritten; the moved file gets a .<unixnano> suffix instead.
func (h *Handler) Quarantine(path string) (string, error) {
	if err := os.MkdirAll(h.QuarantineDir, 0755); err != nil {
		return "", fmt.Errorf("%w: create quarantine dir: %v", errors.ErrQuarantine, err)
	}

	dst := filepath.Join(h.QuarantineDir, filepath.Base(path))
	if _, err := os.Lstat(dst); err == nil {
		now := time.Now()
		if h.Now != nil {
			now = h.Now()
		}
		dst = fmt.Sprintf("%s.%d", dst, now.UnixNano())
	}

	err := os.Rename(path, dst)
	if err != nil && errors.Is(err, syscall.EXDEV) {
		err = moveAcrossDevices(path, dst)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrQuarantine, err)
	}

	log.Warn("file quarantined", "path", path, "dest", dst)
	return dst, nil
}

// Complete deletes a drained file. A failure is logged and returned, but the
// file is simply reconsidered on the next sweep.
func (h *Handler) Complete(path string) error {
	if err := os.Remove(path); err != nil {
		log.Warn("failed to delete drained file", "path", path, "error", err)
		return err
	}
	log.Debug("drained file deleted", "path", path)
	return nil
}

// moveAcrossDevices copies src to dst, syncs it, then removes src.
func moveAcrossDevices(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}

	return os.Remove(src)
}
