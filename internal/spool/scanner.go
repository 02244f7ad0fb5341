// Package spool reads and writes the spool directory shared by agents and the
// drain.
//
// Agents place one snapshot per device and interval into the spool under the
// name <unix-timestamp>_<hex-device-id>.json. The Scanner groups those files
// into per-device batches; the Handler moves invalid files into quarantine
// and removes drained ones.
package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xtxerr/infoset/config"
	"github.com/xtxerr/infoset/internal/logging"
	"github.com/xtxerr/infoset/internal/snapshot"
)

var log = logging.Component("spool")

// File is one spooled snapshot file.
type File struct {
	Name    snapshot.Name
	Path    string
	ModTime time.Time
}

// Batch holds the files of one device, ordered by ascending timestamp.
type Batch struct {
	DeviceID string
	Files    []File
}

// ScanResult is the outcome of one directory scan.
type ScanResult struct {
	// Batches are sorted by device id.
	Batches []Batch

	// Files is the number of files placed into batches.
	Files int

	// Deferred counts files skipped because they are younger than the
	// quiescence window.
	Deferred int

	// Ignored counts entries whose name does not follow the spool convention.
	Ignored int
}

// Scanner lists a spool directory.
type Scanner struct {
	Dir string

	// Quiescence is the minimum age of a file. Zero uses the default.
	Quiescence time.Duration

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

// NewScanner creates a scanner with the default quiescence window.
func NewScanner(dir string) *Scanner {
	return &Scanner{Dir: dir, Quiescence: config.DefaultQuiescence}
}

// Scan lists the spool directory and groups eligible files by device.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read spool dir: %w", err)
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	quiescence := s.Quiescence
	if quiescence == 0 {
		quiescence = config.DefaultQuiescence
	}

	result := &ScanResult{}
	byDevice := make(map[string][]File)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if entry.IsDir() {
			continue
		}

		name, err := snapshot.ParseName(entry.Name())
		if err != nil {
			result.Ignored++
			continue
		}

		path := filepath.Join(s.Dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			// Removed between listing and stat.
			log.Debug("stat spool file", "path", path, "error", err)
			continue
		}
		if !info.Mode().IsRegular() {
			result.Ignored++
			continue
		}

		if now.Sub(info.ModTime()) < quiescence {
			result.Deferred++
			continue
		}

		byDevice[name.DeviceID] = append(byDevice[name.DeviceID], File{
			Name:    name,
			Path:    path,
			ModTime: info.ModTime(),
		})
		result.Files++
	}

	result.Batches = make([]Batch, 0, len(byDevice))
	for deviceID, files := range byDevice {
		sort.Slice(files, func(i, j int) bool {
			if files[i].Name.Timestamp != files[j].Name.Timestamp {
				return files[i].Name.Timestamp < files[j].Name.Timestamp
			}
			return files[i].Path < files[j].Path
		})
		result.Batches = append(result.Batches, Batch{DeviceID: deviceID, Files: files})
	}
	sort.Slice(result.Batches, func(i, j int) bool {
		return result.Batches[i].DeviceID < result.Batches[j].DeviceID
	})

	log.Debug("scan complete",
		"dir", s.Dir,
		"devices", len(result.Batches),
		"files", result.Files,
		"deferred", result.Deferred,
		"ignored", result.Ignored)

	return result, nil
}
