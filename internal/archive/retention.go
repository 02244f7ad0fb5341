package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Retention removes archive files whose sweep start lies before a cutoff.
type Retention struct {
	mu     sync.Mutex
	dir    string
	maxAge time.Duration
	stats  RetentionStats
}

// RetentionStats holds cumulative retention statistics.
type RetentionStats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of one cleanup run.
type CleanupResult struct {
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// NewRetention creates a retention manager for dir. A maxAge <= 0 keeps
// everything.
func NewRetention(dir string, maxAge time.Duration) *Retention {
	return &Retention{dir: dir, maxAge: maxAge}
}

// Run deletes expired files relative to now.
func (r *Retention) Run(now time.Time) CleanupResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.LastRunTime = now
	result := r.cleanup(now, false)

	r.stats.FilesDeleted += int64(result.FilesDeleted)
	r.stats.BytesFreed += result.BytesFreed
	r.stats.FilesSkipped += int64(result.FilesSkipped)
	r.stats.Errors += int64(len(result.Errors))

	if result.FilesDeleted > 0 || len(result.Errors) > 0 {
		log.Info("archive retention",
			"deleted", result.FilesDeleted,
			"freed", formatBytes(result.BytesFreed),
			"errors", len(result.Errors))
	}
	return result
}

// DryRun reports what Run would delete without deleting anything.
func (r *Retention) DryRun(now time.Time) CleanupResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanup(now, true)
}

// Stats returns cumulative statistics.
func (r *Retention) Stats() RetentionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Retention) cleanup(now time.Time, dryRun bool) CleanupResult {
	var result CleanupResult
	if r.maxAge <= 0 {
		return result
	}
	cutoff := now.Add(-r.maxAge)

	files, err := listFiles(r.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list files: %w", err))
		}
		return result
	}

	for _, file := range files {
		started, err := ParseFileTime(file.name)
		if err != nil || !started.Before(cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", file.path, err))
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += file.size
	}

	return result
}

// ParseFileTime extracts the sweep start time from an archive file name.
func ParseFileTime(name string) (time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(name), ".parquet")
	if len(base) < len(fileTimeLayout) {
		return time.Time{}, fmt.Errorf("archive file name too short: %s", name)
	}
	return time.Parse(fileTimeLayout, base[:len(fileTimeLayout)])
}

type fileInfo struct {
	name string
	path string
	size int64
}

// listFiles lists the Parquet files in dir, oldest first.
func listFiles(dir string) ([]fileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".parquet" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			name: entry.Name(),
			path: filepath.Join(dir, entry.Name()),
			size: info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].name < files[j].name
	})
	return files, nil
}

func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
