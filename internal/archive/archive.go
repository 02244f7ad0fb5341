// Package archive keeps the value history of drained snapshots.
//
// The store only holds the latest value per series. Each sweep appends the
// records it accepted to its own Parquet file, named after the sweep start
// time and sweep id, so history survives overwrites in the store and can be
// queried later with DuckDB.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/infoset/internal/logging"
)

var log = logging.Component("archive")

// fileTimeLayout is the sweep start time prefix of archive file names.
const fileTimeLayout = "2006-01-02_15-04-05"

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")

// Row is one archived record.
type Row struct {
	SweepID   string  `parquet:"sweep_id,zstd"`
	DeviceID  string  `parquet:"device_id,zstd"`
	SeriesID  string  `parquet:"series_id,zstd"`
	Label     string  `parquet:"label,zstd"`
	Index     string  `parquet:"series_index,zstd"`
	Source    string  `parquet:"source,zstd"`
	Kind      int32   `parquet:"kind"`
	Chartable bool    `parquet:"chartable"`
	Value     float64 `parquet:"value"`
	Raw       string  `parquet:"raw,optional,zstd"`
	Timestamp int64   `parquet:"ts"`
}

// =============================================================================
// Compression
// =============================================================================

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// ParseCompressionType parses a compression type string. Unknown names
// select zstd.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func (ct CompressionType) codec() compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// =============================================================================
// Writer
// =============================================================================

// Writer writes rows to one Parquet file.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[Row]
	rowCount int64
	closed   bool
}

// NewWriter creates the file at path, including missing parent directories.
func NewWriter(path string, compression CompressionType) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	return &Writer{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[Row](f, parquet.Compression(compression.codec())),
	}, nil
}

// Write appends rows to the file.
func (w *Writer) Write(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *Writer) Path() string {
	return w.path
}

// =============================================================================
// Archiver
// =============================================================================

// Archiver writes one Parquet file per sweep into Dir.
type Archiver struct {
	Dir         string
	Compression CompressionType
}

// New returns an Archiver for dir using the named compression codec.
func New(dir, compression string) *Archiver {
	return &Archiver{
		Dir:         dir,
		Compression: ParseCompressionType(compression),
	}
}

// FileName returns the archive file name of a sweep.
func FileName(sweepID string, started time.Time) string {
	return started.UTC().Format(fileTimeLayout) + "_" + sweepID + ".parquet"
}

// WriteSweep writes rows into the sweep's archive file and returns its path.
// No file is created for an empty sweep.
func (a *Archiver) WriteSweep(ctx context.Context, sweepID string, started time.Time, rows []Row) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	final := filepath.Join(a.Dir, FileName(sweepID, started))
	tmp := final + ".tmp"

	w, err := NewWriter(tmp, a.Compression)
	if err != nil {
		return "", err
	}

	if err := w.Write(rows); err != nil {
		w.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}

	// Readers glob *.parquet and must never see a partial file.
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename archive: %w", err)
	}

	log.Debug("sweep archived", "path", final, "rows", len(rows))
	return final, nil
}
