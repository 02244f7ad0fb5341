package archive

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// HistoryQuery selects the archived values of one series.
type HistoryQuery struct {
	SeriesID string

	// From and To bound the snapshot timestamp, inclusive. Zero To means
	// no upper bound.
	From int64
	To   int64

	Limit int
}

// History provides queries over the archive directory using DuckDB.
type History struct {
	dir string
	db  *sql.DB
}

// NewHistory opens an in-memory DuckDB instance over the archive in dir.
func NewHistory(dir string) (*History, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	return &History{dir: dir, db: db}, nil
}

// Close releases the DuckDB instance.
func (h *History) Close() error {
	return h.db.Close()
}

// Query returns the archived rows of a series ordered by timestamp.
func (h *History) Query(ctx context.Context, q HistoryQuery) ([]Row, error) {
	pattern := filepath.Join(h.dir, "*.parquet")

	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob archive: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	to := q.To
	if to <= 0 {
		to = 1<<63 - 1
	}

	query := `
		SELECT
			sweep_id, device_id, series_id, label, series_index, source,
			kind, chartable, value, raw, ts
		FROM read_parquet(` + quoteLiteral(pattern) + `)
		WHERE series_id = ?
		  AND ts >= ?
		  AND ts <= ?
		ORDER BY ts, sweep_id
	`
	args := []interface{}{q.SeriesID, q.From, to}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var raw sql.NullString
		if err := rows.Scan(&r.SweepID, &r.DeviceID, &r.SeriesID, &r.Label, &r.Index, &r.Source,
			&r.Kind, &r.Chartable, &r.Value, &raw, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		r.Raw = raw.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
