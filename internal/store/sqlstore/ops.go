package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xtxerr/infoset/internal/errors"
	"github.com/xtxerr/infoset/internal/store"
)

// maxLookupIDs bounds the parameters of one IN (...) lookup.
const maxLookupIDs = 500

// =============================================================================
// Agents and Series
// =============================================================================

func (s *Store) UpsertAgent(ctx context.Context, a store.Agent) (bool, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO agents (device_id, name, hostname)
		VALUES (?, ?, ?)
		ON CONFLICT (device_id) DO NOTHING
	`), a.DeviceID, a.Name, a.Hostname)
	if err != nil {
		return false, fmt.Errorf("insert agent: %w", err)
	}

	return inserted(res), nil
}

func (s *Store) UpsertSeries(ctx context.Context, sr store.Series) (bool, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return false, err
	}
	defer cancel()

	var created bool
	err = s.TransactionContext(ctx, func(tx *sql.Tx) error {
		var agentIdx int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT idx FROM agents WHERE device_id = ?`), sr.DeviceID).Scan(&agentIdx)
		if err == sql.ErrNoRows {
			return fmt.Errorf("agent %s: %w", sr.DeviceID, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("resolve agent: %w", err)
		}

		res, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO series (series_id, agent_idx, device_id, label, source, description, kind)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (series_id) DO NOTHING
		`), sr.SeriesID, agentIdx, sr.DeviceID, sr.Label, sr.Source, sr.Description, sr.Kind)
		if err != nil {
			return fmt.Errorf("insert series: %w", err)
		}

		created = inserted(res)
		return nil
	})
	return created, err
}

func (s *Store) ListEnabledAgents(ctx context.Context) ([]string, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT device_id FROM agents WHERE enabled ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListEnabledSeries(ctx context.Context) ([]store.SeriesState, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT series_id, idx, agent_idx, last_timestamp
		FROM series WHERE enabled ORDER BY idx
	`)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	return scanStates(rows)
}

func (s *Store) LookupSeries(ctx context.Context, ids []string) (map[string]store.SeriesState, error) {
	out := make(map[string]store.SeriesState, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	for start := 0; start < len(ids); start += maxLookupIDs {
		end := start + maxLookupIDs
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		query := `SELECT series_id, idx, agent_idx, last_timestamp FROM series WHERE enabled AND series_id IN (` +
			placeholders(len(chunk)) + `)`
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx, s.q(query), args...)
		if err != nil {
			return nil, fmt.Errorf("lookup series: %w", err)
		}
		states, err := scanStates(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}

		for _, st := range states {
			out[st.SeriesID] = st
		}
	}

	return out, nil
}

// =============================================================================
// Measurements
// =============================================================================

// BatchUpsertMeasurements writes all measurements in one transaction using
// chunked multi-row INSERT statements.
func (s *Store) BatchUpsertMeasurements(ctx context.Context, ms []store.Measurement) error {
	if len(ms) == 0 {
		return nil
	}

	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	ms = collapse(ms)
	chunkSize := s.config.MaxRowsPerInsert

	return s.TransactionContext(ctx, func(tx *sql.Tx) error {
		for i := 0; i < len(ms); i += chunkSize {
			end := i + chunkSize
			if end > len(ms) {
				end = len(ms)
			}

			query, args := buildMultiRowUpsert(ms[i:end])
			if _, err := tx.ExecContext(ctx, s.q(query), args...); err != nil {
				return fmt.Errorf("upsert measurements: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) AdvanceSeriesWatermark(ctx context.Context, seriesID string, ts int64) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = s.db.ExecContext(ctx, s.q(`
		UPDATE series SET last_timestamp = ?
		WHERE series_id = ? AND last_timestamp < ?
	`), ts, seriesID, ts)
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

// buildMultiRowUpsert builds one INSERT for all rows. A conflicting row is
// only replaced by a strictly newer timestamp.
func buildMultiRowUpsert(ms []store.Measurement) (string, []interface{}) {
	const columnsPerRow = 4

	args := make([]interface{}, 0, len(ms)*columnsPerRow)

	var query strings.Builder
	query.Grow(200 + len(ms)*12)

	query.WriteString(`INSERT INTO measurements (series_id, device_id, value, ts) VALUES `)

	for i, m := range ms {
		if i > 0 {
			query.WriteByte(',')
		}
		query.WriteString("(?,?,?,?)")

		args = append(args, m.SeriesID, m.DeviceID, m.Value, m.Timestamp)
	}

	query.WriteString(` ON CONFLICT (series_id, device_id) DO UPDATE SET value = excluded.value, ts = excluded.ts WHERE excluded.ts > measurements.ts`)

	return query.String(), args
}

// collapse keeps the newest measurement per (series, device). One statement
// must not touch the same conflict key twice.
func collapse(ms []store.Measurement) []store.Measurement {
	type key struct{ series, device string }

	pos := make(map[key]int, len(ms))
	out := make([]store.Measurement, 0, len(ms))

	for _, m := range ms {
		k := key{m.SeriesID, m.DeviceID}
		if i, ok := pos[k]; ok {
			if m.Timestamp > out[i].Timestamp {
				out[i] = m
			}
			continue
		}
		pos[k] = len(out)
		out = append(out, m)
	}
	return out
}

// =============================================================================
// Reader
// =============================================================================

func (s *Store) GetAgent(ctx context.Context, deviceID string) (*store.Agent, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var a store.Agent
	err = s.db.QueryRowContext(ctx, s.q(`
		SELECT idx, device_id, name, hostname, enabled FROM agents WHERE device_id = ?
	`), deviceID).Scan(&a.Idx, &a.DeviceID, &a.Name, &a.Hostname, &a.Enabled)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

func (s *Store) GetSeries(ctx context.Context, seriesID string) (*store.Series, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var sr store.Series
	err = s.db.QueryRowContext(ctx, s.q(`
		SELECT idx, series_id, agent_idx, device_id, label, source, description, kind, enabled, last_timestamp
		FROM series WHERE series_id = ?
	`), seriesID).Scan(&sr.Idx, &sr.SeriesID, &sr.AgentIdx, &sr.DeviceID, &sr.Label,
		&sr.Source, &sr.Description, &sr.Kind, &sr.Enabled, &sr.LastTimestamp)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get series: %w", err)
	}
	return &sr, nil
}

func (s *Store) GetMeasurement(ctx context.Context, seriesID, deviceID string) (*store.Measurement, error) {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var m store.Measurement
	err = s.db.QueryRowContext(ctx, s.q(`
		SELECT series_id, device_id, value, ts FROM measurements
		WHERE series_id = ? AND device_id = ?
	`), seriesID, deviceID).Scan(&m.SeriesID, &m.DeviceID, &m.Value, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get measurement: %w", err)
	}
	return &m, nil
}

// SetSeriesEnabled toggles a series.
func (s *Store) SetSeriesEnabled(ctx context.Context, seriesID string, enabled bool) error {
	ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.q(`UPDATE series SET enabled = ? WHERE series_id = ?`), enabled, seriesID)
	if err != nil {
		return fmt.Errorf("update series: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(store.ErrNotFound, "series %s", seriesID)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func scanStates(rows *sql.Rows) ([]store.SeriesState, error) {
	var out []store.SeriesState
	for rows.Next() {
		var st store.SeriesState
		if err := rows.Scan(&st.SeriesID, &st.Idx, &st.AgentIdx, &st.LastTimestamp); err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// inserted reports whether an insert-if-absent statement created a row.
func inserted(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}
