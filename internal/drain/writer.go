package drain

import (
	"context"

	"github.com/xtxerr/infoset/internal/archive"
	"github.com/xtxerr/infoset/internal/errors"
	"github.com/xtxerr/infoset/internal/snapshot"
	"github.com/xtxerr/infoset/internal/store"
)

// writeResult is the outcome of writing one snapshot's measurements.
type writeResult struct {
	written    int
	stale      int
	dropped    int
	duplicates int
	untyped    int

	// accepted holds the records that were written.
	accepted []snapshot.Record
}

// writeMeasurements commits the chartable records of snap that are newer
// than their series watermark, then advances those watermarks.
//
// Records of unknown or disabled series are dropped. A record whose
// timestamp is not strictly greater than the watermark is stale. When a
// snapshot repeats a series, the last occurrence replaces the earlier ones,
// which are counted as duplicates. Untyped chartable records are counted
// but never written.
func writeMeasurements(ctx context.Context, st store.Store, snap *snapshot.Snapshot) (*writeResult, error) {
	res := &writeResult{untyped: len(snap.Untyped())}

	pos := make(map[string]int)
	var records []snapshot.Record
	var ids []string
	for _, rec := range snap.Chartable() {
		if i, ok := pos[rec.SeriesID]; ok {
			records[i] = rec
			res.duplicates++
			continue
		}
		pos[rec.SeriesID] = len(records)
		records = append(records, rec)
		ids = append(ids, rec.SeriesID)
	}
	if len(records) == 0 {
		return res, nil
	}

	states, err := st.LookupSeries(ctx, ids)
	if err != nil {
		return nil, errors.NewStoreWrite("lookup series", err)
	}

	measurements := make([]store.Measurement, 0, len(records))
	for _, rec := range records {
		state, ok := states[rec.SeriesID]
		if !ok {
			res.dropped++
			continue
		}
		if rec.Timestamp <= state.LastTimestamp {
			res.stale++
			continue
		}

		measurements = append(measurements, store.Measurement{
			SeriesID:  rec.SeriesID,
			DeviceID:  rec.DeviceID,
			Value:     rec.Value,
			Timestamp: rec.Timestamp,
		})
		res.accepted = append(res.accepted, rec)
	}
	if len(measurements) == 0 {
		return res, nil
	}

	if err := st.BatchUpsertMeasurements(ctx, measurements); err != nil {
		return nil, errors.NewStoreWrite("upsert measurements", err)
	}

	// Series are unique in measurements, so each timestamp is the series
	// maximum for this snapshot.
	for _, m := range measurements {
		if err := st.AdvanceSeriesWatermark(ctx, m.SeriesID, m.Timestamp); err != nil {
			return nil, errors.NewStoreWrite("advance watermark", err)
		}
	}

	res.written = len(measurements)
	return res, nil
}

// archiveRows converts drained records to archive rows.
func archiveRows(sweepID string, chartable, other []snapshot.Record) []archive.Row {
	rows := make([]archive.Row, 0, len(chartable)+len(other))
	for _, rec := range chartable {
		rows = append(rows, archiveRow(sweepID, rec, true))
	}
	for _, rec := range other {
		rows = append(rows, archiveRow(sweepID, rec, false))
	}
	return rows
}

func archiveRow(sweepID string, rec snapshot.Record, chartable bool) archive.Row {
	return archive.Row{
		SweepID:   sweepID,
		DeviceID:  rec.DeviceID,
		SeriesID:  rec.SeriesID,
		Label:     rec.Label,
		Index:     rec.Index,
		Source:    rec.Source,
		Kind:      int32(rec.Kind),
		Chartable: chartable,
		Value:     rec.Value,
		Raw:       rec.Raw,
		Timestamp: rec.Timestamp,
	}
}
