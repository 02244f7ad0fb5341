// Package store defines the persistence contract of the drain.
//
// The relational layout behind it has three parts: agents (one row per
// device), series (one row per metric series, carrying the watermark) and
// measurements (the latest value per series and device). Implementations live
// in the sqlstore (DuckDB, SQLite, PostgreSQL) and memstore subpackages.
package store

import (
	"context"

	"github.com/xtxerr/infoset/internal/errors"
)

var (
	ErrNotFound = errors.ErrNotFound
	ErrClosed   = errors.ErrStoreClosed
)

// Agent is a monitored device as seen by the drain.
type Agent struct {
	Idx      int64
	DeviceID string
	Name     string
	Hostname string
	Enabled  bool
}

// Series is one metric series of a device.
type Series struct {
	Idx         int64
	SeriesID    string
	AgentIdx    int64
	DeviceID    string
	Label       string
	Source      string
	Description string
	Kind        int
	Enabled     bool

	// LastTimestamp is the watermark: the newest measurement timestamp
	// committed for the series. It never decreases.
	LastTimestamp int64
}

// SeriesState is the subset of Series the drain needs per sweep.
type SeriesState struct {
	SeriesID      string
	Idx           int64
	AgentIdx      int64
	LastTimestamp int64
}

// Measurement is the latest value of a series on a device.
type Measurement struct {
	SeriesID  string
	DeviceID  string
	Value     float64
	Timestamp int64
}

// Store is the persistence contract of the drain.
//
// Implementations must be safe for concurrent use. Agent and series upserts
// are insert-if-absent: a row that already exists is left untouched and the
// call reports created=false without error.
type Store interface {
	// UpsertAgent inserts the agent unless its device id exists.
	UpsertAgent(ctx context.Context, a Agent) (created bool, err error)

	// UpsertSeries inserts the series unless its id exists. The owning agent
	// must exist; its index is resolved from a.DeviceID.
	UpsertSeries(ctx context.Context, s Series) (created bool, err error)

	// ListEnabledAgents returns the device ids of all enabled agents.
	ListEnabledAgents(ctx context.Context) ([]string, error)

	// ListEnabledSeries returns the state of all enabled series.
	ListEnabledSeries(ctx context.Context) ([]SeriesState, error)

	// LookupSeries returns the state of the enabled series among ids.
	// Unknown or disabled ids are absent from the result.
	LookupSeries(ctx context.Context, ids []string) (map[string]SeriesState, error)

	// BatchUpsertMeasurements writes measurements keyed by (series, device).
	// An existing row is replaced only by a strictly newer timestamp.
	BatchUpsertMeasurements(ctx context.Context, ms []Measurement) error

	// AdvanceSeriesWatermark raises the series watermark to ts if it is
	// currently lower. It never lowers it.
	AdvanceSeriesWatermark(ctx context.Context, seriesID string, ts int64) error

	Close() error
}

// Reader gives read access to individual rows, for tools and tests.
type Reader interface {
	GetAgent(ctx context.Context, deviceID string) (*Agent, error)
	GetSeries(ctx context.Context, seriesID string) (*Series, error)
	GetMeasurement(ctx context.Context, seriesID, deviceID string) (*Measurement, error)
}
