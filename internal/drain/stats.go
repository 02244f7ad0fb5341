package drain

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/infoset/config"
)

// SweepReport summarises one sweep.
type SweepReport struct {
	SweepID  string
	Started  time.Time
	Duration time.Duration

	// Scan results.
	Devices  int
	Files    int
	Deferred int
	Ignored  int

	// File outcomes. Every scanned file ends up in exactly one of Drained,
	// Quarantined, Skipped or Failed. DeleteFailed counts drained files that
	// could not be removed.
	Drained      int
	Quarantined  int
	Skipped      int
	Failed       int
	DeleteFailed int

	AgentsCreated int
	SeriesCreated int

	// Measurement outcomes. Duplicates counts repeats of a series within one
	// snapshot that a later occurrence replaced. Untyped counts chartable
	// records without a known base_type, which are never written.
	Written    int
	Stale      int
	Dropped    int
	Duplicates int
	Untyped    int

	// ArchivePath is the Parquet file of this sweep, if any was written.
	ArchivePath string

	// Latency holds per-file drain time quantiles.
	Latency Latency
}

// Latency holds quantiles of per-file drain time.
type Latency struct {
	Count int64
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
}

// counters are updated concurrently by the workers of one sweep.
type counters struct {
	drained      atomic.Int64
	quarantined  atomic.Int64
	skipped      atomic.Int64
	failed       atomic.Int64
	deleteFailed atomic.Int64

	agentsCreated atomic.Int64
	seriesCreated atomic.Int64

	written    atomic.Int64
	stale      atomic.Int64
	dropped    atomic.Int64
	duplicates atomic.Int64
	untyped    atomic.Int64
}

func (c *counters) fill(r *SweepReport) {
	r.Drained = int(c.drained.Load())
	r.Quarantined = int(c.quarantined.Load())
	r.Skipped = int(c.skipped.Load())
	r.Failed = int(c.failed.Load())
	r.DeleteFailed = int(c.deleteFailed.Load())
	r.AgentsCreated = int(c.agentsCreated.Load())
	r.SeriesCreated = int(c.seriesCreated.Load())
	r.Written = int(c.written.Load())
	r.Stale = int(c.stale.Load())
	r.Dropped = int(c.dropped.Load())
	r.Duplicates = int(c.duplicates.Load())
	r.Untyped = int(c.untyped.Load())
}

// latencySketch collects per-file drain times in seconds.
type latencySketch struct {
	mu     sync.Mutex
	sketch *ddsketch.DDSketch
}

func newLatencySketch() *latencySketch {
	sketch, err := ddsketch.NewDefaultDDSketch(config.DefaultLatencyAccuracy)
	if err != nil {
		// Only fails for accuracy outside (0, 1).
		panic(err)
	}
	return &latencySketch{sketch: sketch}
}

func (l *latencySketch) observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sketch.Add(d.Seconds())
}

func (l *latencySketch) summary() Latency {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sketch.IsEmpty() {
		return Latency{}
	}

	return Latency{
		Count: int64(l.sketch.GetCount()),
		P50:   l.quantile(0.50),
		P90:   l.quantile(0.90),
		P99:   l.quantile(0.99),
	}
}

func (l *latencySketch) quantile(q float64) time.Duration {
	v, err := l.sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
