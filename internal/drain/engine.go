// Package drain ingests spooled snapshot files into the store.
//
// A sweep scans the spool once, groups the eligible files by device and
// hands each device batch to one worker of a fixed pool. Files of a device
// are drained strictly in timestamp order. Drain blocks until every batch
// is done and returns a SweepReport.
package drain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/infoset/config"
	"github.com/xtxerr/infoset/internal/archive"
	"github.com/xtxerr/infoset/internal/errors"
	"github.com/xtxerr/infoset/internal/logging"
	"github.com/xtxerr/infoset/internal/snapshot"
	"github.com/xtxerr/infoset/internal/spool"
	"github.com/xtxerr/infoset/internal/store"
)

var log = logging.Component("drain")

// Archiver persists the records accepted by a sweep.
type Archiver interface {
	WriteSweep(ctx context.Context, sweepID string, started time.Time, rows []archive.Row) (string, error)
}

// SweepConfig configures one sweep.
type SweepConfig struct {
	// SpoolDir is scanned for snapshot files.
	SpoolDir string

	// Quiescence is the minimum file age. Zero uses the default.
	Quiescence time.Duration

	// Workers is the pool size. Zero uses the default.
	Workers int

	// MaxClockSkew is how far a snapshot timestamp may lie in the future.
	// Zero uses the default.
	MaxClockSkew time.Duration
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.Quiescence <= 0 {
		c.Quiescence = config.DefaultQuiescence
	}
	if c.Workers <= 0 {
		c.Workers = config.DefaultDrainWorkers
	}
	if c.MaxClockSkew <= 0 {
		c.MaxClockSkew = config.DefaultMaxClockSkew
	}
	return c
}

// Engine drains the spool into a store. An Engine holds no per-sweep state
// and may run several sweeps, but callers should not overlap sweeps over the
// same spool directory.
type Engine struct {
	store    store.Store
	handler  *spool.Handler
	archiver Archiver
	observer func(*SweepReport)
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithArchiver archives accepted records after each sweep.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithObserver registers a function called with every finished report.
func WithObserver(fn func(*SweepReport)) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(st store.Store, handler *spool.Handler, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		handler: handler,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// sweep is the state of one Drain call.
type sweep struct {
	*Engine

	id     string
	cfg    SweepConfig
	agents *knownSet
	series *knownSet

	counters counters
	latency  *latencySketch

	mu   sync.Mutex
	rows []archive.Row
}

// Drain runs one sweep and blocks until all batches are done.
//
// Scan and seeding failures abort the sweep before any file is touched. If
// ctx is cancelled mid-sweep, the files not yet drained stay in the spool,
// count as failed, and Drain returns the report together with ctx.Err().
func (e *Engine) Drain(ctx context.Context, cfg SweepConfig) (*SweepReport, error) {
	cfg = cfg.withDefaults()

	s := &sweep{
		Engine:  e,
		id:      uuid.NewString(),
		cfg:     cfg,
		latency: newLatencySketch(),
	}
	started := e.now()
	ctx = logging.ContextWithSweepID(ctx, s.id)
	logger := logging.FromContext(ctx, log)

	scanner := &spool.Scanner{Dir: cfg.SpoolDir, Quiescence: cfg.Quiescence, Now: e.now}
	scan, err := scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan spool: %w", err)
	}

	if err := s.seed(ctx); err != nil {
		return nil, err
	}

	logger.Debug("sweep started",
		"devices", len(scan.Batches),
		"files", scan.Files,
		"deferred", scan.Deferred)

	s.run(ctx, scan.Batches)

	report := &SweepReport{
		SweepID:  s.id,
		Started:  started,
		Devices:  len(scan.Batches),
		Files:    scan.Files,
		Deferred: scan.Deferred,
		Ignored:  scan.Ignored,
		Latency:  s.latency.summary(),
	}
	s.counters.fill(report)

	if e.archiver != nil && len(s.rows) > 0 {
		path, err := e.archiver.WriteSweep(context.WithoutCancel(ctx), s.id, started, s.rows)
		if err != nil {
			logger.Error("archive sweep", "error", err)
		}
		report.ArchivePath = path
	}

	report.Duration = e.now().Sub(started)

	logger.Info("sweep finished",
		"duration", report.Duration,
		"files", report.Files,
		"drained", report.Drained,
		"quarantined", report.Quarantined,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"deferred", report.Deferred,
		"written", report.Written,
		"stale", report.Stale)

	if e.observer != nil {
		e.observer(report)
	}

	return report, ctx.Err()
}

// seed loads the enabled agents and series known to the store.
func (s *sweep) seed(ctx context.Context) error {
	agents, err := s.store.ListEnabledAgents(ctx)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	states, err := s.store.ListEnabledSeries(ctx)
	if err != nil {
		return fmt.Errorf("list series: %w", err)
	}
	ids := make([]string, len(states))
	for i, st := range states {
		ids[i] = st.SeriesID
	}

	s.agents = newKnownSet(agents...)
	s.series = newKnownSet(ids...)
	return nil
}

// run feeds the batches into a queue private to this sweep and waits for
// the workers to empty it.
func (s *sweep) run(ctx context.Context, batches []spool.Batch) {
	if len(batches) == 0 {
		return
	}

	queue := make(chan spool.Batch, len(batches))
	for _, b := range batches {
		queue <- b
	}
	close(queue)

	workers := s.cfg.Workers
	if workers > len(batches) {
		workers = len(batches)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range queue {
				s.drainBatch(ctx, b)
			}
		}()
	}
	wg.Wait()
}

// drainBatch drains the files of one device in order. A panic aborts the
// batch; its remaining files stay in the spool.
func (s *sweep) drainBatch(ctx context.Context, b spool.Batch) {
	ctx = logging.ContextWithDeviceID(ctx, b.DeviceID)
	done := 0

	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx, log).Error("panic in batch drain",
				"files_left", len(b.Files)-done,
				"panic", r)
			s.counters.failed.Add(int64(len(b.Files) - done))
		}
	}()

	for _, f := range b.Files {
		if ctx.Err() != nil {
			s.counters.failed.Add(int64(len(b.Files) - done))
			return
		}
		s.drainFile(ctx, f)
		done++
	}
}

// drainFile runs validation, identity checks, registration and the store
// write for one file, then disposes of it.
func (s *sweep) drainFile(ctx context.Context, f spool.File) {
	start := time.Now()
	logger := logging.FromContext(ctx, log).With("path", f.Path)

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("spool file vanished")
			s.counters.skipped.Add(1)
			return
		}
		s.quarantine(logger, f.Path, errors.Wrap(errors.ErrRead, err.Error()))
		return
	}

	snap, err := snapshot.Parse(data)
	if err != nil {
		s.quarantine(logger, f.Path, err)
		return
	}

	if err := s.checkIdentity(f.Name, snap); err != nil {
		logger.Warn("snapshot skipped", "error", err)
		s.counters.skipped.Add(1)
		return
	}

	if err := s.register(ctx, snap); err != nil {
		logger.Error("register snapshot", "error", err, "retriable", errors.IsRetriable(err))
		s.counters.failed.Add(1)
		return
	}

	res, err := writeMeasurements(ctx, s.store, snap)
	if err != nil {
		logger.Error("write measurements", "error", err, "retriable", errors.IsRetriable(err))
		s.counters.failed.Add(1)
		return
	}

	s.counters.written.Add(int64(res.written))
	s.counters.stale.Add(int64(res.stale))
	s.counters.dropped.Add(int64(res.dropped))
	s.counters.duplicates.Add(int64(res.duplicates))
	s.counters.untyped.Add(int64(res.untyped))

	if s.archiver != nil {
		rows := archiveRows(s.id, res.accepted, snap.Other())
		s.mu.Lock()
		s.rows = append(s.rows, rows...)
		s.mu.Unlock()
	}

	s.counters.drained.Add(1)
	if err := s.handler.Complete(f.Path); err != nil {
		s.counters.deleteFailed.Add(1)
	}

	s.latency.observe(time.Since(start))

	logger.Debug("snapshot drained",
		"timestamp", snap.Timestamp,
		"written", res.written,
		"stale", res.stale,
		"dropped", res.dropped,
		"duplicates", res.duplicates,
		"untyped", res.untyped)
}

func (s *sweep) quarantine(logger *slog.Logger, path string, cause error) {
	if _, err := s.handler.Quarantine(path); err != nil {
		logger.Error("quarantine failed", "cause", cause, "error", err)
		s.counters.failed.Add(1)
		return
	}
	logger.Warn("invalid snapshot", "error", cause)
	s.counters.quarantined.Add(1)
}

// checkIdentity compares the file name with the payload and rejects
// timestamps too far in the future.
func (s *sweep) checkIdentity(name snapshot.Name, snap *snapshot.Snapshot) error {
	if name.DeviceID != snap.DeviceID {
		return errors.NewIdentityMismatch("uid", name.DeviceID, snap.DeviceID)
	}
	if name.Timestamp != snap.Timestamp {
		return errors.NewIdentityMismatch("timestamp", name.Timestamp, snap.Timestamp)
	}

	limit := s.now().Add(s.cfg.MaxClockSkew).Unix()
	if snap.Timestamp > limit {
		return errors.Wrapf(errors.ErrIdentityMismatch,
			"timestamp %d is more than %s in the future", snap.Timestamp, s.cfg.MaxClockSkew)
	}
	return nil
}

// register ensures the agent and every series of snap exist in the store.
func (s *sweep) register(ctx context.Context, snap *snapshot.Snapshot) error {
	err := s.agents.ensure(snap.DeviceID, func() error {
		created, err := s.store.UpsertAgent(ctx, store.Agent{
			DeviceID: snap.DeviceID,
			Name:     snap.Agent,
			Hostname: snap.Hostname,
		})
		if err != nil {
			return errors.NewStoreWrite("upsert agent", err)
		}
		if created {
			s.counters.agentsCreated.Add(1)
			logging.FromContext(ctx, log).Info("agent created", "agent", snap.Agent, "hostname", snap.Hostname)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, meta := range snap.Sources() {
		meta := meta
		err := s.series.ensure(meta.SeriesID, func() error {
			created, err := s.store.UpsertSeries(ctx, store.Series{
				SeriesID:    meta.SeriesID,
				DeviceID:    meta.DeviceID,
				Label:       meta.Label,
				Source:      meta.Source,
				Description: meta.Description,
				Kind:        int(meta.Kind),
				Enabled:     true,
			})
			if err != nil {
				return errors.NewStoreWrite("upsert series", err)
			}
			if created {
				s.counters.seriesCreated.Add(1)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
