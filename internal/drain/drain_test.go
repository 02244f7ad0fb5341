package drain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/infoset/internal/archive"
	"github.com/xtxerr/infoset/internal/errors"
	"github.com/xtxerr/infoset/internal/ident"
	"github.com/xtxerr/infoset/internal/spool"
	"github.com/xtxerr/infoset/internal/store"
	"github.com/xtxerr/infoset/internal/store/memstore"
	"github.com/xtxerr/infoset/internal/testutil"
)

type harness struct {
	t          *testing.T
	spoolDir   string
	quarantine string
	store      *memstore.Store
	engine     *Engine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	return newHarnessWithStore(t, nil, opts...)
}

// newHarnessWithStore drains into wrap(memstore) when wrap is set.
func newHarnessWithStore(t *testing.T, wrap func(store.Store) store.Store, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:          t,
		spoolDir:   t.TempDir(),
		quarantine: filepath.Join(t.TempDir(), "failures"),
		store:      memstore.New(),
	}

	var st store.Store = h.store
	if wrap != nil {
		st = wrap(st)
	}
	h.engine = New(st, &spool.Handler{QuarantineDir: h.quarantine}, opts...)
	return h
}

func (h *harness) put(ts int64, uid, body string) string {
	h.t.Helper()
	return testutil.WriteSpoolFile(h.t, h.spoolDir, testutil.SnapshotName(ts, uid), body, testutil.Old)
}

func (h *harness) drain() *SweepReport {
	h.t.Helper()

	report, err := h.engine.Drain(context.Background(), SweepConfig{SpoolDir: h.spoolDir, Workers: 4})
	if err != nil {
		h.t.Fatalf("Drain: %v", err)
	}
	return report
}

func (h *harness) measurement(seriesID, deviceID string) *store.Measurement {
	h.t.Helper()

	m, err := h.store.GetMeasurement(context.Background(), seriesID, deviceID)
	if err != nil {
		h.t.Fatalf("GetMeasurement: %v", err)
	}
	return m
}

// faultyStore fails or panics on selected operations.
type faultyStore struct {
	store.Store

	failWrites   atomic.Bool
	panicOnAgent string
}

func (f *faultyStore) UpsertAgent(ctx context.Context, a store.Agent) (bool, error) {
	if a.DeviceID == f.panicOnAgent {
		panic("boom")
	}
	return f.Store.UpsertAgent(ctx, a)
}

func (f *faultyStore) BatchUpsertMeasurements(ctx context.Context, ms []store.Measurement) error {
	if f.failWrites.Load() {
		return errors.New("connection reset")
	}
	return f.Store.BatchUpsertMeasurements(ctx, ms)
}

func TestDrainSingleFile(t *testing.T) {
	h := newHarness(t)
	path := h.put(1000, "abc123", testutil.SnapshotJSON(1000, "abc123", "infeedPower", 12.5))

	report := h.drain()

	if report.Drained != 1 || report.AgentsCreated != 1 || report.SeriesCreated != 1 || report.Written != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if testutil.FileExists(path) {
		t.Error("drained file still in spool")
	}

	ctx := context.Background()
	agent, err := h.store.GetAgent(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if agent.Name != "sentry3" || agent.Hostname != "h1" {
		t.Errorf("unexpected agent: %+v", agent)
	}

	seriesID := ident.SeriesID("abc123", "infeedPower", "0")
	series, err := h.store.GetSeries(ctx, seriesID)
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if series.Kind != 1 || series.Source != "sensor1" || series.Description != "d" {
		t.Errorf("unexpected series: %+v", series)
	}
	if series.LastTimestamp != 1000 {
		t.Errorf("LastTimestamp = %d, want 1000", series.LastTimestamp)
	}

	m := h.measurement(seriesID, "abc123")
	if m.Value != 12.5 || m.Timestamp != 1000 {
		t.Errorf("measurement = %v@%d, want 12.5@1000", m.Value, m.Timestamp)
	}
}

func TestDrainRejectsStaleReplay(t *testing.T) {
	h := newHarness(t)
	h.put(1000, "abc123", testutil.SnapshotJSON(1000, "abc123", "infeedPower", 12.5))
	h.drain()

	path := h.put(999, "abc123", testutil.SnapshotJSON(999, "abc123", "infeedPower", 9.0))
	report := h.drain()

	if report.Stale != 1 || report.Written != 0 {
		t.Errorf("Stale = %d, Written = %d; want 1, 0", report.Stale, report.Written)
	}
	if report.Drained != 1 || testutil.FileExists(path) {
		t.Error("stale file must still be completed")
	}

	seriesID := ident.SeriesID("abc123", "infeedPower", "0")
	if m := h.measurement(seriesID, "abc123"); m.Value != 12.5 || m.Timestamp != 1000 {
		t.Errorf("measurement = %v@%d, want 12.5@1000", m.Value, m.Timestamp)
	}
}

func TestDrainRegistersButSkipsUntypedChartable(t *testing.T) {
	h := newHarness(t)
	path := h.put(1000, "abc123", `{"chartable": {"temp": {"base_type": null, "description": "d", "data": [[0, 21.5, "sensor1"]]}}, "timestamp": 1000, "uid": "abc123", "agent": "sentry3", "hostname": "h1"}`)

	report := h.drain()

	if report.Drained != 1 || report.Written != 0 || report.Untyped != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.SeriesCreated != 1 {
		t.Errorf("SeriesCreated = %d, want 1", report.SeriesCreated)
	}
	if testutil.FileExists(path) {
		t.Error("drained file still in spool")
	}
	if _, series, ms := h.store.Counts(); series != 1 || ms != 0 {
		t.Errorf("counts: %d series, %d measurements; want 1, 0", series, ms)
	}
}

func TestDrainLastRepeatWinsWithinFile(t *testing.T) {
	h := newHarness(t)
	h.put(1000, "abc123", `{"chartable": {"infeedPower": {"base_type": "floating", "description": "d", "data": [[0, 1, "sensor1"], [0, 2, "sensor1"], [0, 3, "sensor1"]]}}, "timestamp": 1000, "uid": "abc123", "agent": "sentry3", "hostname": "h1"}`)

	report := h.drain()

	if report.Written != 1 || report.Duplicates != 2 || report.Stale != 0 {
		t.Errorf("unexpected report: %+v", report)
	}

	seriesID := ident.SeriesID("abc123", "infeedPower", "0")
	if m := h.measurement(seriesID, "abc123"); m.Value != 3 {
		t.Errorf("value = %v, want 3", m.Value)
	}
}

func TestDrainQuarantinesInvalidFile(t *testing.T) {
	h := newHarness(t)
	body := `{"chartable": {"infeedPower": {"base_type": "floating", "data": [[0, 12.5, "sensor1"]]}}, "timestamp": 1000, "uid": "abc123", "agent": "sentry3", "hostname": "h1"}`
	path := h.put(1000, "abc123", body)

	report := h.drain()

	if report.Quarantined != 1 || report.Drained != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if testutil.FileExists(path) {
		t.Error("invalid file left in spool")
	}

	moved := filepath.Join(h.quarantine, filepath.Base(path))
	data, err := os.ReadFile(moved)
	if err != nil {
		t.Fatalf("quarantined file: %v", err)
	}
	if string(data) != body {
		t.Error("quarantined file was modified")
	}

	if agents, series, ms := h.store.Counts(); agents+series+ms != 0 {
		t.Errorf("store touched: %d agents, %d series, %d measurements", agents, series, ms)
	}
}

func TestDrainQuarantinesUnparseableFile(t *testing.T) {
	h := newHarness(t)
	h.put(1000, "abc123", `{"timestamp": 1000,`)

	if report := h.drain(); report.Quarantined != 1 {
		t.Errorf("Quarantined = %d, want 1", report.Quarantined)
	}
}

func TestDrainIsIdempotent(t *testing.T) {
	h := newHarness(t)
	body := testutil.SnapshotJSON(1000, "abc123", "infeedPower", 12.5)

	h.put(1000, "abc123", body)
	first := h.drain()

	h.put(1000, "abc123", body)
	second := h.drain()

	if first.Written != 1 || second.Written != 0 || second.Stale != 1 {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
	if second.AgentsCreated != 0 || second.SeriesCreated != 0 {
		t.Error("replay created agents or series")
	}
	if agents, series, ms := h.store.Counts(); agents != 1 || series != 1 || ms != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", agents, series, ms)
	}
}

func TestDrainOrdersFilesWithinBatch(t *testing.T) {
	h := newHarness(t)

	// Written newest first; the drain must still apply 1000 before 2000.
	h.put(2000, "abc123", testutil.SnapshotJSON(2000, "abc123", "infeedPower", 2))
	h.put(1000, "abc123", testutil.SnapshotJSON(1000, "abc123", "infeedPower", 1))

	report := h.drain()
	if report.Written != 2 || report.Stale != 0 {
		t.Errorf("Written = %d, Stale = %d; want 2, 0", report.Written, report.Stale)
	}

	seriesID := ident.SeriesID("abc123", "infeedPower", "0")
	if m := h.measurement(seriesID, "abc123"); m.Value != 2 || m.Timestamp != 2000 {
		t.Errorf("measurement = %v@%d, want 2@2000", m.Value, m.Timestamp)
	}
}

func TestDrainLateArrivalAcrossSweeps(t *testing.T) {
	h := newHarness(t)

	h.put(2000, "abc123", testutil.SnapshotJSON(2000, "abc123", "infeedPower", 2))
	h.drain()

	h.put(1000, "abc123", testutil.SnapshotJSON(1000, "abc123", "infeedPower", 1))
	if report := h.drain(); report.Stale != 1 {
		t.Errorf("Stale = %d, want 1", report.Stale)
	}

	seriesID := ident.SeriesID("abc123", "infeedPower", "0")
	if m := h.measurement(seriesID, "abc123"); m.Value != 2 {
		t.Errorf("value = %v, want 2", m.Value)
	}
	series, _ := h.store.GetSeries(context.Background(), seriesID)
	if series.LastTimestamp != 2000 {
		t.Errorf("watermark regressed to %d", series.LastTimestamp)
	}
}

func TestDrainAdvancesWatermarkOnAcceptedWrites(t *testing.T) {
	h := newHarness(t)
	seriesID := ident.SeriesID("abc123", "infeedPower", "0")

	for _, ts := range []int64{1000, 1500, 1200} {
		h.put(ts, "abc123", testutil.SnapshotJSON(ts, "abc123", "infeedPower", float64(ts)))
		h.drain()
	}

	series, err := h.store.GetSeries(context.Background(), seriesID)
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if series.LastTimestamp != 1500 {
		t.Errorf("LastTimestamp = %d, want 1500", series.LastTimestamp)
	}
	if m := h.measurement(seriesID, "abc123"); m.Timestamp != 1500 {
		t.Errorf("measurement timestamp = %d, want 1500", m.Timestamp)
	}
}

func TestDrainDefersYoungFiles(t *testing.T) {
	h := newHarness(t)
	path := testutil.WriteSpoolFile(t, h.spoolDir, testutil.SnapshotName(1000, "abc123"),
		testutil.SnapshotJSON(1000, "abc123", "infeedPower", 12.5), 0)

	report := h.drain()
	if report.Deferred != 1 || report.Files != 0 {
		t.Errorf("Deferred = %d, Files = %d; want 1, 0", report.Deferred, report.Files)
	}
	if !testutil.FileExists(path) {
		t.Fatal("young file was touched")
	}

	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if report := h.drain(); report.Drained != 1 {
		t.Errorf("Drained = %d on re-sweep, want 1", report.Drained)
	}
}

func TestDrainSkipsIdentityMismatch(t *testing.T) {
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "device",
			file: testutil.SnapshotName(1000, "abc123"),
			body: testutil.SnapshotJSON(1000, "def456", "infeedPower", 1),
		},
		{
			name: "timestamp",
			file: testutil.SnapshotName(1000, "abc123"),
			body: testutil.SnapshotJSON(1001, "abc123", "infeedPower", 1),
		},
		{
			name: "numeric uid",
			file: testutil.SnapshotName(1000, "abc123"),
			body: `{"chartable": {}, "timestamp": 1000, "uid": 42, "agent": "sentry3", "hostname": "h1"}`,
		},
		{
			name: "future",
			file: testutil.SnapshotName(future, "abc123"),
			body: testutil.SnapshotJSON(future, "abc123", "infeedPower", 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			path := testutil.WriteSpoolFile(t, h.spoolDir, tt.file, tt.body, testutil.Old)

			report := h.drain()
			if report.Skipped != 1 || report.Quarantined != 0 {
				t.Errorf("unexpected report: %+v", report)
			}
			if !testutil.FileExists(path) {
				t.Error("mismatched file must stay in the spool")
			}
			if agents, _, _ := h.store.Counts(); agents != 0 {
				t.Error("mismatched file registered an agent")
			}
		})
	}
}

func TestDrainKeepsFileOnStoreFailure(t *testing.T) {
	var faulty *faultyStore
	h := newHarnessWithStore(t, func(st store.Store) store.Store {
		faulty = &faultyStore{Store: st}
		faulty.failWrites.Store(true)
		return faulty
	})
	path := h.put(1000, "abc123", testutil.SnapshotJSON(1000, "abc123", "infeedPower", 12.5))

	report := h.drain()
	if report.Failed != 1 || report.Drained != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if !testutil.FileExists(path) {
		t.Fatal("file removed after failed write")
	}

	faulty.failWrites.Store(false)
	report = h.drain()
	if report.Drained != 1 || report.Written != 1 {
		t.Errorf("retry report: %+v", report)
	}
}

func TestDrainRecoversWorkerPanic(t *testing.T) {
	h := newHarnessWithStore(t, func(st store.Store) store.Store {
		return &faultyStore{Store: st, panicOnAgent: "bad"}
	})

	bad1 := h.put(1000, "bad", testutil.SnapshotJSON(1000, "bad", "infeedPower", 1))
	bad2 := h.put(1001, "bad", testutil.SnapshotJSON(1001, "bad", "infeedPower", 1))
	h.put(1000, "abc123", testutil.SnapshotJSON(1000, "abc123", "infeedPower", 1))

	report := h.drain()
	if report.Failed != 2 || report.Drained != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if !testutil.FileExists(bad1) || !testutil.FileExists(bad2) {
		t.Error("files of the panicking batch must stay")
	}
}

func TestDrainDropsDisabledSeries(t *testing.T) {
	h := newHarness(t)
	seriesID := ident.SeriesID("abc123", "infeedPower", "0")

	h.put(1000, "abc123", testutil.SnapshotJSON(1000, "abc123", "infeedPower", 1))
	h.drain()

	if err := h.store.SetSeriesEnabled(seriesID, false); err != nil {
		t.Fatalf("SetSeriesEnabled: %v", err)
	}

	h.put(2000, "abc123", testutil.SnapshotJSON(2000, "abc123", "infeedPower", 2))
	report := h.drain()

	if report.Dropped != 1 || report.Written != 0 || report.SeriesCreated != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if m := h.measurement(seriesID, "abc123"); m.Value != 1 {
		t.Errorf("disabled series written: %v", m.Value)
	}
}

func TestDrainManyDevicesConcurrently(t *testing.T) {
	h := newHarness(t)

	const devices, files = 20, 3
	for d := 0; d < devices; d++ {
		uid := fmt.Sprintf("%06x", d+1)
		for f := 0; f < files; f++ {
			ts := int64(1000 + f)
			h.put(ts, uid, testutil.SnapshotJSON(ts, uid, "infeedPower", float64(f)))
		}
	}

	report := h.drain()
	if report.Devices != devices || report.Drained != devices*files {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.AgentsCreated != devices || report.SeriesCreated != devices {
		t.Errorf("created %d agents, %d series; want %d each", report.AgentsCreated, report.SeriesCreated, devices)
	}
	if report.Written != devices*files {
		t.Errorf("Written = %d, want %d", report.Written, devices*files)
	}
	if report.Latency.Count != devices*files {
		t.Errorf("Latency.Count = %d", report.Latency.Count)
	}

	for d := 0; d < devices; d++ {
		uid := fmt.Sprintf("%06x", d+1)
		m := h.measurement(ident.SeriesID(uid, "infeedPower", "0"), uid)
		if m.Timestamp != 1000+files-1 {
			t.Errorf("%s: timestamp = %d", uid, m.Timestamp)
		}
	}
}

func TestDrainArchivesAcceptedRecords(t *testing.T) {
	dir := t.TempDir()
	var observed *SweepReport
	h := newHarness(t,
		WithArchiver(archive.New(dir, "zstd")),
		WithObserver(func(r *SweepReport) { observed = r }))

	body := `{"chartable": {"infeedPower": {"base_type": "floating", "description": "d", "data": [[0, 12.5, "sensor1"]]}},
	          "other": {"sysName": {"base_type": null, "description": "name", "data": [[0, "pdu1", "system"]]}},
	          "timestamp": 1000, "uid": "abc123", "agent": "sentry3", "hostname": "h1"}`
	h.put(1000, "abc123", body)

	report := h.drain()
	if observed != report {
		t.Error("observer not called with the report")
	}
	if report.ArchivePath == "" {
		t.Fatal("no archive written")
	}

	rows, err := archive.ReadFile(report.ArchivePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if !rows[0].Chartable || rows[0].Value != 12.5 || rows[0].SweepID != report.SweepID {
		t.Errorf("unexpected chartable row: %+v", rows[0])
	}
	if rows[1].Chartable || rows[1].Raw != `"pdu1"` {
		t.Errorf("unexpected other row: %+v", rows[1])
	}

	// A stale replay archives no chartable rows.
	h.put(1000, "abc123", testutil.SnapshotJSON(1000, "abc123", "infeedPower", 12.5))
	if report := h.drain(); report.ArchivePath != "" {
		t.Errorf("archive written for stale sweep: %s", report.ArchivePath)
	}
}

func TestDrainEmptySpool(t *testing.T) {
	h := newHarness(t)

	report := h.drain()
	if report.Files != 0 || report.Devices != 0 || report.SweepID == "" {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestDrainMissingSpoolDir(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Drain(context.Background(), SweepConfig{SpoolDir: filepath.Join(h.spoolDir, "missing")})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDrainCancelledContext(t *testing.T) {
	h := newHarness(t)
	path := h.put(1000, "abc123", testutil.SnapshotJSON(1000, "abc123", "infeedPower", 12.5))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.engine.Drain(ctx, SweepConfig{SpoolDir: h.spoolDir}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if !testutil.FileExists(path) {
		t.Error("file removed by cancelled sweep")
	}
}
