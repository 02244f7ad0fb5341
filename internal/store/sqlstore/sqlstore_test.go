package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/xtxerr/infoset/internal/errors"
	"github.com/xtxerr/infoset/internal/store"
	"github.com/xtxerr/infoset/internal/testutil"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Driver = "sqlite"
	cfg.DSN = filepath.Join(t.TempDir(), "infoset.sqlite")

	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *Store, deviceID string, seriesIDs ...string) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.UpsertAgent(ctx, store.Agent{DeviceID: deviceID, Name: "sentry3", Hostname: "h1"}); err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}
	for _, id := range seriesIDs {
		_, err := s.UpsertSeries(ctx, store.Series{
			SeriesID: id, DeviceID: deviceID, Label: "infeedPower", Source: "sensor1", Description: "d", Kind: 1,
		})
		if err != nil {
			t.Fatalf("UpsertSeries: %v", err)
		}
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
}

func TestUpsertAgentOnce(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	a := store.Agent{DeviceID: "abc123", Name: "sentry3", Hostname: "h1"}

	created, err := s.UpsertAgent(ctx, a)
	if err != nil || !created {
		t.Fatalf("first UpsertAgent = %v, %v; want true, nil", created, err)
	}

	a.Name = "renamed"
	created, err = s.UpsertAgent(ctx, a)
	if err != nil || created {
		t.Fatalf("second UpsertAgent = %v, %v; want false, nil", created, err)
	}

	got, err := s.GetAgent(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != "sentry3" || !got.Enabled {
		t.Errorf("agent mutated or disabled: %+v", got)
	}

	ids, err := s.ListEnabledAgents(ctx)
	if err != nil {
		t.Fatalf("ListEnabledAgents: %v", err)
	}
	if len(ids) != 1 || ids[0] != "abc123" {
		t.Errorf("ListEnabledAgents = %v", ids)
	}
}

func TestUpsertSeries(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	_, err := s.UpsertSeries(ctx, store.Series{SeriesID: "s1", DeviceID: "missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("UpsertSeries without agent: got %v, want ErrNotFound", err)
	}

	seed(t, s, "abc123", "s1")

	created, err := s.UpsertSeries(ctx, store.Series{SeriesID: "s1", DeviceID: "abc123", Label: "other"})
	if err != nil || created {
		t.Fatalf("duplicate UpsertSeries = %v, %v; want false, nil", created, err)
	}

	sr, err := s.GetSeries(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSeries: %v", err)
	}
	if sr.Label != "infeedPower" || sr.Kind != 1 || sr.LastTimestamp != 0 || !sr.Enabled {
		t.Errorf("unexpected series: %+v", sr)
	}

	agent, _ := s.GetAgent(ctx, "abc123")
	if sr.AgentIdx != agent.Idx {
		t.Errorf("AgentIdx = %d, want %d", sr.AgentIdx, agent.Idx)
	}
}

func TestMeasurementUpsertOnlyNewer(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	seed(t, s, "abc123", "s1")

	write := func(value float64, ts int64) {
		t.Helper()
		err := s.BatchUpsertMeasurements(ctx, []store.Measurement{
			{SeriesID: "s1", DeviceID: "abc123", Value: value, Timestamp: ts},
		})
		if err != nil {
			t.Fatalf("BatchUpsertMeasurements: %v", err)
		}
	}
	check := func(value float64, ts int64) {
		t.Helper()
		m, err := s.GetMeasurement(ctx, "s1", "abc123")
		if err != nil {
			t.Fatalf("GetMeasurement: %v", err)
		}
		if m.Value != value || m.Timestamp != ts {
			t.Errorf("measurement = %v@%d, want %v@%d", m.Value, m.Timestamp, value, ts)
		}
	}

	write(12.5, 1000)
	check(12.5, 1000)

	write(9.0, 999)
	check(12.5, 1000)

	write(9.0, 1000)
	check(12.5, 1000)

	write(3.0, 1001)
	check(3.0, 1001)
}

func TestBatchUpsertChunks(t *testing.T) {
	s := openSQLite(t)
	s.config.MaxRowsPerInsert = 2
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, fmt.Sprintf("s%d", i))
	}
	seed(t, s, "abc123", ids...)

	var ms []store.Measurement
	for i, id := range ids {
		ms = append(ms, store.Measurement{SeriesID: id, DeviceID: "abc123", Value: float64(i), Timestamp: 100})
	}
	// Same key twice in one batch: the newer one wins.
	ms = append(ms, store.Measurement{SeriesID: "s0", DeviceID: "abc123", Value: 42, Timestamp: 200})

	if err := s.BatchUpsertMeasurements(ctx, ms); err != nil {
		t.Fatalf("BatchUpsertMeasurements: %v", err)
	}

	for i, id := range ids {
		m, err := s.GetMeasurement(ctx, id, "abc123")
		if err != nil {
			t.Fatalf("GetMeasurement(%s): %v", id, err)
		}
		want := float64(i)
		if id == "s0" {
			want = 42
		}
		if m.Value != want {
			t.Errorf("%s value = %v, want %v", id, m.Value, want)
		}
	}
}

func TestAdvanceSeriesWatermarkNeverDecreases(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	seed(t, s, "abc123", "s1")

	for _, ts := range []int64{1000, 900, 1000} {
		if err := s.AdvanceSeriesWatermark(ctx, "s1", ts); err != nil {
			t.Fatalf("AdvanceSeriesWatermark(%d): %v", ts, err)
		}
	}

	states, err := s.LookupSeries(ctx, []string{"s1"})
	if err != nil {
		t.Fatalf("LookupSeries: %v", err)
	}
	if got := states["s1"].LastTimestamp; got != 1000 {
		t.Errorf("LastTimestamp = %d, want 1000", got)
	}
}

func TestLookupSeriesSkipsUnknownAndDisabled(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	seed(t, s, "abc123", "s1", "s2")

	if err := s.SetSeriesEnabled(ctx, "s2", false); err != nil {
		t.Fatalf("SetSeriesEnabled: %v", err)
	}

	states, err := s.LookupSeries(ctx, []string{"s1", "s2", "s3"})
	if err != nil {
		t.Fatalf("LookupSeries: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("LookupSeries = %v, want only s1", states)
	}
	if _, ok := states["s1"]; !ok {
		t.Error("s1 missing")
	}

	all, err := s.ListEnabledSeries(ctx)
	if err != nil {
		t.Fatalf("ListEnabledSeries: %v", err)
	}
	if len(all) != 1 || all[0].SeriesID != "s1" {
		t.Errorf("ListEnabledSeries = %+v", all)
	}
}

func TestConcurrentUpsertAgentCreatesOnce(t *testing.T) {
	s := openSQLite(t)

	var created atomic.Int32
	gt := testutil.NewGoroutineTest(t)
	for i := 0; i < 8; i++ {
		gt.Go(func() error {
			ok, err := s.UpsertAgent(gt.Context(), store.Agent{DeviceID: "abc123", Name: "sentry3", Hostname: "h1"})
			if err != nil {
				return err
			}
			if ok {
				created.Add(1)
			}
			return nil
		})
	}
	gt.Wait()

	if n := created.Load(); n != 1 {
		t.Errorf("agent created %d times, want 1", n)
	}
}

func TestClosedStore(t *testing.T) {
	s := openSQLite(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.ListEnabledAgents(context.Background()); !errors.Is(err, store.ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestHealth(t *testing.T) {
	s := openSQLite(t)
	if err := s.Health(context.Background()); err != nil {
		t.Fatalf("Health on open store: %v", err)
	}

	s.Close()
	if err := s.Health(context.Background()); err == nil {
		t.Error("Health on closed store should fail")
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	if !errors.Is(err, errors.ErrUnsupportedDriver) {
		t.Errorf("got %v, want ErrUnsupportedDriver", err)
	}
}
