// Package memstore is an in-memory store.Store for tests and dry runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xtxerr/infoset/internal/store"
)

type measurementKey struct {
	seriesID string
	deviceID string
}

// Store keeps agents, series and measurements in maps guarded by one mutex.
type Store struct {
	mu           sync.RWMutex
	agents       map[string]*store.Agent
	series       map[string]*store.Series
	measurements map[measurementKey]store.Measurement
	nextAgent    int64
	nextSeries   int64
	closed       bool
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Reader = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		agents:       make(map[string]*store.Agent),
		series:       make(map[string]*store.Series),
		measurements: make(map[measurementKey]store.Measurement),
	}
}

func (s *Store) UpsertAgent(ctx context.Context, a store.Agent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, store.ErrClosed
	}
	if _, ok := s.agents[a.DeviceID]; ok {
		return false, nil
	}

	s.nextAgent++
	a.Idx = s.nextAgent
	a.Enabled = true
	s.agents[a.DeviceID] = &a
	return true, nil
}

func (s *Store) UpsertSeries(ctx context.Context, sr store.Series) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, store.ErrClosed
	}
	if _, ok := s.series[sr.SeriesID]; ok {
		return false, nil
	}

	agent, ok := s.agents[sr.DeviceID]
	if !ok {
		return false, fmt.Errorf("agent %s: %w", sr.DeviceID, store.ErrNotFound)
	}

	s.nextSeries++
	sr.Idx = s.nextSeries
	sr.AgentIdx = agent.Idx
	sr.Enabled = true
	sr.LastTimestamp = 0
	s.series[sr.SeriesID] = &sr
	return true, nil
}

func (s *Store) ListEnabledAgents(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	ids := make([]string, 0, len(s.agents))
	for id, a := range s.agents {
		if a.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListEnabledSeries(ctx context.Context) ([]store.SeriesState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	out := make([]store.SeriesState, 0, len(s.series))
	for _, sr := range s.series {
		if sr.Enabled {
			out = append(out, stateOf(sr))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	return out, nil
}

func (s *Store) LookupSeries(ctx context.Context, ids []string) (map[string]store.SeriesState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	out := make(map[string]store.SeriesState, len(ids))
	for _, id := range ids {
		if sr, ok := s.series[id]; ok && sr.Enabled {
			out[id] = stateOf(sr)
		}
	}
	return out, nil
}

func (s *Store) BatchUpsertMeasurements(ctx context.Context, ms []store.Measurement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	for _, m := range ms {
		key := measurementKey{seriesID: m.SeriesID, deviceID: m.DeviceID}
		if old, ok := s.measurements[key]; ok && m.Timestamp <= old.Timestamp {
			continue
		}
		s.measurements[key] = m
	}
	return nil
}

func (s *Store) AdvanceSeriesWatermark(ctx context.Context, seriesID string, ts int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	if sr, ok := s.series[seriesID]; ok && sr.LastTimestamp < ts {
		sr.LastTimestamp = ts
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// =============================================================================
// Reader
// =============================================================================

func (s *Store) GetAgent(ctx context.Context, deviceID string) (*store.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[deviceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetSeries(ctx context.Context, seriesID string) (*store.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[seriesID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sr
	return &cp, nil
}

func (s *Store) GetMeasurement(ctx context.Context, seriesID, deviceID string) (*store.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.measurements[measurementKey{seriesID: seriesID, deviceID: deviceID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

// =============================================================================
// Administration
// =============================================================================

// SetSeriesEnabled toggles a series.
func (s *Store) SetSeriesEnabled(seriesID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[seriesID]
	if !ok {
		return store.ErrNotFound
	}
	sr.Enabled = enabled
	return nil
}

// Counts returns the number of agents, series and measurements.
func (s *Store) Counts() (agents, series, measurements int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents), len(s.series), len(s.measurements)
}

func stateOf(sr *store.Series) store.SeriesState {
	return store.SeriesState{
		SeriesID:      sr.SeriesID,
		Idx:           sr.Idx,
		AgentIdx:      sr.AgentIdx,
		LastTimestamp: sr.LastTimestamp,
	}
}
