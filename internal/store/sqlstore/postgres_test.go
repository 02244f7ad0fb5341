package sqlstore

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/xtxerr/infoset/internal/errors"
	"github.com/xtxerr/infoset/internal/store"
)

func newPostgresMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := New(db, Config{Driver: "postgres"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, mock
}

func TestPostgresBatchUpsert(t *testing.T) {
	s, mock := newPostgresMock(t)

	expectedQuery := regexp.QuoteMeta("INSERT INTO measurements (series_id, device_id, value, ts) VALUES ($1,$2,$3,$4),($5,$6,$7,$8) ON CONFLICT (series_id, device_id) DO UPDATE SET value = excluded.value, ts = excluded.ts WHERE excluded.ts > measurements.ts")

	mock.ExpectBegin()
	mock.ExpectExec(expectedQuery).
		WithArgs("s1", "abc123", 12.5, int64(1000), "s2", "abc123", 3.0, int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := s.BatchUpsertMeasurements(context.Background(), []store.Measurement{
		{SeriesID: "s1", DeviceID: "abc123", Value: 12.5, Timestamp: 1000},
		{SeriesID: "s2", DeviceID: "abc123", Value: 3.0, Timestamp: 1000},
	})
	if err != nil {
		t.Fatalf("BatchUpsertMeasurements: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresBatchUpsertRollsBack(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO measurements").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.BatchUpsertMeasurements(context.Background(), []store.Measurement{
		{SeriesID: "s1", DeviceID: "abc123", Value: 12.5, Timestamp: 1000},
	})
	if err == nil {
		t.Fatal("expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresAdvanceWatermark(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE series SET last_timestamp = $1 WHERE series_id = $2 AND last_timestamp < $3")).
		WithArgs(int64(1000), "s1", int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.AdvanceSeriesWatermark(context.Background(), "s1", 1000); err != nil {
		t.Fatalf("AdvanceSeriesWatermark: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpsertSeriesUnknownAgent(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT idx FROM agents WHERE device_id = $1")).
		WithArgs("abc123").
		WillReturnRows(sqlmock.NewRows([]string{"idx"}))
	mock.ExpectRollback()

	_, err := s.UpsertSeries(context.Background(), store.Series{SeriesID: "s1", DeviceID: "abc123"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpsertAgentConflict(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agents (device_id, name, hostname) VALUES ($1, $2, $3) ON CONFLICT (device_id) DO NOTHING")).
		WithArgs("abc123", "sentry3", "h1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := s.UpsertAgent(context.Background(), store.Agent{DeviceID: "abc123", Name: "sentry3", Hostname: "h1"})
	if err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}
	if created {
		t.Error("conflicting insert must report created=false")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := dialects["postgres"]
	if got := pg.rebind("a = ? AND b IN (?,?)"); got != "a = $1 AND b IN ($2,$3)" {
		t.Errorf("rebind = %q", got)
	}

	duck := dialects["duckdb"]
	if got := duck.rebind("a = ?"); got != "a = ?" {
		t.Errorf("duckdb rebind changed query: %q", got)
	}
}
