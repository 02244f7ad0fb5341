// Package testutil provides test helpers shared by infoset packages.
//
// Using t.Fatal() or t.FailNow() in goroutines causes undefined behavior because
// these methods call runtime.Goexit() which only terminates the current goroutine,
// not the test goroutine. GoroutineTest collects errors through a channel instead.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Spool Fixtures
// =============================================================================

// Old is a file age comfortably past the default quiescence window.
const Old = time.Hour

// WriteSpoolFile writes body to dir/name and backdates its modification time
// by age. It returns the full path.
func WriteSpoolFile(t testing.TB, dir, name, body string, age time.Duration) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}

	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

// SnapshotJSON returns a snapshot document with one floating chartable
// series holding a single [0, value, "sensor1"] record.
func SnapshotJSON(timestamp int64, uid, label string, value float64) string {
	return fmt.Sprintf(`{"chartable": {%q: {"base_type": "floating", "description": "d", "data": [[0, %v, "sensor1"]]}}, "timestamp": %d, "uid": %q, "agent": "sentry3", "hostname": "h1"}`,
		label, value, timestamp, uid)
}

// SnapshotName returns the spool file name for (timestamp, uid).
func SnapshotName(timestamp int64, uid string) string {
	return fmt.Sprintf("%d_%s.json", timestamp, uid)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// =============================================================================
// Error Channel Pattern
// =============================================================================

// GoroutineTest provides safe testing utilities for goroutines.
//
// Example usage:
//
//	func TestConcurrentUpserts(t *testing.T) {
//	    gt := testutil.NewGoroutineTest(t)
//	    defer gt.Wait()
//
//	    gt.Go(func() error {
//	        if _, err := st.UpsertAgent(ctx, agent); err != nil {
//	            return fmt.Errorf("upsert: %w", err)
//	        }
//	        return nil
//	    })
//	}
type GoroutineTest struct {
	t      testing.TB
	wg     sync.WaitGroup
	errors chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a new GoroutineTest helper.
func NewGoroutineTest(t testing.TB) *GoroutineTest {
	return NewGoroutineTestWithTimeout(t, 30*time.Second)
}

// NewGoroutineTestWithTimeout creates a GoroutineTest whose context expires
// after timeout.
func NewGoroutineTestWithTimeout(t testing.TB, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{
		t:      t,
		errors: make(chan error, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the helper's context.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// Go runs fn in a goroutine and collects its error.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(); err != nil {
			select {
			case gt.errors <- err:
			default:
				gt.t.Logf("Error channel full, dropping error: %v", err)
			}
		}
	}()
}

// Wait waits for all goroutines and fails the test if any returned an error.
func (gt *GoroutineTest) Wait() {
	gt.wg.Wait()
	gt.cancel()
	close(gt.errors)

	var failed bool
	for err := range gt.errors {
		gt.t.Errorf("goroutine error: %v", err)
		failed = true
	}
	if failed {
		gt.t.FailNow()
	}
}
