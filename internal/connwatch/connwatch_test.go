package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxRetries:   5,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

func testManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBackoffDefaults(t *testing.T) {
	got := BackoffConfig{MaxRetries: 3}.withDefaults()
	want := DefaultBackoffConfig()
	want.MaxRetries = 3
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("withDefaults mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcher_ImmediateSuccess(t *testing.T) {
	m := testManager()
	defer m.Stop()

	w := m.Watch(context.Background(), "ollama", func(context.Context) error { return nil }, testBackoff())
	waitFor(t, "ready", w.IsReady)

	if s := w.Status(); s.LastError != "" || s.LastCheck.IsZero() {
		t.Errorf("status = %+v, want a clean check", s)
	}
}

func TestWatcher_BackoffThenSuccess(t *testing.T) {
	var calls atomic.Int32
	m := testManager()
	defer m.Stop()

	w := m.Watch(context.Background(), "mqtt", func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, testBackoff())

	waitFor(t, "ready", w.IsReady)
	if n := calls.Load(); n < 3 {
		t.Errorf("probe calls = %d, want at least 3", n)
	}
}

func TestWatcher_GoesDownAndRecovers(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	m := testManager()
	defer m.Stop()
	w := m.Watch(context.Background(), "ollama", func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("timeout")
	}, testBackoff())

	waitFor(t, "ready", w.IsReady)

	healthy.Store(false)
	waitFor(t, "down", func() bool { return !w.IsReady() })
	if got := w.Status().LastError; got != "timeout" {
		t.Errorf("LastError = %q, want timeout", got)
	}

	healthy.Store(true)
	waitFor(t, "recovered", w.IsReady)
}

func TestWatcher_ProbeTimeout(t *testing.T) {
	m := testManager()
	defer m.Stop()

	b := testBackoff()
	b.MaxRetries = 1
	b.ProbeTimeout = 5 * time.Millisecond
	w := m.Watch(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, b)

	waitFor(t, "first check", func() bool { return !w.Status().LastCheck.IsZero() })
	if w.IsReady() {
		t.Error("slow service reported ready")
	}
}

func TestManager_Services(t *testing.T) {
	m := testManager()
	defer m.Stop()

	ok := func(context.Context) error { return nil }
	m.Watch(context.Background(), "mqtt", ok, testBackoff())
	m.Watch(context.Background(), "anthropic", ok, testBackoff())
	m.Watch(context.Background(), "mqtt", ok, testBackoff())

	got := m.Services()
	if len(got) != 2 {
		t.Fatalf("services = %+v, want 2", got)
	}
	if got[0].Name != "anthropic" || got[1].Name != "mqtt" {
		t.Errorf("services not sorted by name: %+v", got)
	}
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := testManager()
	w := m.Watch(ctx, "x", func(context.Context) error { return errors.New("down") }, testBackoff())

	cancel()
	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not exit after cancel")
	}
}
