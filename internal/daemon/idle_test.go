package daemon

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestIdleTimer_Fires(t *testing.T) {
	done := make(chan struct{})
	timer := NewIdleTimer(50*time.Millisecond, nil, func() { close(done) })
	timer.Reset()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for idle timer to fire")
	}
}

func TestIdleTimer_Cancel(t *testing.T) {
	var fired atomic.Bool
	timer := NewIdleTimer(50*time.Millisecond, nil, func() { fired.Store(true) })
	timer.Reset()
	timer.Cancel()

	time.Sleep(150 * time.Millisecond)
	if fired.Load() {
		t.Error("callback should not fire after Cancel")
	}
}

func TestIdleTimer_ResetExtends(t *testing.T) {
	start := time.Now()
	done := make(chan time.Time, 1)
	timer := NewIdleTimer(100*time.Millisecond, nil, func() { done <- time.Now() })
	timer.Reset()

	time.Sleep(60 * time.Millisecond)
	timer.Reset()

	select {
	case at := <-done:
		if at.Sub(start) < 150*time.Millisecond {
			t.Errorf("fired after %v, expected the reset to extend the countdown", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for idle timer to fire")
	}
}

func TestIdleTimer_BusyRearms(t *testing.T) {
	var checks atomic.Int32
	done := make(chan struct{})
	timer := NewIdleTimer(30*time.Millisecond,
		func() bool { return checks.Add(1) < 3 },
		func() { close(done) })
	timer.Reset()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for idle timer to fire")
	}
	if c := checks.Load(); c != 3 {
		t.Errorf("expected 3 busy checks, got %d", c)
	}
}

func TestIdleTimer_FiresOnce(t *testing.T) {
	var count atomic.Int32
	timer := NewIdleTimer(20*time.Millisecond, nil, func() { count.Add(1) })
	timer.Reset()
	time.Sleep(80 * time.Millisecond)
	timer.Reset()
	time.Sleep(80 * time.Millisecond)

	if c := count.Load(); c != 1 {
		t.Errorf("expected callback to fire once, got %d", c)
	}
}

func TestIdleTimer_ZeroDurationDisabled(t *testing.T) {
	timer := NewIdleTimer(0, nil, func() { t.Error("callback should not fire") })
	timer.Reset()
	time.Sleep(30 * time.Millisecond)
	timer.Cancel()
}

func TestIdleTimer_CancelBeforeReset(t *testing.T) {
	timer := NewIdleTimer(50*time.Millisecond, nil, func() {
		t.Error("callback should not fire")
	})
	timer.Cancel()
}
