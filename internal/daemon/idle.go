package daemon

import (
	"sync"
	"time"
)

// IdleTimer shuts the daemon down after a period with nothing to do.
// When the countdown expires it asks busy whether work is still in
// flight; if so the countdown starts over, otherwise onIdle runs once.
// A zero duration disables the timer.
type IdleTimer struct {
	duration time.Duration
	busy     func() bool
	onIdle   func()

	mu    sync.Mutex
	timer *time.Timer
	fired bool
}

// NewIdleTimer creates an idle timer. It does not start until Reset.
// busy may be nil.
func NewIdleTimer(duration time.Duration, busy func() bool, onIdle func()) *IdleTimer {
	return &IdleTimer{duration: duration, busy: busy, onIdle: onIdle}
}

// Reset restarts the countdown.
func (t *IdleTimer) Reset() {
	if t == nil || t.duration <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.duration, t.expire)
}

// Cancel stops the countdown without firing.
func (t *IdleTimer) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *IdleTimer) expire() {
	if t.busy != nil && t.busy() {
		t.Reset()
		return
	}
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.onIdle()
}
