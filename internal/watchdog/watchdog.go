// Package watchdog provides a cancellable, single-shot inactivity timer.
//
// A Watchdog is armed with a timeout and an expiry callback. Callers Pet it
// to push the deadline back out (the "requeue guard" mode) or simply start
// it and never pet it (the "absolute deadline" mode). If no pet arrives
// before the timeout elapses, the callback runs exactly once on its own
// goroutine. Pet and Stop are both idempotent and are no-ops once the
// watchdog has already fired or been stopped.
package watchdog

import (
	"sync"
	"time"
)

// Watchdog is a one-shot timer that fires onExpire after timeout elapses
// without an intervening Pet. Thousands of these are expected to be live at
// once in a busy scheduler, so each is just a *time.Timer plus a mutex
// rather than a dedicated polling goroutine.
type Watchdog struct {
	timeout  time.Duration
	onExpire func()

	mu      sync.Mutex
	timer   *time.Timer
	fired   bool
	stopped bool
}

// New constructs a Watchdog with the given timeout and expiry callback.
// The watchdog does not run until Start is called.
func New(timeout time.Duration, onExpire func()) *Watchdog {
	return &Watchdog{
		timeout:  timeout,
		onExpire: onExpire,
	}
}

// Start arms the watchdog. Calling Start more than once has no additional
// effect beyond the first call.
func (w *Watchdog) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		return
	}
	w.timer = time.AfterFunc(w.timeout, w.fire)
}

func (w *Watchdog) fire() {
	w.mu.Lock()
	if w.fired || w.stopped {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	w.onExpire()
}

// Pet resets the remaining interval back to the full timeout. A no-op if
// the watchdog has already fired, been stopped, or never started.
func (w *Watchdog) Pet() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fired || w.stopped || w.timer == nil {
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop disarms the watchdog, preventing onExpire from ever running.
// Idempotent; a no-op once the watchdog has already fired.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fired || w.stopped {
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Fired reports whether the watchdog has expired and run its callback.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}
