// Package schedule provides cancellable timers behind an interface so that
// heartbeat, backoff, polling and print timeouts can run against a manual
// clock in tests.
//
// Three implementations:
//   - Real: backed by the time package
//   - Manual: fires timers only when Advance is called
//   - Group: wraps another Scheduler and stops every timer it created as
//     a unit (one Group per tenant context)
package schedule

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop cancels the timer. Returns false if it had already fired (one-shot)
	// or had already been stopped.
	Stop() bool
}

// Scheduler creates timers.
type Scheduler interface {
	// AfterFunc runs f once after d.
	AfterFunc(d time.Duration, f func()) Timer
	// Every runs f every d until stopped. The first run is after d.
	Every(d time.Duration, f func()) Timer
	// Now returns the scheduler's current time.
	Now() time.Time
}

// Real is the wall-clock Scheduler.
type Real struct{}

// AfterFunc implements Scheduler.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Every implements Scheduler.
func (Real) Every(d time.Duration, f func()) Timer {
	t := &ticker{stop: make(chan struct{})}
	tk := time.NewTicker(d)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-tk.C:
				f()
			case <-t.stop:
				return
			}
		}
	}()
	return t
}

// Now implements Scheduler.
func (Real) Now() time.Time {
	return time.Now()
}

type ticker struct {
	once sync.Once
	stop chan struct{}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.stop)
		stopped = true
	})
	return stopped
}
