package schedule

import (
	"sync"
	"time"
)

// Manual is a deterministic Scheduler. Time only moves when Advance is
// called; due callbacks run synchronously on the caller's goroutine in
// (due time, creation order).
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*manualTimer
}

type manualTimer struct {
	m     *Manual
	id    int
	at    time.Time
	every time.Duration
	f     func()
}

// NewManual creates a Manual scheduler starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, timers: make(map[int]*manualTimer)}
}

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	return m.add(d, 0, f)
}

// Every implements Scheduler.
func (m *Manual) Every(d time.Duration, f func()) Timer {
	return m.add(d, d, f)
}

// Now implements Scheduler.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of live timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves time forward by d, firing every timer that comes due.
// Callbacks may schedule or stop timers; timers scheduled inside the
// window fire in the same call.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.earliestDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = next.at
		if next.every > 0 {
			next.at = next.at.Add(next.every)
		} else {
			delete(m.timers, next.id)
		}
		f := next.f
		m.mu.Unlock()

		f()
	}
}

func (m *Manual) earliestDue(target time.Time) *manualTimer {
	var best *manualTimer
	for _, t := range m.timers {
		if t.at.After(target) {
			continue
		}
		if best == nil || t.at.Before(best.at) || (t.at.Equal(best.at) && t.id < best.id) {
			best = t
		}
	}
	return best
}

func (m *Manual) add(d, every time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &manualTimer{m: m, id: m.nextID, at: m.now.Add(d), every: every, f: f}
	m.timers[t.id] = t
	return t
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.timers[t.id]; !ok {
		return false
	}
	delete(t.m.timers, t.id)
	return true
}
