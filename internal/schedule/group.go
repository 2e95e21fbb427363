package schedule

import (
	"sync"
	"time"
)

// Group tracks every timer created through it so a tenant context can be
// torn down as a unit. After StopAll the group refuses new timers and
// swallows callbacks that were already in flight.
type Group struct {
	s      Scheduler
	mu     sync.Mutex
	timers map[*groupTimer]struct{}
	closed bool
}

// NewGroup wraps s.
func NewGroup(s Scheduler) *Group {
	return &Group{s: s, timers: make(map[*groupTimer]struct{})}
}

type groupTimer struct {
	g  *Group
	mu sync.Mutex
	t  Timer
}

// AfterFunc implements Scheduler.
func (g *Group) AfterFunc(d time.Duration, f func()) Timer {
	return g.add(func(gt *groupTimer) Timer {
		return g.s.AfterFunc(d, func() {
			g.forget(gt)
			if !g.isClosed() {
				f()
			}
		})
	})
}

// Every implements Scheduler.
func (g *Group) Every(d time.Duration, f func()) Timer {
	return g.add(func(*groupTimer) Timer {
		return g.s.Every(d, func() {
			if !g.isClosed() {
				f()
			}
		})
	})
}

// Now implements Scheduler.
func (g *Group) Now() time.Time {
	return g.s.Now()
}

// Len returns the number of live timers owned by the group.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

// StopAll stops every live timer and closes the group.
func (g *Group) StopAll() {
	g.mu.Lock()
	g.closed = true
	timers := make([]*groupTimer, 0, len(g.timers))
	for gt := range g.timers {
		timers = append(timers, gt)
	}
	g.timers = make(map[*groupTimer]struct{})
	g.mu.Unlock()

	for _, gt := range timers {
		gt.stopInner()
	}
}

func (g *Group) add(schedule func(*groupTimer) Timer) Timer {
	gt := &groupTimer{g: g}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return stopped{}
	}
	g.timers[gt] = struct{}{}
	g.mu.Unlock()

	gt.mu.Lock()
	gt.t = schedule(gt)
	gt.mu.Unlock()
	return gt
}

func (g *Group) forget(gt *groupTimer) {
	g.mu.Lock()
	delete(g.timers, gt)
	g.mu.Unlock()
}

func (g *Group) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (gt *groupTimer) Stop() bool {
	gt.g.forget(gt)
	return gt.stopInner()
}

func (gt *groupTimer) stopInner() bool {
	gt.mu.Lock()
	defer gt.mu.Unlock()
	if gt.t == nil {
		return false
	}
	return gt.t.Stop()
}

type stopped struct{}

func (stopped) Stop() bool { return false }
