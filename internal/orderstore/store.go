// Package orderstore holds the per-tenant in-memory order collection.
//
// The store is written by one goroutine (the tenant engine) and read by
// anyone. Views are pure filters over the current snapshot. Updates are
// last-applied-wins: there is no version guard against an older snapshot
// replacing a newer local edit.
package orderstore

import (
	"reflect"
	"sync"

	"github.com/roach88/ordersync/internal/model"
)

// Change describes one store mutation delivered to listeners.
type Change struct {
	Order   model.Order
	Removed bool
	Version uint64
}

// Listener receives changes after the store lock is released.
type Listener func(Change)

// Store is an insertion-ordered collection keyed by order id.
type Store struct {
	mu      sync.RWMutex
	orders  []model.Order
	index   map[string]int
	version uint64

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		index:     make(map[string]int),
		listeners: make(map[int]Listener),
	}
}

// Upsert inserts o or replaces the order with the same id. An incoming
// order whose LocalID names a queued placeholder takes over that slot.
// Course fire status is merged monotonically. Returns false when the
// result is identical to what was stored.
func (s *Store) Upsert(o model.Order) bool {
	o = o.Clone()

	s.mu.Lock()
	i, ok := s.index[o.ID]
	if !ok && o.LocalID != "" {
		i, ok = s.placeholderLocked(o.LocalID)
	}
	if !ok {
		s.insertLocked(o)
		v := s.version
		s.mu.Unlock()
		s.emit(Change{Order: o.Clone(), Version: v})
		return true
	}

	prev := s.orders[i]
	mergeCourses(&o, prev)
	if reflect.DeepEqual(prev, o) {
		s.mu.Unlock()
		return false
	}
	s.replaceLocked(i, o)
	v := s.version
	s.mu.Unlock()

	s.emit(Change{Order: o.Clone(), Version: v})
	return true
}

// ReplaceLocal swaps the placeholder created for localID with the
// authoritative order, keeping the placeholder's position. If the
// authoritative order already arrived through another path, that copy is
// replaced and the placeholder is dropped. Without a placeholder this is a
// plain Upsert.
func (s *Store) ReplaceLocal(localID string, o model.Order) bool {
	o = o.Clone()
	o.IsQueued = false
	if o.LocalID == "" {
		o.LocalID = localID
	}

	s.mu.Lock()
	pi, hasPlaceholder := s.placeholderLocked(localID)
	if !hasPlaceholder {
		s.mu.Unlock()
		return s.Upsert(o)
	}

	placeholder := s.orders[pi]
	var changes []Change
	if existing, ok := s.index[o.ID]; ok && existing != pi {
		mergeCourses(&o, s.orders[existing])
		s.replaceLocked(existing, o)
		s.removeLocked(pi)
		changes = append(changes,
			Change{Order: placeholder, Removed: true, Version: s.version},
			Change{Order: o.Clone(), Version: s.version})
	} else {
		s.replaceLocked(pi, o)
		changes = append(changes, Change{Order: o.Clone(), Version: s.version})
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.emit(c)
	}
	return true
}

// SetStatus applies an optimistic status change.
func (s *Store) SetStatus(id string, status model.OrderStatus) (model.Order, bool) {
	return s.Update(id, func(o *model.Order) {
		o.Status = status
	})
}

// Update applies fn to a copy of the order and stores the result. Returns
// false when the order is unknown.
func (s *Store) Update(id string, fn func(*model.Order)) (model.Order, bool) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return model.Order{}, false
	}
	next := s.orders[i].Clone()
	fn(&next)
	if reflect.DeepEqual(s.orders[i], next) {
		s.mu.Unlock()
		return next.Clone(), true
	}
	s.replaceLocked(i, next)
	v := s.version
	s.mu.Unlock()

	out := next.Clone()
	s.emit(Change{Order: next, Version: v})
	return out, true
}

// ResetCourse moves a course back to PENDING. This is the only path that
// lowers a course fire status.
func (s *Store) ResetCourse(orderID, courseID string) bool {
	found := false
	_, ok := s.Update(orderID, func(o *model.Order) {
		c := o.CourseByID(courseID)
		if c == nil {
			return
		}
		found = true
		c.FireStatus = model.FirePending
		c.FiredAt = nil
		c.ReadyAt = nil
	})
	return ok && found
}

// Get returns a copy of the order with id.
func (s *Store) Get(id string) (model.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return model.Order{}, false
	}
	return s.orders[i].Clone(), true
}

// FindLocal returns the order created from localID, placeholder or not.
func (s *Store) FindLocal(localID string) (model.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ID == localID || o.LocalID == localID {
			return o.Clone(), true
		}
	}
	return model.Order{}, false
}

// Version increments on every effective mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Subscribe registers fn and returns a func that unregisters it.
func (s *Store) Subscribe(fn Listener) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			delete(s.listeners, id)
			s.lmu.Unlock()
		})
	}
}

func (s *Store) emit(c Change) {
	s.lmu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// placeholderLocked finds a queued order created for localID.
func (s *Store) placeholderLocked(localID string) (int, bool) {
	if i, ok := s.index[localID]; ok && s.orders[i].IsQueued {
		return i, true
	}
	for i, o := range s.orders {
		if o.IsQueued && o.LocalID == localID {
			return i, true
		}
	}
	return 0, false
}

func (s *Store) insertLocked(o model.Order) {
	s.index[o.ID] = len(s.orders)
	s.orders = append(s.orders, o)
	s.version++
}

func (s *Store) replaceLocked(i int, o model.Order) {
	if old := s.orders[i].ID; old != o.ID {
		delete(s.index, old)
	}
	s.orders[i] = o
	s.index[o.ID] = i
	s.version++
}

func (s *Store) removeLocked(i int) {
	delete(s.index, s.orders[i].ID)
	s.orders = append(s.orders[:i], s.orders[i+1:]...)
	for j := i; j < len(s.orders); j++ {
		s.index[s.orders[j].ID] = j
	}
	s.version++
}

// mergeCourses keeps each course at the highest fire status seen so far.
func mergeCourses(next *model.Order, prev model.Order) {
	for i := range next.Courses {
		c := &next.Courses[i]
		old := prev.CourseByID(c.ID)
		if old == nil || old.FireStatus.Rank() <= c.FireStatus.Rank() {
			continue
		}
		c.FireStatus = old.FireStatus
		if c.FiredAt == nil {
			c.FiredAt = old.FiredAt
		}
		if c.ReadyAt == nil {
			c.ReadyAt = old.ReadyAt
		}
	}
}
