package course

import (
	"sync"
	"time"

	"github.com/roach88/ordersync/internal/model"
)

// DefaultBufferCap bounds each notification list.
const DefaultBufferCap = 50

// Complete is raised when a course reaches READY and the course after it
// is still waiting to be fired.
type Complete struct {
	OrderID        string    `json:"order_id"`
	OrderNumber    string    `json:"order_number,omitempty"`
	TableName      string    `json:"table_name,omitempty"`
	CourseID       string    `json:"course_id"`
	CourseName     string    `json:"course_name,omitempty"`
	NextCourseID   string    `json:"next_course_id"`
	NextCourseName string    `json:"next_course_name,omitempty"`
	At             time.Time `json:"at"`
}

// Tracker holds the bounded notification lists fed by course, station and
// payment events. Lists are most-recent-first. It never mutates orders;
// callers apply the returned decisions to the store.
type Tracker struct {
	mu          sync.Mutex
	limit       int
	completions []Complete
	ready       []model.ItemsReadyBatch
	payments    []model.ScanToPayCompleted
}

// NewTracker returns a Tracker keeping at most limit entries per list.
// limit <= 0 selects DefaultBufferCap.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultBufferCap
	}
	return &Tracker{limit: limit}
}

// CourseUpdated inspects order after courseID changed. If that course is
// READY and the next course by sort order is PENDING, a Complete notice is
// buffered and returned.
func (t *Tracker) CourseUpdated(order model.Order, courseID string, at time.Time) (Complete, bool) {
	next, done, ok := NextPending(order, courseID)
	if !ok {
		return Complete{}, false
	}
	c := Complete{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		TableName:      order.TableName,
		CourseID:       done.ID,
		CourseName:     done.Name,
		NextCourseID:   next.ID,
		NextCourseName: next.Name,
		At:             at,
	}

	t.mu.Lock()
	t.completions = prepend(t.completions, c, t.limit)
	t.mu.Unlock()
	return c, true
}

// NextPending returns the course following courseID in sort order when
// courseID is READY and its successor is PENDING.
func NextPending(order model.Order, courseID string) (next, done model.Course, ok bool) {
	courses := order.SortedCourses()
	for i, c := range courses {
		if c.ID != courseID {
			continue
		}
		if c.FireStatus != model.FireReady || i+1 >= len(courses) {
			return model.Course{}, model.Course{}, false
		}
		n := courses[i+1]
		if n.FireStatus != model.FirePending {
			return model.Course{}, model.Course{}, false
		}
		return n, c, true
	}
	return model.Course{}, model.Course{}, false
}

// ItemsReady buffers a station batch and reports whether the order should
// be flipped to READY_FOR_PICKUP ahead of the next full order event.
func (t *Tracker) ItemsReady(b model.ItemsReadyBatch) bool {
	t.mu.Lock()
	t.ready = prepend(t.ready, b, t.limit)
	t.mu.Unlock()
	return b.AllReady && b.OrderID != ""
}

// PaymentCompleted buffers a scan-to-pay notice.
func (t *Tracker) PaymentCompleted(p model.ScanToPayCompleted) {
	t.mu.Lock()
	t.payments = prepend(t.payments, p, t.limit)
	t.mu.Unlock()
}

func (t *Tracker) Completions() []Complete {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Complete(nil), t.completions...)
}

func (t *Tracker) ReadyBatches() []model.ItemsReadyBatch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.ItemsReadyBatch(nil), t.ready...)
}

func (t *Tracker) Payments() []model.ScanToPayCompleted {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.ScanToPayCompleted(nil), t.payments...)
}

// Dismiss drops every buffered notice for orderID.
func (t *Tracker) Dismiss(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completions = without(t.completions, func(c Complete) bool { return c.OrderID == orderID })
	t.ready = without(t.ready, func(b model.ItemsReadyBatch) bool { return b.OrderID == orderID })
	t.payments = without(t.payments, func(p model.ScanToPayCompleted) bool { return p.OrderID == orderID })
}

func prepend[T any](list []T, v T, limit int) []T {
	out := make([]T, 0, min(len(list)+1, limit))
	out = append(out, v)
	for _, e := range list {
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out
}

func without[T any](list []T, drop func(T) bool) []T {
	out := list[:0]
	for _, e := range list {
		if !drop(e) {
			out = append(out, e)
		}
	}
	return out
}
