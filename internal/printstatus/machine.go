// Package printstatus tracks the kitchen-ticket print state of each order.
//
// States move none -> printing -> printed | failed; a terminal state only
// leaves through Start (reprint) or Reset (recall). Entering printing arms a
// timeout; if no terminal event arrives first the order fails with
// PRINT_TIMEOUT. A recall resets the order to none. Print state is not
// persisted.
package printstatus

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/schedule"
	"github.com/roach88/ordersync/internal/syncerr"
)

// DefaultTimeout is how long an order may stay in printing.
const DefaultTimeout = 30 * time.Second

// Transition is delivered to OnChange listeners.
type Transition struct {
	OrderID string
	From    model.PrintStatus
	To      model.PrintStatus
	Err     error
	At      time.Time
}

// Dispatch runs fn on the goroutine that owns the order state. Timer
// callbacks go through it so timeouts serialize with transport events.
type Dispatch func(fn func())

type entry struct {
	status   model.PrintStatus
	timer    schedule.Timer
	deadline time.Time
	gen      uint64
	err      error
}

// Machine holds per-order print state.
type Machine struct {
	mu       sync.Mutex
	sched    schedule.Scheduler
	timeout  time.Duration
	dispatch Dispatch
	logger   *slog.Logger
	orders   map[string]*entry
	disposed bool

	listeners map[int]func(Transition)
	nextID    int
}

// Option configures a Machine.
type Option func(*Machine)

func WithTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithDispatch(d Dispatch) Option {
	return func(m *Machine) { m.dispatch = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// New returns a Machine whose timers come from s.
func New(s schedule.Scheduler, opts ...Option) *Machine {
	m := &Machine{
		sched:     s,
		timeout:   DefaultTimeout,
		dispatch:  func(fn func()) { fn() },
		logger:    slog.Default(),
		orders:    make(map[string]*entry),
		listeners: make(map[int]func(Transition)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start moves an order into printing and arms the timeout. Starting an
// order that is already printing leaves its timer alone. A printed or
// failed order may be started again (reprint).
func (m *Machine) Start(orderID string) bool {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return false
	}
	e := m.entryLocked(orderID)
	if e.status == model.PrintPrinting {
		m.mu.Unlock()
		return false
	}
	t := m.enterPrintingLocked(orderID, e)
	m.mu.Unlock()

	m.emit(t)
	return true
}

// MarkPrinted commits the printed state. An order still in none passes
// through printing first; a printed or failed order ignores the event.
func (m *Machine) MarkPrinted(orderID string) {
	m.finish(orderID, model.PrintPrinted, nil)
}

// MarkFailed commits the failed state with reason. Like MarkPrinted it only
// acts on orders in none or printing.
func (m *Machine) MarkFailed(orderID, reason string) {
	err := errors.New("printer reported failure")
	if reason != "" {
		err = fmt.Errorf("printer reported failure: %s", reason)
	}
	m.finish(orderID, model.PrintFailed, err)
}

// Reset returns an order to none and cancels its timer.
func (m *Machine) Reset(orderID string) {
	m.mu.Lock()
	e, ok := m.orders[orderID]
	if !ok || m.disposed {
		m.mu.Unlock()
		return
	}
	from := e.status
	m.stopLocked(e)
	delete(m.orders, orderID)
	m.mu.Unlock()

	if from != model.PrintNone {
		m.emit(Transition{OrderID: orderID, From: from, To: model.PrintNone, At: m.sched.Now()})
	}
}

// Status returns the current state, none for unknown orders.
func (m *Machine) Status(orderID string) model.PrintStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.orders[orderID]; ok {
		return e.status
	}
	return model.PrintNone
}

// Failure returns why an order failed, or nil.
func (m *Machine) Failure(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.orders[orderID]; ok && e.status == model.PrintFailed {
		return e.err
	}
	return nil
}

// Rekey moves the print state tracked under from to to, keeping the
// deadline of a running timeout. When to already has print state the
// entry under from is dropped.
func (m *Machine) Rekey(from, to string) {
	if from == to || to == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.orders[from]
	if !ok || m.disposed {
		return
	}
	delete(m.orders, from)
	if cur, ok := m.orders[to]; ok && cur.status != model.PrintNone {
		m.stopLocked(e)
		return
	}
	m.orders[to] = e
	if e.status == model.PrintPrinting {
		m.stopLocked(e)
		m.armLocked(to, e, e.deadline.Sub(m.sched.Now()))
	}
}

// Pending counts armed timers.
func (m *Machine) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.orders {
		if e.timer != nil {
			n++
		}
	}
	return n
}

// Dispose cancels every timer. The machine ignores all later calls.
func (m *Machine) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.orders {
		m.stopLocked(e)
	}
	m.orders = make(map[string]*entry)
	m.disposed = true
}

// OnChange registers fn and returns a func that unregisters it.
func (m *Machine) OnChange(fn func(Transition)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Machine) finish(orderID string, to model.PrintStatus, err error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	e := m.entryLocked(orderID)
	if from := e.status; from == model.PrintPrinted || from == model.PrintFailed {
		m.mu.Unlock()
		m.logger.Debug("print event ignored", "order_id", orderID, "status", from, "event", to)
		return
	}
	var out []Transition
	if e.status == model.PrintNone {
		out = append(out, m.enterPrintingLocked(orderID, e))
	}
	out = append(out, m.commitLocked(orderID, e, to, err))
	m.mu.Unlock()

	for _, t := range out {
		m.emit(t)
	}
}

func (m *Machine) expire(orderID string, gen uint64) {
	m.mu.Lock()
	e, ok := m.orders[orderID]
	if !ok || m.disposed || e.gen != gen || e.status != model.PrintPrinting {
		m.mu.Unlock()
		return
	}
	e.timer = nil
	t := m.commitLocked(orderID, e, model.PrintFailed, syncerr.PrintTimeout(orderID))
	m.mu.Unlock()

	m.logger.Warn("print timed out", "order_id", orderID, "timeout", m.timeout)
	m.emit(t)
}

func (m *Machine) entryLocked(orderID string) *entry {
	e, ok := m.orders[orderID]
	if !ok {
		e = &entry{status: model.PrintNone}
		m.orders[orderID] = e
	}
	return e
}

func (m *Machine) enterPrintingLocked(orderID string, e *entry) Transition {
	from := e.status
	m.stopLocked(e)
	e.status = model.PrintPrinting
	e.err = nil
	e.deadline = m.sched.Now().Add(m.timeout)
	m.armLocked(orderID, e, m.timeout)
	return Transition{OrderID: orderID, From: from, To: model.PrintPrinting, At: m.sched.Now()}
}

func (m *Machine) armLocked(orderID string, e *entry, d time.Duration) {
	gen := e.gen
	e.timer = m.sched.AfterFunc(d, func() {
		m.dispatch(func() { m.expire(orderID, gen) })
	})
}

func (m *Machine) commitLocked(orderID string, e *entry, to model.PrintStatus, err error) Transition {
	from := e.status
	m.stopLocked(e)
	e.status = to
	e.err = err
	return Transition{OrderID: orderID, From: from, To: to, Err: err, At: m.sched.Now()}
}

func (m *Machine) stopLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
}

func (m *Machine) emit(t Transition) {
	m.mu.Lock()
	fns := make([]func(Transition), 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(t)
	}
}
