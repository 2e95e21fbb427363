package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/ordersync/internal/course"
	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/notify"
	"github.com/roach88/ordersync/internal/orderstore"
	"github.com/roach88/ordersync/internal/printstatus"
	"github.com/roach88/ordersync/internal/schedule"
)

// Engine is the single-writer event loop for one tenant.
//
// CRITICAL: All store mutations happen in the Run loop goroutine.
// External callers use Inbound, Dispatch or Do to submit work.
//
// Thread-safety model:
//   - Inbound(), Enqueue(), Dispatch(), Do(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
//   - RunPending(): replaces Run in tests; never both at once
type Engine struct {
	orders  *orderstore.Store
	tracker *course.Tracker
	prints  *printstatus.Machine
	sink    notify.Sink
	tenant  string
	now     func() time.Time
	logger  *slog.Logger
	clock   *Clock
	queue   *eventQueue

	printTimeout time.Duration
	unsubPrint   func()

	stopOnce sync.Once
	stopped  chan struct{}
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithSink sets where course, item, payment and print notices go.
// Default: notify.Discard.
func WithSink(s notify.Sink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithTenant stamps notifications with the tenant id.
func WithTenant(id string) Option {
	return func(e *Engine) {
		e.tenant = id
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithPrintTimeout overrides printstatus.DefaultTimeout.
func WithPrintTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.printTimeout = d
	}
}

// New creates an Engine over the tenant's order store and course tracker.
// The print machine is owned by the engine and runs its timeouts on sched,
// delivered back through the loop.
func New(orders *orderstore.Store, tracker *course.Tracker, sched schedule.Scheduler, opts ...Option) *Engine {
	e := &Engine{
		orders:       orders,
		tracker:      tracker,
		sink:         notify.Discard,
		logger:       slog.Default(),
		clock:        NewClock(),
		queue:        newEventQueue(),
		printTimeout: printstatus.DefaultTimeout,
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.now = sched.Now

	e.prints = printstatus.New(sched,
		printstatus.WithTimeout(e.printTimeout),
		printstatus.WithDispatch(e.Dispatch),
		printstatus.WithLogger(e.logger),
	)
	e.unsubPrint = e.prints.OnChange(e.printChanged)
	return e
}

// Orders returns the store the engine writes.
func (e *Engine) Orders() *orderstore.Store { return e.orders }

// Prints returns the engine-owned print machine.
func (e *Engine) Prints() *printstatus.Machine { return e.prints }

// Tracker returns the notification buffers.
func (e *Engine) Tracker() *course.Tracker { return e.tracker }

// Clock returns the logical clock.
func (e *Engine) Clock() *Clock { return e.clock }

// ReplaceLocal swaps the placeholder for localID with the authoritative
// order and moves its print state to the server id. Call on the loop.
func (e *Engine) ReplaceLocal(localID string, o model.Order) {
	e.orders.ReplaceLocal(localID, o)
	e.prints.Rekey(localID, o.ID)
}

// Enqueue submits an event for processing by the Run loop.
// Returns false if the engine has been stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Inbound queues a realtime event. Its signature matches
// transport.Handler so it can be passed to SubscribeAll directly.
func (e *Engine) Inbound(event string, payload map[string]any) {
	if !e.Enqueue(Event{Type: EventTypeInbound, Name: event, Payload: payload}) {
		e.logger.Debug("inbound event dropped after stop", "event", event)
	}
}

// Dispatch runs fn on the loop goroutine. fn is dropped once the engine
// has stopped.
func (e *Engine) Dispatch(fn func()) {
	e.Enqueue(Event{Type: EventTypeApply, Apply: fn})
}

// Do runs fn on the loop goroutine and waits for it to finish. It must not
// be called from the loop itself.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !e.Enqueue(Event{Type: EventTypeApply, Apply: fn, done: done}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		// fn may still have run just before the stop
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called.
//
// ERROR HANDLING: a processing failure is logged with the event context and
// the loop continues with the next event.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "tenant", e.tenant)

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			e.handle(ctx, event)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled", "tenant", e.tenant)
			e.Stop()
			return ctx.Err()

		case <-e.queue.Wait():
			// the signal channel is closed by Stop; a coalesced signal may
			// also arrive after its events were already drained
			if e.queue.Closed() {
				e.logger.Info("engine stopping: queue closed", "tenant", e.tenant)
				return nil
			}
		}
	}
}

// RunPending processes every queued event, including events queued while
// processing, and returns how many were handled. For tests and scenario
// replay in place of Run.
func (e *Engine) RunPending(ctx context.Context) int {
	n := 0
	for {
		event, ok := e.queue.TryDequeue()
		if !ok {
			return n
		}
		e.handle(ctx, event)
		n++
	}
}

// Stop shuts down the engine. Queued events are dropped, print timers are
// disposed and Run returns.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.queue.Close()
		e.unsubPrint()
		e.prints.Dispose()
		close(e.stopped)
	})
}

func (e *Engine) handle(ctx context.Context, event Event) {
	seq := e.clock.Next()
	if err := e.processEvent(ctx, event); err != nil {
		logEventError(e.logger, seq, event, err)
	}
	if event.done != nil {
		close(event.done)
	}
}

// processEvent routes an event to the appropriate handler.
// CRITICAL: Called only from the loop goroutine.
func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeInbound:
		if event.Payload == nil {
			return invalidEvent(event.Name, "missing payload")
		}
		return e.processInbound(ctx, event.Name, event.Payload)

	case EventTypeApply:
		if event.Apply == nil {
			return fmt.Errorf("apply event missing closure")
		}
		event.Apply()
		return nil

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

func (e *Engine) notify(ctx context.Context, kind notify.Kind, orderID string, data any) {
	n := notify.Notification{
		Kind:     kind,
		TenantID: e.tenant,
		OrderID:  orderID,
		At:       e.now(),
		Data:     data,
	}
	if err := e.sink.Notify(ctx, n); err != nil {
		e.logger.Warn("notification not delivered",
			"kind", kind,
			"order_id", orderID,
			"error", err,
		)
	}
}

// printChanged runs on the loop: print transitions are driven by inbound
// events, session commands through Do, or timeouts through Dispatch.
func (e *Engine) printChanged(t printstatus.Transition) {
	if t.To != model.PrintFailed {
		return
	}
	reason := ""
	if t.Err != nil {
		reason = t.Err.Error()
	}
	e.notify(context.Background(), notify.KindPrintFailed, t.OrderID, map[string]string{"reason": reason})
}

// logEventError logs a processing error with enough context to replay the
// event by hand.
func logEventError(l *slog.Logger, seq int64, event Event, err error) {
	switch event.Type {
	case EventTypeInbound:
		l.Warn("event processing failed",
			"seq", seq,
			"event", event.Name,
			"error", err,
		)
	default:
		l.Error("event processing failed",
			"seq", seq,
			"event_type", event.Type,
			"error", err,
		)
	}
}
