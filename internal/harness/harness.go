package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/ordersync/internal/course"
	"github.com/roach88/ordersync/internal/engine"
	"github.com/roach88/ordersync/internal/notify"
	"github.com/roach88/ordersync/internal/orderstore"
	"github.com/roach88/ordersync/internal/schedule"
)

// DefaultStart is the manual clock's initial time when a scenario sets none.
var DefaultStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// DefaultTenant is used when a scenario names no tenant.
const DefaultTenant = "tenant-1"

// recorder collects notifications in delivery order.
type recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Kind: n.Kind, OrderID: n.OrderID})
	return nil
}

func (r *recorder) list() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice{}, r.notices...)
}

// Harness replays a scenario against a fresh engine.
type Harness struct {
	engine *engine.Engine
	clock  *schedule.Manual
	sink   *recorder
}

// New builds a harness for scenario with a manual clock and a discarding
// logger.
func New(scenario *Scenario) *Harness {
	start := DefaultStart
	if scenario.Start != nil {
		start = *scenario.Start
	}
	tenant := scenario.Tenant
	if tenant == "" {
		tenant = DefaultTenant
	}

	clock := schedule.NewManual(start)
	sink := &recorder{}
	opts := []engine.Option{
		engine.WithSink(sink),
		engine.WithTenant(tenant),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if scenario.PrintTimeout != "" {
		if d, err := time.ParseDuration(scenario.PrintTimeout); err == nil {
			opts = append(opts, engine.WithPrintTimeout(d))
		}
	}
	eng := engine.New(orderstore.New(), course.NewTracker(0), clock, opts...)
	return &Harness{engine: eng, clock: clock, sink: sink}
}

// Engine exposes the replay engine for direct inspection in tests.
func (h *Harness) Engine() *engine.Engine { return h.engine }

// Run replays scenario on a fresh harness and evaluates its assertions.
func Run(scenario *Scenario) (*Result, error) {
	h := New(scenario)
	defer h.engine.Stop()
	return h.Replay(context.Background(), scenario)
}

// Replay feeds every step through the engine, draining the loop after
// each one, then snapshots the state.
func (h *Harness) Replay(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := NewResult(scenario.Name)

	for i, step := range scenario.Steps {
		n := i + 1
		switch {
		case step.Event != "":
			data := step.Data
			if data == nil {
				data = map[string]any{}
			}
			h.engine.Inbound(step.Event, data)
			result.addTrace(n, StepEvent, step.Event)
		case step.StartPrint != "":
			id := step.StartPrint
			h.engine.Dispatch(func() { h.engine.Prints().Start(id) })
			result.addTrace(n, StepStartPrint, id)
		case step.Advance != "":
			d, err := time.ParseDuration(step.Advance)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", n, err)
			}
			h.clock.Advance(d)
			result.addTrace(n, StepAdvance, step.Advance)
		default:
			return nil, fmt.Errorf("step %d: empty step", n)
		}
		h.engine.RunPending(ctx)
	}

	result.Snapshot.Orders = h.orderStates()
	result.Snapshot.Notifications = h.sink.list()

	for _, msg := range EvaluateAssertions(h, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) orderStates() []OrderState {
	orders := h.engine.Orders().All()
	out := make([]OrderState, 0, len(orders))
	for _, o := range orders {
		st := OrderState{
			ID:       o.ID,
			Status:   o.Status,
			Print:    h.engine.Prints().Status(o.ID),
			Throttle: course.ThrottleOf(o).Status,
		}
		for _, c := range o.Courses {
			st.Courses = append(st.Courses, CourseState{ID: c.ID, Fire: c.FireStatus})
		}
		out = append(out, st)
	}
	return out
}
