package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ordersync/internal/course"
	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/notify"
	"github.com/roach88/ordersync/internal/orderstore"
	"github.com/roach88/ordersync/internal/schedule"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

// recorder is a notify.Sink collecting everything it receives.
type recorder struct {
	mu    sync.Mutex
	items []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

func (r *recorder) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Kind
	for _, n := range r.items {
		out = append(out, n.Kind)
	}
	return out
}

type fixture struct {
	eng   *Engine
	clock *schedule.Manual
	sink  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := schedule.NewManual(t0)
	sink := &recorder{}
	eng := New(orderstore.New(), course.NewTracker(0), clock,
		WithSink(sink),
		WithTenant("tenant-1"),
	)
	t.Cleanup(eng.Stop)
	return &fixture{eng: eng, clock: clock, sink: sink}
}

// send queues an event and drains the loop synchronously.
func (f *fixture) send(name string, payload map[string]any) {
	f.eng.Inbound(name, payload)
	f.eng.RunPending(context.Background())
}

func coursedOrder(id, status string) map[string]any {
	return map[string]any{
		"id":          id,
		"orderNumber": "17",
		"tableName":   "T4",
		"status":      status,
		"checks": []any{map[string]any{
			"id": "chk-1",
			"selections": []any{
				map[string]any{"id": "s-1", "name": "Soup", "price": "6.00"},
			},
		}},
		"courses": []any{
			map[string]any{"id": "c-1", "name": "Starters", "sortOrder": 1, "fireStatus": "FIRED"},
			map[string]any{"id": "c-2", "name": "Mains", "sortOrder": 2, "fireStatus": "PENDING"},
		},
	}
}

func TestEngine_OrderNewAndUpdated(t *testing.T) {
	f := newFixture(t)

	f.send(model.EventOrderNew, coursedOrder("ord-1", "confirmed"))
	f.send(model.EventOrderUpdated, map[string]any{"order": coursedOrder("ord-1", "preparing")})

	o, ok := f.eng.Orders().Get("ord-1")
	require.True(t, ok)
	assert.Equal(t, model.StatusInPreparation, o.Status)
	assert.Equal(t, int64(2), f.eng.Clock().Current(), "each processed event advances the clock")
}

func TestEngine_PlaceholderReplacedByLocalID(t *testing.T) {
	f := newFixture(t)
	f.eng.Orders().Upsert(model.Order{ID: "local-1", LocalID: "local-1", Status: model.StatusReceived, IsQueued: true})
	f.eng.Orders().Upsert(model.Order{ID: "ord-0", Status: model.StatusReceived})

	payload := coursedOrder("ord-9", "confirmed")
	payload["localId"] = "local-1"
	payload["totalAmount"] = "12.50"
	f.send(model.EventOrderNew, payload)

	all := f.eng.Orders().All()
	require.Len(t, all, 2)
	assert.Equal(t, "ord-9", all[0].ID, "authoritative order takes the placeholder slot")
	assert.False(t, all[0].IsQueued)
	assert.True(t, all[0].TotalAmount.Equal(decimal.RequireFromString("12.5")))
	_, ok := f.eng.Orders().Get("local-1")
	assert.False(t, ok)
}

func TestEngine_PlaceholderMatchMovesPrintState(t *testing.T) {
	f := newFixture(t)
	f.eng.Orders().Upsert(model.Order{ID: "local-1", LocalID: "local-1", Status: model.StatusReceived, IsQueued: true})
	f.eng.Prints().Start("local-1")

	payload := coursedOrder("ord-9", "confirmed")
	payload["localId"] = "local-1"
	f.send(model.EventOrderNew, payload)

	assert.Equal(t, model.PrintNone, f.eng.Prints().Status("local-1"))
	assert.Equal(t, model.PrintPrinting, f.eng.Prints().Status("ord-9"))

	f.send(model.EventOrderPrinted, map[string]any{"orderId": "ord-9"})
	f.clock.Advance(time.Minute)
	f.eng.RunPending(context.Background())
	assert.Equal(t, model.PrintPrinted, f.eng.Prints().Status("ord-9"))
	assert.Empty(t, f.sink.kinds())
}

func TestEngine_ReplaceLocalMovesPrintTimeout(t *testing.T) {
	f := newFixture(t)
	f.eng.Orders().Upsert(model.Order{ID: "local-1", LocalID: "local-1", Status: model.StatusInPreparation, IsQueued: true})
	f.eng.Prints().Start("local-1")
	f.clock.Advance(10 * time.Second)

	f.eng.ReplaceLocal("local-1", model.Order{ID: "ord-100", Status: model.StatusInPreparation})

	f.clock.Advance(21 * time.Second)
	f.eng.RunPending(context.Background())

	assert.Equal(t, model.PrintNone, f.eng.Prints().Status("local-1"))
	assert.Equal(t, model.PrintFailed, f.eng.Prints().Status("ord-100"))
	require.Equal(t, []notify.Kind{notify.KindPrintFailed}, f.sink.kinds())
	assert.Equal(t, "ord-100", f.sink.items[0].OrderID)

	_, ok := f.eng.Orders().Get("ord-100")
	assert.True(t, ok)
}

func TestEngine_ServerRecallResetsPrintStatus(t *testing.T) {
	f := newFixture(t)
	f.send(model.EventOrderNew, coursedOrder("ord-1", "ready"))
	f.eng.Prints().Start("ord-1")
	f.send(model.EventOrderPrinted, map[string]any{"orderId": "ord-1"})
	require.Equal(t, model.PrintPrinted, f.eng.Prints().Status("ord-1"))

	f.send(model.EventOrderUpdated, coursedOrder("ord-1", "preparing"))

	assert.Equal(t, model.PrintNone, f.eng.Prints().Status("ord-1"))
}

func TestEngine_CancelledKeepsOrderAsVoided(t *testing.T) {
	f := newFixture(t)
	f.send(model.EventOrderNew, coursedOrder("ord-1", "confirmed"))

	f.send(model.EventOrderCancelled, map[string]any{"orderId": "ord-1"})

	o, ok := f.eng.Orders().Get("ord-1")
	require.True(t, ok, "cancelled orders stay in the store")
	assert.Equal(t, model.StatusVoided, o.Status)
	assert.Len(t, f.eng.Orders().Closed(), 1)
}

func TestEngine_CancelledWithBodyIsVoidedEvenIfBodySaysOtherwise(t *testing.T) {
	f := newFixture(t)
	f.send(model.EventOrderCancelled, coursedOrder("ord-2", "preparing"))

	o, ok := f.eng.Orders().Get("ord-2")
	require.True(t, ok)
	assert.Equal(t, model.StatusVoided, o.Status)
}

func TestEngine_PrintTerminalEvents(t *testing.T) {
	f := newFixture(t)

	f.eng.Prints().Start("ord-1")
	f.send(model.EventOrderPrintFailed, map[string]any{"orderId": "ord-1", "reason": "paper out"})

	assert.Equal(t, model.PrintFailed, f.eng.Prints().Status("ord-1"))
	assert.Equal(t, []notify.Kind{notify.KindPrintFailed}, f.sink.kinds())
}

func TestEngine_PrintTimeoutRunsThroughLoop(t *testing.T) {
	f := newFixture(t)
	f.eng.Prints().Start("ord-1")

	f.clock.Advance(29 * time.Second)
	f.eng.RunPending(context.Background())
	assert.Equal(t, model.PrintPrinting, f.eng.Prints().Status("ord-1"))

	f.clock.Advance(time.Second)
	assert.Equal(t, model.PrintPrinting, f.eng.Prints().Status("ord-1"),
		"timeout is dispatched, not applied on the timer goroutine")
	assert.Equal(t, 1, f.eng.RunPending(context.Background()))
	assert.Equal(t, model.PrintFailed, f.eng.Prints().Status("ord-1"))
	assert.Equal(t, []notify.Kind{notify.KindPrintFailed}, f.sink.kinds())
}

func TestEngine_PrintedAt29sCancelsTimeout(t *testing.T) {
	f := newFixture(t)
	f.eng.Prints().Start("ord-1")

	f.clock.Advance(29 * time.Second)
	f.send(model.EventOrderPrinted, map[string]any{"orderId": "ord-1"})
	f.clock.Advance(time.Minute)
	f.eng.RunPending(context.Background())

	assert.Equal(t, model.PrintPrinted, f.eng.Prints().Status("ord-1"))
	assert.Empty(t, f.sink.kinds())
}

func TestEngine_CourseReadyRaisesCourseComplete(t *testing.T) {
	f := newFixture(t)
	f.send(model.EventOrderNew, coursedOrder("ord-1", "preparing"))

	f.send(model.EventCourseUpdated, map[string]any{
		"orderId":    "ord-1",
		"courseId":   "c-1",
		"fireStatus": "READY",
		"readyAt":    "2026-03-01T18:20:00Z",
	})

	o, _ := f.eng.Orders().Get("ord-1")
	c := o.CourseByID("c-1")
	require.NotNil(t, c)
	assert.Equal(t, model.FireReady, c.FireStatus)
	require.NotNil(t, c.ReadyAt)

	require.Equal(t, []notify.Kind{notify.KindCourseComplete}, f.sink.kinds())
	done := f.eng.Tracker().Completions()
	require.Len(t, done, 1)
	assert.Equal(t, "c-2", done[0].NextCourseID)
	assert.Equal(t, "T4", done[0].TableName)
}

func TestEngine_CourseUpdateNeverRegresses(t *testing.T) {
	f := newFixture(t)
	f.send(model.EventOrderNew, coursedOrder("ord-1", "preparing"))

	f.send(model.EventCourseUpdated, map[string]any{"orderId": "ord-1", "courseId": "c-1", "fireStatus": "PENDING"})

	o, _ := f.eng.Orders().Get("ord-1")
	assert.Equal(t, model.FireFired, o.CourseByID("c-1").FireStatus)
	assert.Empty(t, f.sink.kinds())
}

func TestEngine_CourseUpdateUnknownCourseIsAppended(t *testing.T) {
	f := newFixture(t)
	f.send(model.EventOrderNew, coursedOrder("ord-1", "preparing"))

	f.send(model.EventCourseUpdated, map[string]any{"orderId": "ord-1", "courseId": "c-9", "fireStatus": "FIRED"})

	o, _ := f.eng.Orders().Get("ord-1")
	c := o.CourseByID("c-9")
	require.NotNil(t, c)
	assert.Equal(t, model.FireFired, c.FireStatus)
}

func TestEngine_ItemsReadyFlipsStatus(t *testing.T) {
	f := newFixture(t)
	f.send(model.EventOrderNew, coursedOrder("ord-1", "preparing"))

	f.send(model.EventItemsReady, map[string]any{
		"orderId":     "ord-1",
		"stationName": "Grill",
		"items":       []any{"Burger"},
		"allReady":    false,
	})
	o, _ := f.eng.Orders().Get("ord-1")
	assert.Equal(t, model.StatusInPreparation, o.Status)

	f.send(model.EventItemsReady, map[string]any{"orderId": "ord-1", "stationName": "Fry", "allReady": true})

	o, _ = f.eng.Orders().Get("ord-1")
	assert.Equal(t, model.StatusReadyForPickup, o.Status)

	batches := f.eng.Tracker().ReadyBatches()
	require.Len(t, batches, 2)
	assert.Equal(t, "Fry", batches[0].StationName, "most recent first")
	assert.Equal(t, "17", batches[0].OrderNumber, "filled from the store")
}

func TestEngine_ItemsReadyDoesNotReopenClosedOrder(t *testing.T) {
	f := newFixture(t)
	f.send(model.EventOrderNew, coursedOrder("ord-1", "completed"))

	f.send(model.EventItemsReady, map[string]any{"orderId": "ord-1", "allReady": true})

	o, _ := f.eng.Orders().Get("ord-1")
	assert.Equal(t, model.StatusClosed, o.Status)
}

func TestEngine_ScanToPayMarksCheckPaid(t *testing.T) {
	f := newFixture(t)
	f.send(model.EventOrderNew, coursedOrder("ord-1", "ready"))

	payload := map[string]any{
		"orderId":   "ord-1",
		"checkId":   "chk-1",
		"paymentId": "pay-1",
		"amount":    "6.00",
		"tipAmount": 1.5,
	}
	f.send(model.EventScanToPay, payload)
	f.send(model.EventScanToPay, payload)

	o, _ := f.eng.Orders().Get("ord-1")
	chk := o.Checks[0]
	assert.Equal(t, model.PaymentPaid, chk.PaymentStatus)
	require.Len(t, chk.Payments, 1, "redelivered notice is not applied twice")
	assert.Equal(t, MethodScanToPay, chk.Payments[0].Method)
	assert.True(t, chk.Payments[0].TipAmount.Equal(decimal.RequireFromString("1.5")))
	assert.Len(t, f.eng.Tracker().Payments(), 2)
}

func TestEngine_DeliveryLocation(t *testing.T) {
	f := newFixture(t)
	f.send(model.EventOrderNew, coursedOrder("ord-1", "ready"))

	f.send(model.EventDeliveryLocation, map[string]any{
		"orderId":  "ord-1",
		"status":   "en_route",
		"location": map[string]any{"lat": 40.7, "lng": -73.9},
	})

	o, _ := f.eng.Orders().Get("ord-1")
	require.NotNil(t, o.Delivery)
	assert.Equal(t, "en_route", o.Delivery.Status)
	require.NotNil(t, o.Delivery.Latitude)
	assert.InDelta(t, 40.7, *o.Delivery.Latitude, 1e-9)
}

func TestEngine_BadEventsAreLoggedAndSkipped(t *testing.T) {
	f := newFixture(t)

	f.eng.Inbound(model.EventCourseUpdated, map[string]any{"orderId": "missing", "courseId": "c-1", "fireStatus": "READY"})
	f.eng.Inbound(model.EventOrderPrinted, map[string]any{})
	f.eng.Inbound("order:teleported", map[string]any{"orderId": "ord-1"})
	f.eng.Inbound(model.EventOrderNew, coursedOrder("ord-1", "confirmed"))

	n := f.eng.RunPending(context.Background())

	assert.Equal(t, 4, n)
	_, ok := f.eng.Orders().Get("ord-1")
	assert.True(t, ok, "processing continues after failures")
}

func TestEngine_ProcessErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.eng.processInbound(ctx, model.EventOrderCancelled, map[string]any{"orderId": "nope"})
	assert.True(t, IsUnknownOrder(err))

	err = f.eng.processInbound(ctx, model.EventDeliveryLocation, map[string]any{"status": "x"})
	assert.True(t, IsMissingOrderID(err))

	err = f.eng.processInbound(ctx, "order:teleported", map[string]any{})
	var pe *ProcessError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrCodeInvalidEvent, pe.Code)
}

func TestEngine_RunAndDo(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.eng.Run(ctx) }()

	f.eng.Inbound(model.EventOrderNew, coursedOrder("ord-1", "confirmed"))

	var seen bool
	require.NoError(t, f.eng.Do(ctx, func() {
		_, seen = f.eng.Orders().Get("ord-1")
	}))
	assert.True(t, seen, "Do runs after previously queued events")

	f.eng.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	assert.ErrorIs(t, f.eng.Do(ctx, func() {}), ErrStopped)
	f.eng.Inbound(model.EventOrderNew, coursedOrder("ord-2", "confirmed"))
	assert.Zero(t, f.eng.RunPending(ctx))
}

func TestEngine_RunStopsOnContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.eng.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
