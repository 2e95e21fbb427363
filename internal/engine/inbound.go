package engine

import (
	"context"

	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/normalize"
	"github.com/roach88/ordersync/internal/notify"
)

// Payment method recorded for scan-to-pay settlements.
const MethodScanToPay = "scan_to_pay"

// processInbound routes a named realtime event.
// CRITICAL: Called only from the loop goroutine.
func (e *Engine) processInbound(ctx context.Context, name string, raw map[string]any) error {
	switch name {
	case model.EventOrderNew, model.EventOrderUpdated:
		return e.applyOrder(name, raw)
	case model.EventOrderCancelled:
		return e.cancelOrder(name, raw)
	case model.EventOrderPrinted:
		id := normalize.OrderID(raw)
		if id == "" {
			return missingOrderID(name)
		}
		e.prints.MarkPrinted(id)
		return nil
	case model.EventOrderPrintFailed:
		id := normalize.OrderID(raw)
		if id == "" {
			return missingOrderID(name)
		}
		e.prints.MarkFailed(id, normalize.Reason(raw))
		return nil
	case model.EventCourseUpdated:
		return e.courseUpdated(ctx, name, raw)
	case model.EventItemsReady:
		return e.itemsReady(ctx, name, raw)
	case model.EventScanToPay:
		return e.scanToPay(ctx, name, raw)
	case model.EventDeliveryLocation:
		return e.deliveryLocation(name, raw)
	default:
		return invalidEvent(name, "unrouted event")
	}
}

func (e *Engine) applyOrder(name string, raw map[string]any) error {
	o, defects := normalize.OrderWithDefects(raw)
	for _, d := range defects {
		e.logger.Debug("order payload defect", "event", name, "order_id", o.ID, "error", d)
	}
	if o.ID == "" {
		return missingOrderID(name)
	}

	prev, had := e.orders.Get(o.ID)
	if !had && o.LocalID != "" {
		prev, had = e.orders.FindLocal(o.LocalID)
	}

	changed := e.orders.Upsert(o)
	if had && prev.ID != o.ID {
		e.prints.Rekey(prev.ID, o.ID)
	}
	e.logger.Debug("order applied",
		"event", name,
		"order_id", o.ID,
		"status", o.Status,
		"changed", changed,
	)

	if had && prev.Status.IsRecall(o.Status) {
		e.prints.Reset(o.ID)
	}
	return nil
}

// cancelOrder never removes the order: VOIDED is just a state.
func (e *Engine) cancelOrder(name string, raw map[string]any) error {
	if normalize.HasOrderBody(raw) {
		o := normalize.Order(raw)
		if o.ID != "" {
			o.Status = model.StatusVoided
			e.orders.Upsert(o)
			e.tracker.Dismiss(o.ID)
			return nil
		}
	}

	id := normalize.OrderID(raw)
	if id == "" {
		return missingOrderID(name)
	}
	e.tracker.Dismiss(id)
	if _, ok := e.orders.SetStatus(id, model.StatusVoided); !ok {
		return unknownOrder(name, id)
	}
	return nil
}

func (e *Engine) courseUpdated(ctx context.Context, name string, raw map[string]any) error {
	u := normalize.CourseUpdate(raw)
	if u.OrderID == "" {
		return missingOrderID(name)
	}
	if u.CourseID == "" {
		return invalidEvent(name, "payload has no course id")
	}

	advanced := false
	updated, ok := e.orders.Update(u.OrderID, func(o *model.Order) {
		c := o.CourseByID(u.CourseID)
		if c == nil {
			o.Courses = append(o.Courses, model.Course{ID: u.CourseID, FireStatus: model.FirePending})
			c = &o.Courses[len(o.Courses)-1]
		}
		if advanced = c.Advance(u.FireStatus, u.At); !advanced {
			return
		}
		for i := range o.Checks {
			for j := range o.Checks[i].Selections {
				ref := o.Checks[i].Selections[j].Course
				if ref != nil && ref.ID == u.CourseID {
					ref.FireStatus = model.MaxFire(ref.FireStatus, u.FireStatus)
				}
			}
		}
	})
	if !ok {
		return unknownOrder(name, u.OrderID)
	}
	if !advanced {
		e.logger.Debug("course regression ignored",
			"order_id", u.OrderID,
			"course_id", u.CourseID,
			"fire_status", u.FireStatus,
		)
		return nil
	}

	if u.FireStatus == model.FireReady {
		if c, ok := e.tracker.CourseUpdated(updated, u.CourseID, e.now()); ok {
			e.notify(ctx, notify.KindCourseComplete, c.OrderID, c)
		}
	}
	return nil
}

func (e *Engine) itemsReady(ctx context.Context, name string, raw map[string]any) error {
	b := normalize.ItemsReady(raw, e.now())
	if b.OrderID == "" {
		return missingOrderID(name)
	}

	o, known := e.orders.Get(b.OrderID)
	if known {
		if b.OrderNumber == "" {
			b.OrderNumber = o.OrderNumber
		}
		if b.TableName == "" {
			b.TableName = o.TableName
		}
	}

	flip := e.tracker.ItemsReady(b)
	e.notify(ctx, notify.KindItemsReady, b.OrderID, b)

	if flip && known && o.Status.Rank() < model.StatusReadyForPickup.Rank() {
		e.orders.SetStatus(b.OrderID, model.StatusReadyForPickup)
	}
	return nil
}

func (e *Engine) scanToPay(ctx context.Context, name string, raw map[string]any) error {
	p := normalize.ScanToPay(raw, e.now())
	if p.OrderID == "" {
		return missingOrderID(name)
	}

	e.tracker.PaymentCompleted(p)
	e.notify(ctx, notify.KindPaymentCompleted, p.OrderID, p)

	_, ok := e.orders.Update(p.OrderID, func(o *model.Order) {
		for i := range o.Checks {
			c := &o.Checks[i]
			if p.CheckID != "" && c.ID != p.CheckID {
				continue
			}
			if p.CheckID == "" && len(o.Checks) > 1 {
				return
			}
			c.PaymentStatus = model.PaymentPaid
			if p.PaymentID != "" && hasPayment(*c, p.PaymentID) {
				return
			}
			c.Payments = append(c.Payments, model.Payment{
				ID:        p.PaymentID,
				Method:    MethodScanToPay,
				Amount:    p.Amount,
				TipAmount: p.TipAmount,
				Status:    "completed",
			})
			return
		}
	})
	if !ok {
		return unknownOrder(name, p.OrderID)
	}
	return nil
}

func hasPayment(c model.Check, id string) bool {
	for _, p := range c.Payments {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (e *Engine) deliveryLocation(name string, raw map[string]any) error {
	d := normalize.DeliveryLocation(raw)
	if d.OrderID == "" {
		return missingOrderID(name)
	}
	_, ok := e.orders.Update(d.OrderID, func(o *model.Order) {
		if o.Delivery == nil {
			o.Delivery = &model.Delivery{}
		}
		if d.Status != "" {
			o.Delivery.Status = d.Status
		}
		if d.Latitude != nil {
			o.Delivery.Latitude = d.Latitude
		}
		if d.Longitude != nil {
			o.Delivery.Longitude = d.Longitude
		}
		if d.ETA != nil {
			o.Delivery.ETA = d.ETA
		}
	})
	if !ok {
		return unknownOrder(name, d.OrderID)
	}
	return nil
}
