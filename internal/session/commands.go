package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/ordersync/internal/api"
	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/normalize"
	"github.com/roach88/ordersync/internal/queue"
	"github.com/roach88/ordersync/internal/syncerr"
)

// ErrOffline is returned by online-only commands while disconnected. It
// carries no syncerr code: nothing failed, the command was refused.
var ErrOffline = errors.New("session: not connected")

// Commands mutate through the engine loop, so Run must be active.

// CreateOrder creates an order. Online with an empty queue it returns the
// authoritative order. Otherwise the write is queued and a placeholder
// (status RECEIVED, zero totals, IsQueued) is inserted and returned.
func (s *Session) CreateOrder(ctx context.Context, body map[string]any) (model.Order, error) {
	req := api.CreateOrder(body)

	o, sent, err := s.sendDirect(ctx, req)
	if err != nil {
		return model.Order{}, err
	}
	if sent {
		if o == nil {
			return model.Order{}, nil
		}
		return *o, nil
	}

	entry := s.enqueue(ctx, req)
	ph := placeholder(entry)
	if err := s.engine.Do(ctx, func() { s.orders.Upsert(ph) }); err != nil {
		return model.Order{}, err
	}
	return ph, nil
}

// UpdateStatus moves an order. Moving forward into IN_PREPARATION starts
// ticket printing; moving backward is a recall and resets print status.
func (s *Session) UpdateStatus(ctx context.Context, orderID string, status model.OrderStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update status: unknown status %q", status)
	}
	return s.write(ctx, api.UpdateStatus(orderID, status), func() {
		s.applyStatus(orderID, status)
	})
}

// BulkUpdateStatus moves several orders with one remote call.
func (s *Session) BulkUpdateStatus(ctx context.Context, orderIDs []string, status model.OrderStatus) error {
	if !status.Valid() {
		return fmt.Errorf("bulk update status: unknown status %q", status)
	}
	return s.write(ctx, api.BulkUpdateStatus(orderIDs, status), func() {
		for _, id := range orderIDs {
			s.applyStatus(id, status)
		}
	})
}

// applyStatus runs on the loop.
func (s *Session) applyStatus(orderID string, status model.OrderStatus) {
	prev, ok := s.orders.Get(orderID)
	if !ok {
		return
	}
	s.orders.SetStatus(orderID, status)
	prints := s.engine.Prints()
	switch {
	case prev.Status.IsRecall(status):
		prints.Reset(orderID)
	case status == model.StatusInPreparation && prev.Status != status:
		prints.Start(orderID)
	}
}

func (s *Session) FireCourse(ctx context.Context, orderID, courseID string) error {
	return s.write(ctx, api.FireCourse(orderID, courseID), func() {
		now := s.timers.Now()
		s.orders.Update(orderID, func(o *model.Order) {
			if c := o.CourseByID(courseID); c != nil {
				c.Advance(model.FireFired, &now)
			}
		})
	})
}

// HoldCourse puts a course back to PENDING.
func (s *Session) HoldCourse(ctx context.Context, orderID, courseID string) error {
	return s.write(ctx, api.HoldCourse(orderID, courseID), func() {
		s.orders.ResetCourse(orderID, courseID)
	})
}

func (s *Session) AssignCourse(ctx context.Context, orderID, selectionID, courseID string) error {
	return s.write(ctx, api.AssignCourse(orderID, selectionID, courseID), func() {
		s.orders.Update(orderID, func(o *model.Order) {
			ref := &model.CourseRef{ID: courseID, FireStatus: model.FirePending}
			if c := o.CourseByID(courseID); c != nil {
				ref.Name, ref.SortOrder, ref.FireStatus = c.Name, c.SortOrder, c.FireStatus
			}
			eachSelection(o, func(sel *model.Selection) {
				if sel.ID == selectionID {
					r := *ref
					sel.Course = &r
				}
			})
		})
	})
}

// AddCourse has no local effect: the course id is assigned by the server.
func (s *Session) AddCourse(ctx context.Context, orderID, name string, sortOrder int) error {
	return s.write(ctx, api.AddCourse(orderID, name, sortOrder), nil)
}

func (s *Session) RemoveCourse(ctx context.Context, orderID, courseID string) error {
	return s.write(ctx, api.RemoveCourse(orderID, courseID), func() {
		s.orders.Update(orderID, func(o *model.Order) {
			kept := o.Courses[:0]
			for _, c := range o.Courses {
				if c.ID != courseID {
					kept = append(kept, c)
				}
			}
			o.Courses = kept
			eachSelection(o, func(sel *model.Selection) {
				if sel.Course != nil && sel.Course.ID == courseID {
					sel.Course = nil
				}
			})
		})
	})
}

// FireItemNow sends one selection to the kitchen ahead of its course.
func (s *Session) FireItemNow(ctx context.Context, orderID, selectionID string) error {
	return s.write(ctx, api.FireItemNow(orderID, selectionID), func() {
		now := s.timers.Now()
		s.orders.Update(orderID, func(o *model.Order) {
			eachSelection(o, func(sel *model.Selection) {
				if sel.ID == selectionID && sel.Fulfillment != model.FulfillmentSent {
					sel.Fulfillment = model.FulfillmentSent
					sel.SentAt = &now
				}
			})
		})
	})
}

func (s *Session) AddNote(ctx context.Context, orderID, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return errors.New("add note: empty note")
	}
	return s.write(ctx, api.AddNote(orderID, note), func() {
		s.orders.Update(orderID, func(o *model.Order) {
			if o.Notes == "" {
				o.Notes = note
				return
			}
			o.Notes += "\n" + note
		})
	})
}

// HoldThrottle and ReleaseThrottle are remote commands only; the throttle
// record changes when the server's order event arrives.
func (s *Session) HoldThrottle(ctx context.Context, orderID, reason string) error {
	return s.write(ctx, api.HoldThrottle(orderID, reason), nil)
}

func (s *Session) ReleaseThrottle(ctx context.Context, orderID string) error {
	return s.write(ctx, api.ReleaseThrottle(orderID), nil)
}

// Reprint asks the backend for another ticket and tracks it. Online only.
func (s *Session) Reprint(ctx context.Context, orderID string) error {
	if !s.conn.IsOnline() {
		return ErrOffline
	}
	if err := s.remote.Reprint(ctx, orderID); err != nil {
		return fmt.Errorf("reprint %s: %w", orderID, err)
	}
	return s.engine.Do(ctx, func() { s.engine.Prints().Start(orderID) })
}

// GenerateScanToPay creates a payment link for a check. Online only.
func (s *Session) GenerateScanToPay(ctx context.Context, orderID, checkID string) (api.ScanToPaySession, error) {
	if !s.conn.IsOnline() {
		return api.ScanToPaySession{}, ErrOffline
	}
	return s.remote.GenerateScanToPay(ctx, orderID, checkID)
}

// SubmitScanToPay settles a check. Online only.
func (s *Session) SubmitScanToPay(ctx context.Context, orderID, checkID string, p api.ScanToPayPayment) error {
	if !s.conn.IsOnline() {
		return ErrOffline
	}
	o, err := s.remote.SubmitScanToPay(ctx, orderID, checkID, p)
	if err != nil {
		return fmt.Errorf("scan to pay %s: %w", orderID, err)
	}
	return s.upsert(ctx, o)
}

// write sends req directly when possible, otherwise queues it. local is the
// optimistic change, applied on the loop after the send or enqueue.
func (s *Session) write(ctx context.Context, req api.Request, local func()) error {
	o, sent, err := s.sendDirect(ctx, req)
	if err != nil {
		return err
	}
	if !sent {
		s.enqueue(ctx, req)
	}
	return s.engine.Do(ctx, func() {
		if local != nil {
			local()
		}
		if o != nil {
			s.orders.Upsert(*o)
		}
	})
}

// sendDirect sends req while online with an empty queue, so writes never
// overtake queued ones. A 409 counts as sent. A network failure reports
// sent=false so the write is queued instead.
func (s *Session) sendDirect(ctx context.Context, req api.Request) (*model.Order, bool, error) {
	if !s.conn.IsOnline() || s.queue.Len() > 0 {
		return nil, false, nil
	}
	o, err := s.remote.Send(ctx, req, "")
	var se *syncerr.Error
	switch {
	case err == nil:
		if o != nil {
			if err := s.upsert(ctx, o); err != nil {
				return nil, true, err
			}
		}
		return o, true, nil
	case syncerr.IsConflict(err):
		s.logger.Info("direct write already applied", "kind", req.Kind, "order_id", req.OrderID)
		return nil, true, nil
	case errors.As(err, &se) && se.Code == syncerr.CodeWriteFailure && se.StatusCode == 0:
		s.logger.Info("direct write failed, queueing", "kind", req.Kind, "order_id", req.OrderID, "error", err)
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("%s %s: %w", req.Kind, req.OrderID, err)
	}
}

// enqueue appends to the offline queue. A persistence failure is logged:
// the entry is still queued in memory.
func (s *Session) enqueue(ctx context.Context, req api.Request) model.QueuedWrite {
	entry, err := s.queue.Enqueue(ctx, queue.Write(req))
	if err != nil {
		s.logger.Warn("queued write not persisted", "local_id", entry.LocalID, "kind", entry.Kind, "error", err)
	}
	if s.conn.IsOnline() {
		s.queue.TriggerDrain()
	}
	return entry
}

func (s *Session) upsert(ctx context.Context, o *model.Order) error {
	if o == nil {
		return nil
	}
	order := *o
	return s.engine.Do(ctx, func() { s.orders.Upsert(order) })
}

// placeholder synthesizes the order shown while a create is queued. Its id
// is the local id until the authoritative order replaces it.
func placeholder(w model.QueuedWrite) model.Order {
	o := normalize.Order(w.Payload)
	o.ID = w.LocalID
	o.LocalID = w.LocalID
	o.OrderNumber = ""
	o.Status = model.StatusReceived
	o.Subtotal = decimal.Zero
	o.TaxAmount = decimal.Zero
	o.TipAmount = decimal.Zero
	o.Discount = decimal.Zero
	o.TotalAmount = decimal.Zero
	for i := range o.Checks {
		o.Checks[i].Subtotal = decimal.Zero
		o.Checks[i].TaxAmount = decimal.Zero
		o.Checks[i].TotalAmount = decimal.Zero
		o.Checks[i].Payments = nil
		o.Checks[i].PaymentStatus = model.PaymentOpen
	}
	o.CreatedAt = w.QueuedAt
	o.UpdatedAt = w.QueuedAt
	o.ClosedAt = nil
	o.IsQueued = true
	return o
}

func eachSelection(o *model.Order, fn func(*model.Selection)) {
	for i := range o.Checks {
		for j := range o.Checks[i].Selections {
			fn(&o.Checks[i].Selections[j])
		}
	}
}
