// Package api is the client for the remote order service.
//
// Mutations are described as Requests so the same value can be sent
// directly while online or queued while offline. Responses are decoded into
// untyped maps and handed to the normalizer.
package api

import (
	"github.com/shopspring/decimal"

	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/normalize"
)

// Request is one queueable mutation. Path parameters other than the order
// id travel in Payload.
type Request struct {
	Kind    model.WriteKind
	OrderID string
	Payload map[string]any
}

// Payload keys used to build request paths.
const (
	KeyCourseID    = "courseId"
	KeySelectionID = "selectionId"
	KeyLocalID     = "localId"
)

// CreateOrder submits a new order. The payload is the order body.
func CreateOrder(body map[string]any) Request {
	return Request{Kind: model.WriteCreateOrder, Payload: body}
}

// UpdateStatus moves an order to status, translated to the backend
// vocabulary.
func UpdateStatus(orderID string, status model.OrderStatus) Request {
	return Request{
		Kind:    model.WriteUpdateStatus,
		OrderID: orderID,
		Payload: map[string]any{"status": normalize.StatusToBackend(status)},
	}
}

func FireCourse(orderID, courseID string) Request {
	return Request{
		Kind:    model.WriteFireCourse,
		OrderID: orderID,
		Payload: map[string]any{KeyCourseID: courseID},
	}
}

func HoldCourse(orderID, courseID string) Request {
	return Request{
		Kind:    model.WriteHoldCourse,
		OrderID: orderID,
		Payload: map[string]any{KeyCourseID: courseID},
	}
}

// AssignCourse moves a selection into a course.
func AssignCourse(orderID, selectionID, courseID string) Request {
	return Request{
		Kind:    model.WriteAssignCourse,
		OrderID: orderID,
		Payload: map[string]any{KeySelectionID: selectionID, KeyCourseID: courseID},
	}
}

func AddCourse(orderID, name string, sortOrder int) Request {
	return Request{
		Kind:    model.WriteAddCourse,
		OrderID: orderID,
		Payload: map[string]any{"name": name, "sortOrder": sortOrder},
	}
}

func RemoveCourse(orderID, courseID string) Request {
	return Request{
		Kind:    model.WriteRemoveCourse,
		OrderID: orderID,
		Payload: map[string]any{KeyCourseID: courseID},
	}
}

// FireItemNow sends one selection to the kitchen ahead of its course.
func FireItemNow(orderID, selectionID string) Request {
	return Request{
		Kind:    model.WriteFireItemNow,
		OrderID: orderID,
		Payload: map[string]any{KeySelectionID: selectionID},
	}
}

// BulkUpdateStatus moves several orders at once. It has no order id.
func BulkUpdateStatus(orderIDs []string, status model.OrderStatus) Request {
	ids := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		ids[i] = id
	}
	return Request{
		Kind:    model.WriteBulkStatus,
		Payload: map[string]any{"orderIds": ids, "status": normalize.StatusToBackend(status)},
	}
}

func AddNote(orderID, note string) Request {
	return Request{
		Kind:    model.WriteAddNote,
		OrderID: orderID,
		Payload: map[string]any{"note": note},
	}
}

func HoldThrottle(orderID, reason string) Request {
	return Request{
		Kind:    model.WriteHoldThrottle,
		OrderID: orderID,
		Payload: map[string]any{"reason": reason},
	}
}

func ReleaseThrottle(orderID string) Request {
	return Request{
		Kind:    model.WriteReleaseThrottle,
		OrderID: orderID,
		Payload: map[string]any{},
	}
}

// ScanToPaySession is the payment link generated for a check.
type ScanToPaySession struct {
	Token      string          `json:"token"`
	PaymentURL string          `json:"paymentUrl"`
	Amount     decimal.Decimal `json:"amount"`
	ExpiresAt  string          `json:"expiresAt,omitempty"`
}

// ScanToPayPayment is the guest's submitted payment.
type ScanToPayPayment struct {
	Token     string          `json:"token"`
	Amount    decimal.Decimal `json:"amount"`
	TipAmount decimal.Decimal `json:"tipAmount"`
	Method    string          `json:"method,omitempty"`
}
