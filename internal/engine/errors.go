package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Do once the engine has stopped.
var ErrStopped = errors.New("engine stopped")

// ProcessError represents an inbound event the engine could not apply.
//
// Process errors are logged by the Run loop and never stop it.
type ProcessError struct {
	// Code identifies the error category.
	Code ProcessErrorCode

	// Message is a human-readable description.
	Message string

	// Event is the inbound event name.
	Event string

	// OrderID identifies the affected order, when known.
	OrderID string
}

// ProcessErrorCode categorizes processing errors.
type ProcessErrorCode string

const (
	// ErrCodeMissingOrderID indicates the payload carried no order id.
	ErrCodeMissingOrderID ProcessErrorCode = "MISSING_ORDER_ID"

	// ErrCodeUnknownOrder indicates the event names an order not in the store.
	ErrCodeUnknownOrder ProcessErrorCode = "UNKNOWN_ORDER"

	// ErrCodeInvalidEvent indicates an unroutable event or incomplete payload.
	ErrCodeInvalidEvent ProcessErrorCode = "INVALID_EVENT"
)

// Error implements the error interface.
func (e *ProcessError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("%s: %s (event=%s, order=%s)", e.Code, e.Message, e.Event, e.OrderID)
	}
	return fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.Event)
}

// IsUnknownOrder returns true if the error reports an order missing from
// the store. Uses errors.As to handle wrapped errors.
func IsUnknownOrder(err error) bool {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeUnknownOrder
	}
	return false
}

// IsMissingOrderID returns true if the payload carried no order id.
func IsMissingOrderID(err error) bool {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeMissingOrderID
	}
	return false
}

func missingOrderID(event string) *ProcessError {
	return &ProcessError{
		Code:    ErrCodeMissingOrderID,
		Message: "payload has no order id",
		Event:   event,
	}
}

func unknownOrder(event, orderID string) *ProcessError {
	return &ProcessError{
		Code:    ErrCodeUnknownOrder,
		Message: "order not in store",
		Event:   event,
		OrderID: orderID,
	}
}

func invalidEvent(event, msg string) *ProcessError {
	return &ProcessError{
		Code:    ErrCodeInvalidEvent,
		Message: msg,
		Event:   event,
	}
}
