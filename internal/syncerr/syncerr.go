// Package syncerr defines the failure taxonomy of the sync core.
//
// Most of these never reach application code: transport and queue
// failures are absorbed and surfaced as observable state. The types exist
// so that logs, queue entries and the few direct command paths speak the
// same vocabulary.
package syncerr

import (
	"errors"
	"fmt"
)

// Code categorizes a sync failure.
type Code string

const (
	// CodeTransport is a connection or heartbeat failure. Transient; drives
	// backoff and polling.
	CodeTransport Code = "TRANSPORT"

	// CodeWriteConflict is an HTTP 409: the write was already applied.
	CodeWriteConflict Code = "WRITE_CONFLICT"

	// CodeWriteFailure is any other non-2xx response or network error on a
	// write. Retried up to the queue cap, then parked.
	CodeWriteFailure Code = "WRITE_FAILURE"

	// CodeMappingDefect is a malformed or missing upstream field. Defaulted.
	CodeMappingDefect Code = "MAPPING_DEFECT"

	// CodePrintTimeout is the locally synthesized print failure.
	CodePrintTimeout Code = "PRINT_TIMEOUT"

	// CodeQueueCorruption is an unparsable persisted queue. Discarded.
	CodeQueueCorruption Code = "QUEUE_CORRUPTION"
)

// Error is a categorized sync failure.
type Error struct {
	Code       Code
	Message    string
	OrderID    string
	LocalID    string
	StatusCode int // HTTP status for write errors, 0 otherwise
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.OrderID != "" {
		msg += fmt.Sprintf(" (order=%s)", e.OrderID)
	}
	if e.LocalID != "" {
		msg += fmt.Sprintf(" (local=%s)", e.LocalID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transport wraps a connection-level failure.
func Transport(message string, err error) *Error {
	return &Error{Code: CodeTransport, Message: message, Err: err}
}

// WriteConflict reports a 409 from the remote service.
func WriteConflict(message string, statusCode int) *Error {
	return &Error{Code: CodeWriteConflict, Message: message, StatusCode: statusCode}
}

// WriteFailure reports a retryable write failure. statusCode is 0 for
// network errors.
func WriteFailure(message string, statusCode int, err error) *Error {
	return &Error{Code: CodeWriteFailure, Message: message, StatusCode: statusCode, Err: err}
}

// MappingDefect reports a defaulted upstream field.
func MappingDefect(orderID, field string, value any) *Error {
	return &Error{
		Code:    CodeMappingDefect,
		Message: fmt.Sprintf("field %q defaulted from %v", field, value),
		OrderID: orderID,
	}
}

// PrintTimeout reports a print job that never confirmed.
func PrintTimeout(orderID string) *Error {
	return &Error{Code: CodePrintTimeout, Message: "no print confirmation before timeout", OrderID: orderID}
}

// QueueCorruption reports a persisted queue that failed to parse.
func QueueCorruption(tenantID string, err error) *Error {
	return &Error{Code: CodeQueueCorruption, Message: fmt.Sprintf("persisted queue for tenant %s discarded", tenantID), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsConflict reports whether err is a WriteConflict.
func IsConflict(err error) bool {
	return CodeOf(err) == CodeWriteConflict
}

// IsWriteFailure reports whether err is a retryable WriteFailure.
func IsWriteFailure(err error) bool {
	return CodeOf(err) == CodeWriteFailure
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	return CodeOf(err) == CodeTransport
}
