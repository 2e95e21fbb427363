// Package notify delivers cross-cutting notices (course complete, items
// ready, payments, print and queue failures) to interested sinks.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Kind names a notification. It doubles as the AMQP routing key.
type Kind string

const (
	KindCourseComplete   Kind = "course.complete"
	KindItemsReady       Kind = "items.ready"
	KindPaymentCompleted Kind = "payment.completed"
	KindPrintFailed      Kind = "print.failed"
	KindWriteParked      Kind = "queue.write_parked"
)

// Notification is one notice. Data carries the typed payload and must
// marshal to JSON.
type Notification struct {
	Kind     Kind      `json:"kind"`
	TenantID string    `json:"tenant_id,omitempty"`
	OrderID  string    `json:"order_id,omitempty"`
	At       time.Time `json:"at"`
	Data     any       `json:"data,omitempty"`
}

// Sink receives notifications. Implementations must be safe for
// concurrent use.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Discard drops everything.
var Discard Sink = SinkFunc(func(context.Context, Notification) error { return nil })

// LogSink writes each notification as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(ctx context.Context, n Notification) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "notification",
		"kind", n.Kind,
		"tenant", n.TenantID,
		"order_id", n.OrderID,
	)
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
