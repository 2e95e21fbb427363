package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp.Channel the sink uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes notifications as JSON to a topic exchange, routed by
// Kind, so kitchen displays and pagers can bind to what they care about.
type AMQPSink struct {
	exchange string
	pub      Publisher
	mu       sync.Mutex
	closers  []func() error
}

// NewAMQPSink wraps an existing channel or publisher.
func NewAMQPSink(pub Publisher, exchange string) *AMQPSink {
	return &AMQPSink{exchange: exchange, pub: pub}
}

// DialAMQP connects to url and declares exchange as a durable topic
// exchange.
func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", exchange, err)
	}

	s := NewAMQPSink(ch, exchange)
	s.closers = []func() error{ch.Close, conn.Close}
	return s, nil
}

func (s *AMQPSink) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", n.Kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.pub.PublishWithContext(ctx, s.exchange, string(n.Kind), false, false, amqp.Publishing{
		DeliveryMode: amqp.Transient,
		ContentType:  "application/json",
		Timestamp:    n.At,
		Headers:      amqp.Table{"tenant_id": n.TenantID, "order_id": n.OrderID},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", n.Kind, err)
	}
	return nil
}

// Close releases the channel and connection opened by DialAMQP.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
