package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 2, 1, 19, 0, 0, 0, time.UTC)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakePublisher struct {
	got []published
	err error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.got = append(f.got, published{exchange, key, msg})
	return f.err
}

func TestAMQPSink_PublishesJSONByKind(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewAMQPSink(pub, "kitchen")

	err := sink.Notify(context.Background(), Notification{
		Kind:     KindCourseComplete,
		TenantID: "t1",
		OrderID:  "o-1",
		At:       at,
		Data:     map[string]string{"next_course_id": "mains"},
	})
	require.NoError(t, err)
	require.Len(t, pub.got, 1)

	p := pub.got[0]
	assert.Equal(t, "kitchen", p.exchange)
	assert.Equal(t, "course.complete", p.key)
	assert.Equal(t, "application/json", p.msg.ContentType)
	assert.Equal(t, at, p.msg.Timestamp)
	assert.Equal(t, "o-1", p.msg.Headers["order_id"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(p.msg.Body, &body))
	assert.Equal(t, "course.complete", body["kind"])
	assert.Equal(t, "mains", body["data"].(map[string]any)["next_course_id"])

	assert.NoError(t, sink.Close())
}

func TestAMQPSink_PublishError(t *testing.T) {
	sink := NewAMQPSink(&fakePublisher{err: errors.New("channel closed")}, "kitchen")
	err := sink.Notify(context.Background(), Notification{Kind: KindItemsReady})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish items.ready")
}

func TestFanout(t *testing.T) {
	var seen []Kind
	record := SinkFunc(func(_ context.Context, n Notification) error {
		seen = append(seen, n.Kind)
		return nil
	})
	failing := SinkFunc(func(context.Context, Notification) error { return errors.New("down") })

	err := Fanout{record, nil, failing, record}.Notify(context.Background(), Notification{Kind: KindPrintFailed})
	assert.EqualError(t, err, "down")
	assert.Equal(t, []Kind{KindPrintFailed, KindPrintFailed}, seen)

	assert.NoError(t, Discard.Notify(context.Background(), Notification{}))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	require.NoError(t, sink.Notify(context.Background(), Notification{Kind: KindWriteParked, OrderID: "o-9"}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "notification", line["msg"])
	assert.Equal(t, "queue.write_parked", line["kind"])
	assert.Equal(t, "o-9", line["order_id"])
}
