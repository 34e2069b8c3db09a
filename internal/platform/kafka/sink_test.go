package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yourorg/travelcore/internal/eventbus"
)

type fakeProducer struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (p *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

func header(m kafka.Message, key string) string {
	return headerCarrier{msg: &m}.Get(key)
}

func TestSink_ForwardsEventAsJSON(t *testing.T) {
	prod := &fakeProducer{}
	sink := NewSink(prod, Config{Topic: "travelcore.events"}, nil)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	evt := eventbus.Event{ID: "e-1", Name: "booking.confirmed", OccurredAt: at, Payload: map[string]string{"bookingId": "b-1"}}
	require.NoError(t, sink.Forward(context.Background(), evt))

	require.Len(t, prod.msgs, 1)
	msg := prod.msgs[0]
	assert.Equal(t, "booking.confirmed", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, "e-1", header(msg, "event-id"))
	assert.Equal(t, "booking.confirmed", header(msg, "event-name"))

	var decoded struct {
		ID      string            `json:"id"`
		Name    string            `json:"name"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "e-1", decoded.ID)
	assert.Equal(t, "b-1", decoded.Payload["bookingId"])

	require.NoError(t, sink.Close())
	assert.True(t, prod.closed)
}

func TestSink_PropagatesTraceContext(t *testing.T) {
	prevProp := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prevProp) })

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "travel.submit")
	defer span.End()

	prod := &fakeProducer{}
	require.NoError(t, NewSink(prod, Config{}, nil).Forward(ctx, eventbus.Event{ID: "e-2", Name: "travel.submitted"}))
	assert.Contains(t, header(prod.msgs[0], "traceparent"), span.SpanContext().TraceID().String())
}

func TestSink_WrapsWriteErrors(t *testing.T) {
	boom := errors.New("broker down")
	sink := NewSink(&fakeProducer{err: boom}, Config{}, nil)
	err := sink.Forward(context.Background(), eventbus.Event{Name: "expense.flagged"})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "expense.flagged")
}

func TestSink_RejectsUnencodablePayload(t *testing.T) {
	sink := NewSink(&fakeProducer{}, Config{}, nil)
	err := sink.Forward(context.Background(), eventbus.Event{Name: "x", Payload: make(chan int)})
	assert.Error(t, err)
}

func TestSink_RelaysFromBus(t *testing.T) {
	prod := &fakeProducer{}
	bus := eventbus.New(eventbus.Synchronous(), eventbus.WithSink(NewSink(prod, Config{}, nil)))
	bus.Publish(context.Background(), "travel.approved", map[string]string{"id": "tr-1"})
	bus.Publish(context.Background(), "travel.rejected", map[string]string{"id": "tr-2"})

	require.Len(t, prod.msgs, 2)
	assert.Equal(t, "travel.approved", string(prod.msgs[0].Key))
	assert.Equal(t, "travel.rejected", string(prod.msgs[1].Key))
}

func TestNewWriter(t *testing.T) {
	w := NewWriter(Config{Brokers: []string{"localhost:9092"}, Topic: "travelcore.events", BatchTimeout: 50 * time.Millisecond}, nil)
	assert.Equal(t, "travelcore.events", w.Topic)
	assert.True(t, w.Async)
	assert.Equal(t, "localhost:9092", w.Addr.String())
}
