package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/eventbus"
)

// Producer is the subset of *kafka.Writer the sink needs.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	// WriteTimeout bounds one Forward call.
	WriteTimeout time.Duration
}

// NewWriter builds an async writer; delivery errors are reported through logger.
func NewWriter(cfg Config, logger *zap.Logger) *kafka.Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}
}

// Sink relays bus events to a Kafka topic as JSON. Messages are keyed by event
// name so each event type keeps its order within a partition.
type Sink struct {
	producer Producer
	timeout  time.Duration
	logger   *zap.Logger
}

func NewSink(p Producer, cfg Config, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sink{producer: p, timeout: timeout, logger: logger}
}

var _ eventbus.Sink = (*Sink)(nil)

func (s *Sink) Forward(ctx context.Context, evt eventbus.Event) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", evt.Name, err)
	}
	msg := kafka.Message{
		Key:   []byte(evt.Name),
		Value: value,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(evt.ID)},
			{Key: "event-name", Value: []byte(evt.Name)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.producer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", evt.Name, err)
	}
	s.logger.Debug("event relayed", zap.String("event", evt.Name), zap.String("eventId", evt.ID))
	return nil
}

func (s *Sink) Close() error {
	return s.producer.Close()
}

// headerCarrier lets the OTel propagator write into Kafka headers.
type headerCarrier struct {
	msg *kafka.Message
}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	out := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		out = append(out, h.Key)
	}
	return out
}
