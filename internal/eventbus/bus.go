package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrHandlerAlreadyRegistered = errors.New("handler already registered for event")

// Event is a fire-and-forget notification of a state change.
type Event struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// Handler reacts to one event type. Its error is logged, never returned to the publisher.
type Handler func(ctx context.Context, evt Event) error

// Sink receives every published event after its handler ran, e.g. an external relay.
type Sink interface {
	Forward(ctx context.Context, evt Event) error
}

type Option func(*Bus)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSink adds a sink that sees every event.
func WithSink(s Sink) Option {
	return func(b *Bus) { b.sinks = append(b.sinks, s) }
}

// Synchronous delivers on the publisher's goroutine. Intended for tests.
func Synchronous() Option {
	return func(b *Bus) { b.synchronous = true }
}

// Bus is an in-process publish/subscribe channel. Publish returns at once;
// Run delivers events one at a time in publish order.
type Bus struct {
	mu          sync.Mutex
	handlers    map[string]Handler
	sinks       []Sink
	pending     []queued
	wake        chan struct{}
	synchronous bool
	logger      *zap.Logger
	now         func() time.Time
}

type queued struct {
	ctx context.Context
	evt Event
}

func New(opts ...Option) *Bus {
	b := &Bus{
		handlers: map[string]Handler{},
		wake:     make(chan struct{}, 1),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers the single handler for name.
func (b *Bus) Subscribe(name string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[name]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, name)
	}
	b.handlers[name] = h
	return nil
}

// Publish schedules delivery of payload under name and returns immediately.
// The request context is detached so caller cancellation does not drop the event.
func (b *Bus) Publish(ctx context.Context, name string, payload any) {
	evt := Event{ID: uuid.NewString(), Name: name, OccurredAt: b.now().UTC(), Payload: payload}
	dctx := context.WithoutCancel(ctx)
	if b.synchronous {
		b.deliver(dctx, evt)
		return
	}
	b.mu.Lock()
	b.pending = append(b.pending, queued{ctx: dctx, evt: evt})
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is done, then delivers whatever is still pending.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info("event bus started")
	for {
		b.Drain()
		select {
		case <-b.wake:
		case <-ctx.Done():
			b.Drain()
			b.logger.Info("event bus stopped")
			return nil
		}
	}
}

// Drain delivers every pending event on the calling goroutine and reports how
// many it delivered. After Run has returned it flushes events published late.
func (b *Bus) Drain() int {
	n := 0
	for {
		item, ok := b.next()
		if !ok {
			return n
		}
		b.deliver(item.ctx, item.evt)
		n++
	}
}

func (b *Bus) next() (queued, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return queued{}, false
	}
	item := b.pending[0]
	b.pending[0] = queued{}
	b.pending = b.pending[1:]
	return item, true
}

// Pending reports the number of undelivered events.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bus) deliver(ctx context.Context, evt Event) {
	b.mu.Lock()
	h, ok := b.handlers[evt.Name]
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.Unlock()

	log := b.logger.With(zap.String("event", evt.Name), zap.String("eventId", evt.ID))
	if ok {
		if err := safeCall(func() error { return h(ctx, evt) }); err != nil {
			log.Error("event handler failed", zap.Error(err))
		}
	} else {
		log.Debug("no handler registered")
	}
	for _, s := range sinks {
		if err := safeCall(func() error { return s.Forward(ctx, evt) }); err != nil {
			log.Warn("event sink failed", zap.Error(err))
		}
	}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
