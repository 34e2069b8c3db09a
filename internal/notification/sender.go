package notification

import (
	"context"
	"errors"
	"math/rand"

	"go.uber.org/zap"
)

var ErrSimulatedDelivery = errors.New("simulated email delivery failure")

// Message is what a Sender puts on the wire.
type Message struct {
	To      string
	Title   string
	Body    string
	Channel string
}

// Sender delivers a rendered message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogEmailSender stands in for an SMTP relay: it logs the mail and fails at FailureRate.
type LogEmailSender struct {
	FailureRate float64
	Logger      *zap.Logger
	rand        func() float64
}

func NewLogEmailSender(failureRate float64, logger *zap.Logger) *LogEmailSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmailSender{FailureRate: failureRate, Logger: logger, rand: rand.Float64}
}

func (s *LogEmailSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailureRate > 0 && s.rand() < s.FailureRate {
		return ErrSimulatedDelivery
	}
	s.Logger.Info("email sent", zap.String("to", msg.To), zap.String("subject", msg.Title))
	return nil
}

// InAppSender succeeds immediately: an in-app notification is delivered once persisted.
type InAppSender struct{}

func (InAppSender) Send(context.Context, Message) error { return nil }
