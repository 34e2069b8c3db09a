package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/store"
)

// MaxAttempts caps delivery attempts recorded on a notification.
const MaxAttempts = 3

const fallbackAddress = "unknown@example.com"

// Worker performs one delivery attempt per call.
type Worker struct {
	notifications store.NotificationStore
	users         store.UserStore
	senders       map[domain.Channel]Sender
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

func NewWorker(ns store.NotificationStore, us store.UserStore, senders map[domain.Channel]Sender, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		notifications: ns,
		users:         us,
		senders:       senders,
		logger:        logger,
		tracer:        otel.Tracer("travelcore/notification"),
		now:           time.Now,
	}
}

// WithTracer replaces the worker's tracer.
func (w *Worker) WithTracer(t trace.Tracer) *Worker {
	w.tracer = t
	return w
}

// Deliver loads the notification, sends it and records the outcome. The
// returned error tells the queue to retry.
func (w *Worker) Deliver(ctx context.Context, notificationID string) error {
	ctx, span := w.tracer.Start(ctx, "notification.deliver",
		trace.WithAttributes(attribute.String("notification.id", notificationID)))
	defer span.End()

	log := w.logger.With(zap.String("notificationId", notificationID))

	n, err := w.notifications.GetNotification(ctx, notificationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("notification not found, skipping")
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("load notification: %w", err)
	}
	switch n.Status {
	case domain.NotificationSent:
		log.Info("notification already sent, skipping")
		return nil
	case domain.NotificationFailed:
		log.Info("notification already failed permanently, skipping")
		return nil
	}

	n.Attempts++
	span.SetAttributes(attribute.Int("notification.attempt", n.Attempts), attribute.String("notification.channel", string(n.Channel)))

	sendErr := w.send(ctx, n)
	now := w.now().UTC()
	n.UpdatedAt = now
	if sendErr == nil {
		n.Status = domain.NotificationSent
		n.SentAt = &now
		n.LastError = ""
		if err := w.notifications.UpdateNotification(ctx, n); err != nil {
			return fmt.Errorf("save notification: %w", err)
		}
		span.SetStatus(codes.Ok, "sent")
		log.Info("notification sent", zap.Int("attempts", n.Attempts))
		return nil
	}

	n.LastError = sendErr.Error()
	if n.Attempts >= MaxAttempts {
		n.Status = domain.NotificationFailed
		log.Error("notification failed permanently", zap.Int("attempts", n.Attempts), zap.Error(sendErr))
	}
	if err := w.notifications.UpdateNotification(ctx, n); err != nil {
		log.Error("save notification", zap.Error(err))
	}
	span.RecordError(sendErr)
	span.SetStatus(codes.Error, sendErr.Error())
	return sendErr
}

func (w *Worker) send(ctx context.Context, n domain.Notification) error {
	sender, ok := w.senders[n.Channel]
	if !ok {
		return fmt.Errorf("no sender for channel %q", n.Channel)
	}
	to := fallbackAddress
	if u, err := w.users.GetUser(ctx, n.UserID); err == nil && u.Email != "" {
		to = u.Email
	}
	return sender.Send(ctx, Message{To: to, Title: n.Title, Body: n.Message, Channel: string(n.Channel)})
}
