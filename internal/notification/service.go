package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/apperr"
	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/store"
)

// EnqueueInput describes a notification to persist and deliver.
type EnqueueInput struct {
	UserID  string
	Type    string
	Title   string
	Message string
	Channel domain.Channel
}

// Pusher accepts delivery jobs. *Queue satisfies it.
type Pusher interface {
	Push(notificationID string)
}

// Dispatcher persists notifications and hands them to the delivery queue.
type Dispatcher struct {
	store  store.NotificationStore
	queue  Pusher
	logger *zap.Logger
	now    func() time.Time
}

func NewDispatcher(ns store.NotificationStore, queue Pusher, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: ns, queue: queue, logger: logger, now: time.Now}
}

// Enqueue stores a pending notification and submits its delivery job.
func (d *Dispatcher) Enqueue(ctx context.Context, in EnqueueInput) (domain.Notification, error) {
	if in.Channel == "" {
		in.Channel = domain.ChannelEmail
	}
	now := d.now().UTC()
	n := domain.Notification{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Channel:   in.Channel,
		Status:    domain.NotificationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		return domain.Notification{}, fmt.Errorf("create notification: %w", err)
	}
	d.queue.Push(n.ID)
	d.logger.Debug("notification enqueued",
		zap.String("notificationId", n.ID), zap.String("type", n.Type), zap.String("userId", n.UserID))
	return n, nil
}

// ListMine returns the actor's notifications, newest first.
func (d *Dispatcher) ListMine(ctx context.Context, actor domain.Actor) ([]domain.Notification, error) {
	if !actor.Can(domain.CapReadNotifications) {
		return nil, apperr.Forbidden("role %s cannot read notifications", actor.Role)
	}
	out, err := d.store.ListNotificationsByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if out == nil {
		out = []domain.Notification{}
	}
	return out, nil
}
