package notification

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/eventbus"
	"github.com/yourorg/travelcore/internal/store"
)

const dateLayout = "2006-01-02"

// Subscriber is the registration side of the event bus.
type Subscriber interface {
	Subscribe(name string, h eventbus.Handler) error
}

// Enqueuer persists and schedules a notification. *Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, in EnqueueInput) (domain.Notification, error)
}

// RegisterHandlers wires one handler per domain event. Each handler resolves
// its recipients and enqueues an email notification.
func RegisterHandlers(bus Subscriber, d Enqueuer, users store.UserStore) error {
	h := handlers{enqueue: d, users: users}
	return multierr.Combine(
		bus.Subscribe(domain.EventTravelSubmitted, h.travelSubmitted),
		bus.Subscribe(domain.EventTravelApproved, h.travelApproved),
		bus.Subscribe(domain.EventTravelRejected, h.travelRejected),
		bus.Subscribe(domain.EventExpenseFlagged, h.expenseFlagged),
		bus.Subscribe(domain.EventExpenseApproved, h.expenseApproved),
		bus.Subscribe(domain.EventBookingConfirmed, h.bookingConfirmed),
		bus.Subscribe(domain.EventBookingFailed, h.bookingFailed),
	)
}

type handlers struct {
	enqueue Enqueuer
	users   store.UserStore
}

func payloadAs[T any](evt eventbus.Event) (T, error) {
	switch p := evt.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%s: unexpected payload %T", evt.Name, evt.Payload)
}

func (h handlers) send(ctx context.Context, userID, typ, title, message string) error {
	_, err := h.enqueue.Enqueue(ctx, EnqueueInput{
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Channel: domain.ChannelEmail,
	})
	return err
}

func (h handlers) travelSubmitted(ctx context.Context, evt eventbus.Event) error {
	p, err := payloadAs[domain.TravelEvent](evt)
	if err != nil {
		return err
	}
	tr := p.TravelRequest
	msg := fmt.Sprintf("%s submitted a travel request to %s (%s – %s). Estimated cost: ₹%s.",
		p.Actor.Name, tr.Destination, tr.StartDate.Format(dateLayout), tr.EndDate.Format(dateLayout), tr.EstimatedCost)
	return h.send(ctx, tr.ManagerID, evt.Name, "New travel request awaiting your approval", msg)
}

func (h handlers) travelApproved(ctx context.Context, evt eventbus.Event) error {
	p, err := payloadAs[domain.TravelEvent](evt)
	if err != nil {
		return err
	}
	tr := p.TravelRequest
	msg := fmt.Sprintf("Your travel request to %s has been approved", tr.Destination)
	if tr.ManagerComment != "" {
		msg += fmt.Sprintf(". Manager comment: \"%s\"", tr.ManagerComment)
	} else {
		msg += "."
	}
	return h.send(ctx, tr.UserID, evt.Name, "Your travel request has been approved", msg)
}

func (h handlers) travelRejected(ctx context.Context, evt eventbus.Event) error {
	p, err := payloadAs[domain.TravelEvent](evt)
	if err != nil {
		return err
	}
	tr := p.TravelRequest
	msg := fmt.Sprintf("Your travel request to %s has been rejected", tr.Destination)
	if tr.ManagerComment != "" {
		msg += fmt.Sprintf(". Reason: \"%s\"", tr.ManagerComment)
	} else {
		msg += "."
	}
	return h.send(ctx, tr.UserID, evt.Name, "Your travel request has been rejected", msg)
}

func (h handlers) expenseFlagged(ctx context.Context, evt eventbus.Event) error {
	p, err := payloadAs[domain.ExpenseEvent](evt)
	if err != nil {
		return err
	}
	reviewers, err := h.users.ListUsersByRole(ctx, domain.RolesWith(domain.CapReviewExpense), true)
	if err != nil {
		return fmt.Errorf("list reviewers: %w", err)
	}
	reason := p.Expense.FlaggedReason
	if reason == "" {
		reason = "Policy violation detected"
	}
	msg := fmt.Sprintf("An expense of ₹%s (%s) submitted by user %s has been auto-flagged. Reason: %s.",
		p.Expense.Amount, p.Expense.Category, p.Actor.Name, reason)

	var errs error
	for _, u := range reviewers {
		errs = multierr.Append(errs, h.send(ctx, u.ID, evt.Name, "Expense flagged for review", msg))
	}
	return errs
}

func (h handlers) expenseApproved(ctx context.Context, evt eventbus.Event) error {
	p, err := payloadAs[domain.ExpenseEvent](evt)
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("Your expense of ₹%s (%s) has been approved by finance.", p.Expense.Amount, p.Expense.Category)
	return h.send(ctx, p.Expense.UserID, evt.Name, "Your expense has been approved", msg)
}

func (h handlers) bookingConfirmed(ctx context.Context, evt eventbus.Event) error {
	p, err := payloadAs[domain.BookingEvent](evt)
	if err != nil {
		return err
	}
	b := p.Booking
	msg := fmt.Sprintf("Your %s booking (%s) has been confirmed. Price: ₹%s %s.", b.Type, b.InventoryID, b.Price, b.Currency)
	return h.send(ctx, b.UserID, evt.Name, "Your booking has been confirmed", msg)
}

func (h handlers) bookingFailed(ctx context.Context, evt eventbus.Event) error {
	p, err := payloadAs[domain.BookingEvent](evt)
	if err != nil {
		return err
	}
	b := p.Booking
	reason := p.Error
	if reason == "" {
		reason = b.LastError
	}
	if reason == "" {
		reason = "Provider unavailable"
	}
	msg := fmt.Sprintf("Your %s booking (%s) could not be confirmed. Error: %s. You may retry.", b.Type, b.InventoryID, reason)
	return h.send(ctx, b.UserID, evt.Name, "Your booking attempt failed", msg)
}
