package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/travelcore/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrStaleWrite means the stored status changed since the record was loaded.
	ErrStaleWrite = errors.New("stale write")
)

// UserStore defines the interface for user lookups.
type UserStore interface {
	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (domain.User, error)
	// PutUser creates or replaces a user.
	PutUser(ctx context.Context, user domain.User) error
	// CreateUser inserts a new user. Emails are unique ignoring case; a clash
	// returns ErrDuplicateKey.
	CreateUser(ctx context.Context, user domain.User) error
	// ListUsers returns every user, newest first.
	ListUsers(ctx context.Context) ([]domain.User, error)
	// ListUsersByRole returns users holding any of roles, optionally only active ones.
	ListUsersByRole(ctx context.Context, roles []domain.Role, activeOnly bool) ([]domain.User, error)
}

// TravelStore defines the interface for travel request persistence.
type TravelStore interface {
	CreateTravel(ctx context.Context, tr domain.TravelRequest) error
	GetTravel(ctx context.Context, id string) (domain.TravelRequest, error)
	// UpdateTravel replaces the request only if its stored status still equals expected.
	UpdateTravel(ctx context.Context, tr domain.TravelRequest, expected domain.TravelStatus) error
	ListTravelByUser(ctx context.Context, userID string) ([]domain.TravelRequest, error)
	ListTravelByManager(ctx context.Context, managerID string, status domain.TravelStatus) ([]domain.TravelRequest, error)
}

// ExpenseStore defines the interface for expense persistence.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, e domain.Expense) error
	GetExpense(ctx context.Context, id string) (domain.Expense, error)
	// UpdateExpense replaces the expense only if its stored status still equals expected.
	UpdateExpense(ctx context.Context, e domain.Expense, expected domain.ExpenseStatus) error
	ListExpensesByUser(ctx context.Context, userID string) ([]domain.Expense, error)
	ListExpensesByStatus(ctx context.Context, statuses ...domain.ExpenseStatus) ([]domain.Expense, error)
	// FindDuplicateExpense returns an expense by the same user with the same amount on the same UTC day.
	FindDuplicateExpense(ctx context.Context, userID string, amount decimal.Decimal, day time.Time) (domain.Expense, bool, error)
}

// PolicyStore defines the interface for policy persistence.
type PolicyStore interface {
	// CreatePolicy assigns the next version (max+1) and stores the policy inactive.
	CreatePolicy(ctx context.Context, p domain.Policy) (domain.Policy, error)
	GetPolicy(ctx context.Context, id string) (domain.Policy, error)
	// ActivePolicy returns the active policy, if any.
	ActivePolicy(ctx context.Context) (domain.Policy, bool, error)
	// ActivatePolicy deactivates every other policy and activates id in one step.
	ActivatePolicy(ctx context.Context, id string, at time.Time) (domain.Policy, error)
	// ListPolicies returns policies newest version first.
	ListPolicies(ctx context.Context) ([]domain.Policy, error)
}

// BookingStore defines the interface for booking persistence. The idempotency
// key is unique: InsertBooking returns ErrDuplicateKey when it is already taken.
type BookingStore interface {
	InsertBooking(ctx context.Context, b domain.Booking) error
	GetBooking(ctx context.Context, id string) (domain.Booking, error)
	GetBookingByKey(ctx context.Context, key string) (domain.Booking, error)
	// UpdateBooking replaces the booking only if its stored status still equals expected.
	UpdateBooking(ctx context.Context, b domain.Booking, expected domain.BookingStatus) error
	ListBookingsByUser(ctx context.Context, userID string) ([]domain.Booking, error)
}

// NotificationStore defines the interface for notification persistence.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n domain.Notification) error
	GetNotification(ctx context.Context, id string) (domain.Notification, error)
	UpdateNotification(ctx context.Context, n domain.Notification) error
	ListNotificationsByUser(ctx context.Context, userID string) ([]domain.Notification, error)
}
