package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/travelcore/internal/domain"
)

// Memory is an in-process document store. Reads return copies; writes are
// serialized under one lock so conditional updates and the idempotency key
// index behave like a single-node database.
type Memory struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	travel        map[string]domain.TravelRequest
	expenses      map[string]domain.Expense
	policies      map[string]domain.Policy
	bookings      map[string]domain.Booking
	bookingByKey  map[string]string // idempotencyKey -> bookingID
	notifications map[string]domain.Notification
}

func NewMemory() *Memory {
	return &Memory{
		users:         map[string]domain.User{},
		travel:        map[string]domain.TravelRequest{},
		expenses:      map[string]domain.Expense{},
		policies:      map[string]domain.Policy{},
		bookings:      map[string]domain.Booking{},
		bookingByKey:  map[string]string{},
		notifications: map[string]domain.Notification{},
	}
}

// --- users ---

func (m *Memory) GetUser(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (m *Memory) PutUser(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *Memory) CreateUser(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return fmt.Errorf("user %s: %w", user.ID, ErrDuplicateKey)
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("email %s: %w", user.Email, ErrDuplicateKey)
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *Memory) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ListUsersByRole(_ context.Context, roles []domain.Role, activeOnly bool) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.User
	for _, u := range m.users {
		if activeOnly && !u.IsActive {
			continue
		}
		for _, r := range roles {
			if u.Role == r {
				out = append(out, u)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- travel requests ---

func (m *Memory) CreateTravel(_ context.Context, tr domain.TravelRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.travel[tr.ID]; ok {
		return fmt.Errorf("travel request %s: %w", tr.ID, ErrDuplicateKey)
	}
	m.travel[tr.ID] = tr.Clone()
	return nil
}

func (m *Memory) GetTravel(_ context.Context, id string) (domain.TravelRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tr, ok := m.travel[id]
	if !ok {
		return domain.TravelRequest{}, fmt.Errorf("travel request %s: %w", id, ErrNotFound)
	}
	return tr.Clone(), nil
}

func (m *Memory) UpdateTravel(_ context.Context, tr domain.TravelRequest, expected domain.TravelStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.travel[tr.ID]
	if !ok {
		return fmt.Errorf("travel request %s: %w", tr.ID, ErrNotFound)
	}
	if current.Status != expected {
		return fmt.Errorf("travel request %s is %s, expected %s: %w", tr.ID, current.Status, expected, ErrStaleWrite)
	}
	m.travel[tr.ID] = tr.Clone()
	return nil
}

func (m *Memory) ListTravelByUser(_ context.Context, userID string) ([]domain.TravelRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.TravelRequest
	for _, tr := range m.travel {
		if tr.UserID == userID {
			out = append(out, tr.Clone())
		}
	}
	sortTravel(out)
	return out, nil
}

func (m *Memory) ListTravelByManager(_ context.Context, managerID string, status domain.TravelStatus) ([]domain.TravelRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.TravelRequest
	for _, tr := range m.travel {
		if tr.ManagerID == managerID && (status == "" || tr.Status == status) {
			out = append(out, tr.Clone())
		}
	}
	sortTravel(out)
	return out, nil
}

func sortTravel(list []domain.TravelRequest) {
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
}

// --- expenses ---

func (m *Memory) CreateExpense(_ context.Context, e domain.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.expenses[e.ID]; ok {
		return fmt.Errorf("expense %s: %w", e.ID, ErrDuplicateKey)
	}
	m.expenses[e.ID] = e.Clone()
	return nil
}

func (m *Memory) GetExpense(_ context.Context, id string) (domain.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.expenses[id]
	if !ok {
		return domain.Expense{}, fmt.Errorf("expense %s: %w", id, ErrNotFound)
	}
	return e.Clone(), nil
}

func (m *Memory) UpdateExpense(_ context.Context, e domain.Expense, expected domain.ExpenseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.expenses[e.ID]
	if !ok {
		return fmt.Errorf("expense %s: %w", e.ID, ErrNotFound)
	}
	if current.Status != expected {
		return fmt.Errorf("expense %s is %s, expected %s: %w", e.ID, current.Status, expected, ErrStaleWrite)
	}
	m.expenses[e.ID] = e.Clone()
	return nil
}

func (m *Memory) ListExpensesByUser(_ context.Context, userID string) ([]domain.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Expense
	for _, e := range m.expenses {
		if e.UserID == userID {
			out = append(out, e.Clone())
		}
	}
	sortExpenses(out)
	return out, nil
}

func (m *Memory) ListExpensesByStatus(_ context.Context, statuses ...domain.ExpenseStatus) ([]domain.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Expense
	for _, e := range m.expenses {
		for _, s := range statuses {
			if e.Status == s {
				out = append(out, e.Clone())
				break
			}
		}
	}
	sortExpenses(out)
	return out, nil
}

func (m *Memory) FindDuplicateExpense(_ context.Context, userID string, amount decimal.Decimal, day time.Time) (domain.Expense, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var candidates []domain.Expense
	for _, e := range m.expenses {
		if e.UserID == userID && e.Amount.Equal(amount) && domain.SameDay(e.ExpenseDate, day) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return domain.Expense{}, false, nil
	}
	// oldest first so the reason always names the original claim
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	return candidates[0].Clone(), true, nil
}

func sortExpenses(list []domain.Expense) {
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
}

// --- policies ---

func (m *Memory) CreatePolicy(_ context.Context, p domain.Policy) (domain.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.ID]; ok {
		return domain.Policy{}, fmt.Errorf("policy %s: %w", p.ID, ErrDuplicateKey)
	}
	maxVersion := 0
	for _, existing := range m.policies {
		if existing.Version > maxVersion {
			maxVersion = existing.Version
		}
	}
	p.Version = maxVersion + 1
	p.IsActive = false
	p.ActivatedAt = nil
	p.Rules = p.Rules.Clone()
	m.policies[p.ID] = p
	return clonePolicy(p), nil
}

func (m *Memory) GetPolicy(_ context.Context, id string) (domain.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return domain.Policy{}, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	return clonePolicy(p), nil
}

func (m *Memory) ActivePolicy(_ context.Context) (domain.Policy, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.policies {
		if p.IsActive {
			return clonePolicy(p), true, nil
		}
	}
	return domain.Policy{}, false, nil
}

func (m *Memory) ActivatePolicy(_ context.Context, id string, at time.Time) (domain.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.policies[id]
	if !ok {
		return domain.Policy{}, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	for pid, p := range m.policies {
		if p.IsActive && pid != id {
			p.IsActive = false
			m.policies[pid] = p
		}
	}
	ts := at.UTC()
	target.IsActive = true
	target.ActivatedAt = &ts
	m.policies[id] = target
	return clonePolicy(target), nil
}

func (m *Memory) ListPolicies(_ context.Context) ([]domain.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Policy, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, clonePolicy(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func clonePolicy(p domain.Policy) domain.Policy {
	out := p
	out.Rules = p.Rules.Clone()
	if p.ActivatedAt != nil {
		t := *p.ActivatedAt
		out.ActivatedAt = &t
	}
	return out
}

// --- bookings ---

func (m *Memory) InsertBooking(_ context.Context, b domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookingByKey[b.IdempotencyKey]; ok {
		return fmt.Errorf("idempotency key %s: %w", b.IdempotencyKey, ErrDuplicateKey)
	}
	if _, ok := m.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s: %w", b.ID, ErrDuplicateKey)
	}
	m.bookings[b.ID] = b.Clone()
	m.bookingByKey[b.IdempotencyKey] = b.ID
	return nil
}

func (m *Memory) GetBooking(_ context.Context, id string) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return b.Clone(), nil
}

func (m *Memory) GetBookingByKey(_ context.Context, key string) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bookingByKey[key]
	if !ok {
		return domain.Booking{}, fmt.Errorf("idempotency key %s: %w", key, ErrNotFound)
	}
	return m.bookings[id].Clone(), nil
}

func (m *Memory) UpdateBooking(_ context.Context, b domain.Booking, expected domain.BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.bookings[b.ID]
	if !ok {
		return fmt.Errorf("booking %s: %w", b.ID, ErrNotFound)
	}
	if current.Status != expected {
		return fmt.Errorf("booking %s is %s, expected %s: %w", b.ID, current.Status, expected, ErrStaleWrite)
	}
	b.IdempotencyKey = current.IdempotencyKey
	m.bookings[b.ID] = b.Clone()
	return nil
}

func (m *Memory) ListBookingsByUser(_ context.Context, userID string) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- notifications ---

func (m *Memory) CreateNotification(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; ok {
		return fmt.Errorf("notification %s: %w", n.ID, ErrDuplicateKey)
	}
	m.notifications[n.ID] = n.Clone()
	return nil
}

func (m *Memory) GetNotification(_ context.Context, id string) (domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.Notification{}, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n.Clone(), nil
}

func (m *Memory) UpdateNotification(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[n.ID]; !ok {
		return fmt.Errorf("notification %s: %w", n.ID, ErrNotFound)
	}
	m.notifications[n.ID] = n.Clone()
	return nil
}

func (m *Memory) ListNotificationsByUser(_ context.Context, userID string) ([]domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
