package notification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/eventbus"
	"github.com/yourorg/travelcore/internal/store"
)

// flakySender fails the first failures calls, then succeeds.
type flakySender struct {
	failures int32
	calls    atomic.Int32
}

func (s *flakySender) Send(context.Context, Message) error {
	if s.calls.Add(1) <= s.failures {
		return errors.New("smtp: connection refused")
	}
	return nil
}

func seedUsers(t *testing.T, mem *store.Memory) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []domain.User{
		{ID: "emp-1", Name: "Asha", Email: "asha@example.com", Role: domain.RoleEmployee, IsActive: true},
		{ID: "mgr-1", Name: "Vikram", Email: "vikram@example.com", Role: domain.RoleManager, IsActive: true},
		{ID: "fin-1", Name: "Meera", Email: "meera@example.com", Role: domain.RoleFinance, IsActive: true},
		{ID: "adm-1", Name: "Root", Email: "root@example.com", Role: domain.RoleAdmin, IsActive: true},
		{ID: "adm-2", Name: "Former", Email: "former@example.com", Role: domain.RoleAdmin, IsActive: false},
	} {
		require.NoError(t, mem.PutUser(ctx, u))
	}
}

type nopPusher struct{ ids []string }

func (p *nopPusher) Push(id string) { p.ids = append(p.ids, id) }

func TestWorker_FailsPermanentlyAfterThreeAttempts(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUsers(t, mem)
	pusher := &nopPusher{}
	d := NewDispatcher(mem, pusher, nil)
	sender := &flakySender{failures: 100}
	w := NewWorker(mem, mem, map[domain.Channel]Sender{domain.ChannelEmail: sender}, nil)

	n, err := d.Enqueue(ctx, EnqueueInput{UserID: "emp-1", Type: "x", Title: "t", Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationPending, n.Status)
	assert.Equal(t, []string{n.ID}, pusher.ids)

	for i := 1; i <= 3; i++ {
		err := w.Deliver(ctx, n.ID)
		require.Error(t, err)
		got, _ := mem.GetNotification(ctx, n.ID)
		assert.Equal(t, i, got.Attempts)
		assert.Equal(t, "smtp: connection refused", got.LastError)
	}

	got, err := mem.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationFailed, got.Status)
	assert.Nil(t, got.SentAt)

	require.NoError(t, w.Deliver(ctx, n.ID))
	got, _ = mem.GetNotification(ctx, n.ID)
	assert.Equal(t, 3, got.Attempts)
	assert.EqualValues(t, 3, sender.calls.Load())
}

func TestWorker_SkipsMissingAndSent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUsers(t, mem)
	sender := &flakySender{}
	w := NewWorker(mem, mem, map[domain.Channel]Sender{domain.ChannelEmail: sender}, nil)

	require.NoError(t, w.Deliver(ctx, "missing"))

	d := NewDispatcher(mem, &nopPusher{}, nil)
	n, err := d.Enqueue(ctx, EnqueueInput{UserID: "emp-1", Type: "x", Title: "t", Message: "m"})
	require.NoError(t, err)
	require.NoError(t, w.Deliver(ctx, n.ID))
	require.NoError(t, w.Deliver(ctx, n.ID))
	assert.EqualValues(t, 1, sender.calls.Load())
}

func TestWorker_InAppChannel(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUsers(t, mem)
	w := NewWorker(mem, mem, map[domain.Channel]Sender{domain.ChannelInApp: InAppSender{}}, nil)
	d := NewDispatcher(mem, &nopPusher{}, nil)

	n, err := d.Enqueue(ctx, EnqueueInput{UserID: "emp-1", Type: "x", Title: "t", Message: "m", Channel: domain.ChannelInApp})
	require.NoError(t, err)
	require.NoError(t, w.Deliver(ctx, n.ID))
	got, _ := mem.GetNotification(ctx, n.ID)
	assert.Equal(t, domain.NotificationSent, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestWorker_RecordsSpan(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUsers(t, mem)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	w := NewWorker(mem, mem, map[domain.Channel]Sender{domain.ChannelEmail: &flakySender{}}, nil).
		WithTracer(tp.Tracer("test"))
	n, err := NewDispatcher(mem, &nopPusher{}, nil).Enqueue(ctx, EnqueueInput{UserID: "emp-1", Type: "x"})
	require.NoError(t, err)

	require.NoError(t, w.Deliver(ctx, n.ID))
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "notification.deliver", spans[0].Name())
}

func TestQueue_RetriesUntilSent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUsers(t, mem)
	sender := &flakySender{failures: 2}
	w := NewWorker(mem, mem, map[domain.Channel]Sender{domain.ChannelEmail: sender}, nil)
	q := NewQueue(QueueConfig{MaxRetries: 3, BaseBackoff: time.Millisecond}, w.Deliver, nil)
	defer func() { _ = q.Close(context.Background()) }()
	d := NewDispatcher(mem, q, nil)

	n, err := d.Enqueue(ctx, EnqueueInput{UserID: "emp-1", Type: "x", Title: "t", Message: "m"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := mem.GetNotification(ctx, n.ID)
		return got.Status == domain.NotificationSent
	}, 2*time.Second, 5*time.Millisecond)

	got, _ := mem.GetNotification(ctx, n.ID)
	assert.Equal(t, 3, got.Attempts)
	assert.Empty(t, got.LastError)
	assert.NotNil(t, got.SentAt)
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	q := NewQueue(QueueConfig{MaxRetries: 3, BaseBackoff: time.Millisecond}, func(context.Context, string) error {
		if calls.Add(1) == 4 {
			close(done)
		}
		return errors.New("down")
	}, nil)
	defer func() { _ = q.Close(context.Background()) }()

	q.Push("n-1")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not retry")
	}
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 4, calls.Load())
	assert.Zero(t, q.Pending())
}

func TestQueue_SerialFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var inFlight, maxInFlight atomic.Int32
	q := NewQueue(DefaultQueueConfig(), func(_ context.Context, id string) error {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		inFlight.Add(-1)
		return nil
	}, nil)

	for _, id := range []string{"a", "b", "c", "d"} {
		q.Push(id)
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
	assert.EqualValues(t, 1, maxInFlight.Load())
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), RetryDelay(time.Second, 0))
	for retry, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second} {
		assert.InDelta(t, float64(want), float64(RetryDelay(time.Second, retry)), float64(time.Microsecond), retry)
	}
}

func TestQueue_CloseCancelsPendingRetries(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue(QueueConfig{MaxRetries: 3, BaseBackoff: time.Hour}, func(context.Context, string) error {
		calls.Add(1)
		return errors.New("down")
	}, nil)
	q.Push("n-1")
	require.Eventually(t, func() bool { return calls.Load() == 1 && q.Pending() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, q.Close(context.Background()))
	assert.Zero(t, q.Pending())
	q.Push("n-2")
	assert.Zero(t, q.Pending())
}

type recordingEnqueuer struct {
	mu  sync.Mutex
	got []EnqueueInput
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, in EnqueueInput) (domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, in)
	return domain.Notification{ID: "n"}, nil
}

func TestHandlers_RenderMessages(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUsers(t, mem)
	bus := eventbus.New(eventbus.Synchronous())
	rec := &recordingEnqueuer{}
	require.NoError(t, RegisterHandlers(bus, rec, mem))

	employee := domain.Actor{ID: "emp-1", Name: "Asha", Role: domain.RoleEmployee}
	manager := domain.Actor{ID: "mgr-1", Name: "Vikram", Role: domain.RoleManager}
	tr := domain.TravelRequest{
		ID:            "tr-1",
		UserID:        "emp-1",
		ManagerID:     "mgr-1",
		Destination:   "Bangalore",
		StartDate:     time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC),
		EstimatedCost: decimal.NewFromInt(42000),
	}
	bus.Publish(ctx, domain.EventTravelSubmitted, domain.TravelEvent{TravelRequest: tr, Actor: employee})

	approved := tr
	approved.ManagerComment = "Keep receipts"
	bus.Publish(ctx, domain.EventTravelApproved, domain.TravelEvent{TravelRequest: approved, Actor: manager})
	bus.Publish(ctx, domain.EventTravelRejected, domain.TravelEvent{TravelRequest: tr, Actor: manager})

	exp := domain.Expense{ID: "e-1", UserID: "emp-1", Amount: decimal.NewFromInt(9000), Category: domain.CategoryHotel,
		FlaggedReason: "hotel expense 9000 exceeds policy limit of 8000"}
	bus.Publish(ctx, domain.EventExpenseFlagged, domain.ExpenseEvent{Expense: exp, Actor: employee})
	bus.Publish(ctx, domain.EventExpenseApproved, domain.ExpenseEvent{Expense: exp, Actor: employee})

	bk := domain.Booking{ID: "b-1", UserID: "emp-1", Type: domain.BookingHotel, InventoryID: "HT-BLR-001",
		Price: decimal.NewFromInt(3500), Currency: "INR", LastError: "stale"}
	bus.Publish(ctx, domain.EventBookingConfirmed, &domain.BookingEvent{Booking: bk, Actor: employee})
	bus.Publish(ctx, domain.EventBookingFailed, domain.BookingEvent{Booking: bk, Actor: employee,
		Error: "Provider error: booking service temporarily unavailable"})

	require.Len(t, rec.got, 8)
	assert.Equal(t, EnqueueInput{
		UserID:  "mgr-1",
		Type:    domain.EventTravelSubmitted,
		Title:   "New travel request awaiting your approval",
		Message: "Asha submitted a travel request to Bangalore (2026-11-02 – 2026-11-05). Estimated cost: ₹42000.",
		Channel: domain.ChannelEmail,
	}, rec.got[0])
	assert.Equal(t, `Your travel request to Bangalore has been approved. Manager comment: "Keep receipts"`, rec.got[1].Message)
	assert.Equal(t, "emp-1", rec.got[1].UserID)
	assert.Equal(t, "Your travel request to Bangalore has been rejected.", rec.got[2].Message)

	// finance and active admins, in user id order
	assert.Equal(t, "adm-1", rec.got[3].UserID)
	assert.Equal(t, "fin-1", rec.got[4].UserID)
	assert.Equal(t, "An expense of ₹9000 (hotel) submitted by user Asha has been auto-flagged. "+
		"Reason: hotel expense 9000 exceeds policy limit of 8000.", rec.got[3].Message)

	assert.Equal(t, "Your expense of ₹9000 (hotel) has been approved by finance.", rec.got[5].Message)
	assert.Equal(t, "Your hotel booking (HT-BLR-001) has been confirmed. Price: ₹3500 INR.", rec.got[6].Message)
	assert.Equal(t, "Your hotel booking (HT-BLR-001) could not be confirmed. "+
		"Error: Provider error: booking service temporarily unavailable. You may retry.", rec.got[7].Message)
}

func TestHandlers_DuplicateRegistration(t *testing.T) {
	bus := eventbus.New(eventbus.Synchronous())
	mem := store.NewMemory()
	require.NoError(t, RegisterHandlers(bus, &recordingEnqueuer{}, mem))
	err := RegisterHandlers(bus, &recordingEnqueuer{}, mem)
	assert.ErrorIs(t, err, eventbus.ErrHandlerAlreadyRegistered)
}

func TestListMine(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	d := NewDispatcher(mem, &nopPusher{}, nil)
	_, err := d.Enqueue(ctx, EnqueueInput{UserID: "emp-1", Type: "a"})
	require.NoError(t, err)
	_, err = d.Enqueue(ctx, EnqueueInput{UserID: "emp-2", Type: "b"})
	require.NoError(t, err)

	list, err := d.ListMine(ctx, domain.Actor{ID: "emp-1", Role: domain.RoleEmployee})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].Type)

	list, err = d.ListMine(ctx, domain.Actor{ID: "nobody", Role: domain.RoleEmployee})
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}
