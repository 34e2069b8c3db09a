package booking

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

	"github.com/yourorg/travelcore/internal/apperr"
	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/inventory"
	"github.com/yourorg/travelcore/internal/store"
)

var (
	asha  = domain.Actor{ID: "emp-1", Name: "Asha", Role: domain.RoleEmployee}
	ravi  = domain.Actor{ID: "emp-2", Name: "Ravi", Role: domain.RoleEmployee}
	admin = domain.Actor{ID: "adm-1", Name: "Root", Role: domain.RoleAdmin}
)

// scriptedProvider returns queued results in order, then succeeds.
type scriptedProvider struct {
	mu      sync.Mutex
	results []error
	calls   atomic.Int32
	delay   time.Duration
}

func (p *scriptedProvider) Book(ctx context.Context, req ProviderRequest) (Confirmation, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) > 0 {
		err := p.results[0]
		p.results = p.results[1:]
		if err != nil {
			return Confirmation{}, err
		}
	}
	return Confirmation{Reference: "CONF-" + req.BookingID}, nil
}

type published struct {
	name    string
	payload domain.BookingEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, name string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{name: name, payload: payload.(domain.BookingEvent)})
}

func (p *recordingPublisher) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.name)
	}
	return out
}

// storeWorkflow moves the parent request directly in the store.
type storeWorkflow struct {
	travel store.TravelStore
}

func (w storeWorkflow) MarkBooked(ctx context.Context, id string, actor domain.Actor, note string) error {
	tr, err := w.travel.GetTravel(ctx, id)
	if err != nil {
		return err
	}
	from := tr.Status
	tr.Status = domain.TravelBooked
	tr.AuditLogs = append(tr.AuditLogs, domain.NewAuditEntry(domain.AuditBooked, actor, time.Now(), note))
	return w.travel.UpdateTravel(ctx, tr, from)
}

func (w storeWorkflow) CancelBooked(ctx context.Context, id string, actor domain.Actor, note string) error {
	tr, err := w.travel.GetTravel(ctx, id)
	if err != nil {
		return err
	}
	if tr.Status != domain.TravelBooked {
		return nil
	}
	tr.Status = domain.TravelCancelled
	tr.AuditLogs = append(tr.AuditLogs, domain.NewAuditEntry(domain.AuditCancelled, actor, time.Now(), note))
	return w.travel.UpdateTravel(ctx, tr, domain.TravelBooked)
}

type fixture struct {
	svc      *Service
	mem      *store.Memory
	ledger   *inventory.MemoryLedger
	provider *scriptedProvider
	events   *recordingPublisher
	spans    *tracetest.SpanRecorder
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	mem := store.NewMemory()
	ledger := inventory.NewMemoryLedger(inventory.DefaultCatalog(), nil)
	provider := &scriptedProvider{}
	events := &recordingPublisher{}
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	svc := NewService(Deps{
		Bookings: mem,
		Travel:   mem,
		Ledger:   ledger,
		Provider: provider,
		Workflow: storeWorkflow{travel: mem},
		Events:   events,
		Tracer:   tp.Tracer("test"),
	}, cfg)
	return &fixture{svc: svc, mem: mem, ledger: ledger, provider: provider, events: events, spans: spans}
}

func (f *fixture) approvedRequest(t *testing.T, id string, owner domain.Actor) {
	t.Helper()
	require.NoError(t, f.mem.CreateTravel(context.Background(), domain.TravelRequest{
		ID:            id,
		UserID:        owner.ID,
		ManagerID:     "mgr-1",
		Destination:   "Delhi",
		StartDate:     time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 12, 3, 0, 0, 0, 0, time.UTC),
		EstimatedCost: decimal.NewFromInt(20000),
		Status:        domain.TravelManagerApproved,
		CreatedAt:     time.Now(),
	}))
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	it, err := f.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	return it.Stock
}

func hotelInput(trID, inv string) CreateInput {
	return CreateInput{TravelRequestID: trID, Type: domain.BookingHotel, InventoryID: inv}
}

func TestCreate_ConfirmsAndMarksRequestBooked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.approvedRequest(t, "tr-1", asha)

	b, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, b.Status)
	assert.Equal(t, 1, b.Attempts)
	assert.NotNil(t, b.ConfirmedAt)
	assert.Equal(t, "CONF-"+b.ID, b.ProviderRef)
	assert.True(t, b.Price.Equal(decimal.NewFromInt(3500)))
	assert.Equal(t, "INR", b.Currency)
	assert.Equal(t, 19, f.stock(t, "HT-BLR-001"))

	tr, err := f.mem.GetTravel(ctx, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TravelBooked, tr.Status)
	last := tr.AuditLogs[len(tr.AuditLogs)-1]
	assert.Equal(t, domain.AuditBooked, last.Action)
	assert.Equal(t, "Booking confirmed: "+b.ID+" (hotel — HT-BLR-001)", last.Note)

	assert.Equal(t, []string{domain.EventBookingConfirmed}, f.events.Names())

	var names []string
	for _, s := range f.spans.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"booking.provider", "booking.create"}, names)
}

func TestCreate_IdempotentReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.approvedRequest(t, "tr-1", asha)

	first, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, domain.BookingConfirmed, again.Status)
	}
	assert.Equal(t, 19, f.stock(t, "HT-BLR-001"))
	assert.EqualValues(t, 1, f.provider.calls.Load())
	assert.Len(t, f.events.Names(), 1)
}

func TestCreate_ConcurrentSameKeyDecrementsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.provider.delay = 20 * time.Millisecond
	f.approvedRequest(t, "tr-1", asha)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
			if assert.NoError(t, err) {
				ids[i] = b.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 19, f.stock(t, "HT-BLR-001"))
	assert.EqualValues(t, 1, f.provider.calls.Load())
}

func TestCreate_KeyReusedForDifferentPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.approvedRequest(t, "tr-1", asha)

	_, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-002"))
	var conflict apperr.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 5, f.stock(t, "HT-BLR-002"))
}

func TestCreate_LastRoomGoesToOneBooker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.provider.delay = 10 * time.Millisecond
	f.approvedRequest(t, "tr-a", asha)
	f.approvedRequest(t, "tr-r", ravi)

	type result struct {
		b   domain.Booking
		err error
	}
	results := make(chan result, 2)
	go func() {
		b, err := f.svc.Create(ctx, asha, "key-a", hotelInput("tr-a", "HT-DEL-002"))
		results <- result{b, err}
	}()
	go func() {
		b, err := f.svc.Create(ctx, ravi, "key-r", hotelInput("tr-r", "HT-DEL-002"))
		results <- result{b, err}
	}()

	confirmed, conflicts := 0, 0
	for i := 0; i < 2; i++ {
		r := <-results
		switch {
		case r.err == nil:
			assert.Equal(t, domain.BookingConfirmed, r.b.Status)
			confirmed++
		case apperr.Kind(r.err) == "conflict":
			assert.Contains(t, r.err.Error(), "out of stock")
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 0, f.stock(t, "HT-DEL-002"))
}

func TestCreate_ProviderFailureCompensates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.provider.results = []error{ErrProviderUnavailable}
	f.approvedRequest(t, "tr-1", asha)

	b, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingFailed, b.Status)
	assert.Equal(t, 2, b.Attempts)
	assert.Equal(t, ErrProviderUnavailable.Error(), b.LastError)
	assert.Equal(t, 20, f.stock(t, "HT-BLR-001"))

	tr, _ := f.mem.GetTravel(ctx, "tr-1")
	assert.Equal(t, domain.TravelManagerApproved, tr.Status)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, domain.EventBookingFailed, f.events.events[0].name)
	assert.Equal(t, ErrProviderUnavailable.Error(), f.events.events[0].payload.Error)
}

func TestCreate_RetryFailedInPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.provider.results = []error{ErrProviderUnavailable}
	f.approvedRequest(t, "tr-1", asha)

	failed, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
	require.NoError(t, err)
	require.Equal(t, domain.BookingFailed, failed.Status)

	retried, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
	require.NoError(t, err)
	assert.Equal(t, failed.ID, retried.ID)
	assert.Equal(t, domain.BookingConfirmed, retried.Status)
	assert.Equal(t, 2, retried.Attempts)
	assert.Empty(t, retried.LastError)
	assert.Equal(t, 19, f.stock(t, "HT-BLR-001"))
}

func TestCreate_RetryDisabledReturnsFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ProviderTimeout: time.Second, RetryFailed: false})
	f.provider.results = []error{ErrProviderUnavailable}
	f.approvedRequest(t, "tr-1", asha)

	_, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
	require.NoError(t, err)
	again, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingFailed, again.Status)
	assert.EqualValues(t, 1, f.provider.calls.Load())
}

func TestCreate_ProviderTimeoutIsAFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{ProviderTimeout: 10 * time.Millisecond, RetryFailed: true})
	f.provider.delay = time.Second
	f.approvedRequest(t, "tr-1", asha)

	b, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingFailed, b.Status)
	assert.Contains(t, b.LastError, "no response within 10ms")
	assert.Equal(t, 20, f.stock(t, "HT-BLR-001"))
}

func TestCreate_Preconditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.approvedRequest(t, "tr-1", asha)
	require.NoError(t, f.mem.CreateTravel(ctx, domain.TravelRequest{ID: "tr-draft", UserID: asha.ID, Status: domain.TravelDraft}))

	tests := []struct {
		name  string
		actor domain.Actor
		key   string
		in    CreateInput
		kind  string
	}{
		{"missing key", asha, "  ", hotelInput("tr-1", "HT-BLR-001"), "validation"},
		{"bad type", asha, "k1", CreateInput{TravelRequestID: "tr-1", Type: "train", InventoryID: "HT-BLR-001"}, "validation"},
		{"unknown request", asha, "k2", hotelInput("tr-x", "HT-BLR-001"), "not_found"},
		{"not owner", ravi, "k3", hotelInput("tr-1", "HT-BLR-001"), "forbidden"},
		{"not approved", asha, "k4", hotelInput("tr-draft", "HT-BLR-001"), "validation"},
		{"unknown item", asha, "k5", hotelInput("tr-1", "HT-XXX-001"), "not_found"},
		{"type mismatch", asha, "k6", hotelInput("tr-1", "FL-DEL-BLR-001"), "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.actor, tt.key, tt.in)
			assert.Equal(t, tt.kind, apperr.Kind(err), err)
		})
	}
	assert.Zero(t, f.provider.calls.Load())
	assert.Equal(t, 20, f.stock(t, "HT-BLR-001"))
	assert.Equal(t, 40, f.stock(t, "FL-DEL-BLR-001"))
}

func TestCancel_RestoresStockAndCancelsParent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.approvedRequest(t, "tr-1", asha)
	b, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-DEL-002"))
	require.NoError(t, err)
	require.Equal(t, 0, f.stock(t, "HT-DEL-002"))

	_, err = f.svc.Cancel(ctx, ravi, b.ID)
	assert.Equal(t, "forbidden", apperr.Kind(err))

	cancelled, err := f.svc.Cancel(ctx, asha, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 1, f.stock(t, "HT-DEL-002"))

	tr, _ := f.mem.GetTravel(ctx, "tr-1")
	assert.Equal(t, domain.TravelCancelled, tr.Status)
	last := tr.AuditLogs[len(tr.AuditLogs)-1]
	assert.Equal(t, "Booking cancelled: "+b.ID, last.Note)

	_, err = f.svc.Cancel(ctx, asha, b.ID)
	assert.Equal(t, "invalid_transition", apperr.Kind(err))
	assert.Equal(t, 1, f.stock(t, "HT-DEL-002"))

	_, err = f.svc.Cancel(ctx, asha, "missing")
	assert.Equal(t, "not_found", apperr.Kind(err))
}

func TestGetAndList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.approvedRequest(t, "tr-1", asha)
	b, err := f.svc.Create(ctx, asha, "key-1", hotelInput("tr-1", "HT-BLR-001"))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, asha, b.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, admin, b.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, ravi, b.ID)
	assert.Equal(t, "forbidden", apperr.Kind(err))

	mine, err := f.svc.ListMine(ctx, asha)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	none, err := f.svc.ListMine(ctx, ravi)
	require.NoError(t, err)
	assert.NotNil(t, none)

	flights, err := f.svc.Flights(ctx, asha)
	require.NoError(t, err)
	assert.Len(t, flights, 5)
	hotels, err := f.svc.Hotels(ctx, asha)
	require.NoError(t, err)
	for _, h := range hotels {
		if h.ID == "HT-BLR-001" {
			assert.Equal(t, 19, h.AvailableRooms)
		}
	}
}

func TestSimulatedProvider(t *testing.T) {
	p := NewSimulatedProvider(0, 0, 0)
	conf, err := p.Book(context.Background(), ProviderRequest{})
	require.NoError(t, err)
	assert.Regexp(t, `^CONF-\d+$`, conf.Reference)

	p = NewSimulatedProvider(1, 0, 0)
	_, err = p.Book(context.Background(), ProviderRequest{})
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	p = NewSimulatedProvider(0, time.Hour, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = p.Book(ctx, ProviderRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreakerProvider_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &scriptedProvider{results: []error{ErrProviderUnavailable, ErrProviderUnavailable}}
	p := NewBreakerProvider(inner, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour, HalfOpenRequests: 1}, nil)

	for i := 0; i < 2; i++ {
		_, err := p.Book(context.Background(), ProviderRequest{})
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	}
	_, err := p.Book(context.Background(), ProviderRequest{})
	assert.ErrorIs(t, err, ErrProviderCircuitOpen)
	assert.EqualValues(t, 2, inner.calls.Load())
	assert.Equal(t, "open", p.State())
}
