package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/policy"
	"github.com/yourorg/travelcore/internal/store"
)

var (
	fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	asha    = domain.Actor{ID: "emp-1", Name: "Asha", Role: domain.RoleEmployee}
	ravi    = domain.Actor{ID: "emp-2", Name: "Ravi", Role: domain.RoleEmployee}
	meera   = domain.Actor{ID: "mgr-1", Name: "Meera", Role: domain.RoleManager}
	karan   = domain.Actor{ID: "mgr-2", Name: "Karan", Role: domain.RoleManager}
	farah   = domain.Actor{ID: "fin-1", Name: "Farah", Role: domain.RoleFinance}
	root    = domain.Actor{ID: "adm-1", Name: "Root", Role: domain.RoleAdmin}
	retired = domain.User{ID: "mgr-9", Name: "Old", Email: "old@example.com", Role: domain.RoleManager}
)

type published struct {
	name    string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, name string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{name: name, payload: payload})
}

func (p *recordingPublisher) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []string{}
	for _, e := range p.events {
		out = append(out, e.name)
	}
	return out
}

type fixture struct {
	travel   *TravelService
	expenses *ExpenseService
	mem      *store.Memory
	policies *policy.Service
	events   *recordingPublisher
	spans    *tracetest.SpanRecorder
}

func newFixture(t *testing.T, withPolicy bool) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, a := range []domain.Actor{asha, ravi, meera, karan, farah, root} {
		require.NoError(t, mem.PutUser(ctx, domain.User{ID: a.ID, Name: a.Name, Email: a.ID + "@example.com", Role: a.Role, IsActive: true}))
	}
	require.NoError(t, mem.PutUser(ctx, retired))

	policies := policy.NewService(mem, nil)
	if withPolicy {
		dec := func(v int64) *decimal.Decimal { d := decimal.NewFromInt(v); return &d }
		p, err := policies.Create(ctx, root, policy.CreateInput{
			Name: "Standard",
			Rules: policy.RulesInput{
				MaxFlightCost:        dec(15000),
				MaxHotelPerDay:       dec(8000),
				MaxDailyFood:         dec(2000),
				MaxTripTotal:         dec(100000),
				AllowedFlightClasses: []string{"economy", "premium_economy"},
			},
		})
		require.NoError(t, err)
		_, err = policies.Activate(ctx, root, p.ID)
		require.NoError(t, err)
	}

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	events := &recordingPublisher{}
	deps := Deps{
		Travel:   mem,
		Expenses: mem,
		Users:    mem,
		Policies: policies,
		Events:   events,
		Tracer:   tp.Tracer("test"),
	}
	travel := NewTravelService(deps)
	travel.now = func() time.Time { return fixedNow }
	expenses := NewExpenseService(deps)
	expenses.now = func() time.Time { return fixedNow }
	return &fixture{travel: travel, expenses: expenses, mem: mem, policies: policies, events: events, spans: spans}
}

func tripInput(cost int64) CreateTravelInput {
	return CreateTravelInput{
		ManagerID:     meera.ID,
		Destination:   "Bengaluru",
		StartDate:     time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
		EstimatedCost: decimal.NewFromInt(cost),
		Purpose:       "Quarterly client review",
	}
}

// seedTravel stores a request owned by asha and managed by meera in the given status.
func (f *fixture) seedTravel(t *testing.T, id string, status domain.TravelStatus) domain.TravelRequest {
	t.Helper()
	in := tripInput(50000)
	tr := domain.TravelRequest{
		ID:            id,
		UserID:        asha.ID,
		ManagerID:     meera.ID,
		Destination:   in.Destination,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		EstimatedCost: in.EstimatedCost,
		Purpose:       in.Purpose,
		Status:        status,
		Violations:    []domain.Violation{},
		AuditLogs:     []domain.AuditEntry{},
		CreatedAt:     fixedNow,
		UpdatedAt:     fixedNow,
	}
	require.NoError(t, f.mem.CreateTravel(context.Background(), tr))
	return tr
}

func actions(entries []domain.AuditEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}
