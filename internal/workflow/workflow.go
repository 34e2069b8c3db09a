package workflow

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/store"
)

// Publisher emits domain events. Publish must not block on handlers.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any)
}

// PolicySource yields the active policy, or nil when none is active.
type PolicySource interface {
	ActiveOrNil(ctx context.Context) (*domain.Policy, error)
}

type Deps struct {
	Travel   store.TravelStore
	Expenses store.ExpenseStore
	Users    store.UserStore
	Policies PolicySource
	Events   Publisher
	Logger   *zap.Logger
	Tracer   trace.Tracer
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("travelcore/workflow")
	}
	return d
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

type clock func() time.Time
