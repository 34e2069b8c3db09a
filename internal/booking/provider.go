package booking

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/domain"
)

var (
	ErrProviderUnavailable = errors.New("Provider error: booking service temporarily unavailable")
	ErrProviderCircuitOpen = errors.New("booking provider unavailable (circuit open)")
)

// ProviderRequest is what the external reservation system sees.
type ProviderRequest struct {
	BookingID   string
	Type        domain.BookingType
	InventoryID string
	Price       decimal.Decimal
	Currency    string
}

type Confirmation struct {
	Reference string
}

// Provider reserves the item with the external system. One call is one attempt.
type Provider interface {
	Book(ctx context.Context, req ProviderRequest) (Confirmation, error)
}

// SimulatedProvider answers after a random delay and fails at FailureRate.
type SimulatedProvider struct {
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
	rand        func() float64
	now         func() time.Time
}

func NewSimulatedProvider(failureRate float64, minDelay, maxDelay time.Duration) *SimulatedProvider {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &SimulatedProvider{
		FailureRate: failureRate,
		MinDelay:    minDelay,
		MaxDelay:    maxDelay,
		rand:        rand.Float64,
		now:         time.Now,
	}
}

func (p *SimulatedProvider) Book(ctx context.Context, _ ProviderRequest) (Confirmation, error) {
	delay := p.MinDelay + time.Duration(p.rand()*float64(p.MaxDelay-p.MinDelay))
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Confirmation{}, ctx.Err()
	case <-t.C:
	}
	if p.rand() < p.FailureRate {
		return Confirmation{}, ErrProviderUnavailable
	}
	return Confirmation{Reference: fmt.Sprintf("CONF-%d", p.now().UnixMilli())}, nil
}

type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second, HalfOpenRequests: 1}
}

// BreakerProvider stops calling a provider that keeps failing.
type BreakerProvider struct {
	next    Provider
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerProvider(next Provider, cfg BreakerConfig, logger *zap.Logger) *BreakerProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "booking-provider",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &BreakerProvider{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (p *BreakerProvider) Book(ctx context.Context, req ProviderRequest) (Confirmation, error) {
	res, err := p.breaker.Execute(func() (interface{}, error) {
		return p.next.Book(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Confirmation{}, fmt.Errorf("%w: %w", ErrProviderCircuitOpen, err)
		}
		return Confirmation{}, err
	}
	return res.(Confirmation), nil
}

// State reports the breaker state, for health output.
func (p *BreakerProvider) State() string {
	return p.breaker.State().String()
}
