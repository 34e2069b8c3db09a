package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/apperr"
	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/store"
	"github.com/yourorg/travelcore/internal/validate"
)

// CreateInput is the payload for a new policy draft.
type CreateInput struct {
	Name  string     `json:"name" validate:"required,min=2,max=200"`
	Rules RulesInput `json:"rules"`
}

type RulesInput struct {
	MaxFlightCost        *decimal.Decimal `json:"maxFlightCost" validate:"required,gte=0"`
	MaxHotelPerDay       *decimal.Decimal `json:"maxHotelPerDay" validate:"required,gte=0"`
	MaxDailyFood         *decimal.Decimal `json:"maxDailyFood" validate:"required,gte=0"`
	MaxTripTotal         *decimal.Decimal `json:"maxTripTotal" validate:"required,gte=0"`
	AllowedFlightClasses []string         `json:"allowedFlightClasses" validate:"min=1,dive,required"`
}

type Service struct {
	store  store.PolicyStore
	logger *zap.Logger
	now    func() time.Time
}

func NewService(ps store.PolicyStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: ps, logger: logger, now: time.Now}
}

// Create stores an inactive draft with the next global version.
func (s *Service) Create(ctx context.Context, actor domain.Actor, in CreateInput) (domain.Policy, error) {
	if !actor.Can(domain.CapManagePolicy) {
		return domain.Policy{}, apperr.Forbidden("role %s cannot manage policies", actor.Role)
	}
	if err := validate.Struct(in); err != nil {
		return domain.Policy{}, err
	}
	p, err := s.store.CreatePolicy(ctx, domain.Policy{
		ID:   uuid.NewString(),
		Name: in.Name,
		Rules: domain.PolicyRules{
			MaxFlightCost:        *in.Rules.MaxFlightCost,
			MaxHotelPerDay:       *in.Rules.MaxHotelPerDay,
			MaxDailyFood:         *in.Rules.MaxDailyFood,
			MaxTripTotal:         *in.Rules.MaxTripTotal,
			AllowedFlightClasses: append([]string(nil), in.Rules.AllowedFlightClasses...),
		},
		CreatedBy: actor.ID,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Policy{}, fmt.Errorf("create policy: %w", err)
	}
	s.logger.Info("policy draft created",
		zap.String("policyId", p.ID), zap.Int("version", p.Version), zap.String("actorId", actor.ID))
	return p, nil
}

// Activate makes id the only active policy.
func (s *Service) Activate(ctx context.Context, actor domain.Actor, id string) (domain.Policy, error) {
	if !actor.Can(domain.CapManagePolicy) {
		return domain.Policy{}, apperr.Forbidden("role %s cannot manage policies", actor.Role)
	}
	p, err := s.store.ActivatePolicy(ctx, id, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Policy{}, apperr.NotFound("policy", id)
		}
		return domain.Policy{}, fmt.Errorf("activate policy: %w", err)
	}
	s.logger.Info("policy activated",
		zap.String("policyId", p.ID), zap.Int("version", p.Version), zap.String("actorId", actor.ID))
	return p, nil
}

// GetActive fails with NotFound when no policy is active.
func (s *Service) GetActive(ctx context.Context) (domain.Policy, error) {
	p, ok, err := s.store.ActivePolicy(ctx)
	if err != nil {
		return domain.Policy{}, fmt.Errorf("load active policy: %w", err)
	}
	if !ok {
		return domain.Policy{}, apperr.NotFound("active policy", "")
	}
	return p, nil
}

// ActiveOrNil returns nil when no policy is active. Evaluation treats that as compliant.
func (s *Service) ActiveOrNil(ctx context.Context) (*domain.Policy, error) {
	p, ok, err := s.store.ActivePolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active policy: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Policy, error) {
	p, err := s.store.GetPolicy(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Policy{}, apperr.NotFound("policy", id)
		}
		return domain.Policy{}, err
	}
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Policy, error) {
	return s.store.ListPolicies(ctx)
}
