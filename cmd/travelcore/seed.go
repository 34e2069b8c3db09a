package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/auth"
	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/policy"
	"github.com/yourorg/travelcore/internal/store"
)

var demoUsers = []domain.User{
	{ID: "adm-1", Name: "System Admin", Email: "admin@travelcore.local", Role: domain.RoleAdmin},
	{ID: "mgr-1", Name: "Meera Iyer", Email: "meera@travelcore.local", Role: domain.RoleManager},
	{ID: "fin-1", Name: "Farah Khan", Email: "farah@travelcore.local", Role: domain.RoleFinance},
	{ID: "emp-1", Name: "Asha Rao", Email: "asha@travelcore.local", Role: domain.RoleEmployee},
	{ID: "emp-2", Name: "Ravi Menon", Email: "ravi@travelcore.local", Role: domain.RoleEmployee},
}

// seed loads demo users, one API key each and an active standard policy.
// Raw keys are only ever visible in this log output.
func seed(ctx context.Context, users *store.Memory, policies *policy.Service, keys *auth.MemoryKeyStore, logger *zap.Logger) error {
	now := time.Now().UTC()
	var admin domain.Actor
	for _, u := range demoUsers {
		u.IsActive = true
		u.CreatedAt = now
		if err := users.PutUser(ctx, u); err != nil {
			return fmt.Errorf("user %s: %w", u.ID, err)
		}
		key, raw, err := keys.CreateKey(ctx, u.ID, "demo", nil)
		if err != nil {
			return fmt.Errorf("key for %s: %w", u.ID, err)
		}
		logger.Warn("demo api key issued",
			zap.String("userId", u.ID), zap.String("role", string(u.Role)),
			zap.String("keyId", key.ID), zap.String("apiKey", raw))
		if u.Role == domain.RoleAdmin {
			admin = domain.ActorFromUser(u)
		}
	}

	amount := func(v int64) *decimal.Decimal { d := decimal.NewFromInt(v); return &d }
	p, err := policies.Create(ctx, admin, policy.CreateInput{
		Name: "Standard Travel Policy",
		Rules: policy.RulesInput{
			MaxFlightCost:        amount(15000),
			MaxHotelPerDay:       amount(8000),
			MaxDailyFood:         amount(2000),
			MaxTripTotal:         amount(100000),
			AllowedFlightClasses: []string{"economy", "premium_economy"},
		},
	})
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, err := policies.Activate(ctx, admin, p.ID); err != nil {
		return fmt.Errorf("activate policy: %w", err)
	}
	logger.Info("demo data seeded", zap.Int("users", len(demoUsers)), zap.String("policyId", p.ID))
	return nil
}
