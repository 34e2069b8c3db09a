// Package users lets administrators onboard and offboard accounts.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/apperr"
	"github.com/yourorg/travelcore/internal/auth"
	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/store"
	"github.com/yourorg/travelcore/internal/validate"
)

type CreateInput struct {
	Name  string      `json:"name" validate:"required,max=100"`
	Email string      `json:"email" validate:"required,email"`
	Role  domain.Role `json:"role" validate:"required,oneof=employee manager finance admin"`
}

// KeyIssuer hands a new account its first API key.
type KeyIssuer interface {
	CreateKey(ctx context.Context, userID, name string, expiresAt *time.Time) (auth.APIKey, string, error)
}

// Created is returned once; the raw key is not recoverable afterwards.
type Created struct {
	User   domain.User `json:"user"`
	APIKey string      `json:"apiKey,omitempty"`
	KeyID  string      `json:"keyId,omitempty"`
}

type Service struct {
	users  store.UserStore
	keys   KeyIssuer
	logger *zap.Logger
	now    func() time.Time
}

// NewService builds the service. keys may be nil, in which case accounts are
// created without a key and one must be issued separately.
func NewService(us store.UserStore, keys KeyIssuer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: us, keys: keys, logger: logger, now: time.Now}
}

// Create registers an active non-admin account. Admin accounts are only
// provisioned out of band.
func (s *Service) Create(ctx context.Context, actor domain.Actor, in CreateInput) (Created, error) {
	if !actor.Can(domain.CapManageUsers) {
		return Created{}, apperr.Forbidden("role %s cannot manage users", actor.Role)
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validate.Struct(in); err != nil {
		return Created{}, err
	}
	if in.Role == domain.RoleAdmin {
		return Created{}, apperr.Forbidden("admin accounts cannot be created through the API")
	}

	u := domain.User{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Email:     in.Email,
		Role:      in.Role,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return Created{}, apperr.Conflict("", "email %s is already registered", in.Email)
		}
		return Created{}, fmt.Errorf("create user: %w", err)
	}
	log := s.logger.With(zap.String("userId", u.ID), zap.String("actorId", actor.ID))
	log.Info("user created", zap.String("role", string(u.Role)))

	out := Created{User: u}
	if s.keys == nil {
		return out, nil
	}
	key, raw, err := s.keys.CreateKey(ctx, u.ID, "initial", nil)
	if err != nil {
		log.Error("issue initial api key", zap.Error(err))
		return Created{}, fmt.Errorf("issue initial key for %s: %w", u.ID, err)
	}
	out.APIKey, out.KeyID = raw, key.ID
	return out, nil
}

func (s *Service) List(ctx context.Context, actor domain.Actor) ([]domain.User, error) {
	if !actor.Can(domain.CapManageUsers) {
		return nil, apperr.Forbidden("role %s cannot manage users", actor.Role)
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Deactivate blocks the account from authenticating. It is idempotent, and an
// administrator cannot lock themselves out.
func (s *Service) Deactivate(ctx context.Context, actor domain.Actor, id string) (domain.User, error) {
	if !actor.Can(domain.CapManageUsers) {
		return domain.User{}, apperr.Forbidden("role %s cannot manage users", actor.Role)
	}
	if id == actor.ID {
		return domain.User{}, apperr.Forbidden("you cannot deactivate your own account")
	}
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, apperr.NotFound("user", id)
		}
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return u, nil
	}
	u.IsActive = false
	if err := s.users.PutUser(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("deactivate user: %w", err)
	}
	s.logger.Info("user deactivated", zap.String("userId", u.ID), zap.String("actorId", actor.ID))
	return u, nil
}
