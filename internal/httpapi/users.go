package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/users"
)

type UserResponse struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Email     openapi_types.Email `json:"email"`
	Role      domain.Role         `json:"role"`
	IsActive  bool                `json:"isActive"`
	CreatedAt time.Time           `json:"createdAt"`
}

type CreateUserResponse struct {
	User UserResponse `json:"user"`
	// APIKey is shown once.
	APIKey string `json:"apiKey,omitempty"`
	KeyID  string `json:"keyId,omitempty"`
}

func toUserResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     openapi_types.Email(u.Email),
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req users.CreateInput
	if err := decode(r, &req, false); err != nil {
		s.badJSON(w, r, err)
		return
	}
	created, err := s.svc.Accounts.Create(r.Context(), actor(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.requestLogger(r).Info("user created", zap.String("userId", created.User.ID), zap.String("role", string(created.User.Role)))
	s.ok(w, r, http.StatusCreated, CreateUserResponse{
		User:   toUserResponse(created.User),
		APIKey: created.APIKey,
		KeyID:  created.KeyID,
	})
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Accounts.List(r.Context(), actor(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]UserResponse, 0, len(list))
	for _, u := range list {
		out = append(out, toUserResponse(u))
	}
	s.ok(w, r, http.StatusOK, out)
}

func (s *Server) deactivateUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.svc.Accounts.Deactivate(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.requestLogger(r).Info("user deactivated", zap.String("userId", u.ID))
	s.ok(w, r, http.StatusOK, toUserResponse(u))
}
