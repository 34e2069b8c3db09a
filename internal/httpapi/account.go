package httpapi

import (
	"net/http"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/yourorg/travelcore/internal/apperr"
	"github.com/yourorg/travelcore/internal/domain"
)

type MeResponse struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Email        openapi_types.Email `json:"email"`
	Role         domain.Role         `json:"role"`
	Capabilities []domain.Capability `json:"capabilities"`
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	u, err := s.svc.Users.GetUser(r.Context(), a.ID)
	if err != nil {
		s.fail(w, r, apperr.NotFound("user", a.ID))
		return
	}
	s.ok(w, r, http.StatusOK, MeResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        openapi_types.Email(u.Email),
		Role:         u.Role,
		Capabilities: u.Role.Capabilities(),
	})
}

func (s *Server) listMyNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Notifications.ListMine(r.Context(), actor(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, list)
}

// healthz is unauthenticated and always 200 while the process serves.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "time": s.now().UTC()}
	if s.svc.Health != nil {
		for k, v := range s.svc.Health.Check(r.Context()) {
			body[k] = v
		}
	}
	s.ok(w, r, http.StatusOK, body)
}
