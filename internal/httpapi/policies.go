package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/policy"
)

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req policy.CreateInput
	if err := decode(r, &req, false); err != nil {
		s.badJSON(w, r, err)
		return
	}
	p, err := s.svc.Policies.Create(r.Context(), actor(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.requestLogger(r).Info("policy created", zap.String("policyId", p.ID), zap.Int("version", p.Version))
	s.ok(w, r, http.StatusCreated, p)
}

func (s *Server) activatePolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Policies.Activate(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.requestLogger(r).Info("policy activated", zap.String("policyId", p.ID), zap.Int("version", p.Version))
	s.ok(w, r, http.StatusOK, p)
}

func (s *Server) getActivePolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Policies.GetActive(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, p)
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Policies.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, p)
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Policies.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, list)
}
