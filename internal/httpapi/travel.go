package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/workflow"
)

type CreateTravelRequest struct {
	ManagerID     string             `json:"managerId"`
	Destination   string             `json:"destination"`
	StartDate     openapi_types.Date `json:"startDate"`
	EndDate       openapi_types.Date `json:"endDate"`
	EstimatedCost decimal.Decimal    `json:"estimatedCost"`
	Purpose       string             `json:"purpose"`
}

type UpdateTravelRequest struct {
	ManagerID     *string             `json:"managerId,omitempty"`
	Destination   *string             `json:"destination,omitempty"`
	StartDate     *openapi_types.Date `json:"startDate,omitempty"`
	EndDate       *openapi_types.Date `json:"endDate,omitempty"`
	EstimatedCost *decimal.Decimal    `json:"estimatedCost,omitempty"`
	Purpose       *string             `json:"purpose,omitempty"`
}

// CommentRequest is the optional body of every transition endpoint.
type CommentRequest struct {
	Comment string `json:"comment"`
}

func dateOrNil(d *openapi_types.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func (s *Server) createTravel(w http.ResponseWriter, r *http.Request) {
	var req CreateTravelRequest
	if err := decode(r, &req, false); err != nil {
		s.badJSON(w, r, err)
		return
	}
	tr, err := s.svc.Travel.Create(r.Context(), actor(r), workflow.CreateTravelInput{
		ManagerID:     req.ManagerID,
		Destination:   req.Destination,
		StartDate:     req.StartDate.Time,
		EndDate:       req.EndDate.Time,
		EstimatedCost: req.EstimatedCost,
		Purpose:       req.Purpose,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.requestLogger(r).Info("travel request created", zap.String("travelId", tr.ID))
	s.ok(w, r, http.StatusCreated, tr)
}

func (s *Server) updateTravel(w http.ResponseWriter, r *http.Request) {
	var req UpdateTravelRequest
	if err := decode(r, &req, false); err != nil {
		s.badJSON(w, r, err)
		return
	}
	tr, err := s.svc.Travel.Update(r.Context(), actor(r), chi.URLParam(r, "id"), workflow.UpdateTravelInput{
		ManagerID:     req.ManagerID,
		Destination:   req.Destination,
		StartDate:     dateOrNil(req.StartDate),
		EndDate:       dateOrNil(req.EndDate),
		EstimatedCost: req.EstimatedCost,
		Purpose:       req.Purpose,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, tr)
}

type travelTransition func(ctx context.Context, a domain.Actor, id, comment string) (domain.TravelRequest, error)

// transitionTravel serves the POST /travel/{id}/<verb> endpoints, which share one shape.
func (s *Server) transitionTravel(fn travelTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CommentRequest
		if err := decode(r, &req, true); err != nil {
			s.badJSON(w, r, err)
			return
		}
		tr, err := fn(r.Context(), actor(r), chi.URLParam(r, "id"), req.Comment)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.requestLogger(r).Info("travel request transitioned",
			zap.String("travelId", tr.ID), zap.String("status", string(tr.Status)))
		s.ok(w, r, http.StatusOK, tr)
	}
}

func (s *Server) submitTravel(w http.ResponseWriter, r *http.Request) {
	s.transitionTravel(s.svc.Travel.Submit)(w, r)
}

func (s *Server) approveTravel(w http.ResponseWriter, r *http.Request) {
	s.transitionTravel(s.svc.Travel.Approve)(w, r)
}

func (s *Server) rejectTravel(w http.ResponseWriter, r *http.Request) {
	s.transitionTravel(s.svc.Travel.Reject)(w, r)
}

func (s *Server) cancelTravel(w http.ResponseWriter, r *http.Request) {
	s.transitionTravel(s.svc.Travel.Cancel)(w, r)
}

func (s *Server) completeTravel(w http.ResponseWriter, r *http.Request) {
	s.transitionTravel(s.svc.Travel.Complete)(w, r)
}

func (s *Server) getTravel(w http.ResponseWriter, r *http.Request) {
	tr, err := s.svc.Travel.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, tr)
}

func (s *Server) listMyTravel(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Travel.ListMine(r.Context(), actor(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, list)
}

func (s *Server) listPendingTravel(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Travel.ListPendingForManager(r.Context(), actor(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, list)
}
