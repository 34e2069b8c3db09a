package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/workflow"
)

type SubmitExpenseRequest struct {
	TravelRequestID string                 `json:"travelRequestId"`
	Amount          decimal.Decimal        `json:"amount"`
	Category        domain.ExpenseCategory `json:"category"`
	FlightClass     string                 `json:"flightClass,omitempty"`
	ExpenseDate     openapi_types.Date     `json:"expenseDate"`
	Description     string                 `json:"description,omitempty"`
	ReceiptURL      string                 `json:"receiptUrl,omitempty"`
}

func (s *Server) submitExpense(w http.ResponseWriter, r *http.Request) {
	var req SubmitExpenseRequest
	if err := decode(r, &req, false); err != nil {
		s.badJSON(w, r, err)
		return
	}
	e, err := s.svc.Expenses.Submit(r.Context(), actor(r), workflow.SubmitExpenseInput{
		TravelRequestID: req.TravelRequestID,
		Amount:          req.Amount,
		Category:        req.Category,
		FlightClass:     req.FlightClass,
		ExpenseDate:     req.ExpenseDate.Time,
		Description:     req.Description,
		ReceiptURL:      req.ReceiptURL,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.requestLogger(r).Info("expense submitted", zap.String("expenseId", e.ID), zap.String("status", string(e.Status)))
	s.ok(w, r, http.StatusCreated, e)
}

type expenseReview func(ctx context.Context, a domain.Actor, id, comment string) (domain.Expense, error)

func (s *Server) reviewExpense(fn expenseReview) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CommentRequest
		if err := decode(r, &req, true); err != nil {
			s.badJSON(w, r, err)
			return
		}
		e, err := fn(r.Context(), actor(r), chi.URLParam(r, "id"), req.Comment)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.ok(w, r, http.StatusOK, e)
	}
}

func (s *Server) approveExpense(w http.ResponseWriter, r *http.Request) {
	s.reviewExpense(s.svc.Expenses.Approve)(w, r)
}

func (s *Server) rejectExpense(w http.ResponseWriter, r *http.Request) {
	s.reviewExpense(s.svc.Expenses.Reject)(w, r)
}

func (s *Server) getExpense(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.Expenses.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, e)
}

type expenseList func(ctx context.Context, a domain.Actor) ([]domain.Expense, error)

func (s *Server) listExpenses(fn expenseList) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := fn(r.Context(), actor(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.ok(w, r, http.StatusOK, list)
	}
}

func (s *Server) listMyExpenses(w http.ResponseWriter, r *http.Request) {
	s.listExpenses(s.svc.Expenses.ListMine)(w, r)
}

func (s *Server) listPendingExpenses(w http.ResponseWriter, r *http.Request) {
	s.listExpenses(s.svc.Expenses.ListPending)(w, r)
}

func (s *Server) listFlaggedExpenses(w http.ResponseWriter, r *http.Request) {
	s.listExpenses(s.svc.Expenses.ListFlagged)(w, r)
}
