package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/apperr"
	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/policy"
	"github.com/yourorg/travelcore/internal/store"
	"github.com/yourorg/travelcore/internal/validate"
)

type SubmitExpenseInput struct {
	TravelRequestID string                 `json:"travelRequestId" validate:"required"`
	Amount          decimal.Decimal        `json:"amount" validate:"gt=0"`
	Category        domain.ExpenseCategory `json:"category" validate:"required,oneof=flight hotel food transport other"`
	FlightClass     string                 `json:"flightClass" validate:"omitempty,max=50"`
	ExpenseDate     time.Time              `json:"expenseDate" validate:"required"`
	Description     string                 `json:"description" validate:"max=1000"`
	ReceiptURL      string                 `json:"receiptUrl" validate:"omitempty,max=2048"`
}

// ExpenseService owns the expense state machine and auto-flagging.
type ExpenseService struct {
	expenses store.ExpenseStore
	travel   store.TravelStore
	policies PolicySource
	events   Publisher
	logger   *zap.Logger
	tracer   trace.Tracer
	now      clock
}

func NewExpenseService(d Deps) *ExpenseService {
	d = d.withDefaults()
	return &ExpenseService{
		expenses: d.Expenses,
		travel:   d.Travel,
		policies: d.Policies,
		events:   d.Events,
		logger:   d.Logger,
		tracer:   d.Tracer,
		now:      time.Now,
	}
}

// Submit files an expense against one of the actor's expensable travel requests.
// Duplicates and policy violations flag the expense instead of rejecting it.
func (s *ExpenseService) Submit(ctx context.Context, actor domain.Actor, in SubmitExpenseInput) (domain.Expense, error) {
	ctx, span := s.tracer.Start(ctx, "expense.submit", trace.WithAttributes(
		attribute.String("travel.id", in.TravelRequestID),
		attribute.String("expense.category", string(in.Category)),
	))
	defer span.End()

	if !actor.Can(domain.CapSubmitExpense) {
		return domain.Expense{}, apperr.Forbidden("role %s cannot submit expenses", actor.Role)
	}
	in.Description = strings.TrimSpace(in.Description)
	if err := validate.Struct(in); err != nil {
		return domain.Expense{}, err
	}
	now := s.now().UTC()
	if in.ExpenseDate.After(now) {
		return domain.Expense{}, apperr.Validation("Expense date cannot be in the future",
			apperr.Item("LTE", "expenseDate", "Expense date cannot be in the future"))
	}

	tr, err := s.travel.GetTravel(ctx, in.TravelRequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Expense{}, apperr.NotFound("travel request", in.TravelRequestID)
		}
		return domain.Expense{}, fmt.Errorf("load travel request: %w", err)
	}
	if tr.UserID != actor.ID {
		return domain.Expense{}, apperr.Forbidden("You can only submit expenses for your own travel requests")
	}
	if !tr.Status.IsExpensable() {
		return domain.Expense{}, apperr.Validation(fmt.Sprintf(
			"Cannot submit expenses for a travel request in '%s' status. Allowed statuses: manager_approved, booked, completed",
			tr.Status))
	}

	var reasons []string
	dup, found, err := s.expenses.FindDuplicateExpense(ctx, actor.ID, in.Amount, in.ExpenseDate)
	if err != nil {
		return domain.Expense{}, fmt.Errorf("duplicate check: %w", err)
	}
	if found {
		reasons = append(reasons, fmt.Sprintf("Potential duplicate: matches expense %s (same user, amount, date)", dup.ID))
	}

	active, err := s.policies.ActiveOrNil(ctx)
	if err != nil {
		span.RecordError(err)
		return domain.Expense{}, err
	}
	var rules *domain.PolicyRules
	if active != nil {
		rules = &active.Rules
	}
	violations := policy.EvaluateExpense(policy.ExpenseInput{
		Amount:      in.Amount,
		Category:    in.Category,
		FlightClass: in.FlightClass,
	}, rules)
	if len(violations) > 0 {
		reasons = append(reasons, strings.Join(policy.Messages(violations), "; "))
	}

	e := domain.Expense{
		ID:              uuid.NewString(),
		TravelRequestID: tr.ID,
		UserID:          actor.ID,
		Amount:          in.Amount,
		Category:        in.Category,
		FlightClass:     in.FlightClass,
		ExpenseDate:     in.ExpenseDate.UTC(),
		Description:     in.Description,
		ReceiptURL:      in.ReceiptURL,
		Status:          domain.ExpenseSubmitted,
		Violations:      violations,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(reasons) > 0 {
		e.Status = domain.ExpenseFlagged
		e.FlaggedReason = strings.Join(reasons, ". ")
		e.AuditLogs = []domain.AuditEntry{domain.NewAuditEntry(domain.AuditSubmittedFlagged, actor, now,
			"Expense submitted and auto-flagged: "+e.FlaggedReason)}
	} else {
		e.AuditLogs = []domain.AuditEntry{domain.NewAuditEntry(domain.AuditSubmitted, actor, now, "Expense submitted")}
	}

	if err := s.expenses.CreateExpense(ctx, e); err != nil {
		span.RecordError(err)
		return domain.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	span.SetAttributes(attribute.String("expense.id", e.ID), attribute.String("expense.status", string(e.Status)))
	span.SetStatus(codes.Ok, "submitted")
	s.logger.Info("expense submitted",
		zap.String("expenseId", e.ID), zap.String("status", string(e.Status)), zap.String("actorId", actor.ID))

	if e.Status == domain.ExpenseFlagged {
		s.events.Publish(ctx, domain.EventExpenseFlagged, domain.ExpenseEvent{Expense: e.Clone(), Actor: actor})
	}
	return e, nil
}

// Approve settles a submitted or flagged expense.
func (s *ExpenseService) Approve(ctx context.Context, actor domain.Actor, id, comment string) (domain.Expense, error) {
	e, err := s.review(ctx, actor, id, comment, domain.ExpenseFinanceApproved)
	if err != nil {
		return domain.Expense{}, err
	}
	s.events.Publish(ctx, domain.EventExpenseApproved, domain.ExpenseEvent{Expense: e.Clone(), Actor: actor})
	return e, nil
}

func (s *ExpenseService) Reject(ctx context.Context, actor domain.Actor, id, comment string) (domain.Expense, error) {
	return s.review(ctx, actor, id, comment, domain.ExpenseFinanceRejected)
}

func (s *ExpenseService) review(ctx context.Context, actor domain.Actor, id, comment string, to domain.ExpenseStatus) (domain.Expense, error) {
	if !actor.Can(domain.CapReviewExpense) {
		return domain.Expense{}, apperr.Forbidden("role %s cannot review expenses", actor.Role)
	}
	e, err := s.load(ctx, id)
	if err != nil {
		return domain.Expense{}, err
	}
	if e.UserID == actor.ID {
		return domain.Expense{}, apperr.Forbidden("You cannot review your own expense")
	}
	from := e.Status
	if !from.CanTransitionTo(to) {
		return domain.Expense{}, apperr.InvalidTransition("expense", string(from), string(to))
	}

	action, def := domain.AuditFinanceApproved, "Approved by finance"
	if to == domain.ExpenseFinanceRejected {
		action, def = domain.AuditFinanceRejected, "Rejected by finance"
	}
	comment = strings.TrimSpace(comment)
	now := s.now().UTC()
	e.Status = to
	e.FinanceComment = comment
	e.UpdatedAt = now
	e.AuditLogs = append(e.AuditLogs, domain.NewAuditEntry(action, actor, now, orDefault(comment, def)))
	if err := s.expenses.UpdateExpense(ctx, e, from); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			return domain.Expense{}, apperr.Conflict(e.ID, "expense %s was modified concurrently", e.ID)
		}
		return domain.Expense{}, fmt.Errorf("save expense: %w", err)
	}
	s.logger.Info("expense reviewed",
		zap.String("expenseId", e.ID), zap.String("from", string(from)), zap.String("to", string(to)),
		zap.String("actorId", actor.ID))
	return e, nil
}

// Get is allowed to the submitter and to reviewers.
func (s *ExpenseService) Get(ctx context.Context, actor domain.Actor, id string) (domain.Expense, error) {
	e, err := s.load(ctx, id)
	if err != nil {
		return domain.Expense{}, err
	}
	if e.UserID != actor.ID && !actor.Can(domain.CapReviewExpense) && !actor.Can(domain.CapViewAllTravel) {
		return domain.Expense{}, apperr.Forbidden("Not authorized to view this expense")
	}
	return e, nil
}

func (s *ExpenseService) ListMine(ctx context.Context, actor domain.Actor) ([]domain.Expense, error) {
	out, err := s.expenses.ListExpensesByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return nonNil(out), nil
}

// ListPending returns everything awaiting finance review.
func (s *ExpenseService) ListPending(ctx context.Context, actor domain.Actor) ([]domain.Expense, error) {
	return s.listByStatus(ctx, actor, domain.ExpenseSubmitted, domain.ExpenseFlagged)
}

func (s *ExpenseService) ListFlagged(ctx context.Context, actor domain.Actor) ([]domain.Expense, error) {
	return s.listByStatus(ctx, actor, domain.ExpenseFlagged)
}

func (s *ExpenseService) listByStatus(ctx context.Context, actor domain.Actor, statuses ...domain.ExpenseStatus) ([]domain.Expense, error) {
	if !actor.Can(domain.CapReviewExpense) {
		return nil, apperr.Forbidden("role %s cannot review expenses", actor.Role)
	}
	out, err := s.expenses.ListExpensesByStatus(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return nonNil(out), nil
}

func (s *ExpenseService) load(ctx context.Context, id string) (domain.Expense, error) {
	e, err := s.expenses.GetExpense(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Expense{}, apperr.NotFound("expense", id)
		}
		return domain.Expense{}, fmt.Errorf("load expense: %w", err)
	}
	return e, nil
}
