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
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/apperr"
	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/policy"
	"github.com/yourorg/travelcore/internal/store"
	"github.com/yourorg/travelcore/internal/validate"
)

type CreateTravelInput struct {
	ManagerID     string          `json:"managerId" validate:"required"`
	Destination   string          `json:"destination" validate:"required,min=2,max=200"`
	StartDate     time.Time       `json:"startDate" validate:"required"`
	EndDate       time.Time       `json:"endDate" validate:"required,gtfield=StartDate"`
	EstimatedCost decimal.Decimal `json:"estimatedCost" validate:"gt=0"`
	Purpose       string          `json:"purpose" validate:"required,min=5,max=1000"`
}

// UpdateTravelInput changes only the fields that are set.
type UpdateTravelInput struct {
	ManagerID     *string          `json:"managerId" validate:"omitempty,min=1"`
	Destination   *string          `json:"destination" validate:"omitempty,min=2,max=200"`
	StartDate     *time.Time       `json:"startDate"`
	EndDate       *time.Time       `json:"endDate"`
	EstimatedCost *decimal.Decimal `json:"estimatedCost" validate:"omitempty,gt=0"`
	Purpose       *string          `json:"purpose" validate:"omitempty,min=5,max=1000"`
}

func (in UpdateTravelInput) empty() bool {
	return in.ManagerID == nil && in.Destination == nil && in.StartDate == nil &&
		in.EndDate == nil && in.EstimatedCost == nil && in.Purpose == nil
}

// TravelService owns the travel request state machine.
type TravelService struct {
	travel   store.TravelStore
	users    store.UserStore
	policies PolicySource
	events   Publisher
	logger   *zap.Logger
	tracer   trace.Tracer
	now      clock
}

func NewTravelService(d Deps) *TravelService {
	d = d.withDefaults()
	return &TravelService{
		travel:   d.Travel,
		users:    d.Users,
		policies: d.Policies,
		events:   d.Events,
		logger:   d.Logger,
		tracer:   d.Tracer,
		now:      time.Now,
	}
}

// Create stores a draft owned by actor.
func (s *TravelService) Create(ctx context.Context, actor domain.Actor, in CreateTravelInput) (domain.TravelRequest, error) {
	if !actor.Can(domain.CapRequestTravel) {
		return domain.TravelRequest{}, apperr.Forbidden("role %s cannot request travel", actor.Role)
	}
	in.Destination = strings.TrimSpace(in.Destination)
	in.Purpose = strings.TrimSpace(in.Purpose)
	if err := validate.Struct(in); err != nil {
		return domain.TravelRequest{}, err
	}
	now := s.now().UTC()
	if !in.StartDate.After(now) {
		return domain.TravelRequest{}, apperr.Validation("Start date must be in the future",
			apperr.Item("GT", "startDate", "Start date must be in the future"))
	}
	if err := s.checkManager(ctx, actor, in.ManagerID); err != nil {
		return domain.TravelRequest{}, err
	}

	tr := domain.TravelRequest{
		ID:            uuid.NewString(),
		UserID:        actor.ID,
		ManagerID:     in.ManagerID,
		Destination:   in.Destination,
		StartDate:     in.StartDate.UTC(),
		EndDate:       in.EndDate.UTC(),
		EstimatedCost: in.EstimatedCost,
		Purpose:       in.Purpose,
		Status:        domain.TravelDraft,
		Violations:    []domain.Violation{},
		AuditLogs:     []domain.AuditEntry{domain.NewAuditEntry(domain.AuditCreated, actor, now, "Travel request created as draft")},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.travel.CreateTravel(ctx, tr); err != nil {
		return domain.TravelRequest{}, fmt.Errorf("create travel request: %w", err)
	}
	s.logger.Info("travel request created", zap.String("travelRequestId", tr.ID), zap.String("actorId", actor.ID))
	return tr, nil
}

func (s *TravelService) checkManager(ctx context.Context, actor domain.Actor, managerID string) error {
	if managerID == actor.ID {
		return apperr.Validation("You cannot assign yourself as the approving manager",
			apperr.Item("NE", "managerId", "managerId must differ from the requester"))
	}
	mgr, err := s.users.GetUser(ctx, managerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("manager", managerID)
		}
		return fmt.Errorf("load manager: %w", err)
	}
	if !mgr.IsActive {
		return apperr.NotFound("manager", managerID)
	}
	if !mgr.Role.Can(domain.CapApproveTravel) {
		return apperr.Validation("Assigned user does not have a manager role",
			apperr.Item("ROLE", "managerId", "Assigned user does not have a manager role"))
	}
	return nil
}

// Update edits a draft. Only the owner may update.
func (s *TravelService) Update(ctx context.Context, actor domain.Actor, id string, in UpdateTravelInput) (domain.TravelRequest, error) {
	if in.empty() {
		return domain.TravelRequest{}, apperr.Validation("At least one field must be provided for update")
	}
	if err := validate.Struct(in); err != nil {
		return domain.TravelRequest{}, err
	}
	tr, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return domain.TravelRequest{}, err
	}
	if tr.Status != domain.TravelDraft {
		return domain.TravelRequest{}, apperr.InvalidTransition("travel request", string(tr.Status), string(domain.TravelDraft))
	}

	now := s.now().UTC()
	if in.ManagerID != nil && *in.ManagerID != tr.ManagerID {
		if err := s.checkManager(ctx, actor, *in.ManagerID); err != nil {
			return domain.TravelRequest{}, err
		}
		tr.ManagerID = *in.ManagerID
	}
	if in.StartDate != nil {
		if !in.StartDate.After(now) {
			return domain.TravelRequest{}, apperr.Validation("Start date must be in the future",
				apperr.Item("GT", "startDate", "Start date must be in the future"))
		}
		tr.StartDate = in.StartDate.UTC()
	}
	if in.EndDate != nil {
		tr.EndDate = in.EndDate.UTC()
	}
	if !tr.EndDate.After(tr.StartDate) {
		return domain.TravelRequest{}, apperr.Validation("End date must be after start date",
			apperr.Item("GTFIELD", "endDate", "End date must be after start date"))
	}
	if in.Destination != nil {
		tr.Destination = strings.TrimSpace(*in.Destination)
	}
	if in.EstimatedCost != nil {
		tr.EstimatedCost = *in.EstimatedCost
	}
	if in.Purpose != nil {
		tr.Purpose = strings.TrimSpace(*in.Purpose)
	}
	tr.UpdatedAt = now
	tr.AuditLogs = append(tr.AuditLogs, domain.NewAuditEntry(domain.AuditUpdated, actor, now, "Draft updated"))
	if err := s.save(ctx, tr, domain.TravelDraft); err != nil {
		return domain.TravelRequest{}, err
	}
	return tr, nil
}

// Submit evaluates the draft against the active policy and sends it for approval.
// Violations are recorded but never block submission.
func (s *TravelService) Submit(ctx context.Context, actor domain.Actor, id, note string) (domain.TravelRequest, error) {
	ctx, span := s.tracer.Start(ctx, "travel.submit", trace.WithAttributes(attribute.String("travel.id", id)))
	defer span.End()

	tr, err := s.loadOwned(ctx, actor, id)
	if err != nil {
		return domain.TravelRequest{}, err
	}
	if !tr.Status.CanTransitionTo(domain.TravelSubmitted) {
		return domain.TravelRequest{}, apperr.InvalidTransition("travel request", string(tr.Status), string(domain.TravelSubmitted))
	}

	active, err := s.policies.ActiveOrNil(ctx)
	if err != nil {
		span.RecordError(err)
		return domain.TravelRequest{}, err
	}
	now := s.now().UTC()
	if active != nil {
		snap := active.Snapshot(now)
		violations := policy.EvaluateTravel(tr.EstimatedCost, &snap.Rules)
		tr.PolicySnapshot = &snap
		tr.Violations = violations
		tr.HasViolations = len(violations) > 0

		auditNote := fmt.Sprintf("Compliant with policy \"%s\" v%d", active.Name, active.Version)
		if tr.HasViolations {
			auditNote = "Policy violations detected: " + strings.Join(policy.Messages(violations), "; ")
		}
		tr.AuditLogs = append(tr.AuditLogs, domain.NewAuditEntry(domain.AuditPolicyEvaluated, actor, now, auditNote))
		span.SetAttributes(attribute.Int("policy.version", active.Version), attribute.Int("policy.violations", len(violations)))
	}

	if err := s.transition(ctx, &tr, domain.TravelSubmitted, domain.AuditSubmitted, actor,
		orDefault(note, "Submitted for manager approval")); err != nil {
		return domain.TravelRequest{}, err
	}
	s.events.Publish(ctx, domain.EventTravelSubmitted, domain.TravelEvent{TravelRequest: tr.Clone(), Actor: actor})
	return tr, nil
}

// Approve is performed by the assigned manager on a submitted request.
func (s *TravelService) Approve(ctx context.Context, actor domain.Actor, id, comment string) (domain.TravelRequest, error) {
	return s.decide(ctx, actor, id, comment, domain.TravelManagerApproved)
}

// Reject is performed by the assigned manager on a submitted request.
func (s *TravelService) Reject(ctx context.Context, actor domain.Actor, id, comment string) (domain.TravelRequest, error) {
	return s.decide(ctx, actor, id, comment, domain.TravelManagerRejected)
}

func (s *TravelService) decide(ctx context.Context, actor domain.Actor, id, comment string, to domain.TravelStatus) (domain.TravelRequest, error) {
	tr, err := s.load(ctx, id)
	if err != nil {
		return domain.TravelRequest{}, err
	}
	if tr.ManagerID != actor.ID || !actor.Can(domain.CapApproveTravel) {
		return domain.TravelRequest{}, apperr.Forbidden("You are not the assigned manager for this request")
	}

	action, event, def := domain.AuditManagerApproved, domain.EventTravelApproved, "Approved by manager"
	if to == domain.TravelManagerRejected {
		action, event, def = domain.AuditManagerRejected, domain.EventTravelRejected, "Rejected by manager"
	}
	comment = strings.TrimSpace(comment)
	tr.ManagerComment = comment
	if err := s.transition(ctx, &tr, to, action, actor, orDefault(comment, def)); err != nil {
		return domain.TravelRequest{}, err
	}
	s.events.Publish(ctx, event, domain.TravelEvent{TravelRequest: tr.Clone(), Actor: actor})
	return tr, nil
}

// Cancel is allowed to the owner or the assigned manager from any non-terminal status.
func (s *TravelService) Cancel(ctx context.Context, actor domain.Actor, id, note string) (domain.TravelRequest, error) {
	tr, err := s.load(ctx, id)
	if err != nil {
		return domain.TravelRequest{}, err
	}
	if tr.UserID != actor.ID && tr.ManagerID != actor.ID {
		return domain.TravelRequest{}, apperr.Forbidden("Not authorized to cancel this request")
	}
	if err := s.transition(ctx, &tr, domain.TravelCancelled, domain.AuditCancelled, actor, orDefault(note, "Request cancelled")); err != nil {
		return domain.TravelRequest{}, err
	}
	return tr, nil
}

// Complete closes a booked trip.
func (s *TravelService) Complete(ctx context.Context, actor domain.Actor, id, note string) (domain.TravelRequest, error) {
	tr, err := s.load(ctx, id)
	if err != nil {
		return domain.TravelRequest{}, err
	}
	if tr.UserID != actor.ID && tr.ManagerID != actor.ID {
		return domain.TravelRequest{}, apperr.Forbidden("Not authorized to complete this request")
	}
	if err := s.transition(ctx, &tr, domain.TravelCompleted, domain.AuditCompleted, actor, orDefault(note, "Trip completed")); err != nil {
		return domain.TravelRequest{}, err
	}
	return tr, nil
}

// MarkBooked records a confirmed booking on its parent. A request that is
// already booked keeps its status and gains an audit entry.
func (s *TravelService) MarkBooked(ctx context.Context, id string, actor domain.Actor, note string) error {
	tr, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if tr.Status == domain.TravelBooked {
		now := s.now().UTC()
		tr.UpdatedAt = now
		tr.AuditLogs = append(tr.AuditLogs, domain.NewAuditEntry(domain.AuditBooked, actor, now, note))
		return s.save(ctx, tr, domain.TravelBooked)
	}
	return s.transition(ctx, &tr, domain.TravelBooked, domain.AuditBooked, actor, note)
}

// CancelBooked cancels the parent after its booking was cancelled, but only while it is booked.
func (s *TravelService) CancelBooked(ctx context.Context, id string, actor domain.Actor, note string) error {
	tr, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if tr.Status != domain.TravelBooked {
		return nil
	}
	return s.transition(ctx, &tr, domain.TravelCancelled, domain.AuditCancelled, actor, note)
}

func (s *TravelService) Get(ctx context.Context, actor domain.Actor, id string) (domain.TravelRequest, error) {
	tr, err := s.load(ctx, id)
	if err != nil {
		return domain.TravelRequest{}, err
	}
	if !tr.CanView(actor) {
		return domain.TravelRequest{}, apperr.Forbidden("Not authorized to view this request")
	}
	return tr, nil
}

func (s *TravelService) ListMine(ctx context.Context, actor domain.Actor) ([]domain.TravelRequest, error) {
	out, err := s.travel.ListTravelByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list travel requests: %w", err)
	}
	return nonNil(out), nil
}

// ListPendingForManager returns submitted requests assigned to actor.
func (s *TravelService) ListPendingForManager(ctx context.Context, actor domain.Actor) ([]domain.TravelRequest, error) {
	if !actor.Can(domain.CapApproveTravel) {
		return nil, apperr.Forbidden("role %s cannot approve travel", actor.Role)
	}
	out, err := s.travel.ListTravelByManager(ctx, actor.ID, domain.TravelSubmitted)
	if err != nil {
		return nil, fmt.Errorf("list pending travel requests: %w", err)
	}
	return nonNil(out), nil
}

func (s *TravelService) load(ctx context.Context, id string) (domain.TravelRequest, error) {
	tr, err := s.travel.GetTravel(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TravelRequest{}, apperr.NotFound("travel request", id)
		}
		return domain.TravelRequest{}, fmt.Errorf("load travel request: %w", err)
	}
	return tr, nil
}

func (s *TravelService) loadOwned(ctx context.Context, actor domain.Actor, id string) (domain.TravelRequest, error) {
	tr, err := s.load(ctx, id)
	if err != nil {
		return domain.TravelRequest{}, err
	}
	if tr.UserID != actor.ID {
		return domain.TravelRequest{}, apperr.Forbidden("You can only modify your own travel requests")
	}
	return tr, nil
}

// transition applies one edge of the transition table and persists it with a
// compare-on-write against the status the request was loaded with.
func (s *TravelService) transition(ctx context.Context, tr *domain.TravelRequest, to domain.TravelStatus, action string, actor domain.Actor, note string) error {
	from := tr.Status
	if !from.CanTransitionTo(to) {
		return apperr.InvalidTransition("travel request", string(from), string(to))
	}
	_, span := s.tracer.Start(ctx, "travel.transition", trace.WithAttributes(
		attribute.String("travel.id", tr.ID),
		attribute.String("travel.from", string(from)),
		attribute.String("travel.to", string(to)),
	))
	defer span.End()

	now := s.now().UTC()
	tr.Status = to
	tr.UpdatedAt = now
	tr.AuditLogs = append(tr.AuditLogs, domain.NewAuditEntry(action, actor, now, note))
	if err := s.save(ctx, *tr, from); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("travel request transitioned",
		zap.String("travelRequestId", tr.ID), zap.String("from", string(from)), zap.String("to", string(to)),
		zap.String("actorId", actor.ID))
	return nil
}

func (s *TravelService) save(ctx context.Context, tr domain.TravelRequest, expected domain.TravelStatus) error {
	if err := s.travel.UpdateTravel(ctx, tr, expected); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			return apperr.Conflict(tr.ID, "travel request %s was modified concurrently", tr.ID)
		}
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("travel request", tr.ID)
		}
		return fmt.Errorf("save travel request: %w", err)
	}
	return nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
