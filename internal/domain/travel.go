package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TravelStatus string

const (
	TravelDraft           TravelStatus = "draft"
	TravelSubmitted       TravelStatus = "submitted"
	TravelManagerApproved TravelStatus = "manager_approved"
	TravelManagerRejected TravelStatus = "manager_rejected"
	TravelBooked          TravelStatus = "booked"
	TravelCompleted       TravelStatus = "completed"
	TravelCancelled       TravelStatus = "cancelled"
)

var travelTransitions = map[TravelStatus][]TravelStatus{
	TravelDraft:           {TravelSubmitted, TravelCancelled},
	TravelSubmitted:       {TravelManagerApproved, TravelManagerRejected, TravelCancelled},
	TravelManagerApproved: {TravelBooked, TravelCancelled},
	TravelManagerRejected: {TravelCancelled},
	TravelBooked:          {TravelCompleted, TravelCancelled},
	TravelCompleted:       {},
	TravelCancelled:       {},
}

// TravelStatuses lists every travel request status.
func TravelStatuses() []TravelStatus {
	return []TravelStatus{
		TravelDraft, TravelSubmitted, TravelManagerApproved, TravelManagerRejected,
		TravelBooked, TravelCompleted, TravelCancelled,
	}
}

// CanTransitionTo reports whether the transition table allows status -> next.
func (s TravelStatus) CanTransitionTo(next TravelStatus) bool {
	for _, allowed := range travelTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TravelStatus) IsTerminal() bool {
	return len(travelTransitions[s]) == 0
}

// IsExpensable reports whether expenses may be filed against a request in this status.
func (s TravelStatus) IsExpensable() bool {
	switch s {
	case TravelManagerApproved, TravelBooked, TravelCompleted:
		return true
	default:
		return false
	}
}

type TravelRequest struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	ManagerID      string          `json:"managerId"`
	Destination    string          `json:"destination"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate"`
	EstimatedCost  decimal.Decimal `json:"estimatedCost"`
	Purpose        string          `json:"purpose"`
	Status         TravelStatus    `json:"status"`
	ManagerComment string          `json:"managerComment"`
	PolicySnapshot *PolicySnapshot `json:"policySnapshot"`
	Violations     []Violation     `json:"violations"`
	HasViolations  bool            `json:"hasViolations"`
	AuditLogs      []AuditEntry    `json:"auditLogs"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy so stored state is never aliased by callers.
func (t TravelRequest) Clone() TravelRequest {
	out := t
	if t.PolicySnapshot != nil {
		snap := *t.PolicySnapshot
		snap.Rules = t.PolicySnapshot.Rules.Clone()
		out.PolicySnapshot = &snap
	}
	out.Violations = CloneViolations(t.Violations)
	out.AuditLogs = append([]AuditEntry(nil), t.AuditLogs...)
	return out
}

// CanView reports whether actor may read the request.
func (t TravelRequest) CanView(actor Actor) bool {
	return t.UserID == actor.ID || t.ManagerID == actor.ID || actor.Can(CapViewAllTravel)
}
