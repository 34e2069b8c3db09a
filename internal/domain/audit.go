package domain

import "time"

// AuditEntry is one append-only record on a travel request or expense.
// The JSON shape is consumed by compliance tooling and must stay stable.
type AuditEntry struct {
	Action    string    `json:"action"`
	ActorID   string    `json:"actorId"`
	ActorRole Role      `json:"actorRole"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note"`
}

const (
	AuditCreated          = "created"
	AuditUpdated          = "updated"
	AuditPolicyEvaluated  = "policy_evaluated"
	AuditSubmitted        = "submitted"
	AuditSubmittedFlagged = "submitted_flagged"
	AuditManagerApproved  = "manager_approved"
	AuditManagerRejected  = "manager_rejected"
	AuditCancelled        = "cancelled"
	AuditBooked           = "booked"
	AuditCompleted        = "completed"
	AuditFinanceApproved  = "finance_approved"
	AuditFinanceRejected  = "finance_rejected"
)

func NewAuditEntry(action string, actor Actor, at time.Time, note string) AuditEntry {
	return AuditEntry{
		Action:    action,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Timestamp: at.UTC(),
		Note:      note,
	}
}
