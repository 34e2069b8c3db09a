package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ExpenseStatus string

const (
	ExpenseSubmitted       ExpenseStatus = "submitted"
	ExpenseFlagged         ExpenseStatus = "flagged"
	ExpenseFinanceApproved ExpenseStatus = "finance_approved"
	ExpenseFinanceRejected ExpenseStatus = "finance_rejected"
)

var expenseTransitions = map[ExpenseStatus][]ExpenseStatus{
	ExpenseSubmitted:       {ExpenseFinanceApproved, ExpenseFinanceRejected},
	ExpenseFlagged:         {ExpenseFinanceApproved, ExpenseFinanceRejected},
	ExpenseFinanceApproved: {},
	ExpenseFinanceRejected: {},
}

func ExpenseStatuses() []ExpenseStatus {
	return []ExpenseStatus{ExpenseSubmitted, ExpenseFlagged, ExpenseFinanceApproved, ExpenseFinanceRejected}
}

func (s ExpenseStatus) CanTransitionTo(next ExpenseStatus) bool {
	for _, allowed := range expenseTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ExpenseStatus) IsTerminal() bool {
	return len(expenseTransitions[s]) == 0
}

type ExpenseCategory string

const (
	CategoryFlight    ExpenseCategory = "flight"
	CategoryHotel     ExpenseCategory = "hotel"
	CategoryFood      ExpenseCategory = "food"
	CategoryTransport ExpenseCategory = "transport"
	CategoryOther     ExpenseCategory = "other"
)

func ExpenseCategories() []ExpenseCategory {
	return []ExpenseCategory{CategoryFlight, CategoryHotel, CategoryFood, CategoryTransport, CategoryOther}
}

func (c ExpenseCategory) Valid() bool {
	for _, known := range ExpenseCategories() {
		if c == known {
			return true
		}
	}
	return false
}

type Expense struct {
	ID              string          `json:"id"`
	TravelRequestID string          `json:"travelRequestId"`
	UserID          string          `json:"userId"`
	Amount          decimal.Decimal `json:"amount"`
	Category        ExpenseCategory `json:"category"`
	FlightClass     string          `json:"flightClass,omitempty"`
	ExpenseDate     time.Time       `json:"expenseDate"`
	Description     string          `json:"description"`
	ReceiptURL      string          `json:"receiptUrl,omitempty"`
	Status          ExpenseStatus   `json:"status"`
	FlaggedReason   string          `json:"flaggedReason,omitempty"`
	Violations      []Violation     `json:"violations"`
	FinanceComment  string          `json:"financeComment,omitempty"`
	AuditLogs       []AuditEntry    `json:"auditLogs"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (e Expense) Clone() Expense {
	out := e
	out.Violations = CloneViolations(e.Violations)
	out.AuditLogs = append([]AuditEntry(nil), e.AuditLogs...)
	return out
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
