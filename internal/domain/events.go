package domain

// Domain event names published on the event bus.
const (
	EventTravelSubmitted  = "travel.submitted"
	EventTravelApproved   = "travel.approved"
	EventTravelRejected   = "travel.rejected"
	EventExpenseFlagged   = "expense.flagged"
	EventExpenseApproved  = "expense.approved"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingFailed    = "booking.failed"
)

// TravelEvent is the payload of travel.* events.
type TravelEvent struct {
	TravelRequest TravelRequest `json:"travelRequest"`
	Actor         Actor         `json:"actor"`
}

// ExpenseEvent is the payload of expense.* events.
type ExpenseEvent struct {
	Expense Expense `json:"expense"`
	Actor   Actor   `json:"actor"`
}

// BookingEvent is the payload of booking.* events. Error is set on booking.failed.
type BookingEvent struct {
	Booking Booking `json:"booking"`
	Actor   Actor   `json:"actor"`
	Error   string  `json:"error,omitempty"`
}
