package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingInitiated BookingStatus = "initiated"
	BookingConfirmed BookingStatus = "confirmed"
	BookingFailed    BookingStatus = "failed"
	BookingCancelled BookingStatus = "cancelled"
)

type BookingType string

const (
	BookingFlight BookingType = "flight"
	BookingHotel  BookingType = "hotel"
)

func (t BookingType) Valid() bool {
	return t == BookingFlight || t == BookingHotel
}

// DefaultCurrency applies when an inventory item carries none.
const DefaultCurrency = "INR"

type Booking struct {
	ID              string          `json:"id"`
	TravelRequestID string          `json:"travelRequestId"`
	UserID          string          `json:"userId"`
	Type            BookingType     `json:"type"`
	InventoryID     string          `json:"inventoryId"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	Status          BookingStatus   `json:"status"`
	IdempotencyKey  string          `json:"idempotencyKey"`
	Attempts        int             `json:"attempts"`
	LastError       string          `json:"lastError,omitempty"`
	ProviderRef     string          `json:"providerRef,omitempty"`
	ConfirmedAt     *time.Time      `json:"confirmedAt,omitempty"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (b Booking) Clone() Booking {
	out := b
	if b.ConfirmedAt != nil {
		t := *b.ConfirmedAt
		out.ConfirmedAt = &t
	}
	if b.CancelledAt != nil {
		t := *b.CancelledAt
		out.CancelledAt = &t
	}
	return out
}

// SameRequest reports whether the booking was created for the same payload.
func (b Booking) SameRequest(userID, travelRequestID string, typ BookingType, inventoryID string) bool {
	return b.UserID == userID && b.TravelRequestID == travelRequestID && b.Type == typ && b.InventoryID == inventoryID
}
