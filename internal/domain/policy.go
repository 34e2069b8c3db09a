package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PolicyRules struct {
	MaxFlightCost        decimal.Decimal `json:"maxFlightCost"`
	MaxHotelPerDay       decimal.Decimal `json:"maxHotelPerDay"`
	MaxDailyFood         decimal.Decimal `json:"maxDailyFood"`
	MaxTripTotal         decimal.Decimal `json:"maxTripTotal"`
	AllowedFlightClasses []string        `json:"allowedFlightClasses"`
}

type Policy struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Version     int         `json:"version"`
	IsActive    bool        `json:"isActive"`
	Rules       PolicyRules `json:"rules"`
	CreatedBy   string      `json:"createdBy"`
	ActivatedAt *time.Time  `json:"activatedAt,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// PolicySnapshot freezes the rules a travel request was evaluated against.
type PolicySnapshot struct {
	PolicyID   string      `json:"policyId"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	Rules      PolicyRules `json:"rules"`
	CapturedAt time.Time   `json:"capturedAt"`
}

func (p Policy) Snapshot(at time.Time) PolicySnapshot {
	return PolicySnapshot{
		PolicyID:   p.ID,
		Name:       p.Name,
		Version:    p.Version,
		Rules:      p.Rules.Clone(),
		CapturedAt: at.UTC(),
	}
}

func (r PolicyRules) Clone() PolicyRules {
	out := r
	out.AllowedFlightClasses = append([]string(nil), r.AllowedFlightClasses...)
	return out
}

type ViolationCode string

const (
	TripTotalExceeded     ViolationCode = "TRIP_TOTAL_EXCEEDED"
	FlightLimitExceeded   ViolationCode = "FLIGHT_LIMIT_EXCEEDED"
	HotelLimitExceeded    ViolationCode = "HOTEL_LIMIT_EXCEEDED"
	FoodLimitExceeded     ViolationCode = "FOOD_LIMIT_EXCEEDED"
	FlightClassNotAllowed ViolationCode = "FLIGHT_CLASS_NOT_ALLOWED"
	CategoryLimitExceeded ViolationCode = "CATEGORY_LIMIT_EXCEEDED"
)

// Violation is immutable once attached to an entity.
type Violation struct {
	Code    ViolationCode    `json:"code"`
	Message string           `json:"message"`
	Amount  *decimal.Decimal `json:"amount"`
	Limit   *decimal.Decimal `json:"limit"`
}

func CloneViolations(in []Violation) []Violation {
	if in == nil {
		return nil
	}
	return append([]Violation(nil), in...)
}
