package policy

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yourorg/travelcore/internal/domain"
)

type categoryRule struct {
	limit func(domain.PolicyRules) decimal.Decimal
	code  domain.ViolationCode
}

// transport and other have no per-category cap; the trip total covers them.
var categoryRules = map[domain.ExpenseCategory]categoryRule{
	domain.CategoryFlight: {limit: func(r domain.PolicyRules) decimal.Decimal { return r.MaxFlightCost }, code: domain.FlightLimitExceeded},
	domain.CategoryHotel:  {limit: func(r domain.PolicyRules) decimal.Decimal { return r.MaxHotelPerDay }, code: domain.HotelLimitExceeded},
	domain.CategoryFood:   {limit: func(r domain.PolicyRules) decimal.Decimal { return r.MaxDailyFood }, code: domain.FoodLimitExceeded},
}

// EvaluateTravel checks a travel request's estimated cost. A nil rules
// pointer means no active policy and yields no violations.
func EvaluateTravel(estimatedCost decimal.Decimal, rules *domain.PolicyRules) []domain.Violation {
	violations := []domain.Violation{}
	if rules == nil {
		return violations
	}
	if estimatedCost.GreaterThan(rules.MaxTripTotal) {
		violations = append(violations, amountViolation(
			domain.TripTotalExceeded,
			fmt.Sprintf("Estimated trip cost %s exceeds policy limit of %s", estimatedCost, rules.MaxTripTotal),
			estimatedCost, rules.MaxTripTotal,
		))
	}
	return violations
}

// ExpenseInput is the subset of an expense the rules look at.
type ExpenseInput struct {
	Amount      decimal.Decimal
	Category    domain.ExpenseCategory
	FlightClass string
}

// EvaluateExpense runs the category cap and then the flight-class check.
func EvaluateExpense(in ExpenseInput, rules *domain.PolicyRules) []domain.Violation {
	violations := []domain.Violation{}
	if rules == nil {
		return violations
	}

	if rule, ok := categoryRules[in.Category]; ok {
		limit := rule.limit(*rules)
		if in.Amount.GreaterThan(limit) {
			violations = append(violations, amountViolation(
				rule.code,
				fmt.Sprintf("%s expense %s exceeds policy limit of %s", in.Category, in.Amount, limit),
				in.Amount, limit,
			))
		}
	}

	if in.Category == domain.CategoryFlight && in.FlightClass != "" && len(rules.AllowedFlightClasses) > 0 {
		if !contains(rules.AllowedFlightClasses, in.FlightClass) {
			violations = append(violations, domain.Violation{
				Code: domain.FlightClassNotAllowed,
				Message: fmt.Sprintf("Flight class '%s' is not allowed. Permitted: %s",
					in.FlightClass, strings.Join(rules.AllowedFlightClasses, ", ")),
			})
		}
	}
	return violations
}

// Messages returns the violation messages in evaluation order.
func Messages(violations []domain.Violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.Message)
	}
	return out
}

func amountViolation(code domain.ViolationCode, msg string, amount, limit decimal.Decimal) domain.Violation {
	a, l := amount, limit
	return domain.Violation{Code: code, Message: msg, Amount: &a, Limit: &l}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
