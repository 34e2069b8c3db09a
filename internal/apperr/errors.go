package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationErrorItem describes a single rejected input field.
type ValidationErrorItem struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Message string
	Items   []ValidationErrorItem
}

func (e ValidationError) Error() string {
	if len(e.Items) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		parts = append(parts, item.Path+": "+item.Message)
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s '%s' not found", e.Resource, e.ID)
}

// ForbiddenError is an ownership or capability failure.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return e.Reason
}

// ConflictError covers exhausted inventory and idempotency key collisions.
type ConflictError struct {
	Reason string
	ID     string
}

func (e ConflictError) Error() string {
	return e.Reason
}

// InvalidTransitionError is returned for any state change outside the transition tables.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: '%s' -> '%s'", e.Entity, e.From, e.To)
}

func Validation(message string, items ...ValidationErrorItem) error {
	return ValidationError{Message: message, Items: items}
}

func Item(code, path, message string) ValidationErrorItem {
	return ValidationErrorItem{Code: code, Path: path, Message: message}
}

func NotFound(resource, id string) error {
	return NotFoundError{Resource: resource, ID: id}
}

func Forbidden(format string, args ...any) error {
	return ForbiddenError{Reason: fmt.Sprintf(format, args...)}
}

func Conflict(id, format string, args ...any) error {
	return ConflictError{Reason: fmt.Sprintf(format, args...), ID: id}
}

func InvalidTransition(entity, from, to string) error {
	return InvalidTransitionError{Entity: entity, From: from, To: to}
}

// Kind classifies err for transport mapping. Unknown errors are "internal".
func Kind(err error) string {
	var (
		validation ValidationError
		notFound   NotFoundError
		forbidden  ForbiddenError
		conflict   ConflictError
		transition InvalidTransitionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &forbidden):
		return "forbidden"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &transition):
		return "invalid_transition"
	default:
		return "internal"
	}
}
