package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/apperr"
	"github.com/yourorg/travelcore/internal/auth"
	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/platform/logging"
)

const maxBodyBytes = 1 << 20

// ErrorBody is returned for every failed request.
type ErrorBody struct {
	Code      string                       `json:"code"`
	Message   string                       `json:"message"`
	CorrID    string                       `json:"corrId"`
	Retryable bool                         `json:"retryable"`
	Errors    []apperr.ValidationErrorItem `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, corrID string, v any, extra map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	if corrID != "" {
		w.Header().Set(correlationHeader, corrID)
	}
	for k, val := range extra {
		w.Header().Set(k, val)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) ok(w http.ResponseWriter, r *http.Request, status int, v any) {
	writeJSON(w, status, logging.CorrelationIDFromContext(r.Context()), v, nil)
}

// fail maps service errors onto status codes. Unclassified errors are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	corrID := logging.CorrelationIDFromContext(r.Context())
	body := ErrorBody{Message: err.Error(), CorrID: corrID}
	var status int

	var (
		validation apperr.ValidationError
		conflict   apperr.ConflictError
	)
	switch apperr.Kind(err) {
	case "validation":
		status, body.Code = http.StatusBadRequest, "VALIDATION_ERROR"
		if errors.As(err, &validation) {
			body.Message = validation.Message
			body.Errors = validation.Items
		}
	case "not_found":
		status, body.Code = http.StatusNotFound, "NOT_FOUND"
	case "forbidden":
		status, body.Code = http.StatusForbidden, "FORBIDDEN"
	case "conflict":
		status, body.Code = http.StatusConflict, "CONFLICT"
		if errors.As(err, &conflict) {
			body.Message = conflict.Reason
		}
	case "invalid_transition":
		status, body.Code = http.StatusConflict, "INVALID_TRANSITION"
	default:
		s.requestLogger(r).Error("request failed", zap.Error(err))
		status, body.Code = http.StatusInternalServerError, "INTERNAL_ERROR"
		body.Message = "internal error"
		body.Retryable = true
	}
	writeJSON(w, status, corrID, body, nil)
}

func (s *Server) badJSON(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{
		Code:    "BAD_JSON",
		Message: "invalid JSON",
		CorrID:  logging.CorrelationIDFromContext(r.Context()),
		Errors:  []apperr.ValidationErrorItem{apperr.Item("BAD_JSON", "body", err.Error())},
	}
	writeJSON(w, http.StatusBadRequest, body.CorrID, body, nil)
}

// decode reads a JSON body into dst. An empty body is allowed when optional is set.
func decode(r *http.Request, dst any, optional bool) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON body")
	}
	return nil
}

// actor returns the authenticated caller. Routes are mounted behind auth, so absence is a wiring bug.
func actor(r *http.Request) domain.Actor {
	a, ok := auth.ActorFromContext(r.Context())
	if !ok {
		panic("httpapi: route reached without authentication")
	}
	return a
}
