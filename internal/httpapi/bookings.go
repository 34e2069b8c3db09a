package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/booking"
	"github.com/yourorg/travelcore/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

type CreateBookingRequest struct {
	TravelRequestID string             `json:"travelRequestId"`
	Type            domain.BookingType `json:"type"`
	InventoryID     string             `json:"inventoryId"`
}

// createBooking answers 201 for a confirmed booking and 200 otherwise, so a
// failed attempt can be retried with the same Idempotency-Key.
func (s *Server) createBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := decode(r, &req, false); err != nil {
		s.badJSON(w, r, err)
		return
	}
	b, err := s.svc.Bookings.Create(r.Context(), actor(r), r.Header.Get(idempotencyHeader), booking.CreateInput{
		TravelRequestID: req.TravelRequestID,
		Type:            req.Type,
		InventoryID:     req.InventoryID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if b.Status == domain.BookingConfirmed {
		status = http.StatusCreated
	}
	s.requestLogger(r).Info("booking attempt",
		zap.String("bookingId", b.ID), zap.String("status", string(b.Status)), zap.Int("attempts", b.Attempts))
	s.ok(w, r, status, b)
}

func (s *Server) cancelBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Bookings.Cancel(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, b)
}

func (s *Server) getBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Bookings.Get(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, b)
}

func (s *Server) listMyBookings(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Bookings.ListMine(r.Context(), actor(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, list)
}

func (s *Server) listFlights(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Bookings.Flights(r.Context(), actor(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, list)
}

func (s *Server) listHotels(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Bookings.Hotels(r.Context(), actor(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, list)
}
