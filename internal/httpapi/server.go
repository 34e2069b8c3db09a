package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/auth"
	"github.com/yourorg/travelcore/internal/booking"
	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/notification"
	"github.com/yourorg/travelcore/internal/policy"
	"github.com/yourorg/travelcore/internal/store"
	"github.com/yourorg/travelcore/internal/users"
	"github.com/yourorg/travelcore/internal/workflow"
)

// Health reports background component state for /healthz.
type Health interface {
	Check(ctx context.Context) map[string]any
}

// HealthFunc adapts a function to Health.
type HealthFunc func(ctx context.Context) map[string]any

func (f HealthFunc) Check(ctx context.Context) map[string]any { return f(ctx) }

// Services is everything the API delegates to.
type Services struct {
	Travel        *workflow.TravelService
	Expenses      *workflow.ExpenseService
	Bookings      *booking.Service
	Policies      *policy.Service
	Notifications *notification.Dispatcher
	Users         store.UserStore
	Accounts      *users.Service
	Auth          *auth.Authenticator
	Keys          *auth.Handler
	Health        Health
}

type Server struct {
	svc    Services
	logger *zap.Logger
	now    func() time.Time
}

func NewServer(svc Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, logger: logger, now: time.Now}
}

// Router builds the full route tree. Everything but /healthz is authenticated.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(Correlation)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)

	r.Group(func(r chi.Router) {
		r.Use(s.svc.Auth.Middleware)

		r.Get("/me", s.me)

		r.Route("/travel", func(r chi.Router) {
			r.With(auth.RequireCapability(domain.CapRequestTravel)).Post("/", s.createTravel)
			r.Get("/my", s.listMyTravel)
			r.With(auth.RequireCapability(domain.CapApproveTravel)).Get("/pending", s.listPendingTravel)
			r.Get("/{id}", s.getTravel)
			r.Put("/{id}", s.updateTravel)
			r.Post("/{id}/submit", s.submitTravel)
			r.Post("/{id}/approve", s.approveTravel)
			r.Post("/{id}/reject", s.rejectTravel)
			r.Post("/{id}/cancel", s.cancelTravel)
			r.Post("/{id}/complete", s.completeTravel)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.With(auth.RequireCapability(domain.CapSubmitExpense)).Post("/", s.submitExpense)
			r.Get("/my", s.listMyExpenses)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireCapability(domain.CapReviewExpense))
				r.Get("/pending", s.listPendingExpenses)
				r.Get("/flagged", s.listFlaggedExpenses)
				r.Post("/{id}/approve", s.approveExpense)
				r.Post("/{id}/reject", s.rejectExpense)
			})
			r.Get("/{id}", s.getExpense)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/options/flights", s.listFlights)
			r.Get("/options/hotels", s.listHotels)
			r.Get("/my", s.listMyBookings)
			r.Post("/", s.createBooking)
			r.Get("/{id}", s.getBooking)
			r.Post("/{id}/cancel", s.cancelBooking)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/active", s.getActivePolicy)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireCapability(domain.CapManagePolicy))
				r.Post("/", s.createPolicy)
				r.Get("/", s.listPolicies)
				r.Get("/{id}", s.getPolicy)
				r.Post("/{id}/activate", s.activatePolicy)
			})
		})

		if s.svc.Accounts != nil {
			r.Route("/users", func(r chi.Router) {
				r.Use(auth.RequireCapability(domain.CapManageUsers))
				r.Post("/", s.createUser)
				r.Get("/", s.listUsers)
				r.Post("/{id}/deactivate", s.deactivateUser)
			})
		}

		r.With(auth.RequireCapability(domain.CapReadNotifications)).Get("/notifications/my", s.listMyNotifications)

		if s.svc.Keys != nil {
			r.Route("/auth/keys", s.svc.Keys.Routes)
		}
	})
	return r
}
