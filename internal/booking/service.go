package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/travelcore/internal/apperr"
	"github.com/yourorg/travelcore/internal/domain"
	"github.com/yourorg/travelcore/internal/inventory"
	"github.com/yourorg/travelcore/internal/store"
	"github.com/yourorg/travelcore/internal/validate"
)

// CreateInput is the booking payload. The idempotency key travels separately.
type CreateInput struct {
	TravelRequestID string             `json:"travelRequestId" validate:"required"`
	Type            domain.BookingType `json:"type" validate:"required,oneof=flight hotel"`
	InventoryID     string             `json:"inventoryId" validate:"required"`
}

// TravelTransitioner moves the parent travel request as bookings change.
type TravelTransitioner interface {
	MarkBooked(ctx context.Context, travelID string, actor domain.Actor, note string) error
	CancelBooked(ctx context.Context, travelID string, actor domain.Actor, note string) error
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any)
}

type Config struct {
	ProviderTimeout time.Duration
	// RetryFailed re-attempts a failed booking when its idempotency key is replayed.
	RetryFailed bool
}

func DefaultConfig() Config {
	return Config{ProviderTimeout: 5 * time.Second, RetryFailed: true}
}

type Deps struct {
	Bookings store.BookingStore
	Travel   store.TravelStore
	Ledger   inventory.Ledger
	Provider Provider
	Workflow TravelTransitioner
	Events   Publisher
	Logger   *zap.Logger
	Tracer   trace.Tracer
}

// Service runs booking transactions: idempotency lookup, stock lock,
// provider call, then commit or compensate.
type Service struct {
	bookings store.BookingStore
	travel   store.TravelStore
	ledger   inventory.Ledger
	provider Provider
	workflow TravelTransitioner
	events   Publisher
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("travelcore/booking")
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	return &Service{
		bookings: d.Bookings,
		travel:   d.Travel,
		ledger:   d.Ledger,
		provider: d.Provider,
		workflow: d.Workflow,
		events:   d.Events,
		cfg:      cfg,
		logger:   d.Logger,
		tracer:   d.Tracer,
		now:      time.Now,
	}
}

// Create books an inventory item for an approved travel request. Replaying the
// same key with the same payload returns the stored booking without side effects.
func (s *Service) Create(ctx context.Context, actor domain.Actor, idempotencyKey string, in CreateInput) (domain.Booking, error) {
	if !actor.Can(domain.CapCreateBooking) {
		return domain.Booking{}, apperr.Forbidden("role %s cannot create bookings", actor.Role)
	}
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return domain.Booking{}, apperr.Validation("Idempotency-Key header is required",
			apperr.Item("REQUIRED", "Idempotency-Key", "header is required"))
	}
	if err := validate.Struct(in); err != nil {
		return domain.Booking{}, err
	}

	ctx, span := s.tracer.Start(ctx, "booking.create", trace.WithAttributes(
		attribute.String("booking.idempotency_key", idempotencyKey),
		attribute.String("booking.inventory_id", in.InventoryID),
		attribute.String("booking.type", string(in.Type)),
	))
	defer span.End()
	log := s.logger.With(zap.String("idempotencyKey", idempotencyKey), zap.String("actorId", actor.ID))

	existing, err := s.bookings.GetBookingByKey(ctx, idempotencyKey)
	switch {
	case err == nil:
		if !existing.SameRequest(actor.ID, in.TravelRequestID, in.Type, in.InventoryID) {
			return domain.Booking{}, apperr.Conflict(existing.ID, "Idempotency-Key was already used for a different booking")
		}
		if existing.Status == domain.BookingFailed && s.cfg.RetryFailed {
			log.Info("retrying failed booking", zap.String("bookingId", existing.ID), zap.Int("attempt", existing.Attempts))
			span.SetAttributes(attribute.Bool("booking.retry", true))
			return s.retry(ctx, actor, existing)
		}
		log.Info("idempotency hit", zap.String("bookingId", existing.ID), zap.String("status", string(existing.Status)))
		span.SetAttributes(attribute.Bool("booking.idempotent_replay", true))
		return existing, nil
	case !errors.Is(err, store.ErrNotFound):
		span.RecordError(err)
		return domain.Booking{}, fmt.Errorf("lookup idempotency key: %w", err)
	}

	item, err := s.checkPreconditions(ctx, actor, in)
	if err != nil {
		return domain.Booking{}, err
	}
	if err := s.lock(ctx, in.InventoryID); err != nil {
		return domain.Booking{}, err
	}

	now := s.now().UTC()
	b := domain.Booking{
		ID:              uuid.NewString(),
		TravelRequestID: in.TravelRequestID,
		UserID:          actor.ID,
		Type:            in.Type,
		InventoryID:     in.InventoryID,
		Price:           item.Price,
		Currency:        item.Currency,
		Status:          domain.BookingInitiated,
		IdempotencyKey:  idempotencyKey,
		Attempts:        1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.bookings.InsertBooking(ctx, b); err != nil {
		s.release(ctx, in.InventoryID)
		if !errors.Is(err, store.ErrDuplicateKey) {
			span.RecordError(err)
			return domain.Booking{}, fmt.Errorf("insert booking: %w", err)
		}
		winner, gerr := s.bookings.GetBookingByKey(ctx, idempotencyKey)
		if gerr != nil {
			return domain.Booking{}, fmt.Errorf("load race winner: %w", gerr)
		}
		if !winner.SameRequest(actor.ID, in.TravelRequestID, in.Type, in.InventoryID) {
			return domain.Booking{}, apperr.Conflict(winner.ID, "Idempotency-Key was already used for a different booking")
		}
		log.Info("idempotency race lost, returning winner", zap.String("bookingId", winner.ID))
		return winner, nil
	}
	span.SetAttributes(attribute.String("booking.id", b.ID))
	return s.attempt(ctx, actor, b)
}

func (s *Service) retry(ctx context.Context, actor domain.Actor, failed domain.Booking) (domain.Booking, error) {
	in := CreateInput{TravelRequestID: failed.TravelRequestID, Type: failed.Type, InventoryID: failed.InventoryID}
	if _, err := s.checkPreconditions(ctx, actor, in); err != nil {
		return domain.Booking{}, err
	}
	if err := s.lock(ctx, failed.InventoryID); err != nil {
		return domain.Booking{}, err
	}

	b := failed.Clone()
	b.Status = domain.BookingInitiated
	b.LastError = ""
	b.UpdatedAt = s.now().UTC()
	if err := s.bookings.UpdateBooking(ctx, b, domain.BookingFailed); err != nil {
		s.release(ctx, failed.InventoryID)
		if errors.Is(err, store.ErrStaleWrite) {
			return s.bookings.GetBookingByKey(ctx, failed.IdempotencyKey)
		}
		return domain.Booking{}, fmt.Errorf("reopen booking: %w", err)
	}
	return s.attempt(ctx, actor, b)
}

// attempt makes the single provider call for an initiated booking whose stock is locked.
func (s *Service) attempt(ctx context.Context, actor domain.Actor, b domain.Booking) (domain.Booking, error) {
	log := s.logger.With(zap.String("bookingId", b.ID), zap.String("inventoryId", b.InventoryID))

	conf, perr := s.callProvider(ctx, b)
	// the provider has answered; the outcome must be recorded even if the caller is gone
	ctx = context.WithoutCancel(ctx)
	now := s.now().UTC()
	b.UpdatedAt = now

	if perr == nil {
		b.Status = domain.BookingConfirmed
		b.ConfirmedAt = &now
		b.ProviderRef = conf.Reference
		if err := s.bookings.UpdateBooking(ctx, b, domain.BookingInitiated); err != nil {
			s.release(ctx, b.InventoryID)
			return domain.Booking{}, fmt.Errorf("confirm booking: %w", err)
		}
		note := fmt.Sprintf("Booking confirmed: %s (%s — %s)", b.ID, b.Type, b.InventoryID)
		if err := s.workflow.MarkBooked(ctx, b.TravelRequestID, actor, note); err != nil {
			log.Error("mark travel request booked", zap.Error(err))
		}
		log.Info("booking confirmed", zap.String("providerRef", b.ProviderRef))
		s.events.Publish(ctx, domain.EventBookingConfirmed, domain.BookingEvent{Booking: b.Clone(), Actor: actor})
		return b, nil
	}

	b.Status = domain.BookingFailed
	b.LastError = perr.Error()
	b.Attempts++
	if err := s.bookings.UpdateBooking(ctx, b, domain.BookingInitiated); err != nil {
		log.Error("record booking failure", zap.Error(err))
	}
	s.release(ctx, b.InventoryID)
	log.Warn("booking failed", zap.Error(perr), zap.Int("attempts", b.Attempts))
	s.events.Publish(ctx, domain.EventBookingFailed, domain.BookingEvent{Booking: b.Clone(), Actor: actor, Error: b.LastError})
	return b, nil
}

func (s *Service) callProvider(ctx context.Context, b domain.Booking) (Confirmation, error) {
	ctx, span := s.tracer.Start(ctx, "booking.provider", trace.WithAttributes(
		attribute.String("booking.id", b.ID),
		attribute.Int("booking.attempt", b.Attempts),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	conf, err := s.provider.Book(ctx, ProviderRequest{
		BookingID:   b.ID,
		Type:        b.Type,
		InventoryID: b.InventoryID,
		Price:       b.Price,
		Currency:    b.Currency,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("Provider error: no response within %s", s.cfg.ProviderTimeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Confirmation{}, err
	}
	span.SetStatus(codes.Ok, "confirmed")
	return conf, nil
}

func (s *Service) checkPreconditions(ctx context.Context, actor domain.Actor, in CreateInput) (inventory.Item, error) {
	tr, err := s.travel.GetTravel(ctx, in.TravelRequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return inventory.Item{}, apperr.NotFound("travel request", in.TravelRequestID)
		}
		return inventory.Item{}, fmt.Errorf("load travel request: %w", err)
	}
	if tr.UserID != actor.ID {
		return inventory.Item{}, apperr.Forbidden("You can only book for your own travel requests")
	}
	if tr.Status != domain.TravelManagerApproved {
		return inventory.Item{}, apperr.Validation(fmt.Sprintf(
			"Travel request must be in '%s' status to book. Current: '%s'", domain.TravelManagerApproved, tr.Status))
	}
	item, err := s.ledger.Get(ctx, in.InventoryID)
	if err != nil {
		if errors.Is(err, inventory.ErrItemNotFound) {
			return inventory.Item{}, apperr.NotFound("inventory item", in.InventoryID)
		}
		return inventory.Item{}, fmt.Errorf("load inventory item: %w", err)
	}
	if item.Type != in.Type {
		return inventory.Item{}, apperr.Validation(fmt.Sprintf(
			"Inventory item '%s' is a %s, not a %s", in.InventoryID, item.Type, in.Type))
	}
	return item, nil
}

func (s *Service) lock(ctx context.Context, inventoryID string) error {
	if _, err := s.ledger.Lock(ctx, inventoryID); err != nil {
		switch {
		case errors.Is(err, inventory.ErrOutOfStock):
			return apperr.Conflict("", "Item is out of stock")
		case errors.Is(err, inventory.ErrItemNotFound):
			return apperr.NotFound("inventory item", inventoryID)
		}
		return fmt.Errorf("lock inventory: %w", err)
	}
	return nil
}

func (s *Service) release(ctx context.Context, inventoryID string) {
	if _, err := s.ledger.Release(context.WithoutCancel(ctx), inventoryID); err != nil {
		s.logger.Error("release inventory", zap.String("inventoryId", inventoryID), zap.Error(err))
	}
}

// Cancel releases a confirmed booking and cancels its parent request if it is still booked.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, id string) (domain.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.cancel", trace.WithAttributes(attribute.String("booking.id", id)))
	defer span.End()

	b, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Booking{}, apperr.NotFound("booking", id)
		}
		return domain.Booking{}, err
	}
	if b.UserID != actor.ID {
		return domain.Booking{}, apperr.Forbidden("You can only cancel your own bookings")
	}
	if b.Status != domain.BookingConfirmed {
		return domain.Booking{}, apperr.InvalidTransition("booking", string(b.Status), string(domain.BookingCancelled))
	}

	now := s.now().UTC()
	b.Status = domain.BookingCancelled
	b.CancelledAt = &now
	b.UpdatedAt = now
	if err := s.bookings.UpdateBooking(ctx, b, domain.BookingConfirmed); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			return domain.Booking{}, apperr.Conflict(id, "booking changed concurrently")
		}
		return domain.Booking{}, fmt.Errorf("cancel booking: %w", err)
	}
	s.release(ctx, b.InventoryID)

	if err := s.workflow.CancelBooked(ctx, b.TravelRequestID, actor, fmt.Sprintf("Booking cancelled: %s", b.ID)); err != nil {
		s.logger.Error("cancel booked travel request", zap.String("bookingId", b.ID), zap.Error(err))
	}
	s.logger.Info("booking cancelled", zap.String("bookingId", b.ID), zap.String("actorId", actor.ID))
	return b, nil
}

// Get returns a booking to its owner or to roles that see all travel.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id string) (domain.Booking, error) {
	b, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Booking{}, apperr.NotFound("booking", id)
		}
		return domain.Booking{}, err
	}
	if b.UserID != actor.ID && !actor.Can(domain.CapViewAllTravel) {
		return domain.Booking{}, apperr.Forbidden("Not authorized to view this booking")
	}
	return b, nil
}

func (s *Service) ListMine(ctx context.Context, actor domain.Actor) ([]domain.Booking, error) {
	out, err := s.bookings.ListBookingsByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	if out == nil {
		out = []domain.Booking{}
	}
	return out, nil
}

func (s *Service) Flights(ctx context.Context, actor domain.Actor) ([]inventory.Flight, error) {
	if !actor.Can(domain.CapViewInventory) {
		return nil, apperr.Forbidden("role %s cannot view inventory", actor.Role)
	}
	return s.ledger.Flights(ctx)
}

func (s *Service) Hotels(ctx context.Context, actor domain.Actor) ([]inventory.Hotel, error) {
	if !actor.Can(domain.CapViewInventory) {
		return nil, apperr.Forbidden("role %s cannot view inventory", actor.Role)
	}
	return s.ledger.Hotels(ctx)
}
