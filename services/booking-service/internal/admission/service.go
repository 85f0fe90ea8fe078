package admission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hourbook/hourbook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hourbook/hourbook/services/booking-service/internal/admission"

type UserDirectory interface {
	// FindProvider returns the user only if it exists and is flagged as a provider.
	FindProvider(ctx context.Context, id string) (model.User, bool, error)
	FindByID(ctx context.Context, id string) (model.User, bool, error)
}

type AppointmentStore interface {
	// FindActive returns the non-canceled appointment of providerID whose
	// slot starts at hourStart.
	FindActive(ctx context.Context, providerID string, hourStart time.Time) (model.Appointment, bool, error)
	// Create persists a new active appointment. It must fail with an error
	// matching ErrSlotConflict when the provider already has an active
	// appointment in the same hour.
	Create(ctx context.Context, userID, providerID string, date time.Time) (model.Appointment, error)
}

type NotificationSink interface {
	Append(ctx context.Context, content, recipient string) error
}

type Cache interface {
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// Formatter renders the text sent to a provider for a new booking.
type Formatter interface {
	BookingMessage(userName string, hourStart time.Time) string
}

type Request struct {
	ProviderID string
	UserID     string
	Date       time.Time
}

// Service decides whether a booking request is admitted. It keeps no state
// between calls; everything goes through the injected collaborators.
type Service struct {
	users         UserDirectory
	appointments  AppointmentStore
	notifications NotificationSink
	cache         Cache
	formatter     Formatter
	logger        *slog.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(users UserDirectory, appointments AppointmentStore, notifications NotificationSink, cache Cache, formatter Formatter, opts ...Option) *Service {
	s := &Service{
		users:         users,
		appointments:  appointments,
		notifications: notifications,
		cache:         cache,
		formatter:     formatter,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:        otel.Tracer(tracerName),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Admit validates req and, if every rule passes, stores the appointment and
// runs the follow-up steps.
//
// Rules are checked in order and the first failure is returned:
// ErrSelfBooking, ErrInvalidProvider, ErrPastDate, ErrSlotConflict.
// The stored date is req.Date as given; conflicts are judged on its hour.
//
// When the appointment is stored but notifying the provider or evicting the
// user's cached list fails, Admit returns the appointment together with a
// *SideEffectDegradedError.
func (s *Service) Admit(ctx context.Context, req Request) (model.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "admission.Admit", trace.WithAttributes(
		attribute.String("booking.provider_id", req.ProviderID),
		attribute.String("booking.user_id", req.UserID),
	))
	defer span.End()

	appt, err := s.admit(ctx, req)
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
		s.logger.InfoContext(ctx, "appointment admitted",
			"appointment_id", appt.ID, "provider_id", req.ProviderID, "user_id", req.UserID, "date", req.Date)
	case errors.Is(err, ErrSideEffectDegraded):
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("booking.degraded", true))
		s.logger.WarnContext(ctx, "appointment admitted with degraded side effects",
			"appointment_id", appt.ID, "provider_id", req.ProviderID, "user_id", req.UserID, "err", err)
	case isRejection(err):
		span.SetAttributes(attribute.String("booking.rejection", err.Error()))
		s.logger.InfoContext(ctx, "appointment rejected",
			"provider_id", req.ProviderID, "user_id", req.UserID, "date", req.Date, "reason", err.Error())
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "appointment admission failed",
			"provider_id", req.ProviderID, "user_id", req.UserID, "err", err)
	}
	return appt, err
}

func (s *Service) admit(ctx context.Context, req Request) (model.Appointment, error) {
	if req.UserID == req.ProviderID {
		return model.Appointment{}, ErrSelfBooking
	}

	_, ok, err := s.users.FindProvider(ctx, req.ProviderID)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("find provider: %w", err)
	}
	if !ok {
		return model.Appointment{}, ErrInvalidProvider
	}

	hourStart := HourStart(req.Date)
	if hourStart.Before(s.now()) {
		return model.Appointment{}, ErrPastDate
	}

	// Fast path only; the store's uniqueness guarantee is what holds under
	// concurrency.
	if _, taken, err := s.appointments.FindActive(ctx, req.ProviderID, hourStart); err != nil {
		return model.Appointment{}, fmt.Errorf("check availability: %w", err)
	} else if taken {
		return model.Appointment{}, ErrSlotConflict
	}

	appt, err := s.appointments.Create(ctx, req.UserID, req.ProviderID, req.Date)
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			return model.Appointment{}, ErrSlotConflict
		}
		return model.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}

	var failures []SideEffectFailure
	if err := s.notifyProvider(ctx, req, hourStart); err != nil {
		failures = append(failures, SideEffectFailure{Step: SideEffectNotification, Err: err})
	}
	if err := s.cache.InvalidatePrefix(ctx, AppointmentsCachePrefix(req.UserID)); err != nil {
		failures = append(failures, SideEffectFailure{Step: SideEffectCacheInvalidation, Err: err})
	}
	if len(failures) > 0 {
		return appt, &SideEffectDegradedError{Appointment: appt, Failures: failures}
	}
	return appt, nil
}

func (s *Service) notifyProvider(ctx context.Context, req Request, hourStart time.Time) error {
	user, ok, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("find booking user: %w", err)
	}
	if !ok {
		return fmt.Errorf("booking user %s not found", req.UserID)
	}
	return s.notifications.Append(ctx, s.formatter.BookingMessage(user.Name, hourStart), req.ProviderID)
}

func isRejection(err error) bool {
	return errors.Is(err, ErrSelfBooking) ||
		errors.Is(err, ErrInvalidProvider) ||
		errors.Is(err, ErrPastDate) ||
		errors.Is(err, ErrSlotConflict)
}
