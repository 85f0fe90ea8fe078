package admission

import (
	"errors"
	"strings"

	"github.com/hourbook/hourbook/services/booking-service/internal/model"
)

// Rejections. Each one is terminal for the request and leaves no state
// behind.
var (
	ErrSelfBooking     = errors.New("you can not book an appointment with yourself")
	ErrInvalidProvider = errors.New("appointments can only be booked with providers")
	ErrPastDate        = errors.New("past dates are not permitted")
	ErrSlotConflict    = errors.New("appointment date is not available")
)

// ErrSideEffectDegraded matches any *SideEffectDegradedError.
var ErrSideEffectDegraded = errors.New("appointment created but a follow-up step failed")

type SideEffect string

const (
	SideEffectNotification      SideEffect = "notification"
	SideEffectCacheInvalidation SideEffect = "cache_invalidation"
)

type SideEffectFailure struct {
	Step SideEffect
	Err  error
}

// SideEffectDegradedError reports a booking that was persisted while the
// notification or cache step did not complete. Appointment is the stored
// row and is always valid.
type SideEffectDegradedError struct {
	Appointment model.Appointment
	Failures    []SideEffectFailure
}

func (e *SideEffectDegradedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, string(f.Step)+": "+f.Err.Error())
	}
	return ErrSideEffectDegraded.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *SideEffectDegradedError) Is(target error) bool {
	return target == ErrSideEffectDegraded
}

func (e *SideEffectDegradedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Steps lists the failed side effects in the order they ran.
func (e *SideEffectDegradedError) Steps() []SideEffect {
	steps := make([]SideEffect, 0, len(e.Failures))
	for _, f := range e.Failures {
		steps = append(steps, f.Step)
	}
	return steps
}
