package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hourbook/hourbook/libs/cache"
	"github.com/hourbook/hourbook/libs/httpx"
	"github.com/hourbook/hourbook/services/booking-service/internal/admission"
	"github.com/hourbook/hourbook/services/booking-service/internal/model"
	"github.com/hourbook/hourbook/services/booking-service/internal/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	DefaultCancelNotice = 2 * time.Hour
	DefaultListCacheTTL = 5 * time.Minute
)

var (
	errNotOwner      = errors.New("only the booking user can cancel this appointment")
	errCancelTooLate = errors.New("appointments can only be canceled in advance")
	errMissingCaller = errors.New("missing " + httpx.UserIDHeader + " header")
)

type Admitter interface {
	Admit(ctx context.Context, req admission.Request) (model.Appointment, error)
}

type AppointmentStore interface {
	ListActiveByUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error)
	Cancel(ctx context.Context, id string, authorize func(model.Appointment) error) (model.Appointment, bool, error)
}

type ListCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

type Config struct {
	ListCacheTTL time.Duration
	CancelNotice time.Duration
	Now          func() time.Time
}

type BookingHandler struct {
	admitter     Admitter
	appointments AppointmentStore
	cache        ListCache
	logger       *slog.Logger
	listTTL      time.Duration
	cancelNotice time.Duration
	now          func() time.Time
}

func NewBookingHandler(admitter Admitter, appointments AppointmentStore, listCache ListCache, logger *slog.Logger, cfg Config) *BookingHandler {
	if cfg.ListCacheTTL <= 0 {
		cfg.ListCacheTTL = DefaultListCacheTTL
	}
	if cfg.CancelNotice <= 0 {
		cfg.CancelNotice = DefaultCancelNotice
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &BookingHandler{
		admitter:     admitter,
		appointments: appointments,
		cache:        listCache,
		logger:       logger,
		listTTL:      cfg.ListCacheTTL,
		cancelNotice: cfg.CancelNotice,
		now:          cfg.Now,
	}
}

// Register mounts the booking routes on mux.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/appointments", h.Create)
	mux.HandleFunc("GET /api/v1/appointments", h.List)
	mux.HandleFunc("POST /api/v1/appointments/cancel", h.Cancel)
}

type createAppointmentRequest struct {
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
}

type appointmentResponse struct {
	model.Appointment
	Warnings []string `json:"warnings,omitempty"`
}

type listAppointmentsResponse struct {
	Appointments []model.Appointment `json:"appointments"`
}

type cancelAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ProviderID == "" {
		http.Error(w, "provider_id required", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date (expected ISO-8601, e.g. 2024-03-10T14:30:00Z)", http.StatusBadRequest)
		return
	}

	appt, err := h.admitter.Admit(r.Context(), admission.Request{
		ProviderID: req.ProviderID,
		UserID:     userID,
		Date:       date,
	})
	var degraded *admission.SideEffectDegradedError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, appointmentResponse{Appointment: appt})
	case errors.As(err, &degraded):
		w.Header().Set("X-Degraded", "true")
		writeJSON(w, http.StatusCreated, appointmentResponse{Appointment: degraded.Appointment, Warnings: warnings(degraded)})
	case errors.Is(err, admission.ErrSelfBooking):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, admission.ErrInvalidProvider), errors.Is(err, admission.ErrPastDate):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, admission.ErrSlotConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.ErrorContext(r.Context(), "create appointment failed", "user_id", userID, "err", err)
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
	}
}

// List serves the caller's active appointments through the cache. Entries
// live under the caller's appointments prefix so a new booking evicts them.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	limit := defaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	ctx := r.Context()
	key := listCacheKey(userID, limit)
	body, err := h.cache.Get(ctx, key)
	switch {
	case err == nil:
		w.Header().Set("X-Cache", "HIT")
		writeRawJSON(w, http.StatusOK, body)
		return
	case !errors.Is(err, cache.ErrMiss):
		h.logger.WarnContext(ctx, "appointments cache read failed", "key", key, "err", err)
	}

	appts, err := h.appointments.ListActiveByUser(ctx, userID, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "list appointments failed", "user_id", userID, "err", err)
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	body, err = json.Marshal(listAppointmentsResponse{Appointments: appts})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if err := h.cache.Set(ctx, key, body, h.listTTL); err != nil {
		h.logger.WarnContext(ctx, "appointments cache write failed", "key", key, "err", err)
	}
	w.Header().Set("X-Cache", "MISS")
	writeRawJSON(w, http.StatusOK, body)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req cancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	appt, changed, err := h.appointments.Cancel(ctx, req.AppointmentID, h.authorizeCancel(userID))
	switch {
	case err == nil:
	case storage.IsNotFound(err):
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	case errors.Is(err, errNotOwner):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case errors.Is(err, errCancelTooLate):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	default:
		h.logger.ErrorContext(ctx, "cancel appointment failed", "appointment_id", req.AppointmentID, "err", err)
		http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
		return
	}

	resp := appointmentResponse{Appointment: appt}
	if changed {
		if err := h.cache.InvalidatePrefix(ctx, admission.AppointmentsCachePrefix(userID)); err != nil {
			h.logger.WarnContext(ctx, "appointments cache invalidation failed", "user_id", userID, "err", err)
			w.Header().Set("X-Degraded", "true")
			resp.Warnings = []string{string(admission.SideEffectCacheInvalidation) + " failed"}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorizeCancel lets only the booking user cancel, and only while the slot
// is at least cancelNotice away. Canceled appointments pass so the call is
// idempotent.
func (h *BookingHandler) authorizeCancel(userID string) func(model.Appointment) error {
	return func(appt model.Appointment) error {
		if appt.UserID != userID {
			return errNotOwner
		}
		if !appt.Active() {
			return nil
		}
		if admission.HourStart(appt.Date).Sub(h.now()) < h.cancelNotice {
			return errCancelTooLate
		}
		return nil
	}
}

// localDateLayout accepts ISO-8601 date-times without an offset. Such values
// are taken as UTC.
const localDateLayout = "2006-01-02T15:04:05.999999999"

// parseDate keeps the caller's offset so the provider is notified in the
// booking user's wall-clock time.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(localDateLayout, raw)
}

func listCacheKey(userID string, limit int) string {
	return admission.AppointmentsCachePrefix(userID) + ":limit:" + strconv.Itoa(limit)
}

func warnings(err *admission.SideEffectDegradedError) []string {
	steps := err.Steps()
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, string(s)+" failed")
	}
	return out
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(httpx.UserIDHeader))
	if id == "" {
		http.Error(w, errMissingCaller.Error(), http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
