package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hourbook/hourbook/libs/cache"
	"github.com/hourbook/hourbook/libs/httpx"
	"github.com/hourbook/hourbook/services/booking-service/internal/admission"
	"github.com/hourbook/hourbook/services/booking-service/internal/model"
)

var now = time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)

type admitFunc func(ctx context.Context, req admission.Request) (model.Appointment, error)

func (f admitFunc) Admit(ctx context.Context, req admission.Request) (model.Appointment, error) {
	return f(ctx, req)
}

type fakeStore struct {
	byID      map[string]model.Appointment
	listCalls int
}

func (s *fakeStore) ListActiveByUser(_ context.Context, userID string, limit int) ([]model.Appointment, error) {
	s.listCalls++
	out := []model.Appointment{}
	for _, a := range s.byID {
		if a.UserID == userID && a.Active() && len(out) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) Cancel(_ context.Context, id string, authorize func(model.Appointment) error) (model.Appointment, bool, error) {
	appt, ok := s.byID[id]
	if !ok {
		return model.Appointment{}, false, pgx.ErrNoRows
	}
	if err := authorize(appt); err != nil {
		return appt, false, err
	}
	if !appt.Active() {
		return appt, false, nil
	}
	canceledAt := now
	appt.CanceledAt = &canceledAt
	s.byID[id] = appt
	return appt, true, nil
}

type testEnv struct {
	mr      *miniredis.Miniredis
	store   *fakeStore
	handler http.Handler
}

func newTestEnv(t *testing.T, admit admitFunc) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := &fakeStore{byID: map[string]model.Appointment{}}
	h := NewBookingHandler(admit, store, cache.New(rdb), slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		ListCacheTTL: time.Minute,
		Now:          func() time.Time { return now },
	})
	mux := http.NewServeMux()
	h.Register(mux)
	return &testEnv{mr: mr, store: store, handler: mux}
}

func (e *testEnv) do(method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(httpx.UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestCreate_Success(t *testing.T) {
	var got admission.Request
	env := newTestEnv(t, func(_ context.Context, req admission.Request) (model.Appointment, error) {
		got = req
		return model.Appointment{ID: "a1", UserID: req.UserID, ProviderID: req.ProviderID, Date: req.Date}, nil
	})

	rec := env.do(http.MethodPost, "/api/v1/appointments", "U", `{"provider_id":"P","date":"2024-03-10T11:30:00-03:00"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "P", got.ProviderID)
	assert.Equal(t, "U", got.UserID)
	assert.True(t, got.Date.Equal(time.Date(2024, time.March, 10, 14, 30, 0, 0, time.UTC)))
	_, offset := got.Date.Zone()
	assert.Equal(t, -3*3600, offset, "caller offset must reach the notification")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "a1", body["id"])
	assert.NotContains(t, body, "warnings")
	assert.Empty(t, rec.Header().Get("X-Degraded"))
}

func TestCreate_Degraded(t *testing.T) {
	env := newTestEnv(t, func(_ context.Context, req admission.Request) (model.Appointment, error) {
		appt := model.Appointment{ID: "a1", UserID: req.UserID, ProviderID: req.ProviderID, Date: req.Date}
		return appt, &admission.SideEffectDegradedError{
			Appointment: appt,
			Failures:    []admission.SideEffectFailure{{Step: admission.SideEffectCacheInvalidation, Err: errors.New("redis down")}},
		}
	})

	rec := env.do(http.MethodPost, "/api/v1/appointments", "U", `{"provider_id":"P","date":"2024-03-10T14:30:00Z"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Degraded"))
	var body struct {
		ID       string   `json:"id"`
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "a1", body.ID)
	assert.Equal(t, []string{"cache_invalidation failed"}, body.Warnings)
}

func TestCreate_ErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{admission.ErrSelfBooking, http.StatusBadRequest},
		{admission.ErrInvalidProvider, http.StatusUnprocessableEntity},
		{admission.ErrPastDate, http.StatusUnprocessableEntity},
		{admission.ErrSlotConflict, http.StatusConflict},
		{fmt.Errorf("find provider: %w", errors.New("connection reset")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			env := newTestEnv(t, func(context.Context, admission.Request) (model.Appointment, error) {
				return model.Appointment{}, tc.err
			})
			rec := env.do(http.MethodPost, "/api/v1/appointments", "U", `{"provider_id":"P","date":"2024-03-10T14:30:00Z"}`)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestCreate_BadInput(t *testing.T) {
	called := false
	env := newTestEnv(t, func(context.Context, admission.Request) (model.Appointment, error) {
		called = true
		return model.Appointment{}, nil
	})

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/appointments", "U", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/appointments", "U", `{"date":"2024-03-10T14:30:00Z"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/appointments", "U", `{"provider_id":"P","date":"10/03/2024"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/appointments", "U", `{"provider_id":"P","date":"2024-03-10"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, "/api/v1/appointments", "", `{"provider_id":"P","date":"2024-03-10T14:30:00Z"}`).Code)
	assert.False(t, called)
}

func TestCreate_DateWithoutOffsetIsUTC(t *testing.T) {
	var got admission.Request
	env := newTestEnv(t, func(_ context.Context, req admission.Request) (model.Appointment, error) {
		got = req
		return model.Appointment{ID: "a1", UserID: req.UserID, ProviderID: req.ProviderID, Date: req.Date}, nil
	})

	rec := env.do(http.MethodPost, "/api/v1/appointments", "U", `{"provider_id":"P","date":"2024-03-10T14:30:00"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2024, time.March, 10, 14, 30, 0, 0, time.UTC), got.Date)

	rec = env.do(http.MethodPost, "/api/v1/appointments", "U", `{"provider_id":"P","date":"2024-03-10T14:30:00.250"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2024, time.March, 10, 14, 30, 0, 250_000_000, time.UTC), got.Date)
}

func TestList_ReadThroughCache(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.byID["a1"] = model.Appointment{ID: "a1", UserID: "U", ProviderID: "P", Date: now.Add(5 * time.Hour)}

	first := env.do(http.MethodGet, "/api/v1/appointments?limit=10", "U", "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.True(t, env.mr.Exists("user:U:appointments:limit:10"))

	second := env.do(http.MethodGet, "/api/v1/appointments?limit=10", "U", "")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, env.store.listCalls)

	var body listAppointmentsResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	require.Len(t, body.Appointments, 1)
	assert.Equal(t, "a1", body.Appointments[0].ID)
}

func TestList_Limit(t *testing.T) {
	env := newTestEnv(t, nil)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/appointments?limit=0", "U", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/appointments?limit=abc", "U", "").Code)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/appointments?limit=500", "U", "").Code)
	assert.True(t, env.mr.Exists("user:U:appointments:limit:100"))

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/appointments", "U", "").Code)
	assert.True(t, env.mr.Exists("user:U:appointments:limit:20"))
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.byID["soon"] = model.Appointment{ID: "soon", UserID: "U", ProviderID: "P", Date: now.Add(90 * time.Minute)}
	env.store.byID["later"] = model.Appointment{ID: "later", UserID: "U", ProviderID: "P", Date: now.Add(2 * time.Hour)}
	require.NoError(t, env.mr.Set("user:U:appointments:limit:20", "[]"))
	require.NoError(t, env.mr.Set("user:U2:appointments:limit:20", "[]"))

	rec := env.do(http.MethodPost, "/api/v1/appointments/cancel", "U2", `{"appointment_id":"later"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/appointments/cancel", "U", `{"appointment_id":"soon"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.True(t, env.store.byID["soon"].Active())

	rec = env.do(http.MethodPost, "/api/v1/appointments/cancel", "U", `{"appointment_id":"later"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, env.store.byID["later"].Active())
	assert.False(t, env.mr.Exists("user:U:appointments:limit:20"))
	assert.True(t, env.mr.Exists("user:U2:appointments:limit:20"))

	// Canceling again is a no-op.
	rec = env.do(http.MethodPost, "/api/v1/appointments/cancel", "U", `{"appointment_id":"later"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/appointments/cancel", "U", `{"appointment_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/appointments/cancel", "U", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodDelete, "/api/v1/appointments", "U", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
