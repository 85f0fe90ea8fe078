package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hourbook/hourbook/libs/db"
	"github.com/hourbook/hourbook/services/booking-service/internal/admission"
	"github.com/hourbook/hourbook/services/booking-service/internal/model"
)

const appointmentColumns = `id::text, user_id, provider_id, date, canceled_at, created_at`

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) FindActive(ctx context.Context, providerID string, hourStart time.Time) (model.Appointment, bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND slot_start = $2
			AND canceled_at IS NULL
	`, providerID, hourStart.UTC())
	appt, err := scanAppointment(row)
	if err != nil {
		if IsNotFound(err) {
			return model.Appointment{}, false, nil
		}
		return model.Appointment{}, false, err
	}
	return appt, true, nil
}

// Create stores date unchanged and derives slot_start from it. A clash on the
// active slot index is reported as admission.ErrSlotConflict.
func (r *AppointmentRepository) Create(ctx context.Context, userID, providerID string, date time.Time) (model.Appointment, error) {
	appt := model.Appointment{
		ID:         uuid.NewString(),
		UserID:     userID,
		ProviderID: providerID,
		Date:       date,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, user_id, provider_id, date, slot_start)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, appt.ID, userID, providerID, date, admission.HourStart(date).UTC()).Scan(&appt.CreatedAt)
	if err != nil {
		if IsSlotTaken(err) {
			return model.Appointment{}, fmt.Errorf("provider %s at %s: %w", providerID, admission.HourStart(date).Format(time.RFC3339), admission.ErrSlotConflict)
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

// ListActiveByUser returns the user's non-canceled appointments, latest slot
// first.
func (r *AppointmentRepository) ListActiveByUser(ctx context.Context, userID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1
			AND canceled_at IS NULL
		ORDER BY slot_start DESC, date DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appts := []model.Appointment{}
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// Cancel locks the appointment, lets authorize veto the change, and sets
// canceled_at. An appointment that is already canceled is returned as is
// with changed == false. Unknown ids yield an error matching IsNotFound.
func (r *AppointmentRepository) Cancel(ctx context.Context, id string, authorize func(model.Appointment) error) (appt model.Appointment, changed bool, err error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, false, pgx.ErrNoRows
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err = scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return model.Appointment{}, false, err
	}
	if authorize != nil {
		if err := authorize(appt); err != nil {
			return appt, false, err
		}
	}
	if !appt.Active() {
		return appt, false, nil
	}

	var canceledAt time.Time
	if err := tx.QueryRow(ctx, `
		UPDATE appointments
		SET canceled_at = now()
		WHERE id = $1
		RETURNING canceled_at
	`, id).Scan(&canceledAt); err != nil {
		return model.Appointment{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, false, err
	}
	appt.CanceledAt = &canceledAt
	return appt, true, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var canceledAt *time.Time
	if err := row.Scan(
		&appt.ID,
		&appt.UserID,
		&appt.ProviderID,
		&appt.Date,
		&canceledAt,
		&appt.CreatedAt,
	); err != nil {
		return model.Appointment{}, err
	}
	appt.CanceledAt = canceledAt
	return appt, nil
}
