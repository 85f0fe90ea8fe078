package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUniqueViolation = "23505"

	activeSlotConstraint = "appointments_active_slot_uniq"
)

// IsUniqueViolation reports whether err is a Postgres unique violation on
// constraint. An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsSlotTaken reports whether err comes from the one-active-appointment-per-
// provider-hour index.
func IsSlotTaken(err error) bool {
	return IsUniqueViolation(err, activeSlotConstraint)
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
