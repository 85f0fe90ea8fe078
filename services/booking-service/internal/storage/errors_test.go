package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsSlotTaken(t *testing.T) {
	slot := &pgconn.PgError{Code: "23505", ConstraintName: "appointments_active_slot_uniq"}
	other := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	fk := &pgconn.PgError{Code: "23503", ConstraintName: "appointments_provider_id_fkey"}

	assert.True(t, IsSlotTaken(slot))
	assert.True(t, IsSlotTaken(fmt.Errorf("insert: %w", slot)))
	assert.False(t, IsSlotTaken(other))
	assert.False(t, IsSlotTaken(fk))
	assert.False(t, IsSlotTaken(errors.New("23505")))
	assert.False(t, IsSlotTaken(nil))
}

func TestIsUniqueViolation_AnyConstraint(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}, ""))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23P01"}, ""))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(pgx.ErrNoRows))
	assert.True(t, IsNotFound(fmt.Errorf("load appointment: %w", pgx.ErrNoRows)))
	assert.False(t, IsNotFound(errors.New("no rows")))
}
