package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"call-server/internal/callerrors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type Appointment struct {
	ID            uuid.UUID `db:"id"`
	BusinessID    uuid.UUID `db:"business_id"`
	TechnicianID  uuid.UUID `db:"technician_id"`
	CustomerName  string    `db:"customer_name"`
	CustomerPhone string    `db:"customer_phone"`
	ServiceType   string    `db:"service_type"`
	SlotStart     time.Time `db:"slot_start"`
	SlotEnd       time.Time `db:"slot_end"`
	CreatedAt     string    `db:"created_at"`
}

const sqlCreateAppointment = `
INSERT INTO appointments (business_id, technician_id, customer_name, customer_phone, service_type, slot_start, slot_end)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, business_id, technician_id, customer_name, customer_phone, service_type, slot_start, slot_end, created_at`

// CreateAppointment inserts the appointment, relying on the unique
// (technician_id, slot_start) constraint as the optimistic confirm-time check:
// a concurrent confirmation of the same slot gets callerrors.ErrSlotTaken.
func (s *Store) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	var created Appointment
	err := s.db.GetContext(ctx, &created, sqlCreateAppointment,
		appt.BusinessID, appt.TechnicianID, appt.CustomerName, appt.CustomerPhone,
		appt.ServiceType, appt.SlotStart, appt.SlotEnd)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, callerrors.ErrSlotTaken
		}
		s.logger.Error(ctx, "failed to create appointment", err)
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}
	return &created, nil
}

const sqlGetBookedSlots = `
SELECT slot_start FROM appointments
WHERE business_id = $1 AND slot_start >= $2 AND slot_start < $3`

// GetBookedSlots returns the start times already taken in the range, for
// subtraction from the business-hours grid.
func (s *Store) GetBookedSlots(ctx context.Context, businessID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	var slots []time.Time
	err := s.db.SelectContext(ctx, &slots, sqlGetBookedSlots, businessID, from, to)
	if err != nil {
		s.logger.Error(ctx, "failed to get booked slots", err)
		return nil, fmt.Errorf("failed to get booked slots: %w", err)
	}
	return slots, nil
}
