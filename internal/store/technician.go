package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Technician struct {
	ID          uuid.UUID   `db:"id"`
	BusinessID  uuid.UUID   `db:"business_id"`
	Name        string      `db:"name"`
	Phone       string      `db:"phone"`
	Skills      StringArray `db:"skills"`
	IsAvailable bool        `db:"is_available"`
	CreatedAt   string      `db:"created_at"`
}

const sqlGetAvailableTechnicians = `
SELECT id, business_id, name, phone, skills, is_available, created_at
FROM technicians
WHERE business_id = $1 AND is_available = true`

// GetAvailableTechnicians returns only technicians currently accepting jobs.
// Availability is a gate, not a score, so the filter lives in the query.
func (s *Store) GetAvailableTechnicians(ctx context.Context, businessID uuid.UUID) ([]Technician, error) {
	var technicians []Technician
	err := s.db.SelectContext(ctx, &technicians, sqlGetAvailableTechnicians, businessID)
	if err != nil {
		s.logger.Error(ctx, "failed to get available technicians", err)
		return nil, fmt.Errorf("failed to get available technicians: %w", err)
	}
	return technicians, nil
}

const sqlCountJobsToday = `
SELECT COUNT(*) FROM appointments
WHERE technician_id = $1 AND slot_start >= $2 AND slot_start < $3`

// CountJobsToday returns the number of appointments already assigned to the
// technician for the calendar day containing now.
func (s *Store) CountJobsToday(ctx context.Context, technicianID uuid.UUID, now time.Time) (int, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int
	err := s.db.GetContext(ctx, &count, sqlCountJobsToday, technicianID, dayStart, dayEnd)
	if err != nil {
		s.logger.Error(ctx, "failed to count technician jobs", err)
		return 0, fmt.Errorf("failed to count technician jobs: %w", err)
	}
	return count, nil
}
