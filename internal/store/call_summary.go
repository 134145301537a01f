package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

type CallSummary struct {
	ID              uuid.UUID      `db:"id"`
	CallID          string         `db:"call_id"`
	BusinessID      uuid.UUID      `db:"business_id"`
	CallerNumber    string         `db:"caller_number"`
	Transcript      string         `db:"transcript"`
	CustomerName    sql.NullString `db:"customer_name"`
	CustomerPhone   sql.NullString `db:"customer_phone"`
	CustomerEmail   sql.NullString `db:"customer_email"`
	CustomerAddress sql.NullString `db:"customer_address"`
	Summary         sql.NullString `db:"summary"`
	Outcome         string         `db:"outcome"`
	Sentiment       string         `db:"sentiment"`
	BookedAppt      bool           `db:"booked_appointment"`
	IsEmergency     bool           `db:"is_emergency"`
	CreatedAt       string         `db:"created_at"`
}

const sqlInsertCallSummary = `
INSERT INTO call_summaries
	(call_id, business_id, caller_number, transcript, customer_name, customer_phone,
	 customer_email, customer_address, summary, outcome, sentiment, booked_appointment, is_emergency)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (call_id) DO NOTHING
RETURNING id`

// InsertCallSummary writes the terminal summary row for a call. The row is
// written once and never updated; a duplicate call_id is a no-op so a summary
// can never be recorded twice.
func (s *Store) InsertCallSummary(ctx context.Context, summary CallSummary) error {
	var id uuid.UUID
	err := s.db.GetContext(ctx, &id, sqlInsertCallSummary,
		summary.CallID, summary.BusinessID, summary.CallerNumber, summary.Transcript,
		summary.CustomerName, summary.CustomerPhone, summary.CustomerEmail, summary.CustomerAddress,
		summary.Summary, summary.Outcome, summary.Sentiment, summary.BookedAppt, summary.IsEmergency)
	if err != nil {
		if err == sql.ErrNoRows {
			// Conflict path: the summary already exists.
			s.logger.Warn(ctx, "call summary already recorded")
			return nil
		}
		s.logger.Error(ctx, "failed to insert call summary", err)
		return fmt.Errorf("failed to insert call summary: %w", err)
	}
	return nil
}
