package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Business struct {
	ID            uuid.UUID      `db:"id"`
	Name          string         `db:"name"`
	PhoneNumber   string         `db:"phone_number"`
	Industry      string         `db:"industry"`
	AIPersonality sql.NullString `db:"ai_personality"`
	Services      StringArray    `db:"services"`
	CreatedAt     string         `db:"created_at"`
}

const sqlGetBusinessByID = `
SELECT id, name, phone_number, industry, ai_personality, services, created_at
FROM businesses WHERE id = $1`

func (s *Store) GetBusiness(ctx context.Context, id uuid.UUID) (*Business, error) {
	var business Business
	err := s.db.GetContext(ctx, &business, sqlGetBusinessByID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get business by ID", err)
		return nil, fmt.Errorf("failed to get business by ID: %w", err)
	}
	return &business, nil
}

const sqlGetBusinessByPhone = `
SELECT id, name, phone_number, industry, ai_personality, services, created_at
FROM businesses WHERE phone_number = $1`

// GetBusinessByPhone resolves the business answering a given Twilio number.
func (s *Store) GetBusinessByPhone(ctx context.Context, phoneNumber string) (*Business, error) {
	var business Business
	err := s.db.GetContext(ctx, &business, sqlGetBusinessByPhone, phoneNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get business by phone number", err)
		return nil, fmt.Errorf("failed to get business by phone number: %w", err)
	}
	return &business, nil
}
