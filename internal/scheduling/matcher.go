package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"call-server/internal/observability"
	"call-server/internal/store"
)

// ErrNoTechnician means no available technician can take the job.
var ErrNoTechnician = errors.New("no available technician for job")

// TechnicianStore is the slice of the datastore the matcher needs.
type TechnicianStore interface {
	GetAvailableTechnicians(ctx context.Context, businessID uuid.UUID) ([]store.Technician, error)
	CountJobsToday(ctx context.Context, technicianID uuid.UUID, now time.Time) (int, error)
}

// Matcher assigns a technician to a job. Availability is a gate; skill
// overlap with the service type ranks candidates; the technician with the
// fewest jobs today breaks ties so work spreads evenly.
type Matcher struct {
	technicians TechnicianStore
	logger      *observability.Logger
	now         func() time.Time
}

func NewMatcher(technicians TechnicianStore, logger *observability.Logger) *Matcher {
	return &Matcher{technicians: technicians, logger: logger, now: time.Now}
}

// Match picks the technician for a job of the given service type. For
// emergencies every available technician qualifies regardless of skills;
// somebody on site beats nobody. For routine jobs at least one skill must
// overlap.
func (m *Matcher) Match(ctx context.Context, businessID uuid.UUID, serviceType string, isEmergency bool) (*store.Technician, error) {
	candidates, err := m.technicians.GetAvailableTechnicians(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoTechnician
	}

	type scored struct {
		tech    store.Technician
		overlap int
	}
	var pool []scored
	best := 0
	for _, t := range candidates {
		overlap := skillOverlap(t.Skills, serviceType)
		if overlap == 0 && !isEmergency {
			continue
		}
		if overlap > best {
			best = overlap
		}
		pool = append(pool, scored{tech: t, overlap: overlap})
	}
	if len(pool) == 0 {
		return nil, ErrNoTechnician
	}

	var winner *store.Technician
	fewest := -1
	for i := range pool {
		if pool[i].overlap < best {
			continue
		}
		jobs, err := m.technicians.CountJobsToday(ctx, pool[i].tech.ID, m.now())
		if err != nil {
			// Load is a tie-break, not a gate. Treat an uncountable
			// technician as fully loaded and keep going.
			m.logger.Warn(ctx, "could not count technician jobs, skipping for tie-break")
			continue
		}
		if fewest == -1 || jobs < fewest {
			fewest = jobs
			winner = &pool[i].tech
		}
	}
	if winner == nil {
		// Every count failed; fall back to the first best-overlap candidate.
		for i := range pool {
			if pool[i].overlap == best {
				winner = &pool[i].tech
				break
			}
		}
	}
	return winner, nil
}

// skillOverlap counts how many of the technician's skills appear in the
// service type description. Matching is token containment, both directions,
// so "water heater repair" overlaps a "water_heater" skill.
func skillOverlap(skills []string, serviceType string) int {
	service := strings.ToLower(serviceType)
	overlap := 0
	for _, skill := range skills {
		s := strings.ToLower(strings.ReplaceAll(skill, "_", " "))
		if s == "" {
			continue
		}
		if strings.Contains(service, s) || strings.Contains(s, service) {
			overlap++
			continue
		}
		for _, token := range strings.Fields(s) {
			if strings.Contains(service, token) {
				overlap++
				break
			}
		}
	}
	return overlap
}
