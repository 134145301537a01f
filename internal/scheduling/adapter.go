// Package scheduling provides appointment slot availability and technician
// assignment for booked jobs.
package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"call-server/internal/callerrors"
	"call-server/internal/observability"
	"call-server/internal/retry"
	"call-server/internal/store"
)

// Business-hours grid: hourly slots, 9am to 5pm, weekdays.
const (
	dayStartHour = 9
	dayEndHour   = 17
	slotLength   = time.Hour
	lookahead    = 7 // days of availability offered to callers
)

// Slot is one bookable window.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BookingRequest carries everything needed to confirm an appointment.
type BookingRequest struct {
	BusinessID    uuid.UUID
	CustomerName  string
	CustomerPhone string
	ServiceType   string
	Slot          Slot
}

// AppointmentStore is the slice of the datastore the adapter needs.
type AppointmentStore interface {
	GetBookedSlots(ctx context.Context, businessID uuid.UUID, from, to time.Time) ([]time.Time, error)
	CreateAppointment(ctx context.Context, appt store.Appointment) (*store.Appointment, error)
}

// Adapter is the scheduling-system boundary. Availability reads are
// advisory; the real conflict check happens at confirm time, where the
// database constraint arbitrates concurrent confirmations.
type Adapter struct {
	appointments AppointmentStore
	matcher      *Matcher
	policy       retry.Policy
	logger       *observability.Logger
	now          func() time.Time
}

func NewAdapter(appointments AppointmentStore, matcher *Matcher, policy retry.Policy, logger *observability.Logger) *Adapter {
	return &Adapter{
		appointments: appointments,
		matcher:      matcher,
		policy:       policy,
		logger:       logger,
		now:          time.Now,
	}
}

// ListAvailableSlots returns open slots over the lookahead window, earliest
// first: the business-hours grid minus already-booked starts. A slot listed
// here can still be lost to a concurrent caller before confirmation.
func (a *Adapter) ListAvailableSlots(ctx context.Context, businessID uuid.UUID) ([]Slot, error) {
	now := a.now()
	from := now
	to := now.AddDate(0, 0, lookahead)

	var booked []time.Time
	err := retry.Do(ctx, "scheduling", a.policy, func(ctx context.Context) error {
		var err error
		booked, err = a.appointments.GetBookedSlots(ctx, businessID, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}

	taken := make(map[time.Time]bool, len(booked))
	for _, t := range booked {
		taken[t.Truncate(slotLength)] = true
	}

	var slots []Slot
	for day := 0; day < lookahead; day++ {
		d := now.AddDate(0, 0, day)
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		for hour := dayStartHour; hour < dayEndHour; hour++ {
			start := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, d.Location())
			if !start.After(now) || taken[start] {
				continue
			}
			slots = append(slots, Slot{Start: start, End: start.Add(slotLength)})
		}
	}
	return slots, nil
}

// MatchTechnician picks a technician for a job without booking a slot, used
// for emergency dispatch where somebody must be sent before any appointment
// exists.
func (a *Adapter) MatchTechnician(ctx context.Context, businessID uuid.UUID, serviceType string, isEmergency bool) (*store.Technician, error) {
	timeout := a.policy.Timeout
	if timeout <= 0 {
		timeout = retry.Default().Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.matcher.Match(ctx, businessID, serviceType, isEmergency)
}

// Book confirms the appointment: a technician is matched for the job, then
// the slot is claimed. callerrors.ErrSlotTaken means a concurrent caller won
// the slot; the caller should re-offer from fresh availability. Creation is
// never retried, so a slow insert cannot double-book.
func (a *Adapter) Book(ctx context.Context, req BookingRequest, isEmergency bool) (*store.Appointment, *store.Technician, error) {
	tech, err := a.matcher.Match(ctx, req.BusinessID, req.ServiceType, isEmergency)
	if err != nil {
		return nil, nil, err
	}

	appt := store.Appointment{
		BusinessID:    req.BusinessID,
		TechnicianID:  tech.ID,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		ServiceType:   req.ServiceType,
		SlotStart:     req.Slot.Start,
		SlotEnd:       req.Slot.End,
	}

	var created *store.Appointment
	err = retry.Do(ctx, "scheduling", a.policy.NoRetry(), func(ctx context.Context) error {
		var err error
		created, err = a.appointments.CreateAppointment(ctx, appt)
		return err
	})
	if err != nil {
		if errors.Is(err, callerrors.ErrSlotTaken) {
			return nil, nil, callerrors.ErrSlotTaken
		}
		return nil, nil, err
	}
	return created, tech, nil
}
