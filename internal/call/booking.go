package call

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"call-server/internal/scheduling"
)

// BookingAttempt tracks one pass through the booking flow. Nothing here is
// persisted until the slot is confirmed; an unconfirmed attempt dies with
// the call.
type BookingAttempt struct {
	State           BookingState
	AllSlots        []scheduling.Slot // availability fetched at flow start
	Offered         []scheduling.Slot // the page currently spoken to the caller
	page            int
	perPage         int
	ConfirmedSlot   *scheduling.Slot
	TechnicianID    uuid.UUID
	TechnicianName  string
	ConfirmationRef string
}

func newBookingAttempt(slots []scheduling.Slot, perPage int) *BookingAttempt {
	if perPage <= 0 {
		perPage = 3
	}
	a := &BookingAttempt{State: BookingOffering, AllSlots: slots, perPage: perPage}
	a.Offered = a.pageSlots(0)
	return a
}

func (a *BookingAttempt) pageSlots(page int) []scheduling.Slot {
	start := page * a.perPage
	if start >= len(a.AllSlots) {
		return nil
	}
	end := start + a.perPage
	if end > len(a.AllSlots) {
		end = len(a.AllSlots)
	}
	return a.AllSlots[start:end]
}

// NextPage advances to a fresh page of slots after the caller declines the
// current offer. Returns false when availability is exhausted.
func (a *BookingAttempt) NextPage() bool {
	next := a.pageSlots(a.page + 1)
	if len(next) == 0 {
		return false
	}
	a.page++
	a.Offered = next
	return true
}

// OfferText renders the current page for the AI to speak.
func (a *BookingAttempt) OfferText() string {
	labels := make([]string, len(a.Offered))
	for i, s := range a.Offered {
		labels[i] = s.Start.Format("Monday, January 2 at 3:04 PM")
	}
	return fmt.Sprintf("Offer the caller exactly these appointment times and ask which works: %s. Do not invent other times.",
		strings.Join(labels, "; "))
}

// PickSlot chooses the slot the caller confirmed. Without a clearer signal
// the first offered slot is taken; the AI is instructed to confirm the
// specific time back to the caller before the session books it.
func (a *BookingAttempt) PickSlot() *scheduling.Slot {
	if len(a.Offered) == 0 {
		return nil
	}
	s := a.Offered[0]
	return &s
}
