// Package dispatch sends the outbound notifications a call produces:
// customer booking confirmations, technician job assignments, emergency
// blasts, and quote follow-ups.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"call-server/internal/extract"
	"call-server/internal/metrics"
	"call-server/internal/observability"
	"call-server/internal/retry"
	"call-server/internal/store"
)

// SMSSender sends one text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// EmailSender sends one HTML email.
type EmailSender interface {
	SendEmail(ctx context.Context, from, to, subject, htmlContent string) (string, error)
}

// Dispatcher fans call outcomes out to customers and technicians. Every send
// goes through the shared adapter retry policy; failures are logged and
// reported, never allowed to take down the call.
type Dispatcher struct {
	sms       SMSSender
	email     EmailSender
	emailFrom string
	policy    retry.Policy
	logger    *observability.Logger
}

func New(sms SMSSender, email EmailSender, emailFrom string, policy retry.Policy, logger *observability.Logger) *Dispatcher {
	return &Dispatcher{
		sms:       sms,
		email:     email,
		emailFrom: emailFrom,
		policy:    policy,
		logger:    logger,
	}
}

// slotLabel renders an appointment time the way a person would say it.
func slotLabel(t time.Time) string {
	return t.Format("Monday, January 2 at 3:04 PM")
}

// ConfirmBooking texts the customer their appointment confirmation.
func (d *Dispatcher) ConfirmBooking(ctx context.Context, businessName string, appt *store.Appointment, techName string) error {
	techLine := ""
	if techName != "" {
		techLine = fmt.Sprintf("Your technician will be %s.\n", techName)
	}
	body := fmt.Sprintf(
		"Your appointment with %s is confirmed!\n\n%s\n%s\nWe'll send a reminder before the appointment. Reply HELP for assistance or CANCEL to reschedule.\n\nThank you for choosing %s!",
		businessName, slotLabel(appt.SlotStart), techLine, businessName)

	return d.sendSMS(ctx, appt.CustomerPhone, body)
}

// AssignTechnician texts the matched technician the job details.
func (d *Dispatcher) AssignTechnician(ctx context.Context, tech *store.Technician, appt *store.Appointment, customer extract.CustomerRecord, isEmergency bool) error {
	priority := "Scheduled"
	if isEmergency {
		priority = "EMERGENCY"
	}
	address := customer.Address.Value
	if address == "" {
		address = "To be confirmed"
	}
	body := fmt.Sprintf(
		"%s Service Request\n\nCustomer: %s\nPhone: %s\nAddress: %s\n\nService: %s\nTime: %s\n\nPlease confirm by replying YES or call dispatch if unavailable.",
		priority, appt.CustomerName, appt.CustomerPhone, address, appt.ServiceType, slotLabel(appt.SlotStart))

	return d.sendSMS(ctx, tech.Phone, body)
}

// EmergencyBlast texts every available technician about an unassigned
// emergency. Sends continue past individual failures; the error reports how
// many sends failed.
func (d *Dispatcher) EmergencyBlast(ctx context.Context, technicians []store.Technician, customer extract.CustomerRecord, issue string) error {
	if issue == "" {
		issue = "Emergency service needed"
	}
	address := customer.Address.Value
	if address == "" {
		address = "To be confirmed"
	}
	body := fmt.Sprintf(
		"EMERGENCY DISPATCH\n\nCustomer: %s\nIssue: %s\nLocation: %s\n\nFirst available technician please respond ASAP! Reply ACCEPT to take this job.",
		customer.Phone.Value, issue, address)

	failed := 0
	for _, tech := range technicians {
		if !tech.IsAvailable {
			continue
		}
		if err := d.sendSMS(ctx, tech.Phone, body); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("emergency blast: %d sends failed", failed)
	}
	return nil
}

// Quote describes the price estimate sent after a pricing inquiry.
type Quote struct {
	ServiceType string
	LowUSD      int
	HighUSD     int
	Notes       string
}

// Ballpark ranges for common home-service work. Callers wanting an exact
// number get an on-site estimate; these keep the conversation moving.
var defaultQuotes = map[string]Quote{
	"plumbing":       {ServiceType: "plumbing", LowUSD: 150, HighUSD: 450, Notes: "Final price depends on parts and access."},
	"drain cleaning": {ServiceType: "drain cleaning", LowUSD: 150, HighUSD: 300},
	"water heater":   {ServiceType: "water heater", LowUSD: 900, HighUSD: 2500, Notes: "Range covers repair through full replacement."},
	"hvac":           {ServiceType: "hvac", LowUSD: 200, HighUSD: 600},
	"electrical":     {ServiceType: "electrical", LowUSD: 150, HighUSD: 500},
}

// DefaultQuote returns the ballpark quote for a service type, falling back
// to a generic service-call range.
func DefaultQuote(serviceType string) Quote {
	if q, ok := defaultQuotes[serviceType]; ok {
		return q
	}
	return Quote{ServiceType: serviceType, LowUSD: 100, HighUSD: 400, Notes: "Exact pricing confirmed after an on-site look."}
}

// SendQuote delivers a price estimate: email when the caller shared an
// address for it, SMS otherwise. Missing contact details are not an error;
// there is simply nowhere to send.
func (d *Dispatcher) SendQuote(ctx context.Context, businessName string, customer extract.CustomerRecord, quote Quote) error {
	body := fmt.Sprintf("Estimate from %s for %s: $%d-$%d.", businessName, quote.ServiceType, quote.LowUSD, quote.HighUSD)
	if quote.Notes != "" {
		body += " " + quote.Notes
	}

	if customer.Email.Set() && d.email != nil {
		subject := fmt.Sprintf("Your %s estimate from %s", quote.ServiceType, businessName)
		html := fmt.Sprintf("<p>Hi %s,</p><p>%s</p><p>Reply to this email or call us to book.</p>",
			customer.Name.Value, body)
		err := retry.Do(ctx, "email", d.policy, func(ctx context.Context) error {
			_, err := d.email.SendEmail(ctx, d.emailFrom, customer.Email.Value, subject, html)
			return err
		})
		if err != nil {
			metrics.AdapterFailures.WithLabelValues("email").Inc()
			d.logger.Error(ctx, "failed to email quote", err)
			return err
		}
		return nil
	}

	if customer.Phone.Set() {
		return d.sendSMS(ctx, extract.E164(customer.Phone.Value), body+" Call us back to book.")
	}

	d.logger.Warn(ctx, "no contact details for quote, skipping send")
	return nil
}

func (d *Dispatcher) sendSMS(ctx context.Context, to, body string) error {
	err := retry.Do(ctx, "sms", d.policy, func(ctx context.Context) error {
		_, err := d.sms.SendSMS(ctx, to, body)
		return err
	})
	if err != nil {
		metrics.AdapterFailures.WithLabelValues("sms").Inc()
		d.logger.Error(ctx, "failed to send SMS", err)
		return err
	}
	return nil
}
