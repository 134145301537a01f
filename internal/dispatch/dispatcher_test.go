package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"call-server/internal/extract"
	"call-server/internal/observability"
	"call-server/internal/retry"
	"call-server/internal/store"
)

type mockSMS struct {
	mock.Mock
}

func (m *mockSMS) SendSMS(ctx context.Context, to, body string) (string, error) {
	args := m.Called(ctx, to, body)
	return args.String(0), args.Error(1)
}

type mockEmail struct {
	mock.Mock
}

func (m *mockEmail) SendEmail(ctx context.Context, from, to, subject, htmlContent string) (string, error) {
	args := m.Called(ctx, from, to, subject, htmlContent)
	return args.String(0), args.Error(1)
}

func fastPolicy() retry.Policy {
	return retry.Policy{Timeout: time.Second, Backoff: time.Millisecond, Attempts: 2}
}

func testAppt() *store.Appointment {
	return &store.Appointment{
		CustomerName:  "Sarah Johnson",
		CustomerPhone: "+15551234567",
		ServiceType:   "drain cleaning",
		SlotStart:     time.Date(2026, time.March, 3, 10, 0, 0, 0, time.UTC),
	}
}

func TestConfirmBooking(t *testing.T) {
	sms := &mockSMS{}
	sms.On("SendSMS", mock.Anything, "+15551234567", mock.MatchedBy(func(body string) bool {
		return contains(body, "Acme Plumbing is confirmed") &&
			contains(body, "Tuesday, March 3 at 10:00 AM") &&
			contains(body, "Your technician will be Dana")
	})).Return("SM123", nil)

	d := New(sms, nil, "", fastPolicy(), observability.NewLogger())
	err := d.ConfirmBooking(context.Background(), "Acme Plumbing", testAppt(), "Dana")
	assert.NoError(t, err)
	sms.AssertExpectations(t)
}

func TestAssignTechnician_EmergencyPriority(t *testing.T) {
	sms := &mockSMS{}
	sms.On("SendSMS", mock.Anything, "+15550001111", mock.MatchedBy(func(body string) bool {
		return contains(body, "EMERGENCY Service Request") &&
			contains(body, "Customer: Sarah Johnson") &&
			contains(body, "Address: To be confirmed")
	})).Return("SM124", nil)

	d := New(sms, nil, "", fastPolicy(), observability.NewLogger())
	tech := &store.Technician{Name: "Dana", Phone: "+15550001111"}
	err := d.AssignTechnician(context.Background(), tech, testAppt(), extract.CustomerRecord{}, true)
	assert.NoError(t, err)
}

func TestEmergencyBlast_SkipsUnavailableAndCountsFailures(t *testing.T) {
	sms := &mockSMS{}
	sms.On("SendSMS", mock.Anything, "+1111", mock.Anything).Return("SM1", nil)
	// Both attempts for the failing technician fail.
	sms.On("SendSMS", mock.Anything, "+2222", mock.Anything).Return("", errors.New("undeliverable"))

	d := New(sms, nil, "", fastPolicy(), observability.NewLogger())
	techs := []store.Technician{
		{Name: "A", Phone: "+1111", IsAvailable: true},
		{Name: "B", Phone: "+2222", IsAvailable: true},
		{Name: "C", Phone: "+3333", IsAvailable: false},
	}
	customer := extract.CustomerRecord{
		Phone: extract.Field{Value: "15551234567", Confidence: 0.9},
	}
	err := d.EmergencyBlast(context.Background(), techs, customer, "burst pipe")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "1 sends failed")
	sms.AssertNotCalled(t, "SendSMS", mock.Anything, "+3333", mock.Anything)
}

func TestSendQuote_PrefersEmail(t *testing.T) {
	email := &mockEmail{}
	email.On("SendEmail", mock.Anything, "no-reply@acme.example", "sarah@example.com",
		mock.MatchedBy(func(subject string) bool { return contains(subject, "estimate") }),
		mock.MatchedBy(func(html string) bool { return contains(html, "$150-$300") })).
		Return("em_1", nil)

	sms := &mockSMS{}
	d := New(sms, email, "no-reply@acme.example", fastPolicy(), observability.NewLogger())
	customer := extract.CustomerRecord{
		Name:  extract.Field{Value: "Sarah", Confidence: 0.6},
		Email: extract.Field{Value: "sarah@example.com", Confidence: 0.9},
		Phone: extract.Field{Value: "15551234567", Confidence: 0.9},
	}
	err := d.SendQuote(context.Background(), "Acme Plumbing", customer, Quote{
		ServiceType: "drain cleaning", LowUSD: 150, HighUSD: 300,
	})
	assert.NoError(t, err)
	email.AssertExpectations(t)
	sms.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendQuote_FallsBackToSMS(t *testing.T) {
	sms := &mockSMS{}
	sms.On("SendSMS", mock.Anything, "+15551234567", mock.MatchedBy(func(body string) bool {
		return contains(body, "$150-$300") && contains(body, "Call us back to book")
	})).Return("SM200", nil)

	d := New(sms, &mockEmail{}, "no-reply@acme.example", fastPolicy(), observability.NewLogger())
	customer := extract.CustomerRecord{
		Phone: extract.Field{Value: "15551234567", Confidence: 0.9},
	}
	err := d.SendQuote(context.Background(), "Acme Plumbing", customer, Quote{
		ServiceType: "drain cleaning", LowUSD: 150, HighUSD: 300,
	})
	assert.NoError(t, err)
}

func TestSendQuote_NoContactIsNotAnError(t *testing.T) {
	d := New(&mockSMS{}, &mockEmail{}, "", fastPolicy(), observability.NewLogger())
	err := d.SendQuote(context.Background(), "Acme", extract.CustomerRecord{}, Quote{ServiceType: "hvac"})
	assert.NoError(t, err)
}

func TestSendSMS_RetriesOnce(t *testing.T) {
	sms := &mockSMS{}
	sms.On("SendSMS", mock.Anything, "+1555", mock.Anything).
		Return("", errors.New("timeout")).Once()
	sms.On("SendSMS", mock.Anything, "+1555", mock.Anything).
		Return("SM1", nil).Once()

	d := New(sms, nil, "", fastPolicy(), observability.NewLogger())
	err := d.sendSMS(context.Background(), "+1555", "hello")
	assert.NoError(t, err)
	sms.AssertExpectations(t)
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
