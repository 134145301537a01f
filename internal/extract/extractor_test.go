package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"call-server/internal/observability"
)

type mockReasoner struct {
	mock.Mock
}

func (m *mockReasoner) ExtractCustomerFields(ctx context.Context, transcript string) (string, string, error) {
	args := m.Called(ctx, transcript)
	return args.String(0), args.String(1), args.Error(2)
}

func TestExtractTurn_Phone(t *testing.T) {
	e := New(nil, observability.NewLogger())
	cases := []struct {
		text string
		want string
	}{
		{"you can reach me at 555-123-4567", "5551234567"},
		{"it's (555) 123-4567", "5551234567"},
		{"call 555.123.4567 anytime", "5551234567"},
		{"my number is 5551234567", "5551234567"},
	}
	for _, tc := range cases {
		var rec CustomerRecord
		e.ExtractTurn(context.Background(), &rec, tc.text)
		assert.Equal(t, tc.want, rec.Phone.Value, tc.text)
		assert.Equal(t, 0.9, rec.Phone.Confidence)
		assert.Equal(t, SourcePattern, rec.Phone.Source)
	}
}

func TestExtractTurn_Email(t *testing.T) {
	e := New(nil, observability.NewLogger())
	var rec CustomerRecord
	e.ExtractTurn(context.Background(), &rec, "send it to John.Doe@Example.COM please")
	assert.Equal(t, "john.doe@example.com", rec.Email.Value)
}

func TestExtractTurn_NameAndAddress(t *testing.T) {
	e := New(nil, observability.NewLogger())
	var rec CustomerRecord
	e.ExtractTurn(context.Background(), &rec, "Hi, my name is Sarah Johnson")
	assert.Equal(t, "Sarah Johnson", rec.Name.Value)
	assert.Equal(t, 0.6, rec.Name.Confidence)

	e.ExtractTurn(context.Background(), &rec, "I'm at 123 Maple Street, Apt 4")
	assert.Equal(t, "123 Maple Street, Apt 4", rec.Address.Value)
}

func TestExtractTurn_NoMatchLeavesRecordEmpty(t *testing.T) {
	e := New(nil, observability.NewLogger())
	var rec CustomerRecord
	e.ExtractTurn(context.Background(), &rec, "the sink has been leaking since yesterday")
	assert.False(t, rec.Name.Set())
	assert.False(t, rec.Phone.Set())
	assert.False(t, rec.Email.Set())
	assert.False(t, rec.Address.Set())
}

func TestMerge_HigherConfidenceOverwrites(t *testing.T) {
	field := Field{Value: "5551234567", Confidence: 0.9, Source: SourcePattern}

	// Lower confidence never overwrites.
	conflict := Merge(&field, "phone", Field{Value: "5559990000", Confidence: 0.7, Source: SourceReasoning})
	assert.NotNil(t, conflict)
	assert.Equal(t, "5551234567", field.Value)

	// Strictly higher confidence does.
	conflict = Merge(&field, "phone", Field{Value: "5559990000", Confidence: 0.95, Source: SourceReasoning})
	assert.Nil(t, conflict)
	assert.Equal(t, "5559990000", field.Value)
	assert.Equal(t, 0.95, field.Confidence)
}

func TestMerge_EqualConfidenceKeepsEarliest(t *testing.T) {
	field := Field{Value: "Sarah", Confidence: 0.6, Source: SourcePattern}
	conflict := Merge(&field, "name", Field{Value: "Sara", Confidence: 0.6, Source: SourcePattern})
	assert.NotNil(t, conflict)
	assert.Equal(t, "Sarah", field.Value)
	assert.Equal(t, "Sara", conflict.Incoming)
}

func TestMerge_NeverUnsets(t *testing.T) {
	field := Field{Value: "Sarah", Confidence: 0.6, Source: SourcePattern}
	Merge(&field, "name", Field{})
	assert.Equal(t, "Sarah", field.Value)
}

func TestMerge_SameValueNoConflict(t *testing.T) {
	field := Field{Value: "Sarah", Confidence: 0.7, Source: SourceReasoning}
	conflict := Merge(&field, "name", Field{Value: "Sarah", Confidence: 0.6, Source: SourcePattern})
	assert.Nil(t, conflict)
	assert.Equal(t, 0.7, field.Confidence)
}

func TestExtractFreeText(t *testing.T) {
	r := &mockReasoner{}
	r.On("ExtractCustomerFields", mock.Anything, "transcript here").
		Return("Mike Chen", "42 Oak Avenue", nil)

	e := New(r, observability.NewLogger())
	var rec CustomerRecord
	err := e.ExtractFreeText(context.Background(), &rec, "transcript here")
	assert.NoError(t, err)
	assert.Equal(t, "Mike Chen", rec.Name.Value)
	assert.Equal(t, SourceReasoning, rec.Name.Source)
	assert.Equal(t, "42 Oak Avenue", rec.Address.Value)
	r.AssertExpectations(t)
}

func TestExtractFreeText_DoesNotClobberPatternPhoneGradeName(t *testing.T) {
	r := &mockReasoner{}
	r.On("ExtractCustomerFields", mock.Anything, mock.Anything).
		Return("Michael Chen", "", nil)

	e := New(r, observability.NewLogger())
	var rec CustomerRecord
	// Reasoning confidence 0.7 beats the 0.6 pattern-extracted name.
	e.ExtractTurn(context.Background(), &rec, "my name is Mike Chen")
	assert.Equal(t, "Mike Chen", rec.Name.Value)

	err := e.ExtractFreeText(context.Background(), &rec, "whole transcript")
	assert.NoError(t, err)
	assert.Equal(t, "Michael Chen", rec.Name.Value)
	// Address stays unset; reasoning returned nothing for it.
	assert.False(t, rec.Address.Set())
}

func TestExtractFreeText_ErrorWrapped(t *testing.T) {
	r := &mockReasoner{}
	r.On("ExtractCustomerFields", mock.Anything, mock.Anything).
		Return("", "", errors.New("rate limited"))

	e := New(r, observability.NewLogger())
	var rec CustomerRecord
	err := e.ExtractFreeText(context.Background(), &rec, "t")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "extraction")
}

func TestSeedCallerNumber(t *testing.T) {
	var rec CustomerRecord
	SeedCallerNumber(&rec, "+15551234567")
	assert.Equal(t, "15551234567", rec.Phone.Value)
	assert.Equal(t, SourceCallerID, rec.Phone.Source)

	// A stated number overrides the seed.
	e := New(nil, observability.NewLogger())
	e.ExtractTurn(context.Background(), &rec, "actually use 555-999-0000")
	assert.Equal(t, "5559990000", rec.Phone.Value)

	var unknown CustomerRecord
	SeedCallerNumber(&unknown, "Unknown")
	assert.False(t, unknown.Phone.Set())
}

func TestE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5551234567", "+15551234567"},   // spoken 10-digit number
		{"15551234567", "+15551234567"},  // caller ID seed, country code kept
		{"+15551234567", "+15551234567"}, // already dialable
		{"(555) 123-4567", "+15551234567"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, E164(c.in), "input %q", c.in)
	}
}

func TestBookingInfoHelpers(t *testing.T) {
	var rec CustomerRecord
	assert.False(t, rec.HasBookingInfo())
	assert.Equal(t, []string{"name", "phone"}, rec.MissingBookingFields())

	rec.Name = Field{Value: "Sarah", Confidence: 0.6}
	assert.Equal(t, []string{"phone"}, rec.MissingBookingFields())

	rec.Phone = Field{Value: "5551234567", Confidence: 0.9}
	assert.True(t, rec.HasBookingInfo())
	assert.Nil(t, rec.MissingBookingFields())
}
