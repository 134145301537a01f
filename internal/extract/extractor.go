// Package extract derives a structured customer record from call transcript
// text. Pattern matching handles the high-precision formats (phone, email)
// at zero latency; the reasoning service is reserved for free-text fields
// so each turn stays within budget.
package extract

import (
	"context"
	"regexp"
	"strings"

	"call-server/internal/callerrors"
	"call-server/internal/observability"
)

// Field sources, ordered by nothing: confidence decides merges, not source.
const (
	SourcePattern   = "pattern"
	SourceReasoning = "reasoning"
	SourceCallerID  = "caller_id"
)

// Field is one extracted customer attribute with its confidence channel.
type Field struct {
	Value      string
	Confidence float64
	Source     string
}

// Set reports whether the field has ever been extracted.
func (f Field) Set() bool { return f.Value != "" }

// CustomerRecord is the partial customer profile built up over a call. Fields
// are independently nullable and only ever overwritten by extractions of
// equal or higher confidence.
type CustomerRecord struct {
	Name    Field
	Phone   Field
	Email   Field
	Address Field
}

// HasBookingInfo reports whether the record carries the fields required to
// enter the booking flow.
func (r CustomerRecord) HasBookingInfo() bool {
	return r.Name.Set() && r.Phone.Set()
}

// MissingBookingFields names the required fields not yet collected, for
// steering the next AI turn.
func (r CustomerRecord) MissingBookingFields() []string {
	var missing []string
	if !r.Name.Set() {
		missing = append(missing, "name")
	}
	if !r.Phone.Set() {
		missing = append(missing, "phone")
	}
	return missing
}

// Merge applies a new extraction of one field. The existing value survives
// unless the new one has strictly higher confidence; equal-confidence
// conflicts keep the earliest extraction. Fields are never unset. Returns
// a DataConflict when a differing value was rejected, nil otherwise.
func Merge(field *Field, name string, incoming Field) *callerrors.DataConflict {
	if !incoming.Set() {
		return nil
	}
	if !field.Set() || incoming.Confidence > field.Confidence {
		*field = incoming
		return nil
	}
	if incoming.Value != field.Value {
		return &callerrors.DataConflict{Field: name, Existing: field.Value, Incoming: incoming.Value}
	}
	return nil
}

// Reasoner extracts free-text fields via the reasoning service.
type Reasoner interface {
	ExtractCustomerFields(ctx context.Context, transcript string) (name, address string, err error)
}

var (
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{3}[-.\s]?\d{3}[-.\s]?\d{4})\b`),
		regexp.MustCompile(`\b(\(\d{3}\)\s*\d{3}[-.\s]?\d{4})\b`),
	}
	nonDigit     = regexp.MustCompile(`[^\d]`)
	emailPattern = regexp.MustCompile(`(?i)\b([a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})\b`)
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i:my name is|i'm|i am|this is|name's)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`),
		regexp.MustCompile(`(?i:call me|it's)\s+([A-Z][a-z]+)`),
	}
	addressPattern = regexp.MustCompile(`(?i)(\d+\s+[A-Za-z]+(?:\s+[A-Za-z]+)*\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Drive|Dr|Lane|Ln|Way|Court|Ct|Circle|Cir)\.?(?:\s*,?\s*(?:Apt|Apartment|Suite|Unit|#)\.?\s*\d+)?)`)
)

// Pattern confidences: formats are near-deterministic, free text is not.
const (
	phoneConfidence     = 0.9
	emailConfidence     = 0.9
	nameConfidence      = 0.6
	addressConfidence   = 0.6
	reasoningConfidence = 0.7
	callerIDConfidence  = 0.5
)

// Extractor incrementally builds customer records from transcript text.
type Extractor struct {
	reasoner Reasoner
	logger   *observability.Logger
}

// New creates an Extractor. reasoner may be nil; pattern extraction still
// runs.
func New(reasoner Reasoner, logger *observability.Logger) *Extractor {
	return &Extractor{reasoner: reasoner, logger: logger}
}

// ExtractTurn applies pattern extraction to one utterance and merges the
// results into record. Cheap enough to run on every transcript delta.
func (e *Extractor) ExtractTurn(ctx context.Context, record *CustomerRecord, text string) {
	for _, p := range phonePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			e.merge(ctx, &record.Phone, "phone", Field{
				Value:      nonDigit.ReplaceAllString(m[1], ""),
				Confidence: phoneConfidence,
				Source:     SourcePattern,
			})
			break
		}
	}

	if m := emailPattern.FindStringSubmatch(text); m != nil {
		e.merge(ctx, &record.Email, "email", Field{
			Value:      strings.ToLower(m[1]),
			Confidence: emailConfidence,
			Source:     SourcePattern,
		})
	}

	for _, p := range namePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			e.merge(ctx, &record.Name, "name", Field{
				Value:      m[1],
				Confidence: nameConfidence,
				Source:     SourcePattern,
			})
			break
		}
	}

	if m := addressPattern.FindStringSubmatch(text); m != nil {
		e.merge(ctx, &record.Address, "address", Field{
			Value:      m[1],
			Confidence: addressConfidence,
			Source:     SourcePattern,
		})
	}
}

func (e *Extractor) merge(ctx context.Context, field *Field, name string, incoming Field) {
	if conflict := Merge(field, name, incoming); conflict != nil && e.logger != nil {
		e.logger.Warn(observability.WithFields(ctx,
			observability.Field{Key: "field", Value: name}),
			conflict.Error())
	}
}

// ExtractFreeText asks the reasoning service for the free-text fields (name,
// address) using the cumulative transcript. Called only when those fields are
// still missing or ambiguous, never on every delta.
func (e *Extractor) ExtractFreeText(ctx context.Context, record *CustomerRecord, transcript string) error {
	if e.reasoner == nil {
		return nil
	}

	name, address, err := e.reasoner.ExtractCustomerFields(ctx, transcript)
	if err != nil {
		return callerrors.WrapAdapter("extraction", err)
	}

	e.merge(ctx, &record.Name, "name", Field{Value: name, Confidence: reasoningConfidence, Source: SourceReasoning})
	e.merge(ctx, &record.Address, "address", Field{Value: address, Confidence: reasoningConfidence, Source: SourceReasoning})
	return nil
}

// NeedsFreeTextPass reports whether a reasoning extraction could still add
// information.
func (e *Extractor) NeedsFreeTextPass(record CustomerRecord) bool {
	return e.reasoner != nil && (!record.Name.Set() || !record.Address.Set())
}

// SeedCallerNumber records the telephony-provided caller number as a
// low-confidence phone value; a number the caller states explicitly
// overrides it.
func SeedCallerNumber(record *CustomerRecord, callerNumber string) {
	if callerNumber == "" || callerNumber == "Unknown" {
		return
	}
	record.Phone = Field{
		Value:      nonDigit.ReplaceAllString(callerNumber, ""),
		Confidence: callerIDConfidence,
		Source:     SourceCallerID,
	}
}

// E164 renders a stored digits-only phone value as a dialable E.164 number.
// A bare 10-digit number, the shape a spoken extraction produces, gets the
// NANP country code; numbers that already carry one keep it.
func E164(phone string) string {
	digits := nonDigit.ReplaceAllString(phone, "")
	switch {
	case digits == "":
		return ""
	case len(digits) == 10:
		return "+1" + digits
	default:
		return "+" + digits
	}
}
