// Package intent labels caller turns with a conversational intent and a
// confidence score. A pattern bank covers the common phrasings cheaply; the
// reasoning service is consulted only when patterns are inconclusive, keeping
// per-turn latency and cost bounded.
package intent

import (
	"context"
	"regexp"
	"strings"

	"call-server/internal/observability"
)

// Label is one of the fixed intent tags a turn can carry.
type Label string

const (
	BookAppointment   Label = "BOOK_APPOINTMENT"
	Emergency         Label = "EMERGENCY"
	PricingInquiry    Label = "PRICING_INQUIRY"
	CheckAvailability Label = "CHECK_AVAILABILITY"
	Confirmation      Label = "CONFIRMATION"
	Decline           Label = "DECLINE"
	Other             Label = "OTHER"
)

// Labels enumerates every label the classifier can produce.
var Labels = []Label{BookAppointment, Emergency, PricingInquiry, CheckAvailability, Confirmation, Decline, Other}

// Result is a classified turn.
type Result struct {
	Label      Label
	Confidence float64
}

// Reasoner classifies a turn using the reasoning service when the pattern
// bank is inconclusive.
type Reasoner interface {
	ClassifyIntent(ctx context.Context, turns []string, labels []string) (string, float64, error)
}

var intentPatterns = map[Label][]*regexp.Regexp{
	BookAppointment: compileAll(
		`\b(book|schedule|make|set up|arrange)\b.*(appointment|visit|service|time)`,
		`\b(need|want|like)\b.*(someone|technician|plumber|electrician).*(come|visit)`,
		`\bcan you (come|send someone|schedule)`,
		`\bi'?d like to (book|schedule|make)`,
		`\bwhen can (you|someone) come`,
	),
	Emergency: compileAll(
		`\b(emergency|urgent|immediately|right now|asap)\b`,
		`\b(flooding|flood|leak|burst|no heat|no hot water)\b`,
		`\bwater everywhere`,
		`\bgas (leak|smell)`,
		`\belectrical (fire|sparks|emergency)`,
	),
	PricingInquiry: compileAll(
		`\bhow much (do|does|will|would)`,
		`\bwhat (do|does|will|would).*(cost|charge|price)`,
		`\bpricing|prices|rates|fees`,
		`\bget a (quote|estimate)`,
	),
	CheckAvailability: compileAll(
		`\b(what|when).*(available|availability|open|free)`,
		`\bdo you have.*(openings|slots|time)`,
		`\bwhat times do you have`,
		`\bare you (open|available)`,
	),
	Confirmation: compileAll(
		`^(yes|yeah|yep|sure|okay|ok|correct|right|absolutely|definitely|please)[.!]?$`,
		`\bthat (works|sounds good|'s good|'s fine)`,
		`\b(perfect|great|excellent)\b`,
		`\blet's do (it|that)`,
	),
	Decline: compileAll(
		`^(no|nope|nah|not really|no thanks)[.!]?$`,
		`\bthat (doesn't work|won't work)`,
		`\bi'll pass`,
		`\bmaybe later`,
		`\bnone of (those|them)`,
	),
}

var humanPatterns = compileAll(
	`\b(speak|talk).*(human|person|someone|representative|agent)`,
	`\breal person`,
	`\btransfer me`,
	`\boperator\b`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(`(?i)` + p)
	}
	return compiled
}

// Classifier labels caller turns.
type Classifier struct {
	reasoner     Reasoner
	logger       *observability.Logger
	contextTurns int
}

// New creates a Classifier. reasoner may be nil, in which case pattern
// matching is the only signal.
func New(reasoner Reasoner, contextTurns int, logger *observability.Logger) *Classifier {
	if contextTurns <= 0 {
		contextTurns = 10
	}
	return &Classifier{reasoner: reasoner, contextTurns: contextTurns, logger: logger}
}

// Classify labels the latest caller turn. recent carries prior turns,
// oldest first; only the last contextTurns of them reach the reasoner.
func (c *Classifier) Classify(ctx context.Context, latest string, recent []string) Result {
	result := classifyPatterns(latest)

	// High-confidence pattern hits skip the reasoning service entirely.
	if result.Confidence >= 0.5 || c.reasoner == nil {
		return result
	}

	if len(recent) > c.contextTurns {
		recent = recent[len(recent)-c.contextTurns:]
	}
	turns := append(append([]string{}, recent...), latest)

	labels := make([]string, len(Labels))
	for i, l := range Labels {
		labels[i] = string(l)
	}

	label, confidence, err := c.reasoner.ClassifyIntent(ctx, turns, labels)
	if err != nil {
		c.logger.Warn(ctx, "intent reasoner unavailable, using pattern result")
		return result
	}

	parsed := parseLabel(label)
	if parsed == Other && result.Label != Other {
		// Keep the pattern signal over a reasoner shrug.
		return result
	}
	return Result{Label: parsed, Confidence: confidence}
}

// RequestsHuman reports whether the turn asks for a human operator. This is
// an escalation trigger, not an intent label.
func RequestsHuman(text string) bool {
	for _, p := range humanPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func classifyPatterns(text string) Result {
	text = strings.TrimSpace(text)

	best := Result{Label: Other, Confidence: 0}
	for label, patterns := range intentPatterns {
		hits := 0
		for _, p := range patterns {
			if p.MatchString(text) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := float64(hits) / 2.0
		if confidence > 1.0 {
			confidence = 1.0
		}
		// Emergency phrasing wins ties: a flooded basement mentioned while
		// booking still needs the emergency path.
		if confidence > best.Confidence || (confidence == best.Confidence && label == Emergency) {
			best = Result{Label: label, Confidence: confidence}
		}
	}
	return best
}

func parseLabel(s string) Label {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, l := range Labels {
		if string(l) == s {
			return l
		}
	}
	return Other
}
