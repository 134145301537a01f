// Package knowledge retrieves business FAQ snippets relevant to the current
// conversation so AI responses can be grounded in business-specific facts
// (service areas, pricing bands, brands carried) instead of invented ones.
package knowledge

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"call-server/internal/callerrors"
	"call-server/internal/observability"
	"call-server/internal/store"
)

// Retrieval tuning. Scores below the floor read as noise for FAQ-scale
// corpora; more than topK snippets blows the realtime prompt budget.
const (
	scoreFloor = 0.7
	topK       = 3
)

// Embedder turns text into a vector in the same space as stored snippet
// embeddings.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float64, error)
}

// SnippetStore is the slice of the datastore the retriever needs.
type SnippetStore interface {
	GetKnowledgeSnippets(ctx context.Context, businessID uuid.UUID) ([]store.KnowledgeSnippet, error)
}

// Match is a snippet with its similarity to the query.
type Match struct {
	Title   string
	Content string
	Score   float64
}

// Retriever performs embedding search over a business's knowledge snippets.
// Knowledge bases are FAQ-scale, so snippets are ranked in process rather
// than by a vector database.
type Retriever struct {
	embedder Embedder
	snippets SnippetStore
	timeout  time.Duration
	logger   *observability.Logger
}

func New(embedder Embedder, snippets SnippetStore, timeout time.Duration, logger *observability.Logger) *Retriever {
	return &Retriever{embedder: embedder, snippets: snippets, timeout: timeout, logger: logger}
}

// Search returns the snippets most similar to query, best first. At most
// topK results, all scoring at least the floor. Retrieval runs under a hard
// budget: on timeout it returns empty results and no error, because an
// ungrounded response beats a stalled call.
func (r *Retriever) Search(ctx context.Context, businessID uuid.UUID, query string) ([]Match, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	matches, err := r.search(ctx, businessID, query)
	if err != nil {
		if callerrors.IsAdapterTimeout(err) || ctx.Err() == context.DeadlineExceeded {
			r.logger.Warn(ctx, "knowledge retrieval exceeded budget, responding ungrounded")
			return nil, nil
		}
		return nil, err
	}
	return matches, nil
}

func (r *Retriever) search(ctx context.Context, businessID uuid.UUID, query string) ([]Match, error) {
	queryVec, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, callerrors.WrapAdapter("knowledge", err)
	}

	snippets, err := r.snippets.GetKnowledgeSnippets(ctx, businessID)
	if err != nil {
		return nil, callerrors.WrapAdapter("knowledge", err)
	}

	var matches []Match
	for _, s := range snippets {
		score := cosineSimilarity(queryVec, s.Embedding)
		if score >= scoreFloor {
			matches = append(matches, Match{Title: s.Title, Content: s.Content, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// FormatContext renders matches as a context block for prompt injection.
// Empty input yields an empty string so callers can skip injection.
func FormatContext(matches []Match) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant business information:\n")
	for _, m := range matches {
		b.WriteString("- ")
		if m.Title != "" {
			b.WriteString(m.Title)
			b.WriteString(": ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
