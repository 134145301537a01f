package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"call-server/internal/observability"
	"call-server/internal/store"
)

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float64), args.Error(1)
}

type mockSnippetStore struct {
	mock.Mock
}

func (m *mockSnippetStore) GetKnowledgeSnippets(ctx context.Context, businessID uuid.UUID) ([]store.KnowledgeSnippet, error) {
	args := m.Called(ctx, businessID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.KnowledgeSnippet), args.Error(1)
}

func snippet(title string, embedding []float64) store.KnowledgeSnippet {
	return store.KnowledgeSnippet{
		ID:         uuid.New(),
		Title:      title,
		Content:    title + " details",
		Embedding:  store.FloatArray(embedding),
	}
}

func TestSearch_RanksAndFloors(t *testing.T) {
	businessID := uuid.New()
	embedder := &mockEmbedder{}
	embedder.On("EmbedText", mock.Anything, "do you service downtown").
		Return([]float64{1, 0, 0}, nil)

	snippets := &mockSnippetStore{}
	snippets.On("GetKnowledgeSnippets", mock.Anything, businessID).Return([]store.KnowledgeSnippet{
		snippet("service area", []float64{0.95, 0.1, 0}),  // high similarity
		snippet("pricing", []float64{0.8, 0.4, 0.2}),      // moderate
		snippet("warranty", []float64{0, 1, 0}),           // orthogonal, below floor
	}, nil)

	r := New(embedder, snippets, time.Second, observability.NewLogger())
	matches, err := r.Search(context.Background(), businessID, "do you service downtown")
	assert.NoError(t, err)
	assert.Len(t, matches, 2)
	assert.Equal(t, "service area", matches[0].Title)
	assert.Equal(t, "pricing", matches[1].Title)
	assert.Greater(t, matches[0].Score, matches[1].Score)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.7)
	}
}

func TestSearch_TopKCap(t *testing.T) {
	businessID := uuid.New()
	embedder := &mockEmbedder{}
	embedder.On("EmbedText", mock.Anything, mock.Anything).Return([]float64{1, 0}, nil)

	all := []store.KnowledgeSnippet{
		snippet("a", []float64{1, 0}),
		snippet("b", []float64{0.99, 0.01}),
		snippet("c", []float64{0.98, 0.02}),
		snippet("d", []float64{0.97, 0.03}),
	}
	snippets := &mockSnippetStore{}
	snippets.On("GetKnowledgeSnippets", mock.Anything, businessID).Return(all, nil)

	r := New(embedder, snippets, time.Second, observability.NewLogger())
	matches, err := r.Search(context.Background(), businessID, "anything")
	assert.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestSearch_TimeoutDegradesToEmpty(t *testing.T) {
	businessID := uuid.New()
	embedder := &mockEmbedder{}
	embedder.On("EmbedText", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	snippets := &mockSnippetStore{}

	r := New(embedder, snippets, 10*time.Millisecond, observability.NewLogger())
	matches, err := r.Search(context.Background(), businessID, "slow query")
	assert.NoError(t, err)
	assert.Nil(t, matches)
}

func TestSearch_NonTimeoutErrorSurfaces(t *testing.T) {
	businessID := uuid.New()
	embedder := &mockEmbedder{}
	embedder.On("EmbedText", mock.Anything, mock.Anything).
		Return(nil, errors.New("quota exceeded"))

	r := New(embedder, &mockSnippetStore{}, time.Second, observability.NewLogger())
	_, err := r.Search(context.Background(), businessID, "q")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "knowledge")
}

func TestFormatContext(t *testing.T) {
	assert.Empty(t, FormatContext(nil))

	out := FormatContext([]Match{
		{Title: "service area", Content: "We cover the metro area", Score: 0.9},
		{Content: "Licensed and insured", Score: 0.8},
	})
	assert.Contains(t, out, "Relevant business information:")
	assert.Contains(t, out, "- service area: We cover the metro area")
	assert.Contains(t, out, "- Licensed and insured")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
}
