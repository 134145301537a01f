package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type KnowledgeSnippet struct {
	ID         uuid.UUID  `db:"id"`
	BusinessID uuid.UUID  `db:"business_id"`
	Title      string     `db:"title"`
	Content    string     `db:"content"`
	Embedding  FloatArray `db:"embedding"`
	CreatedAt  string     `db:"created_at"`
}

const sqlGetKnowledgeSnippets = `
SELECT id, business_id, title, content, embedding, created_at
FROM knowledge_snippets WHERE business_id = $1`

// GetKnowledgeSnippets returns every snippet for a business. Knowledge bases
// are small (FAQ-scale), so ranking happens in the retriever.
func (s *Store) GetKnowledgeSnippets(ctx context.Context, businessID uuid.UUID) ([]KnowledgeSnippet, error) {
	var snippets []KnowledgeSnippet
	err := s.db.SelectContext(ctx, &snippets, sqlGetKnowledgeSnippets, businessID)
	if err != nil {
		s.logger.Error(ctx, "failed to get knowledge snippets", err)
		return nil, fmt.Errorf("failed to get knowledge snippets: %w", err)
	}
	return snippets, nil
}

const sqlUpsertKnowledgeSnippet = `
INSERT INTO knowledge_snippets (business_id, title, content, embedding)
VALUES ($1, $2, $3, $4)
RETURNING id, business_id, title, content, embedding, created_at`

func (s *Store) CreateKnowledgeSnippet(ctx context.Context, businessID uuid.UUID, title, content string, embedding FloatArray) (*KnowledgeSnippet, error) {
	var snippet KnowledgeSnippet
	err := s.db.GetContext(ctx, &snippet, sqlUpsertKnowledgeSnippet, businessID, title, content, embedding)
	if err != nil {
		s.logger.Error(ctx, "failed to create knowledge snippet", err)
		return nil, fmt.Errorf("failed to create knowledge snippet: %w", err)
	}
	return &snippet, nil
}
