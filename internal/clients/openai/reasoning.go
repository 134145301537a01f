package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	openaiOption "github.com/openai/openai-go/option"

	"call-server/internal/observability"
)

// ReasoningClient covers the non-realtime AI calls: intent classification
// when patterns are inconclusive, free-text field extraction, call
// summaries, and embeddings for knowledge search.
type ReasoningClient struct {
	client openai.Client
	logger *observability.Logger
}

func NewReasoningClient(apiKey string, logger *observability.Logger) (*ReasoningClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	client := openai.NewClient(openaiOption.WithAPIKey(apiKey))
	return &ReasoningClient{client: client, logger: logger}, nil
}

// ClassifyIntent labels the caller's goal from recent conversation turns.
// Returns one of the given labels and a confidence in [0,1].
func (c *ReasoningClient) ClassifyIntent(ctx context.Context, turns []string, labels []string) (string, float64, error) {
	system := fmt.Sprintf(
		`You classify what a caller to a home-service business wants. Respond with JSON only: {"label": <one of %s>, "confidence": <0.0-1.0>}.`,
		strings.Join(labels, ", "))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage("Conversation:\n" + strings.Join(turns, "\n")),
		},
		Model: openai.ChatModelGPT4oMini,
	})
	if err != nil {
		return "", 0, fmt.Errorf("intent classification: %w", err)
	}

	var out struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(jsonBody(resp.Choices[0].Message.Content)), &out); err != nil {
		return "", 0, fmt.Errorf("intent classification: unparseable response: %w", err)
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out.Label, out.Confidence, nil
}

// ExtractCustomerFields pulls the caller's name and service address out of
// the transcript. Empty strings mean the transcript does not state them.
func (c *ReasoningClient) ExtractCustomerFields(ctx context.Context, transcript string) (string, string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(`Extract the customer's name and service address from this call transcript. Respond with JSON only: {"name": "", "address": ""}. Use empty strings for anything not stated.`),
			openai.UserMessage(transcript),
		},
		Model: openai.ChatModelGPT4oMini,
	})
	if err != nil {
		return "", "", fmt.Errorf("field extraction: %w", err)
	}

	var out struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.Unmarshal([]byte(jsonBody(resp.Choices[0].Message.Content)), &out); err != nil {
		return "", "", fmt.Errorf("field extraction: unparseable response: %w", err)
	}
	return strings.TrimSpace(out.Name), strings.TrimSpace(out.Address), nil
}

// Summarize produces the short call summary stored with the call record.
func (c *ReasoningClient) Summarize(ctx context.Context, transcript string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("Summarize this service call in 2-3 sentences: who called, what they needed, and the outcome."),
			openai.UserMessage(transcript),
		},
		Model: openai.ChatModelGPT4oMini,
	})
	if err != nil {
		return "", fmt.Errorf("call summary: %w", err)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// EmbedText returns the embedding vector for text, for similarity search
// against stored knowledge snippets.
func (c *ReasoningClient) EmbedText(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModelTextEmbedding3Small,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// jsonBody strips markdown code fences models sometimes wrap JSON in.
func jsonBody(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
