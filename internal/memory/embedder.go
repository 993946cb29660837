package memory

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Gemini embedding task types. Stored summaries and search queries are
// embedded asymmetrically.
const (
	TaskDocument = "RETRIEVAL_DOCUMENT"
	TaskQuery    = "RETRIEVAL_QUERY"
)

// Embedder turns text into a vector for storage or for search.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// GenAIEmbedder embeds text with a Gemini embedding model.
type GenAIEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int32
}

func NewGenAIEmbedder(client *genai.Client, model string, dimensions int) *GenAIEmbedder {
	return &GenAIEmbedder{client: client, model: model, dimensions: int32(dimensions)}
}

func (e *GenAIEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, TaskDocument)
}

func (e *GenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, TaskQuery)
}

func (e *GenAIEmbedder) embed(ctx context.Context, text, task string) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: task}
	if e.dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(e.dimensions)
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("embed content (%s): %w", task, err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("embed content (%s): empty response", task)
	}
	return resp.Embeddings[0].Values, nil
}
