package core

import "context"

// Snippet is one ranked text fragment returned by a knowledge retriever.
type Snippet struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever is the knowledge-retrieval collaborator consumed by workers
// that ground their output in reference material. Only this boundary is
// specified; ranking quality is the provider's concern.
type Retriever interface {
	Search(ctx context.Context, query string, limit int) ([]Snippet, error)
}
