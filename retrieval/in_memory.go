// Package retrieval provides implementations of the core.Retriever
// knowledge boundary.
package retrieval

import (
	"context"
	"strings"
	"sync"

	"github.com/hupe1980/threadmesh/core"
)

// document is the internal record held by InMemoryRetriever.
type document struct {
	id       string
	text     string
	metadata map[string]any
}

// InMemoryRetriever is a naive process-local Retriever: an append-only
// document list with substring search. Every hit scores 1.0 and results are
// ordered by insertion. Suitable only for tests and demos; swap for a
// vector index or search service for production retrieval.
//
// Concurrency: protected by RWMutex.
type InMemoryRetriever struct {
	mu   sync.RWMutex
	docs []document
}

// NewInMemoryRetriever creates an empty in-memory retriever.
func NewInMemoryRetriever() *InMemoryRetriever {
	return &InMemoryRetriever{}
}

// Add stores a document for later retrieval.
func (r *InMemoryRetriever) Add(id, text string, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	r.docs = append(r.docs, document{id: id, text: text, metadata: md})
}

// Search performs a case-insensitive substring match over stored documents,
// returning up to limit snippets in insertion order.
func (r *InMemoryRetriever) Search(_ context.Context, query string, limit int) ([]core.Snippet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	results := make([]core.Snippet, 0, limit)
	for _, doc := range r.docs {
		if limit > 0 && len(results) >= limit {
			break
		}
		if q == "" || strings.Contains(strings.ToLower(doc.text), q) {
			md := make(map[string]any, len(doc.metadata))
			for k, v := range doc.metadata {
				md[k] = v
			}
			results = append(results, core.Snippet{ID: doc.id, Text: doc.text, Score: 1.0, Metadata: md})
		}
	}
	return results, nil
}
