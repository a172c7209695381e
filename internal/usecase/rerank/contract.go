package rerank

import "context"

// Scorer is the cross-encoder API: one relevance score per document,
// in document order.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}
