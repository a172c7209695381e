package domain

import (
	"context"
	"fmt"
)

// TextEncoder vectorizes text into the shared cross-modal space.
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) (EncodeResult, error)
}

// ImageEncoder vectorizes an image (base64 payload) into the same space.
// Cosine similarity between text and image vectors is meaningful.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, imageBase64 string) (EncodeResult, error)
}

// Encoder is the full cross-modal vectorization contract.
type Encoder interface {
	TextEncoder
	ImageEncoder
	// Dimensions is the fixed embedding dimensionality for this model version.
	Dimensions() int
}

// BatchTextEncoder vectorizes multiple texts in a single API call.
type BatchTextEncoder interface {
	BatchEncodeText(ctx context.Context, texts []string) (BatchEncodeResult, error)
}

// HealthChecker verifies encoder provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EncodeResult carries the embedding vector and token usage through the decorator chain.
type EncodeResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEncodeResult carries multiple embedding vectors and aggregate token usage.
type BatchEncodeResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// BatchTextFallback calls EncodeText once per text. Safety net for providers
// without native batching.
func BatchTextFallback(ctx context.Context, e TextEncoder, texts []string) (BatchEncodeResult, error) {
	embeddings := make([][]float32, len(texts))
	var totalPrompt, totalTokens int

	for i, text := range texts {
		res, err := e.EncodeText(ctx, text)
		if err != nil {
			return BatchEncodeResult{}, fmt.Errorf("fallback encode [%d]: %w", i, err)
		}
		embeddings[i] = res.Embedding
		totalPrompt += res.PromptTokens
		totalTokens += res.TotalTokens
	}

	return BatchEncodeResult{
		Embeddings:   embeddings,
		PromptTokens: totalPrompt,
		TotalTokens:  totalTokens,
	}, nil
}
