// Package openai holds clients for the OpenAI-compatible model providers:
// the cross-modal embedding encoder and the chat LLM.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/visualmem/internal/domain"
	"github.com/kailas-cloud/visualmem/internal/metrics"
)

// Encoder embeds text and images via a SigLIP-family model served behind an
// OpenAI-compatible embeddings endpoint. Image inputs are passed as base64
// data URIs in the input strings, the convention such gateways accept.
type Encoder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	logger     *zap.Logger
}

// EncoderConfig holds the embedding provider settings.
type EncoderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Logger     *zap.Logger
}

// NewEncoder creates an OpenAI-compatible embedding provider.
func NewEncoder(cfg *EncoderConfig) *Encoder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Encoder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		logger:     cfg.Logger,
	}
}

// Dimensions returns the fixed embedding dimensionality.
func (e *Encoder) Dimensions() int { return e.dimensions }

// EncodeText implements domain.TextEncoder.
func (e *Encoder) EncodeText(ctx context.Context, text string) (domain.EncodeResult, error) {
	return e.encode(ctx, text, "text")
}

// EncodeImage implements domain.ImageEncoder. imageBase64 is the raw base64
// payload; the data URI envelope is added here.
func (e *Encoder) EncodeImage(ctx context.Context, imageBase64 string) (domain.EncodeResult, error) {
	if !strings.HasPrefix(imageBase64, "data:") {
		imageBase64 = "data:image/png;base64," + imageBase64
	}
	return e.encode(ctx, imageBase64, "image")
}

func (e *Encoder) encode(ctx context.Context, input, kind string) (domain.EncodeResult, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{input},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EncoderRequestsTotal.WithLabelValues(string(e.model), kind, "error").Inc()
		return domain.EncodeResult{}, parseAPIError(err)
	}

	if len(resp.Data) == 0 {
		metrics.EncoderRequestsTotal.WithLabelValues(string(e.model), kind, "error").Inc()
		return domain.EncodeResult{}, fmt.Errorf("empty embedding response: %w", domain.ErrEncoding)
	}

	vec := resp.Data[0].Embedding
	if e.dimensions > 0 && len(vec) != e.dimensions {
		metrics.EncoderRequestsTotal.WithLabelValues(string(e.model), kind, "error").Inc()
		return domain.EncodeResult{}, fmt.Errorf(
			"expected %d dimensions, got %d: %w", e.dimensions, len(vec), domain.ErrVectorDimMismatch)
	}

	metrics.EncoderRequestsTotal.WithLabelValues(string(e.model), kind, "success").Inc()
	metrics.EncoderRequestDuration.WithLabelValues(string(e.model), kind).Observe(duration.Seconds())

	totalTokens := resp.Usage.TotalTokens
	promptTokens := resp.Usage.PromptTokens
	if totalTokens > 0 {
		metrics.EncoderTokensTotal.WithLabelValues(string(e.model), "prompt").Add(float64(promptTokens))
		metrics.EncoderTokensTotal.WithLabelValues(string(e.model), "total").Add(float64(totalTokens))
	}

	return domain.EncodeResult{
		Embedding:    vec,
		PromptTokens: promptTokens,
		TotalTokens:  totalTokens,
	}, nil
}

// BatchEncodeText implements domain.BatchTextEncoder in a single API call.
func (e *Encoder) BatchEncodeText(ctx context.Context, texts []string) (domain.BatchEncodeResult, error) {
	if len(texts) == 0 {
		return domain.BatchEncodeResult{}, nil
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		metrics.EncoderRequestsTotal.WithLabelValues(string(e.model), "text", "error").Inc()
		return domain.BatchEncodeResult{}, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		metrics.EncoderRequestsTotal.WithLabelValues(string(e.model), "text", "error").Inc()
		return domain.BatchEncodeResult{}, fmt.Errorf(
			"expected %d embeddings, got %d: %w", len(texts), len(resp.Data), domain.ErrEncoding)
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if e.dimensions > 0 && len(d.Embedding) != e.dimensions {
			return domain.BatchEncodeResult{}, fmt.Errorf(
				"expected %d dimensions, got %d: %w", e.dimensions, len(d.Embedding), domain.ErrVectorDimMismatch)
		}
		embeddings[i] = d.Embedding
	}

	metrics.EncoderRequestsTotal.WithLabelValues(string(e.model), "text", "success").Inc()

	return domain.BatchEncodeResult{
		Embeddings:   embeddings,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (e *Encoder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrEncoding for correct status mapping.
func parseAPIError(err error) error {
	wrap := domain.ErrEncoding

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail != "" {
			return fmt.Errorf("embedding API error %d: %s: %w",
				reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("embedding API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("embedding request failed: %w", wrap)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
