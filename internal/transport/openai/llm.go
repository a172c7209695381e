package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/visualmem/internal/domain"
	"github.com/kailas-cloud/visualmem/internal/domain/query"
	"github.com/kailas-cloud/visualmem/internal/metrics"
)

// LLM is the chat completion collaborator: query rewriting, time-window
// extraction and narrative generation over evidence frames.
type LLM struct {
	client      *openai.Client
	model       string
	visionModel string
	maxImages   int
	logger      *zap.Logger
}

// LLMConfig holds the chat provider settings.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	MaxImages   int
	Logger      *zap.Logger
}

// NewLLM creates an OpenAI-compatible chat client.
func NewLLM(cfg *LLMConfig) *LLM {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = cfg.Model
	}

	return &LLM{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		visionModel: visionModel,
		maxImages:   cfg.MaxImages,
		logger:      cfg.Logger,
	}
}

const rewriteSystemPrompt = `You expand search queries over a personal archive of desktop
screenshots. Given a query, produce up to %d alternative phrasings that add synonyms and
likely on-screen wording. Respond with JSON: {"queries": ["...", "..."]}.`

// Rewrite asks the LLM for up to n expanded variants of the raw query.
// The first element of the result is the canonical rewritten query.
func (l *LLM) Rewrite(ctx context.Context, raw string, n int) ([]string, error) {
	resp, err := l.chatJSON(ctx, "rewrite", l.model, fmt.Sprintf(rewriteSystemPrompt, n), raw)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		return nil, fmt.Errorf("parse rewrite response: %w", err)
	}

	out := make([]string, 0, n)
	for _, q := range parsed.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == n {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("rewrite produced no queries")
	}
	return out, nil
}

const windowSystemPrompt = `You resolve time expressions in search queries over a personal
screenshot archive. Current time: %s. If the query refers to a time period ("yesterday
afternoon", "last Friday"), respond with JSON {"start": "RFC3339 or null", "end": "RFC3339
or null"}. If the query has no time reference or it is ambiguous, respond with
{"start": null, "end": null}.`

// ExtractWindow resolves a relative time expression in raw against now.
// Returns nil (no window) when the query carries no usable time reference.
func (l *LLM) ExtractWindow(ctx context.Context, raw string, now time.Time) (*query.TimeWindow, error) {
	prompt := fmt.Sprintf(windowSystemPrompt, now.Format(time.RFC3339))
	resp, err := l.chatJSON(ctx, "window", l.model, prompt, raw)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Start *string `json:"start"`
		End   *string `json:"end"`
	}
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		return nil, fmt.Errorf("parse window response: %w", err)
	}

	w := &query.TimeWindow{}
	if parsed.Start != nil {
		t, err := time.Parse(time.RFC3339, *parsed.Start)
		if err != nil {
			return nil, fmt.Errorf("parse window start: %w", err)
		}
		w.Start = &t
	}
	if parsed.End != nil {
		t, err := time.Parse(time.RFC3339, *parsed.End)
		if err != nil {
			return nil, fmt.Errorf("parse window end: %w", err)
		}
		w.End = &t
	}
	if w.Unrestricted() {
		return nil, nil
	}
	if w.Start != nil && w.End != nil && w.End.Before(*w.Start) {
		return nil, nil // ambiguous extraction, treat as no window
	}
	return w, nil
}

const narrateSystemPrompt = `You answer questions about what once appeared on the user's
screen, given evidence frames from a personal screenshot archive in chronological order.
Ground every statement in the provided frames; say so when the evidence is insufficient.`

// Narrate generates an answer for the question over chronologically ordered
// evidence. Failures are wrapped with ErrSummarization for soft degradation.
func (l *LLM) Narrate(ctx context.Context, question string, evidence []domain.EvidenceFrame) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nEvidence frames:\n", question)
	for i, f := range evidence {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, f.Timestamp.Format(time.RFC3339))
		if f.OCRText != "" {
			fmt.Fprintf(&sb, "on-screen text: %s\n", f.OCRText)
		}
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: sb.String()},
	}
	images := 0
	for _, f := range evidence {
		if f.ImageRef == "" || (l.maxImages > 0 && images >= l.maxImages) {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: f.ImageRef},
		})
		images++
	}

	start := time.Now()
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: narrateSystemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	duration := time.Since(start)

	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues(l.visionModel, "narrate", "error").Inc()
		return "", fmt.Errorf("narrate: %v: %w", err, domain.ErrSummarization)
	}
	if len(resp.Choices) == 0 {
		metrics.ChatRequestsTotal.WithLabelValues(l.visionModel, "narrate", "error").Inc()
		return "", fmt.Errorf("narrate: empty response: %w", domain.ErrSummarization)
	}

	metrics.ChatRequestsTotal.WithLabelValues(l.visionModel, "narrate", "success").Inc()
	metrics.ChatRequestDuration.WithLabelValues(l.visionModel, "narrate").Observe(duration.Seconds())

	return resp.Choices[0].Message.Content, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (l *LLM) HealthCheck(ctx context.Context) error {
	if _, err := l.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func (l *LLM) chatJSON(ctx context.Context, purpose, model, system, user string) (string, error) {
	start := time.Now()
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	duration := time.Since(start)

	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues(model, purpose, "error").Inc()
		return "", fmt.Errorf("chat %s: %w", purpose, err)
	}
	if len(resp.Choices) == 0 {
		metrics.ChatRequestsTotal.WithLabelValues(model, purpose, "error").Inc()
		return "", fmt.Errorf("chat %s: empty response", purpose)
	}

	metrics.ChatRequestsTotal.WithLabelValues(model, purpose, "success").Inc()
	metrics.ChatRequestDuration.WithLabelValues(model, purpose).Observe(duration.Seconds())

	return resp.Choices[0].Message.Content, nil
}
