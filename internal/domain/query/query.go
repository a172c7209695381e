// Package query holds the validated, request-scoped query value object.
package query

import "fmt"

// Query parameter limits.
const (
	// MaxQueryLength is the maximum allowed query text length.
	MaxQueryLength = 4096
	DefaultTopK    = 10
	MaxTopK        = 100
)

// Query is a validated retrieval request. One per request, never shared.
type Query struct {
	rawText        string
	searchType     SearchType
	explicitWindow *TimeWindow
	topK           int
	ocrMode        bool
	hybrid         bool
	rerank         bool
}

// New validates and normalizes query parameters.
// Defaults: search_type=text, top_k=10.
func New(
	rawText string,
	searchType SearchType,
	explicitWindow *TimeWindow,
	topK int,
	ocrMode, hybrid, rerank bool,
) (Query, error) {
	if rawText == "" {
		return Query{}, fmt.Errorf("query is required")
	}
	if len(rawText) > MaxQueryLength {
		return Query{}, fmt.Errorf("query too long (max %d chars)", MaxQueryLength)
	}
	if searchType == "" {
		searchType = Text
	}
	if !searchType.IsValid() {
		return Query{}, fmt.Errorf("invalid search type: %q", searchType)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if explicitWindow != nil && explicitWindow.Start != nil && explicitWindow.End != nil &&
		explicitWindow.End.Before(*explicitWindow.Start) {
		return Query{}, fmt.Errorf("time window end precedes start")
	}

	return Query{
		rawText:        rawText,
		searchType:     searchType,
		explicitWindow: explicitWindow,
		topK:           topK,
		ocrMode:        ocrMode,
		hybrid:         hybrid,
		rerank:         rerank,
	}, nil
}

// RawText returns the original query text.
func (q *Query) RawText() string { return q.rawText }

// SearchType returns the retriever selector.
func (q *Query) SearchType() SearchType { return q.searchType }

// ExplicitWindow returns the caller-supplied time window (nil when absent).
func (q *Query) ExplicitWindow() *TimeWindow { return q.explicitWindow }

// TopK returns the requested result count.
func (q *Query) TopK() int { return q.topK }

// OCRMode reports whether recall is restricted to the sparse OCR path.
func (q *Query) OCRMode() bool { return q.ocrMode }

// Hybrid reports whether dense and sparse recall are fused.
func (q *Query) Hybrid() bool { return q.hybrid }

// Rerank reports whether the configured rerank strategy is applied.
func (q *Query) Rerank() bool { return q.rerank }
