// Package rank holds the per-request candidate accumulator and
// rerank strategy types shared between retrieval and reranking.
package rank

import "time"

// Strategy selects the rerank algorithm. Chosen once per request.
type Strategy string

// Rerank strategy constants.
const (
	// Linear combines normalized dense and sparse scores with weights.
	Linear Strategy = "linear"
	// RRF fuses per-source ranks via reciprocal rank fusion.
	RRF Strategy = "rrf"
	// CrossEncoder reorders purely by a joint (query, content) model score.
	CrossEncoder Strategy = "cross_encoder"
)

// IsValid checks if the strategy is one of the supported values.
func (s Strategy) IsValid() bool {
	return s == Linear || s == RRF || s == CrossEncoder
}

// DefaultRRFConstant is the k in 1/(k+rank).
const DefaultRRFConstant = 60

// SourceScore is a candidate's score and 1-based rank within one recall source.
type SourceScore struct {
	Score float64
	Rank  int
}

// Candidate accumulates per-source recall evidence for one frame.
// A nil source means the frame was not returned by that source's top-K.
type Candidate struct {
	FrameID   string
	Timestamp time.Time
	ImageRef  string
	OCRText   string
	Dense     *SourceScore
	Sparse    *SourceScore
}

// RankedResult is a final reranked hit.
type RankedResult struct {
	FrameID    string
	FinalScore float64
	Rank       int
	Timestamp  time.Time
	ImageRef   string
	OCRText    string
}

// Config is the per-request retrieval and rerank configuration.
// Never mutated after construction.
type Config struct {
	TopK             int
	CoarseMultiplier int
	Strategy         Strategy
	RRFConstant      int
	DenseWeight      float64
	SparseWeight     float64
}

// CoarseK is the per-source first-stage recall depth.
func (c *Config) CoarseK() int {
	m := c.CoarseMultiplier
	if m < 1 {
		m = 1
	}
	return c.TopK * m
}
