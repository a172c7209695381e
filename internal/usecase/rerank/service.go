// Package rerank orders the coarse candidate set into the final hit
// list. Linear and RRF fusion are computed locally; cross-encoder
// scoring calls an external model and falls back to RRF on failure.
package rerank

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kailas-cloud/visualmem/internal/domain/rank"
	"github.com/kailas-cloud/visualmem/internal/logger"
	"github.com/kailas-cloud/visualmem/internal/metrics"
)

// Result is the reranked hit list plus degradation state.
type Result struct {
	Hits []rank.RankedResult
	// Strategy is the strategy that actually produced the scores.
	Strategy rank.Strategy
	// Degraded is set when the requested strategy failed and a
	// cheaper one was substituted.
	Degraded bool
}

// Service applies the configured rerank strategy to candidates.
type Service struct {
	scorer Scorer
}

// New creates a rerank service. scorer may be nil when cross-encoder
// reranking is not configured; requests for it then degrade to RRF.
func New(scorer Scorer) *Service {
	return &Service{scorer: scorer}
}

// Rerank scores candidates with cfg.Strategy and returns the top
// cfg.TopK hits. Cancellation is returned as-is, never degraded.
func (s *Service) Rerank(
	ctx context.Context, queryText string, cands []rank.Candidate, cfg *rank.Config,
) (Result, error) {
	if len(cands) == 0 {
		return Result{Strategy: cfg.Strategy}, nil
	}

	res := Result{Strategy: cfg.Strategy}

	var scores []float64
	switch cfg.Strategy {
	case rank.Linear:
		scores = scoreLinear(cands, cfg)
	case rank.RRF:
		scores = scoreRRF(cands, cfg)
	case rank.CrossEncoder:
		var err error
		scores, err = s.scoreCrossEncoder(ctx, queryText, cands)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			logger.FromContext(ctx).Warn("cross-encoder rerank failed, falling back to rrf",
				zap.Error(err))
			metrics.RerankFallbacksTotal.WithLabelValues(
				string(rank.CrossEncoder), string(rank.RRF)).Inc()
			scores = scoreRRF(cands, cfg)
			res.Strategy = rank.RRF
			res.Degraded = true
		}
	default:
		return Result{}, fmt.Errorf("unsupported rerank strategy: %s", cfg.Strategy)
	}

	res.Hits = assemble(cands, scores, cfg.TopK)
	return res, nil
}

// Raw skips reranking: candidates keep their recall order and carry
// their primary recall score.
func (s *Service) Raw(cands []rank.Candidate, topK int) []rank.RankedResult {
	if len(cands) > topK {
		cands = cands[:topK]
	}
	hits := make([]rank.RankedResult, 0, len(cands))
	for i, c := range cands {
		hits = append(hits, rank.RankedResult{
			FrameID:    c.FrameID,
			FinalScore: recallScore(&c),
			Rank:       i + 1,
			Timestamp:  c.Timestamp,
			ImageRef:   c.ImageRef,
			OCRText:    c.OCRText,
		})
	}
	return hits
}

// scoreLinear min-max normalizes each source over the batch, then
// combines with the configured weights. A candidate missing from a
// source contributes 0 for it; a constant batch normalizes to 1.
func scoreLinear(cands []rank.Candidate, cfg *rank.Config) []float64 {
	normDense := normalize(cands, func(c *rank.Candidate) *rank.SourceScore { return c.Dense })
	normSparse := normalize(cands, func(c *rank.Candidate) *rank.SourceScore { return c.Sparse })

	scores := make([]float64, len(cands))
	for i := range cands {
		scores[i] = cfg.DenseWeight*normDense[i] + cfg.SparseWeight*normSparse[i]
	}
	return scores
}

func normalize(cands []rank.Candidate, src func(*rank.Candidate) *rank.SourceScore) []float64 {
	minV, maxV := 0.0, 0.0
	first := true
	for i := range cands {
		ss := src(&cands[i])
		if ss == nil {
			continue
		}
		if first || ss.Score < minV {
			minV = ss.Score
		}
		if first || ss.Score > maxV {
			maxV = ss.Score
		}
		first = false
	}

	out := make([]float64, len(cands))
	for i := range cands {
		ss := src(&cands[i])
		if ss == nil {
			continue
		}
		if maxV == minV {
			out[i] = 1.0
			continue
		}
		out[i] = (ss.Score - minV) / (maxV - minV)
	}
	return out
}

// scoreRRF sums 1/(k + rank) over the sources where the candidate
// appears. Ranks are 1-based.
func scoreRRF(cands []rank.Candidate, cfg *rank.Config) []float64 {
	k := cfg.RRFConstant
	if k <= 0 {
		k = rank.DefaultRRFConstant
	}

	scores := make([]float64, len(cands))
	for i := range cands {
		if d := cands[i].Dense; d != nil {
			scores[i] += 1.0 / float64(k+d.Rank)
		}
		if sp := cands[i].Sparse; sp != nil {
			scores[i] += 1.0 / float64(k+sp.Rank)
		}
	}
	return scores
}

// scoreCrossEncoder scores every candidate's OCR text against the
// query with the external model. Runs over the coarse set only, which
// bounds the request size.
func (s *Service) scoreCrossEncoder(
	ctx context.Context, queryText string, cands []rank.Candidate,
) ([]float64, error) {
	if s.scorer == nil {
		return nil, fmt.Errorf("cross-encoder scorer not configured")
	}

	docs := make([]string, len(cands))
	for i := range cands {
		docs[i] = cands[i].OCRText
	}
	return s.scorer.Score(ctx, queryText, docs)
}

// assemble sorts by final score, breaking ties toward the more recent
// frame, truncates to topK and assigns 1-based ranks.
func assemble(cands []rank.Candidate, scores []float64, topK int) []rank.RankedResult {
	hits := make([]rank.RankedResult, 0, len(cands))
	for i, c := range cands {
		hits = append(hits, rank.RankedResult{
			FrameID:    c.FrameID,
			FinalScore: scores[i],
			Timestamp:  c.Timestamp,
			ImageRef:   c.ImageRef,
			OCRText:    c.OCRText,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].FinalScore != hits[j].FinalScore {
			return hits[i].FinalScore > hits[j].FinalScore
		}
		if !hits[i].Timestamp.Equal(hits[j].Timestamp) {
			return hits[i].Timestamp.After(hits[j].Timestamp)
		}
		return hits[i].FrameID < hits[j].FrameID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}

func recallScore(c *rank.Candidate) float64 {
	if c.Dense != nil {
		return c.Dense.Score
	}
	if c.Sparse != nil {
		return c.Sparse.Score
	}
	return 0
}
