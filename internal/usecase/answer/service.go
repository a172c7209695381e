// Package answer orchestrates one query end to end: understanding,
// coarse recall, reranking, evidence selection and narration.
package answer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/visualmem/internal/domain"
	"github.com/kailas-cloud/visualmem/internal/domain/query"
	"github.com/kailas-cloud/visualmem/internal/domain/rank"
	"github.com/kailas-cloud/visualmem/internal/logger"
	"github.com/kailas-cloud/visualmem/internal/usecase/retrieval"
)

// Result is the response for one answered query.
type Result struct {
	Answer string
	// Degraded reports that an optional stage (reranking, narration)
	// was skipped or substituted. Frames are still trustworthy.
	Degraded bool
	Frames   []rank.RankedResult
}

// Service runs the full query pipeline.
type Service struct {
	understand  Understander
	retrievers  map[query.SearchType]retrieval.Retriever
	reranker    Reranker
	narrator    Narrator
	cfg         rank.Config
	maxEvidence int
	now         func() time.Time
}

// New creates the pipeline service. cfg is the server-side retrieval
// configuration; per-request parameters override their fields on a copy.
func New(
	understand Understander,
	retrievers map[query.SearchType]retrieval.Retriever,
	reranker Reranker,
	narrator Narrator,
	cfg rank.Config,
	maxEvidence int,
) *Service {
	return &Service{
		understand:  understand,
		retrievers:  retrievers,
		reranker:    reranker,
		narrator:    narrator,
		cfg:         cfg,
		maxEvidence: maxEvidence,
		now:         time.Now,
	}
}

// Answer processes one validated query. Understanding and narration
// fail soft; recall failures and cancellation fail the request.
func (s *Service) Answer(ctx context.Context, q query.Query) (Result, error) {
	log := logger.FromContext(ctx)

	und := s.understand.Understand(ctx, q.RawText(), s.now())
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	// An explicit window always wins over an extracted one.
	window := query.EffectiveWindow(q.ExplicitWindow(), und.Window)

	retriever, ok := s.retrievers[q.SearchType()]
	if !ok {
		return Result{}, fmt.Errorf("%w: no retriever for search type %q",
			domain.ErrInvalidRequest, q.SearchType())
	}

	cfg := s.requestConfig(&q)

	cands, err := retriever.Retrieve(ctx, &q, und.Rewrites, window, &cfg)
	if err != nil {
		return Result{}, fmt.Errorf("retrieve: %w", err)
	}
	if len(cands) == 0 {
		return Result{}, nil
	}

	// Downstream stages score and narrate against the first LLM
	// expansion; the raw text only survives when rewriting is off.
	rewritten := rewrittenText(und.Rewrites, q.RawText())

	res := Result{}
	if q.Rerank() {
		rr, err := s.reranker.Rerank(ctx, rewritten, cands, &cfg)
		if err != nil {
			return Result{}, fmt.Errorf("rerank: %w", err)
		}
		res.Frames = rr.Hits
		res.Degraded = rr.Degraded
	} else {
		res.Frames = s.reranker.Raw(cands, cfg.TopK)
	}

	answer, err := s.narrator.Narrate(ctx, rewritten, s.evidence(res.Frames))
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		log.Warn("narration failed, returning frames without answer", zap.Error(err))
		res.Degraded = true
		return res, nil
	}
	res.Answer = answer

	return res, nil
}

// rewrittenText picks the canonical query for reranking and narration:
// rewrites[0] is always the raw text, so the first expansion sits at
// index 1.
func rewrittenText(rewrites []string, raw string) string {
	if len(rewrites) > 1 && rewrites[1] != "" {
		return rewrites[1]
	}
	return raw
}

// requestConfig copies the server config with per-request overrides.
func (s *Service) requestConfig(q *query.Query) rank.Config {
	cfg := s.cfg
	cfg.TopK = q.TopK()
	return cfg
}

// evidence selects the top hits and reorders them chronologically so
// the narrator sees events in the order they happened.
func (s *Service) evidence(hits []rank.RankedResult) []domain.EvidenceFrame {
	n := s.maxEvidence
	if n <= 0 || n > len(hits) {
		n = len(hits)
	}

	top := make([]rank.RankedResult, n)
	copy(top, hits[:n])
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Timestamp.Before(top[j].Timestamp)
	})

	out := make([]domain.EvidenceFrame, 0, n)
	for _, h := range top {
		out = append(out, domain.EvidenceFrame{
			Timestamp: h.Timestamp,
			OCRText:   h.OCRText,
			ImageRef:  h.ImageRef,
		})
	}
	return out
}
