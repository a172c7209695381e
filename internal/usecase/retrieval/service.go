// Package retrieval runs first-stage coarse recall: dense KNN over the
// frame embeddings, sparse BM25 over the OCR text, or both fused.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/visualmem/internal/db"
	"github.com/kailas-cloud/visualmem/internal/domain"
	"github.com/kailas-cloud/visualmem/internal/domain/query"
	"github.com/kailas-cloud/visualmem/internal/domain/rank"
	"github.com/kailas-cloud/visualmem/internal/repository/search"
)

// FrameRetriever recalls frames over one dense surface, optionally
// fused with sparse BM25 recall over the OCR text. Sparse recall is a
// declared capability: there is no raw-image sparse index, so only the
// text variant carries it.
type FrameRetriever struct {
	recall        Recaller
	encoder       Encoder
	surface       search.Surface
	sparseCapable bool
}

// NewTextRetriever recalls over OCR-text embeddings, with sparse BM25
// available for hybrid and OCR-only recall. Used for queries about
// something the user read on screen.
func NewTextRetriever(recall Recaller, encoder Encoder) *FrameRetriever {
	return &FrameRetriever{
		recall:        recall,
		encoder:       encoder,
		surface:       search.SurfaceOCR,
		sparseCapable: true,
	}
}

// NewImageRetriever recalls over image embeddings, dense only. Used for
// queries about something the user saw on screen.
func NewImageRetriever(recall Recaller, encoder Encoder) *FrameRetriever {
	return &FrameRetriever{recall: recall, encoder: encoder, surface: search.SurfaceImage}
}

// Retrieve produces the coarse candidate set. Every recall source runs
// at cfg.CoarseK() depth; rewrites widen dense recall only. OCR mode
// bypasses dense recall entirely.
func (r *FrameRetriever) Retrieve(
	ctx context.Context, q *query.Query,
	rewrites []string, window *query.TimeWindow, cfg *rank.Config,
) ([]rank.Candidate, error) {
	k := cfg.CoarseK()
	tr := timeRange(window)

	if q.OCRMode() {
		if !r.sparseCapable {
			return nil, fmt.Errorf("%w: ocr mode requires text search", domain.ErrInvalidRequest)
		}
		cands, err := r.recall.Sparse(ctx, q.RawText(), k, tr)
		if err != nil {
			return nil, fmt.Errorf("sparse recall: %w", err)
		}
		return cands, nil
	}

	if len(rewrites) == 0 {
		rewrites = []string{q.RawText()}
	}

	g, gctx := errgroup.WithContext(ctx)

	var denseLists [][]rank.Candidate
	g.Go(func() error {
		lists, err := r.denseRecall(gctx, rewrites, k, tr)
		if err != nil {
			return err
		}
		denseLists = lists
		return nil
	})

	hybrid := q.Hybrid() && r.sparseCapable

	var sparse []rank.Candidate
	if hybrid {
		g.Go(func() error {
			cands, err := r.recall.Sparse(gctx, q.RawText(), k, tr)
			if err != nil {
				return fmt.Errorf("sparse recall: %w", err)
			}
			sparse = cands
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	dense := mergeDense(denseLists, k)
	if !hybrid {
		return dense, nil
	}
	return fuse(dense, sparse), nil
}

// denseRecall encodes every rewrite and runs KNN per vector concurrently.
// A batch-capable encoder vectorizes all rewrites in one call.
func (r *FrameRetriever) denseRecall(
	ctx context.Context, rewrites []string, k int, tr *db.TimeRange,
) ([][]rank.Candidate, error) {
	lists := make([][]rank.Candidate, len(rewrites))

	if be, ok := r.encoder.(domain.BatchTextEncoder); ok && len(rewrites) > 1 {
		res, err := be.BatchEncodeText(ctx, rewrites)
		if err != nil {
			return nil, fmt.Errorf("encode queries: %w", err)
		}
		g, gctx := errgroup.WithContext(ctx)
		for i := range rewrites {
			vec := res.Embeddings[i]
			g.Go(func() error {
				cands, err := r.recall.Dense(gctx, r.surface, vec, k, tr)
				if err != nil {
					return fmt.Errorf("dense recall: %w", err)
				}
				lists[i] = cands
				return nil
			})
		}
		return lists, g.Wait()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, text := range rewrites {
		g.Go(func() error {
			enc, err := r.encoder.EncodeText(gctx, text)
			if err != nil {
				return fmt.Errorf("encode query: %w", err)
			}
			cands, err := r.recall.Dense(gctx, r.surface, enc.Embedding, k, tr)
			if err != nil {
				return fmt.Errorf("dense recall: %w", err)
			}
			lists[i] = cands
			return nil
		})
	}
	return lists, g.Wait()
}

// timeRange converts a time window to the index filter in unix micros.
func timeRange(w *query.TimeWindow) *db.TimeRange {
	if w.Unrestricted() {
		return nil
	}
	tr := &db.TimeRange{}
	if w.Start != nil {
		v := w.Start.UnixMicro()
		tr.Min = &v
	}
	if w.End != nil {
		v := w.End.UnixMicro()
		tr.Max = &v
	}
	return tr
}

// mergeDense unions per-rewrite dense lists, keeping each frame's best
// dense score, then rebuilds the ordering and ranks. The union is capped
// at k so rewrites widen recall without inflating the candidate set.
func mergeDense(lists [][]rank.Candidate, k int) []rank.Candidate {
	merged := make(map[string]rank.Candidate)
	for _, list := range lists {
		for _, c := range list {
			prev, ok := merged[c.FrameID]
			if !ok || c.Dense.Score > prev.Dense.Score {
				merged[c.FrameID] = c
			}
		}
	}

	out := make([]rank.Candidate, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Dense.Score != out[j].Dense.Score {
			return out[i].Dense.Score > out[j].Dense.Score
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].FrameID < out[j].FrameID
	})
	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].Dense.Rank = i + 1
	}
	return out
}

// fuse unions dense and sparse recall by frame. A frame seen by both
// sources carries both source scores; order is dense hits first, then
// sparse-only hits, so the result is deterministic for the reranker.
func fuse(dense, sparse []rank.Candidate) []rank.Candidate {
	out := make([]rank.Candidate, len(dense))
	copy(out, dense)

	pos := make(map[string]int, len(dense))
	for i, c := range dense {
		pos[c.FrameID] = i
	}

	for _, s := range sparse {
		if i, ok := pos[s.FrameID]; ok {
			d := &out[i]
			d.Sparse = s.Sparse
			if d.OCRText == "" {
				d.OCRText = s.OCRText
			}
			if d.ImageRef == "" {
				d.ImageRef = s.ImageRef
			}
			if d.Timestamp.IsZero() {
				d.Timestamp = s.Timestamp
			}
			continue
		}
		out = append(out, s)
	}
	return out
}
