// Package search runs the coarse-recall queries (KNN and BM25) and
// adapts index hits into rank candidates.
package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/kailas-cloud/visualmem/internal/db"
	"github.com/kailas-cloud/visualmem/internal/domain"
	"github.com/kailas-cloud/visualmem/internal/domain/rank"
)

// Surface selects which dense vector field is searched.
type Surface string

// Dense surfaces of the frame index.
const (
	// SurfaceImage searches the image embeddings.
	SurfaceImage Surface = "__vector"
	// SurfaceOCR searches the OCR-text embeddings.
	SurfaceOCR Surface = "__ocr_vector"
)

const defaultRetryDelay = 200 * time.Millisecond

// store is the consumer interface for recall operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
}

// Repo implements coarse recall over the frame index.
type Repo struct {
	store      store
	indexName  string
	keyPrefix  string
	retryDelay time.Duration
}

// New creates a recall repository. keyPrefix is the full frame key prefix
// (for example "visualmem:frame:").
func New(s store, indexName, keyPrefix string) *Repo {
	return &Repo{
		store:      s,
		indexName:  indexName,
		keyPrefix:  keyPrefix,
		retryDelay: defaultRetryDelay,
	}
}

var returnFields = []string{"ts", "image_ref", "ocr_text"}

// Dense runs KNN recall over the given surface. Candidates are sorted by
// non-increasing similarity; equal scores break toward the more recent frame.
func (r *Repo) Dense(
	ctx context.Context, surface Surface, vector []float32, k int, tr *db.TimeRange,
) ([]rank.Candidate, error) {
	sr, err := r.withRetry(ctx, func() (*db.SearchResult, error) {
		return r.store.SearchKNN(ctx, &db.KNNQuery{
			IndexName:    r.indexName,
			VectorField:  string(surface),
			Vector:       vector,
			K:            k,
			TimeRange:    tr,
			ReturnFields: returnFields,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("dense recall: %w", err)
	}

	return r.toCandidates(sr, func(c *rank.Candidate, s rank.SourceScore) { c.Dense = &s }), nil
}

// Sparse runs BM25 recall over the OCR text field, ordered like Dense.
func (r *Repo) Sparse(
	ctx context.Context, text string, k int, tr *db.TimeRange,
) ([]rank.Candidate, error) {
	sr, err := r.withRetry(ctx, func() (*db.SearchResult, error) {
		return r.store.SearchBM25(ctx, &db.TextQuery{
			IndexName:    r.indexName,
			TextField:    "ocr_text",
			Query:        text,
			TopK:         k,
			TimeRange:    tr,
			ReturnFields: returnFields,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("sparse recall: %w", err)
	}

	return r.toCandidates(sr, func(c *rank.Candidate, s rank.SourceScore) { c.Sparse = &s }), nil
}

// withRetry retries once with a short backoff; a second failure is
// surfaced as ErrIndexUnavailable. Cancellation is never retried.
func (r *Repo) withRetry(
	ctx context.Context, fn func() (*db.SearchResult, error),
) (*db.SearchResult, error) {
	sr, err := fn()
	if err == nil {
		return sr, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.retryDelay):
	}

	sr, err = fn()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
	}
	return sr, nil
}

// toCandidates sorts hits deterministically (score desc, then recency)
// and assigns 1-based source ranks.
func (r *Repo) toCandidates(
	sr *db.SearchResult, attach func(*rank.Candidate, rank.SourceScore),
) []rank.Candidate {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}

	out := make([]rank.Candidate, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		c := rank.Candidate{
			FrameID:   r.frameID(e.Key),
			Timestamp: parseTS(e.Fields["ts"]),
			ImageRef:  e.Fields["image_ref"],
			OCRText:   e.Fields["ocr_text"],
		}
		attach(&c, rank.SourceScore{Score: e.Score})
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := score(&out[i]), score(&out[j])
		if si != sj {
			return si > sj
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	for i := range out {
		if out[i].Dense != nil {
			out[i].Dense.Rank = i + 1
		}
		if out[i].Sparse != nil {
			out[i].Sparse.Rank = i + 1
		}
	}
	return out
}

func score(c *rank.Candidate) float64 {
	if c.Dense != nil {
		return c.Dense.Score
	}
	if c.Sparse != nil {
		return c.Sparse.Score
	}
	return 0
}

func (r *Repo) frameID(key string) string {
	if len(key) > len(r.keyPrefix) && key[:len(r.keyPrefix)] == r.keyPrefix {
		return key[len(r.keyPrefix):]
	}
	return key
}

func parseTS(s string) time.Time {
	micros, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMicro(micros).UTC()
}
