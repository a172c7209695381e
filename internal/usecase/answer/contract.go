package answer

import (
	"context"
	"time"

	"github.com/kailas-cloud/visualmem/internal/domain"
	"github.com/kailas-cloud/visualmem/internal/domain/rank"
	urerank "github.com/kailas-cloud/visualmem/internal/usecase/rerank"
	uunderstand "github.com/kailas-cloud/visualmem/internal/usecase/understand"
)

// Understander expands the query and extracts a time window.
type Understander interface {
	Understand(ctx context.Context, raw string, now time.Time) uunderstand.Result
}

// Reranker orders the coarse candidate set.
type Reranker interface {
	Rerank(
		ctx context.Context, queryText string, cands []rank.Candidate, cfg *rank.Config,
	) (urerank.Result, error)
	Raw(cands []rank.Candidate, topK int) []rank.RankedResult
}

// Narrator generates the answer text over selected evidence.
type Narrator interface {
	Narrate(ctx context.Context, question string, evidence []domain.EvidenceFrame) (string, error)
}
