package retrieval

import (
	"context"

	"github.com/kailas-cloud/visualmem/internal/db"
	"github.com/kailas-cloud/visualmem/internal/domain"
	"github.com/kailas-cloud/visualmem/internal/domain/query"
	"github.com/kailas-cloud/visualmem/internal/domain/rank"
	"github.com/kailas-cloud/visualmem/internal/repository/search"
)

// Recaller runs the first-stage index queries.
type Recaller interface {
	Dense(
		ctx context.Context, surface search.Surface,
		vector []float32, k int, tr *db.TimeRange,
	) ([]rank.Candidate, error)
	Sparse(ctx context.Context, text string, k int, tr *db.TimeRange) ([]rank.Candidate, error)
}

// Encoder vectorizes query text.
type Encoder interface {
	EncodeText(ctx context.Context, text string) (domain.EncodeResult, error)
}

// Retriever produces the coarse candidate set for one query.
// Implementations select recall paths per search type.
type Retriever interface {
	Retrieve(
		ctx context.Context, q *query.Query,
		rewrites []string, window *query.TimeWindow, cfg *rank.Config,
	) ([]rank.Candidate, error)
}
