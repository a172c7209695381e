package understand

import (
	"context"
	"time"

	"github.com/kailas-cloud/visualmem/internal/domain/query"
)

// LLM rewrites queries and resolves relative time expressions.
type LLM interface {
	Rewrite(ctx context.Context, raw string, n int) ([]string, error)
	ExtractWindow(ctx context.Context, raw string, now time.Time) (*query.TimeWindow, error)
}
