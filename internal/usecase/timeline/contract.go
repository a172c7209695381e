package timeline

import (
	"context"
	"time"

	"github.com/kailas-cloud/visualmem/internal/db"
	"github.com/kailas-cloud/visualmem/internal/domain"
)

// FrameReader reads stored frames and corpus statistics.
type FrameReader interface {
	List(ctx context.Context, tr *db.TimeRange, offset, limit int) ([]domain.Frame, int, error)
	Range(ctx context.Context) (earliest, latest time.Time, err error)
	Stats(ctx context.Context) (domain.Stats, error)
}
