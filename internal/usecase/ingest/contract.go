package ingest

import (
	"context"

	"github.com/kailas-cloud/visualmem/internal/repository/frames"
)

// FrameWriter persists encoded frames.
type FrameWriter interface {
	Put(ctx context.Context, batch []frames.StoredFrame) error
}
