// Package timeline serves chronological frame browsing and corpus
// statistics, independent of the query pipeline.
package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/visualmem/internal/db"
	"github.com/kailas-cloud/visualmem/internal/domain"
	"github.com/kailas-cloud/visualmem/internal/domain/query"
)

// Pagination limits.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Page is one page of the frame timeline.
type Page struct {
	Frames []domain.Frame
	Total  int
}

// Coverage is the stored capture range.
type Coverage struct {
	Earliest time.Time
	Latest   time.Time
}

// Stats is corpus statistics plus the configured capture cadence.
type Stats struct {
	domain.Stats
	CaptureIntervalSec int
}

// Service reads the frame timeline.
type Service struct {
	frames             FrameReader
	captureIntervalSec int
}

// New creates a timeline service. captureIntervalSec is the producer's
// configured capture cadence, echoed in stats.
func New(frames FrameReader, captureIntervalSec int) *Service {
	return &Service{frames: frames, captureIntervalSec: captureIntervalSec}
}

// List pages through frames in capture order within an optional window.
func (s *Service) List(ctx context.Context, w *query.TimeWindow, offset, limit int) (Page, error) {
	if offset < 0 {
		return Page{}, fmt.Errorf("%w: negative offset", domain.ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var tr *db.TimeRange
	if !w.Unrestricted() {
		tr = &db.TimeRange{}
		if w.Start != nil {
			v := w.Start.UnixMicro()
			tr.Min = &v
		}
		if w.End != nil {
			v := w.End.UnixMicro()
			tr.Max = &v
		}
	}

	frames, total, err := s.frames.List(ctx, tr, offset, limit)
	if err != nil {
		return Page{}, err
	}
	return Page{Frames: frames, Total: total}, nil
}

// Range returns the earliest and latest stored capture timestamps.
func (s *Service) Range(ctx context.Context) (Coverage, error) {
	earliest, latest, err := s.frames.Range(ctx)
	if err != nil {
		return Coverage{}, err
	}
	return Coverage{Earliest: earliest, Latest: latest}, nil
}

// Stats returns corpus statistics.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.frames.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Stats: st, CaptureIntervalSec: s.captureIntervalSec}, nil
}
