// Package ingest encodes incoming frames and writes them to the index
// in batches, so a steady capture stream does not issue one pipelined
// write per screenshot.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/visualmem/internal/domain"
	"github.com/kailas-cloud/visualmem/internal/repository/frames"
)

// Defaults for the batch buffer.
const (
	DefaultBatchSize     = 10
	DefaultFlushInterval = 60 * time.Second
)

// FrameInput is one captured screenshot submitted for indexing.
type FrameInput struct {
	Timestamp   time.Time
	ImageBase64 string
	ImageRef    string
	OCRText     string
}

// Service encodes and buffers frames. Add blocks on encoding; the
// index write happens on flush. Flush failures are logged, not
// surfaced to the producer.
type Service struct {
	writer        FrameWriter
	encoder       domain.Encoder
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buf    []frames.StoredFrame
	closed bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates an ingest service and starts its flush ticker.
func New(
	writer FrameWriter, encoder domain.Encoder, logger *zap.Logger,
	batchSize int, flushInterval time.Duration,
) *Service {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	s := &Service{
		writer:        writer,
		encoder:       encoder,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buf:           make([]frames.StoredFrame, 0, batchSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Add encodes the frame and appends it to the buffer. The frame ID is
// derived from the capture timestamp and returned to the caller.
func (s *Service) Add(ctx context.Context, in FrameInput) (string, error) {
	if in.ImageBase64 == "" {
		return "", fmt.Errorf("%w: image payload is required", domain.ErrInvalidRequest)
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	imgRes, err := s.encoder.EncodeImage(ctx, in.ImageBase64)
	if err != nil {
		return "", fmt.Errorf("encode image: %w", err)
	}

	var ocrVec []float32
	if in.OCRText != "" {
		txtRes, err := s.encoder.EncodeText(ctx, in.OCRText)
		if err != nil {
			return "", fmt.Errorf("encode ocr text: %w", err)
		}
		ocrVec = txtRes.Embedding
	}

	id := domain.NewFrameID(ts)
	sf := frames.StoredFrame{
		Frame: domain.Frame{
			ID:        id,
			Timestamp: ts,
			ImageRef:  in.ImageRef,
			OCRText:   in.OCRText,
		},
		ImageVector: imgRes.Embedding,
		OCRVector:   ocrVec,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("ingest service is stopped")
	}
	s.buf = append(s.buf, sf)
	full := len(s.buf) >= s.batchSize
	var batch []frames.StoredFrame
	if full {
		batch = s.take()
	}
	s.mu.Unlock()

	if full {
		s.flush(ctx, batch)
	}
	return id, nil
}

// Flush writes out any buffered frames immediately.
func (s *Service) Flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.take()
	s.mu.Unlock()
	s.flush(ctx, batch)
}

// Stop flushes the remaining buffer and stops the ticker. Safe to call
// more than once.
func (s *Service) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done

		s.mu.Lock()
		s.closed = true
		batch := s.take()
		s.mu.Unlock()
		s.flush(ctx, batch)
	})
}

// take detaches the current buffer. Caller must hold s.mu.
func (s *Service) take() []frames.StoredFrame {
	if len(s.buf) == 0 {
		return nil
	}
	batch := s.buf
	s.buf = make([]frames.StoredFrame, 0, s.batchSize)
	return batch
}

// flush writes one detached batch. Failures are logged; the capture
// stream must not stall on a slow index.
func (s *Service) flush(ctx context.Context, batch []frames.StoredFrame) {
	if len(batch) == 0 {
		return
	}
	if err := s.writer.Put(ctx, batch); err != nil {
		s.logger.Error("frame batch flush failed",
			zap.Int("frames", len(batch)), zap.Error(err))
		return
	}
	s.logger.Debug("frame batch flushed", zap.Int("frames", len(batch)))
}

func (s *Service) flushLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush(context.Background())
		case <-s.stop:
			return
		}
	}
}
