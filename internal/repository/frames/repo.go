// Package frames persists captured frames as Redis hashes behind one
// FT index carrying both vector surfaces, the OCR text field and the
// numeric capture timestamp.
package frames

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/kailas-cloud/visualmem/internal/db"
	"github.com/kailas-cloud/visualmem/internal/domain"
)

// Hash field names. Vector fields are prefixed with __ to keep them
// out of user-visible payloads.
const (
	fieldTS        = "ts"
	fieldImageRef  = "image_ref"
	fieldOCRText   = "ocr_text"
	fieldHasOCR    = "has_ocr"
	fieldImageVec  = "__vector"
	fieldOCRVec    = "__ocr_vector"
	keySegmentName = "frame:"
)

// store is the consumer interface for frame persistence (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAllMulti(ctx context.Context, keys []string) (map[string]map[string]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchRange(ctx context.Context, q *db.RangeQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// Options configures the frame repository key and index layout.
type Options struct {
	KeyPrefix       string
	IndexName       string
	VectorDim       int
	HNSWM           int
	HNSWEFConstruct int
}

// StoredFrame is a frame plus its precomputed embeddings, ready for indexing.
// OCRVector is nil when the frame has no OCR text.
type StoredFrame struct {
	Frame       domain.Frame
	ImageVector []float32
	OCRVector   []float32
}

// Repo implements frame persistence over the db facade.
type Repo struct {
	store store
	opts  Options
}

// New creates a frame repository.
func New(s store, opts Options) *Repo {
	return &Repo{store: s, opts: opts}
}

// IndexName returns the FT index the repository writes under.
func (r *Repo) IndexName() string {
	return r.opts.IndexName
}

// EnsureIndex creates the frame FT index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.opts.IndexName)
	if err != nil {
		return fmt.Errorf("probe index: %w", err)
	}
	if exists {
		return nil
	}

	def := db.NewIndex(r.opts.IndexName).
		Prefix(r.keyPrefix()).
		Numeric(fieldTS, true).
		Text(fieldOCRText).
		Tag(fieldHasOCR).
		VectorHNSW(fieldImageVec, r.opts.VectorDim, db.DistanceCosine, r.opts.HNSWM, r.opts.HNSWEFConstruct).
		VectorHNSW(fieldOCRVec, r.opts.VectorDim, db.DistanceCosine, r.opts.HNSWM, r.opts.HNSWEFConstruct).
		MustBuild()

	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Put persists a batch of frames in one pipelined write.
func (r *Repo) Put(ctx context.Context, batch []StoredFrame) error {
	if len(batch) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, 0, len(batch))
	for i := range batch {
		sf := &batch[i]
		fields := map[string]string{
			fieldTS:       strconv.FormatInt(sf.Frame.Timestamp.UnixMicro(), 10),
			fieldImageRef: sf.Frame.ImageRef,
			fieldOCRText:  sf.Frame.OCRText,
			fieldHasOCR:   "0",
			fieldImageVec: vectorToField(sf.ImageVector),
		}
		if sf.Frame.OCRText != "" && sf.OCRVector != nil {
			fields[fieldHasOCR] = "1"
			fields[fieldOCRVec] = vectorToField(sf.OCRVector)
		}
		items = append(items, db.HashSetItem{Key: r.key(sf.Frame.ID), Fields: fields})
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("put frames: %w", err)
	}
	return nil
}

// GetMulti fetches frames by ID; missing IDs are silently skipped.
// Returned frames keep the input order.
func (r *Repo) GetMulti(ctx context.Context, ids []string) ([]domain.Frame, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}

	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get frames: %w", err)
	}

	out := make([]domain.Frame, 0, len(ids))
	for i, id := range ids {
		fields := hashes[keys[i]]
		if fields == nil {
			continue
		}
		out = append(out, r.frameFromFields(id, fields))
	}
	return out, nil
}

// List returns frames ordered by capture time ascending within an
// optional window, with offset/limit pagination, and the total match count.
func (r *Repo) List(ctx context.Context, tr *db.TimeRange, offset, limit int) ([]domain.Frame, int, error) {
	sr, err := r.store.SearchRange(ctx, &db.RangeQuery{
		IndexName:    r.opts.IndexName,
		TimeRange:    tr,
		SortField:    fieldTS,
		Offset:       offset,
		Limit:        limit,
		ReturnFields: []string{fieldTS, fieldImageRef, fieldOCRText},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list frames: %w", err)
	}

	out := make([]domain.Frame, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		out = append(out, r.frameFromFields(r.frameID(e.Key), e.Fields))
	}
	return out, sr.Total, nil
}

// Range returns the earliest and latest capture timestamps.
// Returns ErrFrameNotFound for an empty corpus.
func (r *Repo) Range(ctx context.Context) (earliest, latest time.Time, err error) {
	first, err := r.edge(ctx, false)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	last, err := r.edge(ctx, true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return first, last, nil
}

func (r *Repo) edge(ctx context.Context, descending bool) (time.Time, error) {
	sr, err := r.store.SearchRange(ctx, &db.RangeQuery{
		IndexName:    r.opts.IndexName,
		SortField:    fieldTS,
		Descending:   descending,
		Limit:        1,
		ReturnFields: []string{fieldTS},
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("frame range: %w", err)
	}
	if len(sr.Entries) == 0 {
		return time.Time{}, domain.ErrFrameNotFound
	}
	return parseTS(sr.Entries[0].Fields[fieldTS]), nil
}

// Stats counts stored frames and the OCR'd subset.
func (r *Repo) Stats(ctx context.Context) (domain.Stats, error) {
	total, err := r.store.SearchCount(ctx, r.opts.IndexName, "*")
	if err != nil {
		return domain.Stats{}, fmt.Errorf("count frames: %w", err)
	}
	ocr, err := r.store.SearchCount(ctx, r.opts.IndexName, "@"+fieldHasOCR+":{1}")
	if err != nil {
		return domain.Stats{}, fmt.Errorf("count ocr frames: %w", err)
	}
	return domain.Stats{
		TotalFrames: total,
		OCRFrames:   ocr,
		VectorDim:   r.opts.VectorDim,
	}, nil
}

func (r *Repo) keyPrefix() string {
	return r.opts.KeyPrefix + keySegmentName
}

func (r *Repo) key(id string) string {
	return r.keyPrefix() + id
}

func (r *Repo) frameID(key string) string {
	prefix := r.keyPrefix()
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}

func (r *Repo) frameFromFields(id string, fields map[string]string) domain.Frame {
	return domain.Frame{
		ID:        id,
		Timestamp: parseTS(fields[fieldTS]),
		ImageRef:  fields[fieldImageRef],
		OCRText:   fields[fieldOCRText],
	}
}

func parseTS(s string) time.Time {
	micros, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMicro(micros).UTC()
}

func vectorToField(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
