package frames

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/visualmem/internal/db"
	"github.com/kailas-cloud/visualmem/internal/domain"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hSetMultiFn    func(ctx context.Context, items []db.HashSetItem) error
	hGetAllMultiFn func(ctx context.Context, keys []string) (map[string]map[string]string, error)
	createIndexFn  func(ctx context.Context, def *db.IndexDefinition) error
	indexExistsFn  func(ctx context.Context, name string) (bool, error)
	searchRangeFn  func(ctx context.Context, q *db.RangeQuery) (*db.SearchResult, error)
	searchCountFn  func(ctx context.Context, index, query string) (int, error)
}

func (m *mockStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if m.hSetMultiFn != nil {
		return m.hSetMultiFn(ctx, items)
	}
	return nil
}

func (m *mockStore) HGetAllMulti(ctx context.Context, keys []string) (map[string]map[string]string, error) {
	if m.hGetAllMultiFn != nil {
		return m.hGetAllMultiFn(ctx, keys)
	}
	return map[string]map[string]string{}, nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	return false, nil
}

func (m *mockStore) SearchRange(ctx context.Context, q *db.RangeQuery) (*db.SearchResult, error) {
	if m.searchRangeFn != nil {
		return m.searchRangeFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchCount(ctx context.Context, index, query string) (int, error) {
	if m.searchCountFn != nil {
		return m.searchCountFn(ctx, index, query)
	}
	return 0, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	repo := New(ms, Options{
		KeyPrefix:       "visualmem:",
		IndexName:       "visualmem:frames:idx",
		VectorDim:       4,
		HNSWM:           16,
		HNSWEFConstruct: 200,
	})
	return repo, ms
}

func testFrame(id string, ts time.Time, ocr string) StoredFrame {
	sf := StoredFrame{
		Frame: domain.Frame{
			ID:        id,
			Timestamp: ts,
			ImageRef:  "/frames/" + id + ".png",
			OCRText:   ocr,
		},
		ImageVector: []float32{0.1, 0.2, 0.3, 0.4},
	}
	if ocr != "" {
		sf.OCRVector = []float32{0.5, 0.6, 0.7, 0.8}
	}
	return sf
}
