package rerank

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/kailas-cloud/visualmem/internal/domain/rank"
	"github.com/kailas-cloud/visualmem/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterModelMetrics()
	os.Exit(m.Run())
}

// --- Mocks ---

type mockScorer struct {
	scores   []float64
	err      error
	lastDocs []string
	calls    int
}

func (m *mockScorer) Score(_ context.Context, _ string, documents []string) ([]float64, error) {
	m.calls++
	m.lastDocs = documents
	return m.scores, m.err
}

func ts(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func cand(id string, dense, sparse *rank.SourceScore, at int64) rank.Candidate {
	return rank.Candidate{FrameID: id, Timestamp: ts(at), Dense: dense, Sparse: sparse}
}

func src(score float64, rnk int) *rank.SourceScore {
	return &rank.SourceScore{Score: score, Rank: rnk}
}

func approx(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("score = %.12f, expected %.12f", got, want)
	}
}

func cfg(strategy rank.Strategy) *rank.Config {
	return &rank.Config{
		TopK:         10,
		Strategy:     strategy,
		RRFConstant:  rank.DefaultRRFConstant,
		DenseWeight:  0.7,
		SparseWeight: 0.3,
	}
}

func TestRerank_RRF(t *testing.T) {
	// both sources rank f1 first: 1/61 + 1/61
	// f2 is dense rank 2 only: 1/62
	// f3 is sparse rank 2 only: 1/62 but more recent than f2
	cands := []rank.Candidate{
		cand("f1", src(0.9, 1), src(4.0, 1), 100),
		cand("f2", src(0.8, 2), nil, 200),
		cand("f3", nil, src(2.0, 2), 300),
	}

	s := New(nil)
	res, err := s.Rerank(context.Background(), "q", cands, cfg(rank.RRF))
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if res.Degraded {
		t.Error("rrf must not degrade")
	}

	if res.Hits[0].FrameID != "f1" {
		t.Fatalf("expected f1 first, got %s", res.Hits[0].FrameID)
	}
	approx(t, res.Hits[0].FinalScore, 1.0/61+1.0/61)

	// f2 and f3 tie at 1/62; the more recent frame wins
	if res.Hits[1].FrameID != "f3" || res.Hits[2].FrameID != "f2" {
		t.Errorf("tie must break toward recency: %s, %s", res.Hits[1].FrameID, res.Hits[2].FrameID)
	}
	approx(t, res.Hits[1].FinalScore, 1.0/62)

	for i, h := range res.Hits {
		if h.Rank != i+1 {
			t.Errorf("hit %d rank = %d", i, h.Rank)
		}
	}
}

func TestRerank_RRF_BothSourcesBeatOne(t *testing.T) {
	// a frame ranked 3rd and 1st by the two sources must beat a frame
	// ranked 1st by only one source: 1/63 + 1/61 > 1/61
	cands := []rank.Candidate{
		cand("both", src(0.7, 3), src(4.0, 1), 100),
		cand("one", src(0.9, 1), nil, 100),
	}

	s := New(nil)
	res, err := s.Rerank(context.Background(), "q", cands, cfg(rank.RRF))
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}

	if res.Hits[0].FrameID != "both" {
		t.Fatalf("expected dual-source frame first, got %s", res.Hits[0].FrameID)
	}
	approx(t, res.Hits[0].FinalScore, 1.0/63+1.0/61)
	approx(t, res.Hits[1].FinalScore, 1.0/61)
}

func TestRerank_Linear(t *testing.T) {
	cands := []rank.Candidate{
		cand("f1", src(0.9, 1), src(4.0, 1), 100), // dense norm 1.0, sparse norm 1.0
		cand("f2", src(0.5, 2), nil, 200),         // dense norm 0.0, sparse missing
		cand("f3", src(0.7, 3), src(2.0, 2), 300), // dense norm 0.5, sparse norm 0.0
	}

	s := New(nil)
	res, err := s.Rerank(context.Background(), "q", cands, cfg(rank.Linear))
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}

	byID := make(map[string]float64)
	for _, h := range res.Hits {
		byID[h.FrameID] = h.FinalScore
	}
	approx(t, byID["f1"], 0.7*1.0+0.3*1.0)
	approx(t, byID["f2"], 0.0) // missing source contributes zero
	approx(t, byID["f3"], 0.7*0.5+0.3*0.0)

	if res.Hits[0].FrameID != "f1" {
		t.Errorf("expected f1 first, got %s", res.Hits[0].FrameID)
	}
}

func TestRerank_Linear_ConstantBatch(t *testing.T) {
	// all dense scores equal: normalization must not divide by zero
	cands := []rank.Candidate{
		cand("f1", src(0.5, 1), nil, 100),
		cand("f2", src(0.5, 2), nil, 200),
	}

	s := New(nil)
	res, err := s.Rerank(context.Background(), "q", cands, cfg(rank.Linear))
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	for _, h := range res.Hits {
		approx(t, h.FinalScore, 0.7) // norm 1.0 * dense weight
	}
}

func TestRerank_CrossEncoder(t *testing.T) {
	cands := []rank.Candidate{
		cand("f1", src(0.9, 1), nil, 100),
		cand("f2", src(0.8, 2), nil, 200),
	}
	cands[0].OCRText = "error: connection refused"
	cands[1].OCRText = "deploy finished"

	scorer := &mockScorer{scores: []float64{0.2, 0.95}}
	s := New(scorer)

	res, err := s.Rerank(context.Background(), "deploy status", cands, cfg(rank.CrossEncoder))
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if res.Degraded {
		t.Error("successful cross-encoder must not degrade")
	}
	if len(scorer.lastDocs) != 2 || scorer.lastDocs[0] != "error: connection refused" {
		t.Errorf("unexpected documents: %v", scorer.lastDocs)
	}
	// cross-encoder score overrides recall order
	if res.Hits[0].FrameID != "f2" {
		t.Fatalf("expected f2 first, got %s", res.Hits[0].FrameID)
	}
	approx(t, res.Hits[0].FinalScore, 0.95)
}

func TestRerank_CrossEncoderFallsBackToRRF(t *testing.T) {
	cands := []rank.Candidate{
		cand("f1", src(0.9, 1), nil, 100),
		cand("f2", src(0.8, 2), nil, 200),
	}

	scorer := &mockScorer{err: errors.New("rerank service down")}
	s := New(scorer)

	res, err := s.Rerank(context.Background(), "q", cands, cfg(rank.CrossEncoder))
	if err != nil {
		t.Fatalf("expected soft fallback, got error: %v", err)
	}
	if !res.Degraded {
		t.Error("fallback must mark result degraded")
	}
	if res.Strategy != rank.RRF {
		t.Errorf("expected rrf strategy after fallback, got %s", res.Strategy)
	}
	if res.Hits[0].FrameID != "f1" {
		t.Errorf("expected rrf order, got %s first", res.Hits[0].FrameID)
	}
	approx(t, res.Hits[0].FinalScore, 1.0/61)
}

func TestRerank_NilScorerFallsBack(t *testing.T) {
	cands := []rank.Candidate{cand("f1", src(0.9, 1), nil, 100)}

	s := New(nil)
	res, err := s.Rerank(context.Background(), "q", cands, cfg(rank.CrossEncoder))
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if !res.Degraded || res.Strategy != rank.RRF {
		t.Errorf("expected degraded rrf result, got %+v", res)
	}
}

func TestRerank_CancellationNotDegraded(t *testing.T) {
	cands := []rank.Candidate{cand("f1", src(0.9, 1), nil, 100)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scorer := &mockScorer{err: context.Canceled}
	s := New(scorer)

	_, err := s.Rerank(ctx, "q", cands, cfg(rank.CrossEncoder))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRerank_TruncatesToTopK(t *testing.T) {
	var cands []rank.Candidate
	for i := range 30 {
		cands = append(cands, cand(
			string(rune('a'+i)), src(float64(30-i)/30, i+1), nil, int64(i)))
	}

	c := cfg(rank.RRF)
	c.TopK = 5

	s := New(nil)
	res, err := s.Rerank(context.Background(), "q", cands, c)
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(res.Hits) != 5 {
		t.Fatalf("expected 5 hits, got %d", len(res.Hits))
	}
}

func TestRerank_EmptyCandidates(t *testing.T) {
	s := New(nil)
	res, err := s.Rerank(context.Background(), "q", nil, cfg(rank.RRF))
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(res.Hits) != 0 || res.Degraded {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRaw_PreservesRecallOrder(t *testing.T) {
	cands := []rank.Candidate{
		cand("f1", src(0.9, 1), nil, 100),
		cand("f2", nil, src(3.0, 1), 200),
		cand("f3", src(0.7, 2), nil, 300),
	}

	s := New(nil)
	hits := s.Raw(cands, 2)

	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].FrameID != "f1" || hits[1].FrameID != "f2" {
		t.Errorf("recall order not preserved: %+v", hits)
	}
	approx(t, hits[0].FinalScore, 0.9)
	approx(t, hits[1].FinalScore, 3.0)
}
