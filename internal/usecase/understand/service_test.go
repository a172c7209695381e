package understand

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/visualmem/internal/domain/query"
)

// --- Mocks ---

type mockLLM struct {
	rewrites   []string
	rewriteErr error
	window     *query.TimeWindow
	windowErr  error
}

func (m *mockLLM) Rewrite(_ context.Context, _ string, _ int) ([]string, error) {
	return m.rewrites, m.rewriteErr
}

func (m *mockLLM) ExtractWindow(_ context.Context, _ string, _ time.Time) (*query.TimeWindow, error) {
	return m.window, m.windowErr
}

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func TestUnderstand_RawQueryFirst(t *testing.T) {
	llm := &mockLLM{rewrites: []string{"python traceback", "terminal error message"}}
	s := New(llm, 3)

	res := s.Understand(context.Background(), "that error I saw", testNow)

	expected := []string{"that error I saw", "python traceback", "terminal error message"}
	if len(res.Rewrites) != len(expected) {
		t.Fatalf("expected %d rewrites, got %d: %v", len(expected), len(res.Rewrites), res.Rewrites)
	}
	for i, r := range res.Rewrites {
		if r != expected[i] {
			t.Errorf("rewrites[%d] = %q, expected %q", i, r, expected[i])
		}
	}
}

func TestUnderstand_DeduplicatesRewrites(t *testing.T) {
	llm := &mockLLM{rewrites: []string{"Invoice PDF", "invoice pdf", "billing document"}}
	s := New(llm, 3)

	res := s.Understand(context.Background(), "invoice pdf", testNow)

	expected := []string{"invoice pdf", "billing document"}
	if len(res.Rewrites) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, res.Rewrites)
	}
}

func TestUnderstand_CapsExpansions(t *testing.T) {
	llm := &mockLLM{rewrites: []string{"a", "b", "c", "d", "e"}}
	s := New(llm, 2)

	res := s.Understand(context.Background(), "q", testNow)

	if len(res.Rewrites) != 3 { // raw + 2 expansions
		t.Fatalf("expected 3 rewrites, got %d: %v", len(res.Rewrites), res.Rewrites)
	}
}

func TestUnderstand_RewriteDisabled(t *testing.T) {
	llm := &mockLLM{rewrites: []string{"should not appear"}}
	s := New(llm, 0)

	res := s.Understand(context.Background(), "lunch receipt", testNow)

	if len(res.Rewrites) != 1 || res.Rewrites[0] != "lunch receipt" {
		t.Fatalf("expected raw query only, got %v", res.Rewrites)
	}
}

func TestUnderstand_RewriteFailureIsSoft(t *testing.T) {
	llm := &mockLLM{rewriteErr: errors.New("provider down")}
	s := New(llm, 3)

	res := s.Understand(context.Background(), "that error", testNow)

	if len(res.Rewrites) != 1 || res.Rewrites[0] != "that error" {
		t.Fatalf("expected raw query only, got %v", res.Rewrites)
	}
}

func TestUnderstand_WindowFailureIsSoft(t *testing.T) {
	llm := &mockLLM{rewrites: []string{"x"}, windowErr: errors.New("provider down")}
	s := New(llm, 3)

	res := s.Understand(context.Background(), "yesterday", testNow)

	if res.Window != nil {
		t.Fatalf("expected nil window, got %+v", res.Window)
	}
}

func TestUnderstand_WindowPassedThrough(t *testing.T) {
	start := testNow.Add(-24 * time.Hour)
	end := testNow
	llm := &mockLLM{rewrites: []string{"x"}, window: &query.TimeWindow{Start: &start, End: &end}}
	s := New(llm, 3)

	res := s.Understand(context.Background(), "yesterday", testNow)

	if res.Window == nil || !res.Window.Start.Equal(start) || !res.Window.End.Equal(end) {
		t.Fatalf("window not passed through: %+v", res.Window)
	}
}
