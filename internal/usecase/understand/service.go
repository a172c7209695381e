// Package understand turns raw query text into retrieval inputs:
// expanded query variants and an extracted time window.
package understand

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/visualmem/internal/domain/query"
	"github.com/kailas-cloud/visualmem/internal/logger"
)

// Result is the understanding outcome for one query.
type Result struct {
	// Rewrites always starts with the raw query, followed by up to
	// rewriteCount LLM expansions, deduplicated.
	Rewrites []string
	// Window is the time window extracted from the query text,
	// nil when the query carries no time reference.
	Window *query.TimeWindow
}

// Service coordinates query rewriting and time-window extraction.
// Both steps fail soft: an LLM failure degrades to the raw query
// with no window instead of failing the request.
type Service struct {
	llm          LLM
	rewriteCount int
}

// New creates an understanding service. rewriteCount <= 0 disables
// LLM rewriting; window extraction still runs.
func New(llm LLM, rewriteCount int) *Service {
	return &Service{llm: llm, rewriteCount: rewriteCount}
}

// Understand expands raw into query variants and resolves any relative
// time expression against now.
func (s *Service) Understand(ctx context.Context, raw string, now time.Time) Result {
	log := logger.FromContext(ctx)
	res := Result{Rewrites: []string{raw}}

	if s.rewriteCount > 0 {
		rewrites, err := s.llm.Rewrite(ctx, raw, s.rewriteCount)
		if err != nil {
			log.Warn("query rewrite failed, using raw query", zap.Error(err))
		} else {
			res.Rewrites = mergeRewrites(raw, rewrites, s.rewriteCount)
		}
	}

	window, err := s.llm.ExtractWindow(ctx, raw, now)
	if err != nil {
		log.Warn("time window extraction failed, searching unrestricted", zap.Error(err))
	} else {
		res.Window = window
	}

	return res
}

// mergeRewrites prepends raw and drops case-insensitive duplicates,
// keeping at most n expansions after the raw query.
func mergeRewrites(raw string, rewrites []string, n int) []string {
	out := make([]string, 0, n+1)
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(raw)): true}
	out = append(out, raw)

	for _, r := range rewrites {
		key := strings.ToLower(strings.TrimSpace(r))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
		if len(out) == n+1 {
			break
		}
	}
	return out
}
