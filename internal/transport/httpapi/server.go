// Package httpapi is the HTTP transport: routing, request decoding,
// domain error mapping.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/visualmem/internal/domain"
	"github.com/kailas-cloud/visualmem/internal/domain/query"
	"github.com/kailas-cloud/visualmem/internal/domain/rank"
	"github.com/kailas-cloud/visualmem/internal/logger"
	"github.com/kailas-cloud/visualmem/internal/metrics"
	answeruc "github.com/kailas-cloud/visualmem/internal/usecase/answer"
	healthuc "github.com/kailas-cloud/visualmem/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/visualmem/internal/usecase/ingest"
	timelineuc "github.com/kailas-cloud/visualmem/internal/usecase/timeline"
)

// nginx convention for a client that went away mid-request.
const statusClientClosedRequest = 499

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Defaults are the configured fallbacks for per-request toggles.
type Defaults struct {
	EnableHybrid bool
	EnableRerank bool
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	answer        *answeruc.Service
	ingest        *ingestuc.Service
	timeline      *timelineuc.Service
	health        *healthuc.Service
	defaults      Defaults
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	answer *answeruc.Service,
	ingest *ingestuc.Service,
	timeline *timelineuc.Service,
	health *healthuc.Service,
	defaults Defaults,
	logger *zap.Logger,
) *Server {
	s := &Server{
		answer:   answer,
		ingest:   ingest,
		timeline: timeline,
		health:   health,
		defaults: defaults,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		cancellationHandler,
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrFrameNotFound, http.StatusNotFound, CodeFrameNotFound),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrEncoding, http.StatusBadGateway, CodeEncodingFailed),
		sentinelHandler(domain.ErrIndexUnavailable, http.StatusServiceUnavailable, CodeIndexUnavailable),
	}
	return s
}

// Routes builds the router with middleware and all endpoints mounted.
func (s *Server) Routes(apiKeys []string) chi.Router {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.wideEventMiddleware)
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.Query)
		r.Post("/frames", s.IngestFrame)
		r.Get("/frames", s.ListFrames)
		r.Get("/frames/range", s.FrameRange)
		r.Get("/stats", s.Stats)
	})

	return r
}

// Query handles POST /api/query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	q, err := queryFromRequest(&req, s.defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	res, err := s.answer.Answer(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponseFrom(&res))
}

// IngestFrame handles POST /api/frames.
func (s *Server) IngestFrame(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	in := ingestuc.FrameInput{
		ImageBase64: req.ImageBase64,
		ImageRef:    req.ImageRef,
		OCRText:     req.OCRText,
	}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}

	id, err := s.ingest.Add(r.Context(), in)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{FrameID: id})
}

// ListFrames handles GET /api/frames.
func (s *Server) ListFrames(w http.ResponseWriter, r *http.Request) {
	window, err := windowFromParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	page, err := s.timeline.List(r.Context(), window, offset, limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]FrameItem, 0, len(page.Frames))
	for _, f := range page.Frames {
		items = append(items, FrameItem{
			FrameID:   f.ID,
			Timestamp: f.Timestamp,
			ImageRef:  f.ImageRef,
			OCRText:   f.OCRText,
		})
	}
	writeJSON(w, http.StatusOK, FrameListResponse{Frames: items, Total: page.Total})
}

// FrameRange handles GET /api/frames/range.
func (s *Server) FrameRange(w http.ResponseWriter, r *http.Request) {
	cov, err := s.timeline.Range(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FrameRangeResponse{Earliest: cov.Earliest, Latest: cov.Latest})
}

// Stats handles GET /api/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.timeline.Stats(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		TotalFrames:        stats.TotalFrames,
		OCRFrames:          stats.OCRFrames,
		VectorDim:          stats.VectorDim,
		CaptureIntervalSec: stats.CaptureIntervalSec,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{Status: string(report.Status), Checks: checks})
}

func queryFromRequest(req *QueryRequest, def Defaults) (query.Query, error) {
	var window *query.TimeWindow
	if req.StartTime != nil || req.EndTime != nil {
		window = &query.TimeWindow{Start: req.StartTime, End: req.EndTime}
	}

	hybrid := def.EnableHybrid
	if req.EnableHybrid != nil {
		hybrid = *req.EnableHybrid
	}
	rerank := def.EnableRerank
	if req.EnableRerank != nil {
		rerank = *req.EnableRerank
	}

	return query.New(
		req.Query,
		query.SearchType(req.SearchType),
		window,
		req.TopK,
		req.OCRMode,
		hybrid,
		rerank,
	)
}

func queryResponseFrom(res *answeruc.Result) QueryResponse {
	frames := make([]FrameResult, 0, len(res.Frames))
	for _, h := range res.Frames {
		frames = append(frames, frameResultFrom(&h))
	}
	return QueryResponse{Answer: res.Answer, Degraded: res.Degraded, Frames: frames}
}

func frameResultFrom(h *rank.RankedResult) FrameResult {
	return FrameResult{
		FrameID:   h.FrameID,
		Timestamp: h.Timestamp,
		ImageRef:  h.ImageRef,
		OCRText:   h.OCRText,
		Score:     h.FinalScore,
	}
}

func windowFromParams(r *http.Request) (*query.TimeWindow, error) {
	startRaw := r.URL.Query().Get("start")
	endRaw := r.URL.Query().Get("end")
	if startRaw == "" && endRaw == "" {
		return nil, nil
	}

	w := &query.TimeWindow{}
	if startRaw != "" {
		t, err := time.Parse(time.RFC3339, startRaw)
		if err != nil {
			return nil, errors.New("start must be RFC3339")
		}
		w.Start = &t
	}
	if endRaw != "" {
		t, err := time.Parse(time.RFC3339, endRaw)
		if err != nil {
			return nil, errors.New("end must be RFC3339")
		}
		w.End = &t
	}
	return w, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client
// without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidRequest,
		domain.ErrFrameNotFound,
		domain.ErrVectorDimMismatch,
		domain.ErrEncoding,
		domain.ErrIndexUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// cancellationHandler maps context errors: the client going away is
// not a server failure, an upstream deadline is a gateway timeout.
func cancellationHandler(w http.ResponseWriter, err error, _ string) bool {
	switch {
	case errors.Is(err, context.Canceled):
		writeError(w, statusClientClosedRequest, CodeClientClosed, "request canceled")
		return true
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, CodeUpstreamTimeout, "request timed out")
		return true
	}
	return false
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

// wideEventMiddleware emits a canonical log line per request and
// propagates X-Request-ID and a request-scoped logger.
func (s *Server) wideEventMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := middleware.GetReqID(r.Context())
		if requestID != "" {
			w.Header().Set("X-Request-ID", requestID)
		}

		reqLogger := s.logger.With(zap.String("request_id", requestID))
		ctx := logger.ContextWithLogger(r.Context(), reqLogger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		// Canonical log line — one line per request
		reqLogger.Info("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", r.RemoteAddr),
			zap.Int("response_bytes", ww.BytesWritten()),
		)
	})
}

// recoverer converts panics into JSON 500s instead of chi's plain text.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context()).Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
