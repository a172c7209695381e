package httpapi

import "time"

// ErrorCode identifies the error class for API clients.
type ErrorCode string

// API error codes.
const (
	CodeBadRequest         ErrorCode = "bad_request"
	CodeValidationFailed   ErrorCode = "validation_failed"
	CodeFrameNotFound      ErrorCode = "frame_not_found"
	CodeEncodingFailed     ErrorCode = "encoding_failed"
	CodeIndexUnavailable   ErrorCode = "index_unavailable"
	CodeInternalError      ErrorCode = "internal_error"
	CodeClientClosed       ErrorCode = "client_closed_request"
	CodeUpstreamTimeout    ErrorCode = "upstream_timeout"
	CodeUnauthorized       ErrorCode = "unauthorized"
)

// ErrorResponse is the error body for every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query        string     `json:"query"`
	SearchType   string     `json:"search_type,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	TopK         int        `json:"top_k,omitempty"`
	OCRMode      bool       `json:"ocr_mode,omitempty"`
	EnableHybrid *bool      `json:"enable_hybrid,omitempty"`
	EnableRerank *bool      `json:"enable_rerank,omitempty"`
}

// FrameResult is one hit in the query response.
type FrameResult struct {
	FrameID   string    `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
	ImageRef  string    `json:"image_ref,omitempty"`
	OCRText   string    `json:"ocr_text,omitempty"`
	Score     float64   `json:"score"`
}

// QueryResponse is the body of a successful POST /api/query.
type QueryResponse struct {
	Answer   string        `json:"answer"`
	Degraded bool          `json:"degraded"`
	Frames   []FrameResult `json:"frames"`
}

// IngestRequest is the body of POST /api/frames.
type IngestRequest struct {
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	ImageBase64 string     `json:"image_base64"`
	ImageRef    string     `json:"image_ref,omitempty"`
	OCRText     string     `json:"ocr_text,omitempty"`
}

// IngestResponse is the body of a successful POST /api/frames.
type IngestResponse struct {
	FrameID string `json:"frame_id"`
}

// FrameItem is one frame in the timeline listing.
type FrameItem struct {
	FrameID   string    `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
	ImageRef  string    `json:"image_ref,omitempty"`
	OCRText   string    `json:"ocr_text,omitempty"`
}

// FrameListResponse is the body of GET /api/frames.
type FrameListResponse struct {
	Frames []FrameItem `json:"frames"`
	Total  int         `json:"total"`
}

// FrameRangeResponse is the body of GET /api/frames/range.
type FrameRangeResponse struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	TotalFrames        int `json:"total_frames"`
	OCRFrames          int `json:"ocr_frames"`
	VectorDim          int `json:"vector_dim"`
	CaptureIntervalSec int `json:"capture_interval_sec"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
