package domain

import "time"

// Frame is a single captured screenshot with its OCR transcript.
// Frames are created once by ingestion and never mutated by retrieval.
type Frame struct {
	ID        string
	Timestamp time.Time
	ImageRef  string
	OCRText   string
}

// FrameIDLayout is the timestamp-derived frame identifier format.
const FrameIDLayout = "20060102_150405.000000"

// NewFrameID derives a stable frame identifier from the capture timestamp.
func NewFrameID(ts time.Time) string {
	// the layout produces "20060102_150405.ffffff"; the dot is dropped
	s := ts.UTC().Format(FrameIDLayout)
	return s[:15] + "_" + s[16:]
}

// EvidenceFrame is one selected frame handed to the narrative generator,
// already in chronological order.
type EvidenceFrame struct {
	Timestamp time.Time
	OCRText   string
	ImageRef  string
}

// Stats summarizes the stored corpus.
type Stats struct {
	TotalFrames int
	OCRFrames   int
	VectorDim   int
}
