package db

import "fmt"

// TimeRange bounds the NUMERIC ts field of an index, inclusive on both ends.
// A nil bound is unbounded. Values are unix microseconds.
type TimeRange struct {
	Min *int64
	Max *int64
}

// IsEmpty reports whether the range constrains nothing.
func (r *TimeRange) IsEmpty() bool {
	return r == nil || (r.Min == nil && r.Max == nil)
}

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string // index field to run KNN against (an index may carry several)
	Vector       []float32
	K            int
	TimeRange    *TimeRange
	ReturnFields []string
}

// ScoreField is the FT.SEARCH pseudo-field carrying the KNN distance for VectorField.
func (q *KNNQuery) ScoreField() string {
	return fmt.Sprintf("__%s_score", q.VectorField)
}

// TextQuery is the input for BM25 text search.
type TextQuery struct {
	IndexName    string
	TextField    string
	Query        string
	TopK         int
	TimeRange    *TimeRange
	ReturnFields []string
}

// RangeQuery lists documents by ts order within an optional time range.
type RangeQuery struct {
	IndexName    string
	TimeRange    *TimeRange
	SortField    string
	Descending   bool
	Offset       int
	Limit        int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
