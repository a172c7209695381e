package domain

import "errors"

var (
	// ErrFrameNotFound signals a missing frame.
	ErrFrameNotFound = errors.New("frame not found")
	// ErrEncoding signals an encoder failure; fatal to the enclosing request.
	ErrEncoding = errors.New("encoding failed")
	// ErrVectorDimMismatch signals an embedding dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrIndexUnavailable signals that the search index cannot be reached.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrRerankerUnavailable signals a rerank collaborator failure.
	ErrRerankerUnavailable = errors.New("reranker unavailable")
	// ErrSummarization signals a narrative generation failure.
	ErrSummarization = errors.New("summarization failed")
	// ErrInvalidRequest signals malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
)
