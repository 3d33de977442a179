package types

import (
	"errors"
	"fmt"
)

// ErrRetrievalEmpty reports a similarity query without hits. It is a valid outcome,
// not a failure, and short-circuits the query pipeline to a canned answer.
var ErrRetrievalEmpty = errors.New("no relevant content")

// ExtractionError means a document could not be turned into text. The batch skips it.
type ExtractionError struct {
	FileName string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.FileName, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingServiceError is a transport, quota or rate-limit failure of the embedding service.
type EmbeddingServiceError struct {
	Provider  string
	Status    int
	Retryable bool
	Err       error
}

func (e *EmbeddingServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s embeddings: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s embeddings: %v", e.Provider, e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// IndexConfigError is fatal: the index exists with an incompatible configuration.
type IndexConfigError struct {
	Index string
	Want  int
	Have  int
	Err   error
}

func (e *IndexConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("index %q: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("index %q has dimension %d, embedder produces %d", e.Index, e.Have, e.Want)
}

func (e *IndexConfigError) Unwrap() error { return e.Err }

// RefinementParseError means the structured pass did not return a usable RagAnswer.
type RefinementParseError struct {
	Raw string
	Err error
}

func (e *RefinementParseError) Error() string {
	return fmt.Sprintf("refinement output is not a valid answer: %v", e.Err)
}

func (e *RefinementParseError) Unwrap() error { return e.Err }

// StreamTransportError wraps a failed write to an event stream client.
type StreamTransportError struct {
	Err error
}

func (e *StreamTransportError) Error() string {
	return fmt.Sprintf("stream transport: %v", e.Err)
}

func (e *StreamTransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying with backoff.
func IsRetryable(err error) bool {
	var embErr *EmbeddingServiceError
	if errors.As(err, &embErr) {
		return embErr.Retryable
	}
	return false
}
