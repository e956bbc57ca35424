package providers

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCandidates means the candidate list was empty after dedup.
	ErrNoCandidates = errors.New("no model candidates configured")

	// ErrInvalidInput rejects embedding calls with empty input text.
	ErrInvalidInput = errors.New("embedding input text must not be empty")

	// ErrMalformedEmbedding means the upstream response had no vector
	// at data[0].embedding.
	ErrMalformedEmbedding = errors.New("embedding response missing vector")
)

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration // from Retry-After, 0 if absent
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// ExhaustedError is returned when every candidate in the fallback
// chain failed. It wraps the last candidate's error.
type ExhaustedError struct {
	Model      string // the primary model that was requested
	Candidates int
	Last       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d model candidates failed for %q: %v", e.Candidates, e.Model, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }
