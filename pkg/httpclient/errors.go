package httpclient

import (
	"errors"
	"fmt"
)

// RetriesExhaustedError is returned by Do when a retryable status persisted
// past the retry budget. The last response is returned alongside it.
type RetriesExhaustedError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("HTTP %d: giving up after %d attempts", e.StatusCode, e.Attempts)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// IsRetriesExhausted reports whether err wraps a RetriesExhaustedError.
func IsRetriesExhausted(err error) bool {
	var re *RetriesExhaustedError
	return errors.As(err, &re)
}
