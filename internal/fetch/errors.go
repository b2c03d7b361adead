package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError wraps a connection-level or timeout failure. Always retryable.
type NetworkError struct {
	Source string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Source, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response. 429 and 5xx are retryable; every other
// status fails the lookup immediately.
type HTTPError struct {
	Source string
	Status int
	Body   string // truncated response body for diagnostics
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Source, e.Status, e.Body)
}

// Retryable reports whether the status warrants another attempt.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// retryable classifies an error from a single attempt.
func retryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Retryable()
	}
	return false
}
