package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
)

// Class groups errors by how the retry loop should treat them.
type Class int

const (
	// Transient errors are expected to clear up on their own.
	Transient Class = iota
	// Permanent errors will fail the same way on every attempt.
	Permanent
	// Canceled means the caller gave up; no further attempts are made.
	Canceled
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ErrPermanent can be wrapped by callers to mark an error as not retryable.
var ErrPermanent = errors.New("permanent failure")

// HTTPError carries the status code of a failed upstream call so that
// adapters can hand the classifier something better than a message string.
type HTTPError struct {
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %v", e.StatusCode, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// WrapStatus wraps err with an HTTP status code. A zero status returns err unchanged.
func WrapStatus(status int, err error) error {
	if status == 0 || err == nil {
		return err
	}
	return &HTTPError{StatusCode: status, Err: err}
}

// Classify is the default classifier: 429, 408 and 5xx responses, timeouts
// and network faults are transient; other 4xx responses and ErrPermanent are
// permanent. Anything unrecognised is treated as transient so it still gets
// the bounded retry.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}
	if errors.Is(err, context.Canceled) {
		return Canceled
	}
	if errors.Is(err, ErrPermanent) {
		return Permanent
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(httpErr.StatusCode)
	}

	// Deadlines, net.Error faults and unknown errors all land here.
	return Transient
}

// ClassifyWrite is meant for non-idempotent writes such as posting a status.
// Only failures where the server certainly did not act (429, 503, refused
// connections) are retried; an ambiguous timeout is not, so a reply is never
// posted twice.
func ClassifyWrite(err error) Class {
	if err == nil {
		return Transient
	}
	if errors.Is(err, context.Canceled) {
		return Canceled
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return Transient
		default:
			return Permanent
		}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return Transient
	}
	return Permanent
}

func classifyStatus(status int) Class {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return Transient
	case status >= 500:
		return Transient
	case status >= 400:
		return Permanent
	default:
		return Transient
	}
}
