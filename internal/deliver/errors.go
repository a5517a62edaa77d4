package deliver

import (
	"context"
	"errors"
	"net"

	"alertpipe/internal/transport"
)

// permanentError marks a failure retries cannot fix (e.g. malformed
// recipient detected before any I/O).
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the executor aborts retries immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// retryable classifies a send error. Transient: timeouts, 5xx, 429 and
// status-less network errors. Permanent: other 4xx and explicit Permanent()
// wraps. Unknown errors default to transient so a flaky channel still gets
// its retry budget.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	var se *transport.SendError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			return true
		case se.StatusCode >= 500:
			return true
		case se.StatusCode >= 400:
			return false
		default:
			return true
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return true
}
