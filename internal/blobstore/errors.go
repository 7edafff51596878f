package blobstore

import (
	"errors"
	"net/http"
	"strings"

	"github.com/vclip/render-pipeline/internal/types"
)

var errNotFound = types.ErrNotFound

// retryableErr wraps an error to mark it retryable to retry.Do's predicate,
// mirroring the teacher's isRetryableError/isRetryableStatus split between
// network-level and HTTP-status-level transience.
type retryableErr struct{ err error }

func (r *retryableErr) Error() string { return r.err.Error() }
func (r *retryableErr) Unwrap() error { return r.err }

func isRetryableErr(err error) bool {
	var re *retryableErr
	if errors.As(err, &re) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "broken pipe")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}
