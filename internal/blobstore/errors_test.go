package blobstore

import (
	"errors"
	"net/http"
	"testing"
)

func TestIsRetryableErrWrapped(t *testing.T) {
	err := &retryableErr{err: errors.New("boom")}
	if !isRetryableErr(err) {
		t.Error("a retryableErr must always be retryable")
	}
}

func TestIsRetryableErrByMessage(t *testing.T) {
	tests := []string{
		"dial tcp: i/o timeout",
		"context deadline exceeded",
		"read: connection reset by peer",
		"dial tcp: connection refused",
		"unexpected EOF",
		"write: broken pipe",
	}
	for _, msg := range tests {
		if !isRetryableErr(errors.New(msg)) {
			t.Errorf("expected %q to be retryable", msg)
		}
	}
}

func TestIsRetryableErrRejectsUnrelated(t *testing.T) {
	if isRetryableErr(errors.New("invalid bucket name")) {
		t.Error("an unrelated error must not be treated as retryable")
	}
}

func TestIsRetryableStatus(t *testing.T) {
	retryable := []int{http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout}
	for _, s := range retryable {
		if !isRetryableStatus(s) {
			t.Errorf("expected status %d to be retryable", s)
		}
	}
	nonRetryable := []int{http.StatusOK, http.StatusNotFound, http.StatusBadRequest, http.StatusUnauthorized}
	for _, s := range nonRetryable {
		if isRetryableStatus(s) {
			t.Errorf("expected status %d to not be retryable", s)
		}
	}
}
