package executor

import (
	"fmt"
	"testing"

	"github.com/vclip/render-pipeline/internal/types"
)

func TestIsTerminalRecognizesTerminalClasses(t *testing.T) {
	cases := []error{
		types.ErrInvalidTimestamp,
		types.ErrUnknownScene,
		types.ErrUnsupportedHost,
		types.ErrPayloadTooLarge,
		types.ErrInvalidVideoID,
		types.ErrQuotaExceeded,
		types.ErrForbidden,
		types.ErrCancelled,
		fmt.Errorf("wrapped: %w", types.ErrUnknownScene),
	}
	for _, err := range cases {
		if !isTerminal(err) {
			t.Errorf("expected %v to be terminal", err)
		}
	}
}

func TestIsTerminalLeavesTransientClassesForRetry(t *testing.T) {
	cases := []error{
		types.ErrSourceUnavailable,
		types.ErrProbeFailed,
		types.ErrUploadFailed,
		types.ErrDocWriteFailed,
		types.ErrEncoderTimeout,
		fmt.Errorf("some opaque failure"),
	}
	for _, err := range cases {
		if isTerminal(err) {
			t.Errorf("expected %v to not be terminal", err)
		}
	}
}
