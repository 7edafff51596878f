package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy("test"), nil, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	boom := errors.New("transient")
	calls := 0
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Label: "test"}

	err := Do(context.Background(), p, func(error) bool { return true }, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return boom
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	boom := errors.New("terminal")
	calls := 0
	p := DefaultPolicy("test")

	err := Do(context.Background(), p, func(error) bool { return false }, func(ctx context.Context) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	boom := errors.New("always fails")
	calls := 0
	p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Label: "test"}

	err := Do(context.Background(), p, func(error) bool { return true }, func(ctx context.Context) error {
		calls++
		return boom
	})
	require.Error(t, err)
	require.Equal(t, 3, calls) // initial attempt + 2 retries
}

func TestDoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second, Label: "test"}
	calls := 0
	err := Do(ctx, p, func(error) bool { return true }, func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestBackoffRespectsMaxDelay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(p, attempt)
		require.LessOrEqual(t, d, p.MaxDelay+p.MaxDelay/4) // allow for jitter headroom
	}
}
