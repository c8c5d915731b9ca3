package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var retried []int
	p := Policy{
		Attempts: 3,
		Delay:    time.Millisecond,
		OnRetry:  func(attempt int, _ error) { retried = append(retried, attempt) },
	}

	got, err := Do(context.Background(), p, func(_ context.Context, attempt int) (string, error) {
		if attempt < 3 {
			return "", errFlaky
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 4}, func(context.Context, int) (int, error) {
		calls++
		return 0, errFlaky
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 4, calls)
}

func TestDo_NonRetryable(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	p := Policy{Attempts: 5, Retryable: func(err error) bool { return !errors.Is(err, stop) }}

	_, err := Do(context.Background(), p, func(context.Context, int) (int, error) {
		calls++
		return 0, stop
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestDo_Permanent(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 5}, func(context.Context, int) (int, error) {
		calls++
		return 0, Permanent(errFlaky)
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{Attempts: 3, Delay: time.Hour, OnRetry: func(int, error) { cancel() }}

	_, err := Do(ctx, p, func(context.Context, int) (int, error) { return 0, errFlaky })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, _ = Do(context.Background(), Policy{}, func(context.Context, int) (int, error) {
		calls++
		return 0, errFlaky
	})
	assert.Equal(t, 1, calls)
}
