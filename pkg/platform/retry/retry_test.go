package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("conflict")

func zero() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestRetrier_Do(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		failWith     error
		wantCalls    int
		wantErr      error
		wantExhausts bool
	}{
		{name: "succeeds first time", failures: 0, wantCalls: 1},
		{name: "succeeds after transient conflicts", failures: 3, failWith: errConflict, wantCalls: 4},
		{name: "exhausts after five attempts", failures: 100, failWith: errConflict, wantCalls: 5, wantErr: errConflict, wantExhausts: true},
		{name: "stops on non-retryable error", failures: 100, failWith: assert.AnError, wantCalls: 1, wantErr: assert.AnError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(5, On(errConflict), WithBackOff(zero))
			calls := 0
			err := r.Do(context.Background(), func(context.Context) error {
				calls++
				if calls <= tt.failures {
					return tt.failWith
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantExhausts, errors.Is(err, ErrExhausted))
			if tt.wantExhausts {
				var exhausted *ExhaustedError
				require.ErrorAs(t, err, &exhausted)
				assert.Equal(t, 5, exhausted.Attempts)
			}
		})
	}
}

func TestRetrier_NotifiesBetweenAttempts(t *testing.T) {
	var seen []int
	r := New(3, On(errConflict), WithBackOff(zero), WithNotify(func(attempt int, _ error) {
		seen = append(seen, attempt)
	}))

	err := r.Do(context.Background(), func(context.Context) error { return errConflict })
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetrier_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(5, On(errConflict), WithBackOff(zero))

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errConflict
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, errors.Is(err, ErrExhausted))
}

func TestNew_MinimumOneAttempt(t *testing.T) {
	assert.Equal(t, 1, New(0, nil).Attempts())
}
