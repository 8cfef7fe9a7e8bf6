package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess(t *testing.T) {
	t.Run("processes every item", func(t *testing.T) {
		var mu sync.Mutex
		seen := map[int]bool{}

		err := Process(context.Background(), 2, []int{1, 2, 3, 4}, func(_ context.Context, v int) error {
			mu.Lock()
			defer mu.Unlock()
			seen[v] = true
			return nil
		}, nil)

		require.NoError(t, err)
		assert.Len(t, seen, 4)
	})

	t.Run("first error cancels and calls onCancel once", func(t *testing.T) {
		boom := errors.New("boom")
		var cancels int32

		err := Process(context.Background(), 3, []int{1, 2, 3, 4, 5, 6}, func(_ context.Context, v int) error {
			if v%2 == 0 {
				return boom
			}
			return nil
		}, func() { atomic.AddInt32(&cancels, 1) })

		require.ErrorIs(t, err, boom)
		assert.Equal(t, int32(1), atomic.LoadInt32(&cancels))
	})

	t.Run("empty input returns immediately", func(t *testing.T) {
		called := false
		err := Process(context.Background(), 4, nil, func(context.Context, int) error {
			called = true
			return nil
		}, nil)

		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("cancelled parent context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var processed int32
		err := Process(ctx, 2, []int{1, 2, 3}, func(context.Context, int) error {
			atomic.AddInt32(&processed, 1)
			return nil
		}, nil)

		require.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, atomic.LoadInt32(&processed))
	})

	t.Run("non-positive worker count still runs", func(t *testing.T) {
		var processed int32
		err := Process(context.Background(), 0, []string{"a", "b"}, func(context.Context, string) error {
			atomic.AddInt32(&processed, 1)
			return nil
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&processed))
	})
}
