package tx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "scorer/pkg/domain-errors"
)

func TestShardedRunner_SerialisesSameShard(t *testing.T) {
	r := NewShardedRunner()
	ctx := WithShardKey(context.Background(), "community:1")

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.RunInTx(ctx, func(context.Context) error {
				n := inFlight.Add(1)
				for {
					cur := maxInFlight.Load()
					if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load(), "transactions on one shard must not overlap")
}

func TestShardedRunner_NestedCallsJoin(t *testing.T) {
	r := NewShardedRunner()
	ctx := WithShardKey(context.Background(), "community:7")

	calls := 0
	err := r.RunInTx(ctx, func(ctx context.Context) error {
		calls++
		return r.RunInTx(ctx, func(context.Context) error {
			calls++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestShardedRunner_PropagatesErrors(t *testing.T) {
	r := NewShardedRunner()
	boom := errors.New("boom")
	err := r.RunInTx(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestShardedRunner_CancelledContext(t *testing.T) {
	r := NewShardedRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.RunInTx(ctx, func(context.Context) error {
		t.Fatal("fn must not run on a cancelled context")
		return nil
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestSavepoint_WithoutTransactionRunsFn(t *testing.T) {
	ran := false
	err := Savepoint(context.Background(), "sp_test", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}
