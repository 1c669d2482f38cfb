package rpcexec

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExecutor_RateLimiterSpacingAndConcurrency(t *testing.T) {
	logger := zap.NewNop()
	exec := New("test", 2, 50*time.Millisecond, logger)
	defer exec.Shutdown()

	var inFlight int32
	var maxInFlight int32

	start := time.Now()

	const ops = 10
	errCh := make(chan error, ops)
	for i := 0; i < ops; i++ {
		go func() {
			_, err := Execute(context.Background(), exec, func(ctx context.Context) (int, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxInFlight)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return 1, nil
			})
			errCh <- err
		}()
	}

	for i := 0; i < ops; i++ {
		require.NoError(t, <-errCh)
	}

	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(2))
}

func TestExecutor_PropagatesAdapterError(t *testing.T) {
	exec := New("test", 1, 0, zap.NewNop())
	defer exec.Shutdown()

	wantErr := context.DeadlineExceeded
	_, err := Execute(context.Background(), exec, func(ctx context.Context) (int, error) {
		return 0, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestExecutor_UnavailableAfterShutdown(t *testing.T) {
	exec := New("test", 1, 0, zap.NewNop())
	exec.Shutdown()

	_, err := Execute(context.Background(), exec, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	require.ErrorIs(t, err, ErrUnavailable)
}
