package fetcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTip struct {
	latest uint64
}

func (f *fakeTip) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return atomic.LoadUint64(&f.latest), nil
}

type countingProcessor struct {
	mu        sync.Mutex
	processed []uint64
}

func (c *countingProcessor) ProcessBlock(ctx context.Context, blockNumber uint64) error {
	c.mu.Lock()
	c.processed = append(c.processed, blockNumber)
	c.mu.Unlock()
	return nil
}

func (c *countingProcessor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.processed)
}

func TestFetcher_ProcessesBlocksUpToTip(t *testing.T) {
	tip := &fakeTip{latest: 5}
	proc := &countingProcessor{}
	f := New(tip, proc, 0, 2, 2, 8, 5*time.Millisecond, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return proc.count() >= 6 }, 500*time.Millisecond, 10*time.Millisecond)

	f.Stop()
	cancel()
	<-done
}

func TestFetcher_ResumesFromStartBlock(t *testing.T) {
	tip := &fakeTip{latest: 100}
	proc := &countingProcessor{}
	f := New(tip, proc, 100, 1, 1, 4, 5*time.Millisecond, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return proc.count() >= 1 }, 300*time.Millisecond, 10*time.Millisecond)

	proc.mu.Lock()
	require.Equal(t, uint64(100), proc.processed[0])
	proc.mu.Unlock()

	f.Stop()
	cancel()
	<-done
}
