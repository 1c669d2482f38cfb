// Package fetcher implements the Fetcher + Worker Pool (L9), the
// concurrency core of the indexer: an independent tip-discovery loop
// feeding a bounded FIFO queue, drained by a fixed pool of per-block
// workers gated by a global concurrency permit.
package fetcher

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// TipSource reports the current chain tip, used to refresh
// latest_network_block on every fetcher tick.
type TipSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// BlockProcessor handles one dequeued block number end to end.
type BlockProcessor interface {
	ProcessBlock(ctx context.Context, blockNumber uint64) error
}

// Fetcher owns next_block_to_fetch, latest_network_block, the bounded
// queue, and the worker pool (§4.9).
type Fetcher struct {
	tip       TipSource
	processor BlockProcessor
	logger    *zap.Logger

	fetchInterval   time.Duration
	workerTimeout   time.Duration
	workerPoolSize  int
	blockSem        *semaphore.Weighted

	queue chan uint64

	nextBlockToFetch   atomic.Uint64
	latestNetworkBlock atomic.Uint64
	isRunning          atomic.Bool
}

// New constructs a Fetcher seeded to resume from startBlock.
// queueCapacity is worker_pool_size * block_queue_size_multiplier (§4.9,
// §8 queue-bounded memory).
func New(tip TipSource, processor BlockProcessor, startBlock uint64, workerPoolSize, maxConcurrentBlocks, queueCapacity int, fetchInterval, workerTimeout time.Duration, logger *zap.Logger) *Fetcher {
	if workerPoolSize < 1 {
		workerPoolSize = 1
	}
	if maxConcurrentBlocks < 1 {
		maxConcurrentBlocks = 1
	}
	if queueCapacity < 1 {
		queueCapacity = workerPoolSize
	}
	f := &Fetcher{
		tip:            tip,
		processor:      processor,
		logger:         logger,
		fetchInterval:  fetchInterval,
		workerTimeout:  workerTimeout,
		workerPoolSize: workerPoolSize,
		blockSem:       semaphore.NewWeighted(int64(maxConcurrentBlocks)),
		queue:          make(chan uint64, queueCapacity),
	}
	f.nextBlockToFetch.Store(startBlock)
	return f
}

// Run starts the fetcher loop and the worker pool, blocking until ctx
// is cancelled or Stop is called. It returns once every worker has
// observed the stop signal.
func (f *Fetcher) Run(ctx context.Context) {
	f.isRunning.Store(true)

	done := make(chan struct{})
	go func() {
		f.fetchLoop(ctx)
		close(done)
	}()

	workerDone := make(chan struct{}, f.workerPoolSize)
	for i := 0; i < f.workerPoolSize; i++ {
		go func(id int) {
			f.workerLoop(ctx, id)
			workerDone <- struct{}{}
		}(i)
	}

	<-done
	for i := 0; i < f.workerPoolSize; i++ {
		<-workerDone
	}
}

// Stop clears is_running; both loops observe it and terminate after
// current in-flight work completes (§4.9 Cancellation).
func (f *Fetcher) Stop() {
	f.isRunning.Store(false)
}

// fetchLoop refreshes the network tip and non-blockingly enqueues block
// numbers up to it, on fetchInterval cadence (§4.9 Fetcher loop).
func (f *Fetcher) fetchLoop(ctx context.Context) {
	ticker := time.NewTicker(f.fetchInterval)
	defer ticker.Stop()
	defer close(f.queue)

	for {
		if !f.isRunning.Load() || ctx.Err() != nil {
			return
		}

		latest, err := f.tip.LatestBlockNumber(ctx)
		if err != nil {
			f.logger.Warn("fetcher: failed to refresh latest network block", zap.Error(err))
		} else {
			f.latestNetworkBlock.Store(latest)
		}

	enqueue:
		for f.nextBlockToFetch.Load() <= f.latestNetworkBlock.Load() {
			next := f.nextBlockToFetch.Load()
			select {
			case f.queue <- next:
				f.nextBlockToFetch.Store(next + 1)
			default:
				break enqueue
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// workerLoop dequeues block numbers with a bounded timeout so workers
// observe is_running=false within a bounded delay (§4.9 Worker loop).
func (f *Fetcher) workerLoop(ctx context.Context, id int) {
	for {
		if !f.isRunning.Load() || ctx.Err() != nil {
			return
		}

		var blockNumber uint64
		select {
		case n, ok := <-f.queue:
			if !ok {
				return
			}
			blockNumber = n
		case <-time.After(f.workerTimeout):
			continue
		case <-ctx.Done():
			return
		}

		if err := f.blockSem.Acquire(ctx, 1); err != nil {
			return
		}
		if err := f.processor.ProcessBlock(ctx, blockNumber); err != nil {
			f.logger.Error("fetcher: block processing failed", zap.Int("worker", id), zap.Uint64("block", blockNumber), zap.Error(err))
		}
		f.blockSem.Release(1)
	}
}

// NextBlockToFetch reports the current resume pointer, for diagnostics.
func (f *Fetcher) NextBlockToFetch() uint64 {
	return f.nextBlockToFetch.Load()
}

// LatestNetworkBlock reports the last refreshed chain tip, for
// diagnostics and sync-percent computation.
func (f *Fetcher) LatestNetworkBlock() uint64 {
	return f.latestNetworkBlock.Load()
}
