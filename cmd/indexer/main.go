// Command indexer is the entrypoint wiring every layer together: config,
// logging, persistence, the rate-limited RPC executors, the block
// processing pipeline, and the fetcher/worker pool that drives it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/beaconrpc"
	"github.com/csic/platform/blockchain/indexer/internal/blockprocessor"
	"github.com/csic/platform/blockchain/indexer/internal/config"
	"github.com/csic/platform/blockchain/indexer/internal/ethrpc"
	"github.com/csic/platform/blockchain/indexer/internal/fetcher"
	"github.com/csic/platform/blockchain/indexer/internal/historical"
	"github.com/csic/platform/blockchain/indexer/internal/logging"
	"github.com/csic/platform/blockchain/indexer/internal/netstats"
	"github.com/csic/platform/blockchain/indexer/internal/notify"
	"github.com/csic/platform/blockchain/indexer/internal/rpcexec"
	"github.com/csic/platform/blockchain/indexer/internal/storage"
	"github.com/csic/platform/blockchain/indexer/internal/token"
	"github.com/csic/platform/blockchain/indexer/internal/txprocessor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting indexer",
		zap.String("eth_rpc_url", cfg.EthRPCURL),
		zap.String("beacon_rpc_url", cfg.BeaconRPCURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer store.Close()

	ethExecutor := rpcexec.New("eth", cfg.EthRPCMaxConcurrent, cfg.EthRPCMinInterval(), logger)
	defer ethExecutor.Shutdown()
	beaconExecutor := rpcexec.New("beacon", cfg.BeaconRPCMaxConcurrent, cfg.BeaconRPCMinInterval(), logger)
	defer beaconExecutor.Shutdown()

	execClient := ethrpc.New(cfg.EthRPCURL, ethExecutor, logger)
	beaconClient := beaconrpc.New(cfg.BeaconRPCURL, beaconExecutor, logger)

	if err := beaconClient.TestConnection(ctx); err != nil {
		logger.Warn("beacon node connectivity check failed at startup", zap.Error(err))
	}

	startBlock, err := resolveStartBlock(ctx, store, execClient, cfg.StartBlock, logger)
	if err != nil {
		logger.Fatal("failed to resolve start block", zap.Error(err))
	}

	histSvc := historical.New(store, cfg.WarehouseCredentialPath, cfg.WarehouseDatasetURL, logger)
	if err := histSvc.Resolve(ctx, startBlock); err != nil {
		logger.Fatal("failed to resolve historical transaction count", zap.Error(err))
	}

	tokenSubsystem := token.New(execClient, store, cfg.TokenBalanceUpdateInterval(), logger)
	txProcessor := txprocessor.New(execClient, store, cfg.RPCBatchSize, cfg.MaxConcurrentBalanceFetches, cfg.AccountBatchSleep(), logger)

	notifier := notify.New(splitBrokers(cfg.KafkaBrokers), logger)
	defer notifier.Close()

	blockProc := blockprocessor.New(
		execClient,
		beaconAdapter{beaconClient},
		store,
		txProcessor,
		tokenSubsystem,
		notifier,
		cfg.MaxConcurrentTxReceipts,
		logger,
	)

	netstatsCache := netstats.New()

	nextBlock, err := computeNextBlockToFetch(ctx, store, startBlock)
	if err != nil {
		logger.Fatal("failed to compute resume point", zap.Error(err))
	}

	blockFetcher := fetcher.New(
		execClient,
		blockProc,
		nextBlock,
		cfg.WorkerPoolSize,
		cfg.MaxConcurrentBlocks,
		cfg.QueueCapacity(),
		cfg.BlockFetchInterval(),
		cfg.WorkerTimeout(),
		logger,
	)

	go refreshNetstats(ctx, netstatsCache, execClient, beaconClient, blockFetcher, logger)

	fetcherDone := make(chan struct{})
	go func() {
		blockFetcher.Run(ctx)
		close(fetcherDone)
	}()

	logger.Info("indexer running", zap.Uint64("resume_block", nextBlock))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down indexer")
	blockFetcher.Stop()
	cancel()

	select {
	case <-fetcherDone:
	case <-time.After(30 * time.Second):
		logger.Warn("fetcher did not stop within the shutdown grace period")
	}

	logger.Info("indexer stopped")
}

// beaconAdapter satisfies blockprocessor.BeaconClient by converting
// *beaconrpc.BeaconData into blockprocessor's local mirror type, keeping
// the two packages decoupled.
type beaconAdapter struct {
	client *beaconrpc.Client
}

func (a beaconAdapter) GetBeaconDataForExecutionBlock(ctx context.Context, blockNumber uint64) (*blockprocessor.BeaconData, error) {
	bd, err := a.client.GetBeaconDataForExecutionBlock(ctx, blockNumber)
	if err != nil {
		return nil, err
	}
	if bd == nil {
		return nil, nil
	}
	return &blockprocessor.BeaconData{
		Slot:               bd.Slot,
		ProposerIndex:      bd.ProposerIndex,
		Epoch:              bd.Epoch,
		SlotRoot:           bd.SlotRoot,
		ParentRoot:         bd.ParentRoot,
		BeaconDepositCount: bd.BeaconDepositCount,
		Graffiti:           bd.Graffiti,
		RandaoReveal:       bd.RandaoReveal,
	}, nil
}

// resolveStartBlock implements the start-block resolution algorithm: if
// the cache row already records a start block, that value wins and any
// mismatching START_BLOCK env value is only logged as a warning. Otherwise
// a fresh value is resolved from env (negative offsets from the current
// chain tip, zero/absent means genesis, positive is absolute) and
// persisted once.
func resolveStartBlock(ctx context.Context, store *storage.Store, tip interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
}, envStartBlock int64, logger *zap.Logger) (uint64, error) {
	cached, err := store.GetStartBlockCache(ctx)
	if err != nil {
		return 0, fmt.Errorf("read start block cache: %w", err)
	}
	if cached != nil {
		resolved := cached.StartBlock
		if envWantsDifferentStart(envStartBlock, resolved) {
			logger.Warn("START_BLOCK env value ignored: cache already has a resolved start block",
				zap.Int64("env_start_block", envStartBlock), zap.Uint64("cached_start_block", resolved))
		}
		return resolved, nil
	}

	var resolved uint64
	switch {
	case envStartBlock < 0:
		latest, err := tip.LatestBlockNumber(ctx)
		if err != nil {
			return 0, fmt.Errorf("fetch chain tip to resolve negative start block: %w", err)
		}
		offset := -envStartBlock
		if uint64(offset) > latest {
			resolved = 0
		} else {
			resolved = latest - uint64(offset)
		}
	case envStartBlock > 0:
		resolved = uint64(envStartBlock)
	default:
		resolved = 0
	}

	if err := store.SetStartBlock(ctx, resolved); err != nil {
		return 0, fmt.Errorf("persist resolved start block: %w", err)
	}
	return resolved, nil
}

func envWantsDifferentStart(envStartBlock int64, resolved uint64) bool {
	if envStartBlock == 0 {
		return false
	}
	return envStartBlock < 0 || uint64(envStartBlock) != resolved
}

// computeNextBlockToFetch seeds the fetcher's resume pointer at
// max(db_latest_block + 1, start_block).
func computeNextBlockToFetch(ctx context.Context, store *storage.Store, startBlock uint64) (uint64, error) {
	latest, ok, err := store.LatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("read latest indexed block: %w", err)
	}
	if !ok {
		return startBlock, nil
	}
	if latest+1 > startBlock {
		return latest + 1, nil
	}
	return startBlock, nil
}

// refreshNetstats periodically samples connectivity and sync-lag state
// into the shared cache read by the eventual stats endpoint.
func refreshNetstats(ctx context.Context, cache *netstats.Cache, exec *ethrpc.Client, beacon *beaconrpc.Client, f *fetcher.Fetcher, logger *zap.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latest, err := exec.LatestBlockNumber(ctx)
			executionHealthy := err == nil
			if err != nil {
				logger.Debug("netstats: execution tip check failed", zap.Error(err))
			}

			beaconHealthy := beacon.TestConnection(ctx) == nil

			cache.Update(netstats.Snapshot{
				LatestNetworkBlock: latest,
				LatestIndexedBlock: f.NextBlockToFetch() - 1,
				ExecutionHealthy:   executionHealthy,
				BeaconHealthy:      beaconHealthy,
				AsOf:               time.Now(),
			})
		}
	}
}

func splitBrokers(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
