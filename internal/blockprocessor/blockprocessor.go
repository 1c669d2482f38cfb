// Package blockprocessor implements the Block Processor (L8): the
// per-block state machine that fetches a block end to end, orchestrates
// the execution/consensus clients and the transaction processor, and
// issues the ordered batch writes that persist it.
package blockprocessor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/csic/platform/blockchain/indexer/internal/ethrpc"
	"github.com/csic/platform/blockchain/indexer/internal/model"
	"github.com/csic/platform/blockchain/indexer/internal/token"
	"github.com/csic/platform/blockchain/indexer/internal/txprocessor"
)

// ExecutionClient is the subset of ethrpc.Client the block processor
// depends on directly (balance fetches happen inside txprocessor).
type ExecutionClient interface {
	BlockByNumber(ctx context.Context, number uint64) (*ethrpc.RawBlock, error)
	TransactionReceipt(ctx context.Context, hash string) (*ethrpc.RawReceipt, error)
}

// BeaconClient is the subset of beaconrpc.Client the block processor
// depends on; beacon enrichment is best-effort (§4.8 step 2).
type BeaconClient interface {
	GetBeaconDataForExecutionBlock(ctx context.Context, blockNumber uint64) (*BeaconData, error)
}

// BeaconData mirrors beaconrpc.BeaconData's shape so this package does
// not need to import beaconrpc directly; callers adapt.
type BeaconData struct {
	Slot               *uint64
	ProposerIndex      *uint64
	Epoch              *uint64
	SlotRoot           *string
	ParentRoot         *string
	BeaconDepositCount *uint64
	Graffiti           *string
	RandaoReveal       *string
}

// Store is the subset of storage.Store the block processor writes
// through, in the exact order §4.8 step 6 requires.
type Store interface {
	UpsertBlock(ctx context.Context, b model.Block) error
	InsertWithdrawalIfAbsent(ctx context.Context, w model.Withdrawal) error
	InsertTransactionsBatch(ctx context.Context, txs []model.Transaction) error
	InsertLogsBatch(ctx context.Context, logs []model.Log) error
	InsertTokenTransfersBatch(ctx context.Context, transfers []model.TokenTransfer) error
	InsertAccountsBatch(ctx context.Context, accounts []model.Account) error
}

// TokenSubsystem is the subset of token.Subsystem the block processor
// invokes asynchronously after token-transfer persistence (§4.8 step 7).
type TokenSubsystem interface {
	Discover(ctx context.Context, address string, blockNumber uint64) (*model.Token, error)
	UpdateBalancesForTransfers(ctx context.Context, transfers []token.Transfer, blockNumber uint64)
}

// Notifier is invoked, best-effort, after a block's batched writes
// succeed.
type Notifier interface {
	NotifyBlockPersisted(ctx context.Context, blockNumber uint64)
}

type noopNotifier struct{}

func (noopNotifier) NotifyBlockPersisted(context.Context, uint64) {}

// Processor drives one block through queued -> fetched -> assembled ->
// persisted. Any transient error fails the block and is logged; the
// caller (a Fetcher worker) moves on to the next queued number.
type Processor struct {
	exec   ExecutionClient
	beacon BeaconClient
	store  Store
	txproc *txprocessor.Processor
	tokens TokenSubsystem
	notify Notifier
	logger *zap.Logger

	maxConcurrentTxReceipts int
}

// New constructs a Processor. maxConcurrentTxReceipts bounds the local
// per-block receipt-fetch fan-out (§4.8 step 4).
func New(exec ExecutionClient, beacon BeaconClient, store Store, txproc *txprocessor.Processor, tokens TokenSubsystem, notify Notifier, maxConcurrentTxReceipts int, logger *zap.Logger) *Processor {
	if maxConcurrentTxReceipts < 1 {
		maxConcurrentTxReceipts = 1
	}
	if notify == nil {
		notify = noopNotifier{}
	}
	return &Processor{
		exec:                    exec,
		beacon:                  beacon,
		store:                   store,
		txproc:                  txproc,
		tokens:                  tokens,
		notify:                  notify,
		logger:                  logger,
		maxConcurrentTxReceipts: maxConcurrentTxReceipts,
	}
}

// ProcessBlock runs the full state machine for one block number. It
// returns an error only to let the caller log it; there is no retry
// policy at this layer (re-observation later is always safe).
func (p *Processor) ProcessBlock(ctx context.Context, blockNumber uint64) error {
	raw, err := p.exec.BlockByNumber(ctx, blockNumber)
	if err != nil {
		return fmt.Errorf("blockprocessor: fetch block %d: %w", blockNumber, err)
	}
	if raw == nil {
		return fmt.Errorf("blockprocessor: block %d not yet available", blockNumber)
	}

	block, err := toBlockRow(blockNumber, raw)
	if err != nil {
		return fmt.Errorf("blockprocessor: project block %d: %w", blockNumber, err)
	}

	if p.beacon != nil {
		if bd, err := p.beacon.GetBeaconDataForExecutionBlock(ctx, blockNumber); err != nil {
			p.logger.Warn("blockprocessor: beacon enrichment failed", zap.Uint64("block", blockNumber), zap.Error(err))
		} else if bd != nil {
			applyBeaconData(&block, bd)
		}
	}

	if err := p.store.UpsertBlock(ctx, block); err != nil {
		return fmt.Errorf("blockprocessor: upsert block %d: %w", blockNumber, err)
	}

	for _, w := range raw.Withdrawals {
		wd, err := toWithdrawalRow(blockNumber, w)
		if err != nil {
			p.logger.Warn("blockprocessor: skipping malformed withdrawal", zap.Uint64("block", blockNumber), zap.Error(err))
			continue
		}
		if err := p.store.InsertWithdrawalIfAbsent(ctx, wd); err != nil {
			p.logger.Error("blockprocessor: insert withdrawal failed", zap.Uint64("block", blockNumber), zap.Error(err))
		}
	}

	pairs := p.fetchReceipts(ctx, blockNumber, raw.Transactions)

	result, err := p.txproc.Process(ctx, blockNumber, pairs)
	if err != nil {
		return fmt.Errorf("blockprocessor: process transactions for block %d: %w", blockNumber, err)
	}

	writesOK := true
	if err := p.store.InsertTransactionsBatch(ctx, result.Transactions); err != nil {
		writesOK = false
		p.logger.Error("blockprocessor: insert transactions batch failed", zap.Uint64("block", blockNumber), zap.Error(err))
	}
	if err := p.store.InsertLogsBatch(ctx, result.Logs); err != nil {
		writesOK = false
		p.logger.Error("blockprocessor: insert logs batch failed", zap.Uint64("block", blockNumber), zap.Error(err))
	}
	if err := p.store.InsertTokenTransfersBatch(ctx, result.TokenTransfers); err != nil {
		writesOK = false
		p.logger.Error("blockprocessor: insert token transfers batch failed", zap.Uint64("block", blockNumber), zap.Error(err))
	}
	if err := p.store.InsertAccountsBatch(ctx, result.Accounts); err != nil {
		writesOK = false
		p.logger.Error("blockprocessor: insert accounts batch failed", zap.Uint64("block", blockNumber), zap.Error(err))
	}

	if len(result.TokenTransfers) > 0 && p.tokens != nil {
		go p.runTokenSubsystem(blockNumber, result.TokenTransfers)
	}

	if writesOK {
		p.notify.NotifyBlockPersisted(ctx, blockNumber)
	}
	return nil
}

// runTokenSubsystem invokes token discovery and balance re-reads for
// the block's transfers asynchronously, on a detached context, so a
// slow token RPC never holds up the worker that persisted the block.
func (p *Processor) runTokenSubsystem(blockNumber uint64, transfers []model.TokenTransfer) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	seen := make(map[string]struct{})
	tokenTransfers := make([]token.Transfer, 0, len(transfers))
	for _, t := range transfers {
		if _, ok := seen[t.TokenAddress]; !ok {
			seen[t.TokenAddress] = struct{}{}
			if _, err := p.tokens.Discover(ctx, t.TokenAddress, blockNumber); err != nil {
				p.logger.Debug("blockprocessor: token discovery skipped", zap.String("token", t.TokenAddress), zap.Error(err))
			}
		}
		tokenTransfers = append(tokenTransfers, token.Transfer{
			TokenAddress: t.TokenAddress,
			FromAddress:  t.FromAddress,
			ToAddress:    t.ToAddress,
		})
	}
	p.tokens.UpdateBalancesForTransfers(ctx, tokenTransfers, blockNumber)
}

// fetchReceipts fans out one receipt fetch per transaction, bounded by a
// fresh local concurrency limit for this block (§4.8 step 4); pairs
// whose receipt is missing are dropped.
func (p *Processor) fetchReceipts(ctx context.Context, blockNumber uint64, txs []ethrpc.RawTransaction) []txprocessor.TxReceipt {
	type slot struct {
		pair txprocessor.TxReceipt
		ok   bool
	}
	slots := make([]slot, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrentTxReceipts)
	for i, tx := range txs {
		i, tx := i, tx
		g.Go(func() error {
			receipt, err := p.exec.TransactionReceipt(gctx, tx.Hash)
			if err != nil {
				p.logger.Warn("blockprocessor: receipt fetch failed", zap.Uint64("block", blockNumber), zap.String("tx", tx.Hash), zap.Error(err))
				return nil
			}
			if receipt == nil {
				p.logger.Warn("blockprocessor: receipt not available, dropping tx from batch", zap.Uint64("block", blockNumber), zap.String("tx", tx.Hash))
				return nil
			}
			slots[i] = slot{pair: txprocessor.TxReceipt{Tx: tx, Receipt: *receipt}, ok: true}
			return nil
		})
	}
	// Every goroutine above always returns nil; a fetch failure drops
	// that one transaction from the batch rather than failing the block.
	_ = g.Wait()

	pairs := make([]txprocessor.TxReceipt, 0, len(txs))
	for _, s := range slots {
		if s.ok {
			pairs = append(pairs, s.pair)
		}
	}
	return pairs
}

func toBlockRow(number uint64, raw *ethrpc.RawBlock) (model.Block, error) {
	hash := strings.ToLower(raw.Hash)
	parentHash := strings.ToLower(raw.ParentHash)
	timestamp, err := ethrpc.DecodeUint64(raw.Timestamp)
	if err != nil {
		return model.Block{}, err
	}
	gasUsed, err := ethrpc.DecodeUint64(raw.GasUsed)
	if err != nil {
		return model.Block{}, err
	}
	gasLimit, err := ethrpc.DecodeUint64(raw.GasLimit)
	if err != nil {
		return model.Block{}, err
	}

	b := model.Block{
		Number:           number,
		Hash:             hash,
		ParentHash:       parentHash,
		Timestamp:        timestamp,
		GasUsed:          gasUsed,
		GasLimit:         gasLimit,
		TransactionCount: len(raw.Transactions),
	}

	if raw.Miner != "" {
		miner := strings.ToLower(raw.Miner)
		b.Miner = &miner
	}
	if raw.Difficulty != "" {
		if dec, err := ethrpc.DecodeDecimal(raw.Difficulty); err == nil {
			b.Difficulty = &dec
		}
	}
	if raw.Size != "" {
		if n, err := ethrpc.DecodeUint64(raw.Size); err == nil {
			b.SizeBytes = &n
		}
	}
	if raw.BaseFeePerGas != "" {
		if dec, err := ethrpc.DecodeDecimal(raw.BaseFeePerGas); err == nil {
			b.BaseFeePerGas = &dec
		}
	}
	if raw.ExtraData != "" {
		b.ExtraData = &raw.ExtraData
	}
	if raw.StateRoot != "" {
		b.StateRoot = &raw.StateRoot
	}
	if raw.Nonce != "" {
		b.Nonce = &raw.Nonce
	}
	if raw.WithdrawalsRoot != "" {
		b.WithdrawalRoot = &raw.WithdrawalsRoot
	}
	if raw.BlobGasUsed != "" {
		if n, err := ethrpc.DecodeUint64(raw.BlobGasUsed); err == nil {
			b.BlobGasUsed = &n
		}
	}
	if raw.ExcessBlobGas != "" {
		if n, err := ethrpc.DecodeUint64(raw.ExcessBlobGas); err == nil {
			b.ExcessBlobGas = &n
		}
	}
	if raw.Withdrawals != nil {
		n := len(raw.Withdrawals)
		b.WithdrawalCount = &n
	}
	return b, nil
}

func applyBeaconData(b *model.Block, bd *BeaconData) {
	b.Slot = bd.Slot
	b.ProposerIndex = bd.ProposerIndex
	b.Epoch = bd.Epoch
	b.SlotRoot = bd.SlotRoot
	b.ParentRoot = bd.ParentRoot
	b.BeaconDepositCount = bd.BeaconDepositCount
	b.Graffiti = bd.Graffiti
	b.RandaoReveal = bd.RandaoReveal
}

func toWithdrawalRow(blockNumber uint64, w ethrpc.RawWithdrawal) (model.Withdrawal, error) {
	index, err := ethrpc.DecodeUint64(w.Index)
	if err != nil {
		return model.Withdrawal{}, err
	}
	validatorIndex, err := ethrpc.DecodeUint64(w.ValidatorIndex)
	if err != nil {
		return model.Withdrawal{}, err
	}
	amount, err := ethrpc.DecodeDecimal(w.Amount)
	if err != nil {
		return model.Withdrawal{}, err
	}
	return model.Withdrawal{
		BlockNumber:     blockNumber,
		WithdrawalIndex: index,
		ValidatorIndex:  validatorIndex,
		Address:         strings.ToLower(w.Address),
		Amount:          amount,
	}, nil
}
