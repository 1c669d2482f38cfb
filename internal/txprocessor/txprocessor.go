// Package txprocessor implements the Transaction Processor (L7):
// converts a block's (transaction, receipt) pairs into the four typed
// row collections the Block Processor batch-persists, and prepares the
// account rows touched by the block with freshly-read native balances.
package txprocessor

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/csic/platform/blockchain/indexer/internal/ethrpc"
	"github.com/csic/platform/blockchain/indexer/internal/model"
)

// transferTopic is keccak256("Transfer(address,address,uint256)"), the
// ERC-20 Transfer event signature.
const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// BalanceReader is the subset of ethrpc.Client the processor needs to
// resolve native balances for touched accounts.
type BalanceReader interface {
	BalanceAt(ctx context.Context, addr string, blockNumber *uint64) (string, error)
}

// AccountLookup is a read-through snapshot of the accounts table, backed
// by the Persistence Layer (§3 Ownership, §4.7 step 3a).
type AccountLookup interface {
	AccountByAddress(ctx context.Context, address string) (*model.Account, error)
}

// TxReceipt pairs one transaction with its receipt, as fetched by the
// Block Processor.
type TxReceipt struct {
	Tx      ethrpc.RawTransaction
	Receipt ethrpc.RawReceipt
}

// Result is the four typed collections produced for one block.
type Result struct {
	Transactions   []model.Transaction
	Logs           []model.Log
	TokenTransfers []model.TokenTransfer
	Accounts       []model.Account
}

// Processor has no writes of its own; it only derives rows and reads
// balances through L2.
type Processor struct {
	rpc    BalanceReader
	lookup AccountLookup
	logger *zap.Logger

	rpcBatchSize                int
	maxConcurrentBalanceFetches int
	interChunkSleep             time.Duration
}

// New constructs a Processor. rpcBatchSize chunks the touched-address
// list (RPC_BATCH_SIZE); maxConcurrentBalanceFetches bounds balance
// fetch parallelism within a chunk; interChunkSleep is the configured
// pause between chunks.
func New(rpc BalanceReader, lookup AccountLookup, rpcBatchSize, maxConcurrentBalanceFetches int, interChunkSleep time.Duration, logger *zap.Logger) *Processor {
	if rpcBatchSize < 1 {
		rpcBatchSize = 1
	}
	if maxConcurrentBalanceFetches < 1 {
		maxConcurrentBalanceFetches = 1
	}
	return &Processor{
		rpc:                         rpc,
		lookup:                      lookup,
		logger:                      logger,
		rpcBatchSize:                rpcBatchSize,
		maxConcurrentBalanceFetches: maxConcurrentBalanceFetches,
		interChunkSleep:             interChunkSleep,
	}
}

// Process implements the §4.7 algorithm for one block's worth of
// (transaction, receipt) pairs.
func (p *Processor) Process(ctx context.Context, blockNumber uint64, pairs []TxReceipt) (Result, error) {
	var res Result
	touched := make(map[string]struct{})

	for _, pr := range pairs {
		from := strings.ToLower(pr.Tx.From)
		touched[from] = struct{}{}

		var to *string
		if pr.Tx.To != "" {
			lower := strings.ToLower(pr.Tx.To)
			to = &lower
			touched[lower] = struct{}{}
		}

		value, err := ethrpc.DecodeDecimal(pr.Tx.Value)
		if err != nil {
			return Result{}, err
		}
		gasUsed, err := ethrpc.DecodeUint64(pr.Receipt.GasUsed)
		if err != nil {
			return Result{}, err
		}
		gasPrice, err := ethrpc.DecodeDecimal(pr.Tx.GasPrice)
		if err != nil {
			return Result{}, err
		}
		txIndex, err := ethrpc.DecodeUint64(pr.Tx.TransactionIndex)
		if err != nil {
			return Result{}, err
		}
		status := 0
		if s, err := ethrpc.DecodeUint64(pr.Receipt.Status); err == nil && s == 1 {
			status = 1
		}

		res.Transactions = append(res.Transactions, model.Transaction{
			Hash:             strings.ToLower(pr.Tx.Hash),
			BlockNumber:      blockNumber,
			FromAddress:      from,
			ToAddress:        to,
			Value:            value,
			GasUsed:          gasUsed,
			GasPrice:         gasPrice,
			Status:           status,
			TransactionIndex: int(txIndex),
		})

		for _, log := range pr.Receipt.Logs {
			logIndex, _ := ethrpc.DecodeUint64(log.LogIndex)
			entry := model.Log{
				TransactionHash: strings.ToLower(pr.Tx.Hash),
				BlockNumber:     blockNumber,
				Address:         strings.ToLower(log.Address),
				Data:            log.Data,
				LogIndex:        int(logIndex),
			}
			if len(log.Topics) > 0 {
				t := log.Topics[0]
				entry.Topic0 = &t
			}
			if len(log.Topics) > 1 {
				t := log.Topics[1]
				entry.Topic1 = &t
			}
			if len(log.Topics) > 2 {
				t := log.Topics[2]
				entry.Topic2 = &t
			}
			if len(log.Topics) > 3 {
				t := log.Topics[3]
				entry.Topic3 = &t
			}
			res.Logs = append(res.Logs, entry)

			if tt, ok := decodeERC20Transfer(log); ok {
				tt.TransactionHash = strings.ToLower(pr.Tx.Hash)
				tt.BlockNumber = blockNumber
				tt.TokenAddress = strings.ToLower(log.Address)
				touched[tt.FromAddress] = struct{}{}
				touched[tt.ToAddress] = struct{}{}
				res.TokenTransfers = append(res.TokenTransfers, tt)
			}
		}
	}

	accounts, err := p.prepareAccounts(ctx, touched, blockNumber)
	if err != nil {
		return Result{}, err
	}
	res.Accounts = accounts
	return res, nil
}

// decodeERC20Transfer decodes an ERC-20 Transfer log per §4.7 step 1:
// topics[0] must match the Transfer signature and there must be at
// least 3 topics; from/to are the low 20 bytes of topics[1]/topics[2],
// amount is the big-endian u256 in the last 32 bytes of data (empty data
// yields "0").
func decodeERC20Transfer(log ethrpc.RawLog) (model.TokenTransfer, bool) {
	if len(log.Topics) < 3 || !strings.EqualFold(log.Topics[0], transferTopic) {
		return model.TokenTransfer{}, false
	}
	from := addressFromTopic(log.Topics[1])
	to := addressFromTopic(log.Topics[2])
	data, err := hex.DecodeString(strings.TrimPrefix(log.Data, "0x"))
	if err != nil {
		return model.TokenTransfer{}, false
	}
	if len(data) > 32 {
		data = data[len(data)-32:]
	}
	return model.TokenTransfer{
		FromAddress: from,
		ToAddress:   to,
		Amount:      new(big.Int).SetBytes(data).String(),
		TokenType:   model.TokenTypeERC20,
	}, true
}

// addressFromTopic extracts the low 20 bytes (40 hex chars) of a
// 32-byte topic word, which is where an address argument is left-padded.
func addressFromTopic(topic string) string {
	h := strings.TrimPrefix(topic, "0x")
	if len(h) < 40 {
		return "0x" + h
	}
	return "0x" + strings.ToLower(h[len(h)-40:])
}

// prepareAccounts implements §4.7 step 3: for each distinct touched
// address, consult the account cache, fetch the native balance at
// blockNumber (defaulting to "0" on error), and either increment the
// existing counters or seed a new row with transaction_count = 1.
// Addresses are processed in chunks of rpcBatchSize, balance fetches
// parallelised up to maxConcurrentBalanceFetches within each chunk.
func (p *Processor) prepareAccounts(ctx context.Context, touched map[string]struct{}, blockNumber uint64) ([]model.Account, error) {
	addrs := make([]string, 0, len(touched))
	for a := range touched {
		addrs = append(addrs, a)
	}

	var mu sync.Mutex
	var accounts []model.Account

	for start := 0; start < len(addrs); start += p.rpcBatchSize {
		end := start + p.rpcBatchSize
		if end > len(addrs) {
			end = len(addrs)
		}
		chunk := addrs[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.maxConcurrentBalanceFetches)
		for _, addr := range chunk {
			addr := addr
			g.Go(func() error {
				balance, err := p.rpc.BalanceAt(gctx, addr, &blockNumber)
				if err != nil {
					p.logger.Warn("txprocessor: balance fetch failed, defaulting to zero",
						zap.String("address", addr), zap.Error(err))
					balance = "0"
				}

				existing, err := p.lookup.AccountByAddress(gctx, addr)
				if err != nil {
					p.logger.Warn("txprocessor: account lookup failed", zap.String("address", addr), zap.Error(err))
				}

				var acct model.Account
				if existing != nil {
					acct = *existing
					acct.Balance = balance
					acct.TransactionCount++
					if blockNumber > acct.LastSeenBlock {
						acct.LastSeenBlock = blockNumber
					}
				} else {
					acct = model.Account{
						Address:          addr,
						Balance:          balance,
						TransactionCount: 1,
						FirstSeenBlock:   blockNumber,
						LastSeenBlock:    blockNumber,
					}
				}

				mu.Lock()
				accounts = append(accounts, acct)
				mu.Unlock()
				return nil
			})
		}
		// Every goroutine above always returns nil; errors are handled
		// inline by defaulting/logging rather than failing the batch.
		_ = g.Wait()

		if end < len(addrs) && p.interChunkSleep > 0 {
			select {
			case <-time.After(p.interChunkSleep):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return accounts, nil
}
