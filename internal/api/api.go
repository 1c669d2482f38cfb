// Package api exposes the Read API Contracts (L10): the typed,
// framework-free interface an external HTTP layer (out of scope here)
// adapts into routes. Every list operation returns rows plus
// model.Pagination metadata; single-entity lookups return a nil pointer
// rather than an error when the entity is absent.
package api

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/model"
	"github.com/csic/platform/blockchain/indexer/internal/storage"
)

// FallbackClient is the opportunistic live-RPC-fallback hook (§7): when
// set, a ReadService may consult it for an entity not yet indexed. Left
// nil by default; wiring a live implementation is out of scope here.
type FallbackClient interface {
	BlockByNumber(ctx context.Context, number uint64) (*model.Block, error)
}

// ReadService implements the L10 contracts directly against the
// Persistence Layer.
type ReadService struct {
	store    *storage.Store
	logger   *zap.Logger

	// FallbackClient is consulted by lookups that miss in storage, when
	// non-nil. Exported so a caller can wire it after construction.
	FallbackClient FallbackClient
}

// New constructs a ReadService with no fallback configured.
func New(store *storage.Store, logger *zap.Logger) *ReadService {
	return &ReadService{store: store, logger: logger}
}

// PagedBlocks is a page of blocks with pagination metadata.
type PagedBlocks struct {
	Blocks     []model.Block
	Pagination model.Pagination
}

// ListBlocks returns a page of blocks ordered by number descending.
func (s *ReadService) ListBlocks(ctx context.Context, page, perPage int) (PagedBlocks, error) {
	blocks, total, err := s.store.ListBlocks(ctx, page, perPage)
	if err != nil {
		return PagedBlocks{}, err
	}
	return PagedBlocks{Blocks: blocks, Pagination: model.NewPagination(page, perPage, total)}, nil
}

// BlockByNumber returns a block, consulting the fallback client if the
// entity is absent and a fallback is configured.
func (s *ReadService) BlockByNumber(ctx context.Context, number uint64) (*model.Block, error) {
	b, err := s.store.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if b == nil && s.FallbackClient != nil {
		return s.FallbackClient.BlockByNumber(ctx, number)
	}
	return b, nil
}

// PagedTransactions is a page of transactions with pagination metadata.
type PagedTransactions struct {
	Transactions []model.Transaction
	Pagination   model.Pagination
}

// ListTransactions returns a filtered, paginated transaction list.
func (s *ReadService) ListTransactions(ctx context.Context, filter storage.TransactionFilter, page, perPage int) (PagedTransactions, error) {
	txs, total, err := s.store.ListTransactions(ctx, filter, page, perPage)
	if err != nil {
		return PagedTransactions{}, err
	}
	return PagedTransactions{Transactions: txs, Pagination: model.NewPagination(page, perPage, total)}, nil
}

// TransactionWithLogs pairs a transaction with its logs, for the
// by-hash lookup contract.
type TransactionWithLogs struct {
	Transaction model.Transaction
	Logs        []model.Log
}

// TransactionByHash returns a transaction with its attached logs.
func (s *ReadService) TransactionByHash(ctx context.Context, hash string) (*TransactionWithLogs, error) {
	tx, err := s.store.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, nil
	}
	logs, err := s.store.LogsByTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	return &TransactionWithLogs{Transaction: *tx, Logs: logs}, nil
}

// AccountByAddress returns an account row.
func (s *ReadService) AccountByAddress(ctx context.Context, address string) (*model.Account, error) {
	return s.store.AccountByAddress(ctx, address)
}

// AccountTokenBalances returns every token balance held by an account.
func (s *ReadService) AccountTokenBalances(ctx context.Context, address string) ([]model.TokenBalance, error) {
	return s.store.TokenBalancesByAccount(ctx, address)
}

// PagedTokens is a page of tokens with pagination metadata.
type PagedTokens struct {
	Tokens     []model.Token
	Pagination model.Pagination
}

// ListTokens returns a paginated token list ordered by total_transfers.
func (s *ReadService) ListTokens(ctx context.Context, page, perPage int) (PagedTokens, error) {
	tokens, total, err := s.store.ListTokens(ctx, page, perPage)
	if err != nil {
		return PagedTokens{}, err
	}
	return PagedTokens{Tokens: tokens, Pagination: model.NewPagination(page, perPage, total)}, nil
}

// TokenByAddress returns a token row.
func (s *ReadService) TokenByAddress(ctx context.Context, address string) (*model.Token, error) {
	return s.store.TokenByAddress(ctx, address)
}

// PagedTokenHolders is a page of token balances with pagination metadata.
type PagedTokenHolders struct {
	Holders    []model.TokenBalance
	Pagination model.Pagination
}

// TokenHolders returns a paginated list of holders for one token.
func (s *ReadService) TokenHolders(ctx context.Context, tokenAddress string, page, perPage int) (PagedTokenHolders, error) {
	holders, total, err := s.store.TokenHolders(ctx, tokenAddress, page, perPage)
	if err != nil {
		return PagedTokenHolders{}, err
	}
	return PagedTokenHolders{Holders: holders, Pagination: model.NewPagination(page, perPage, total)}, nil
}

// Stats computes the aggregate summary exposed by the read API.
// totalTransactionsBefore comes from the Historical Count Service.
func (s *ReadService) Stats(ctx context.Context, latestNetworkBlock uint64, totalTransactionsBefore uint64) (model.Stats, error) {
	latestBlock, _, err := s.store.LatestBlockNumber(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	blockCount, err := s.store.BlockCount(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	txCount, err := s.store.TransactionCount(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	accountCount, err := s.store.AccountCount(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	declaredTxCount, err := s.store.DeclaredTransactionCount(ctx)
	if err != nil {
		return model.Stats{}, err
	}

	var syncPercent float64
	if latestNetworkBlock > 0 {
		syncPercent = float64(latestBlock) / float64(latestNetworkBlock) * 100
		if syncPercent > 100 {
			syncPercent = 100
		}
	}

	total := totalTransactionsBefore + uint64(txCount)
	indexingPercent := syncPercent

	return model.Stats{
		LatestBlock:              latestBlock,
		BlockCount:               blockCount,
		TransactionCount:         txCount,
		DeclaredTransactionCount: declaredTxCount,
		AccountCount:             accountCount,
		TotalTransactions:        total,
		SyncPercent:              syncPercent,
		IndexingPercent:          indexingPercent,
		AsOf:                     time.Now(),
	}, nil
}

// TransactionsSince returns transactions observed after afterBlock, for
// live-feed delta queries.
func (s *ReadService) TransactionsSince(ctx context.Context, afterBlock uint64, limit int) ([]model.Transaction, error) {
	return s.store.TransactionsSince(ctx, afterBlock, limit)
}
