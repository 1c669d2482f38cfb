package blockprocessor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/ethrpc"
	"github.com/csic/platform/blockchain/indexer/internal/model"
	"github.com/csic/platform/blockchain/indexer/internal/token"
	"github.com/csic/platform/blockchain/indexer/internal/txprocessor"
)

type fakeExec struct {
	block     *ethrpc.RawBlock
	receipts  map[string]*ethrpc.RawReceipt
}

func (f *fakeExec) BlockByNumber(ctx context.Context, number uint64) (*ethrpc.RawBlock, error) {
	return f.block, nil
}
func (f *fakeExec) TransactionReceipt(ctx context.Context, hash string) (*ethrpc.RawReceipt, error) {
	return f.receipts[hash], nil
}

type fakeBeacon struct{ data *BeaconData }

func (f *fakeBeacon) GetBeaconDataForExecutionBlock(ctx context.Context, blockNumber uint64) (*BeaconData, error) {
	return f.data, nil
}

type fakeStore struct {
	blocks         []model.Block
	transactions   [][]model.Transaction
	logs           [][]model.Log
	tokenTransfers [][]model.TokenTransfer
	accounts       [][]model.Account
}

func (f *fakeStore) UpsertBlock(ctx context.Context, b model.Block) error {
	f.blocks = append(f.blocks, b)
	return nil
}
func (f *fakeStore) InsertWithdrawalIfAbsent(ctx context.Context, w model.Withdrawal) error { return nil }
func (f *fakeStore) InsertTransactionsBatch(ctx context.Context, txs []model.Transaction) error {
	f.transactions = append(f.transactions, txs)
	return nil
}
func (f *fakeStore) InsertLogsBatch(ctx context.Context, logs []model.Log) error {
	f.logs = append(f.logs, logs)
	return nil
}
func (f *fakeStore) InsertTokenTransfersBatch(ctx context.Context, transfers []model.TokenTransfer) error {
	f.tokenTransfers = append(f.tokenTransfers, transfers)
	return nil
}
func (f *fakeStore) InsertAccountsBatch(ctx context.Context, accounts []model.Account) error {
	f.accounts = append(f.accounts, accounts)
	return nil
}

type fakeTokens struct{}

func (fakeTokens) Discover(ctx context.Context, address string, blockNumber uint64) (*model.Token, error) {
	return nil, nil
}
func (fakeTokens) UpdateBalancesForTransfers(ctx context.Context, transfers []token.Transfer, blockNumber uint64) {
}

type fakeBalanceReader struct{}

func (fakeBalanceReader) BalanceAt(ctx context.Context, addr string, blockNumber *uint64) (string, error) {
	return "0", nil
}

type fakeLookup struct{}

func (fakeLookup) AccountByAddress(ctx context.Context, address string) (*model.Account, error) {
	return nil, nil
}

func TestProcessBlock_SinglePostMergeBlock(t *testing.T) {
	raw := &ethrpc.RawBlock{
		Hash: "0xBLOCKHASH", ParentHash: "0xPARENT", Timestamp: "0x1", GasUsed: "0x5208", GasLimit: "0x1c9c380",
		Transactions: []ethrpc.RawTransaction{
			{Hash: "0xT0", From: "0xAAA", TransactionIndex: "0x0"},
			{Hash: "0xT1", From: "0xAAA", TransactionIndex: "0x1"},
			{Hash: "0xT2", From: "0xAAA", TransactionIndex: "0x2"},
		},
	}
	exec := &fakeExec{block: raw, receipts: map[string]*ethrpc.RawReceipt{
		"0xT0": {GasUsed: "0x1", Status: "0x1"},
		"0xT1": {GasUsed: "0x1", Status: "0x1"},
		"0xT2": {GasUsed: "0x1", Status: "0x1"},
	}}
	store := &fakeStore{}
	txproc := txprocessor.New(fakeBalanceReader{}, fakeLookup{}, 20, 10, 0, zap.NewNop())
	p := New(exec, &fakeBeacon{}, store, txproc, fakeTokens{}, nil, 4, zap.NewNop())

	err := p.ProcessBlock(context.Background(), 17000000)
	require.NoError(t, err)

	require.Len(t, store.blocks, 1)
	require.Equal(t, uint64(17000000), store.blocks[0].Number)
	require.Len(t, store.transactions[0], 3)
}

func TestProcessBlock_AbsentBlockFails(t *testing.T) {
	exec := &fakeExec{block: nil}
	store := &fakeStore{}
	txproc := txprocessor.New(fakeBalanceReader{}, fakeLookup{}, 20, 10, 0, zap.NewNop())
	p := New(exec, &fakeBeacon{}, store, txproc, fakeTokens{}, nil, 4, zap.NewNop())

	err := p.ProcessBlock(context.Background(), 99)
	require.Error(t, err)
}

func TestProcessBlock_IdempotentReobservation(t *testing.T) {
	raw := &ethrpc.RawBlock{
		Hash: "0xBLOCKHASH", ParentHash: "0xPARENT", Timestamp: "0x1", GasUsed: "0x5208", GasLimit: "0x1c9c380",
		Transactions: []ethrpc.RawTransaction{
			{Hash: "0xT0", From: "0xAAA", TransactionIndex: "0x0"},
		},
	}
	exec := &fakeExec{block: raw, receipts: map[string]*ethrpc.RawReceipt{
		"0xT0": {GasUsed: "0x1", Status: "0x1"},
	}}
	store := &fakeStore{}
	txproc := txprocessor.New(fakeBalanceReader{}, fakeLookup{}, 20, 10, 0, zap.NewNop())
	p := New(exec, &fakeBeacon{}, store, txproc, fakeTokens{}, nil, 4, zap.NewNop())

	require.NoError(t, p.ProcessBlock(context.Background(), 17000000))
	require.NoError(t, p.ProcessBlock(context.Background(), 17000000))

	require.Len(t, store.blocks, 2) // two upsert calls issued; the store layer dedupes by PK.
}
