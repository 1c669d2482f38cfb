package txprocessor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/ethrpc"
	"github.com/csic/platform/blockchain/indexer/internal/model"
)

type fakeBalanceReader struct {
	balance string
	err     error
}

func (f *fakeBalanceReader) BalanceAt(ctx context.Context, addr string, blockNumber *uint64) (string, error) {
	return f.balance, f.err
}

type fakeLookup struct {
	accounts map[string]model.Account
}

func (f *fakeLookup) AccountByAddress(ctx context.Context, address string) (*model.Account, error) {
	if a, ok := f.accounts[address]; ok {
		return &a, nil
	}
	return nil, nil
}

func TestProcess_ProjectsTransactionsAndLogs(t *testing.T) {
	rpc := &fakeBalanceReader{balance: "1000"}
	lookup := &fakeLookup{}
	p := New(rpc, lookup, 20, 10, 0, zap.NewNop())

	to := "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	pairs := []TxReceipt{
		{
			Tx: ethrpc.RawTransaction{
				Hash: "0xHASH1", From: "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", To: to,
				Value: "0xde0b6b3a7640000", GasPrice: "0x3b9aca00", TransactionIndex: "0x0",
			},
			Receipt: ethrpc.RawReceipt{GasUsed: "0x5208", Status: "0x1"},
		},
	}

	res, err := p.Process(context.Background(), 17000000, pairs)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	require.Equal(t, "0xhash1", res.Transactions[0].Hash)
	require.Equal(t, 1, res.Transactions[0].Status)
	require.Equal(t, uint64(21000), res.Transactions[0].GasUsed)
	// from + to, both touched.
	require.Len(t, res.Accounts, 2)
}

func TestProcess_ExtractsERC20Transfer(t *testing.T) {
	rpc := &fakeBalanceReader{balance: "0"}
	lookup := &fakeLookup{}
	p := New(rpc, lookup, 20, 10, 0, zap.NewNop())

	pairs := []TxReceipt{
		{
			Tx: ethrpc.RawTransaction{Hash: "0xHASH2", From: "0xCCC", TransactionIndex: "0x1"},
			Receipt: ethrpc.RawReceipt{
				GasUsed: "0x1", Status: "0x1",
				Logs: []ethrpc.RawLog{
					{
						Address: "0xAAA0000000000000000000000000000000000A",
						Topics: []string{
							transferTopic,
							"0x00000000000000000000000000000000000000000000000000000000000AABBB",
							"0x00000000000000000000000000000000000000000000000000000000000CCDDD",
						},
						Data:     "0x0000000000000000000000000000000000000000000000000000000000000064",
						LogIndex: "0x0",
					},
				},
			},
		},
	}

	res, err := p.Process(context.Background(), 1, pairs)
	require.NoError(t, err)
	require.Len(t, res.TokenTransfers, 1)
	tt := res.TokenTransfers[0]
	require.Equal(t, "0xaaa0000000000000000000000000000000000a", tt.TokenAddress)
	require.Equal(t, "0x00000000000000000000000000000000000aabbb", tt.FromAddress)
	require.Equal(t, "0x00000000000000000000000000000000000ccddd", tt.ToAddress)
	require.Equal(t, "100", tt.Amount)
	require.Equal(t, model.TokenTypeERC20, tt.TokenType)
}

func TestProcess_NonTransferLogProducesNoTokenTransfer(t *testing.T) {
	rpc := &fakeBalanceReader{balance: "0"}
	lookup := &fakeLookup{}
	p := New(rpc, lookup, 20, 10, 0, zap.NewNop())

	pairs := []TxReceipt{
		{
			Tx: ethrpc.RawTransaction{Hash: "0xHASH3", From: "0xCCC", TransactionIndex: "0x2"},
			Receipt: ethrpc.RawReceipt{
				GasUsed: "0x1", Status: "0x1",
				Logs: []ethrpc.RawLog{
					{Address: "0xAAA", Topics: []string{"0xdeadbeef"}, Data: "0x", LogIndex: "0x0"},
				},
			},
		},
	}

	res, err := p.Process(context.Background(), 1, pairs)
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)
	require.Empty(t, res.TokenTransfers)
}

func TestProcess_BalanceFetchErrorDefaultsToZero(t *testing.T) {
	rpc := &fakeBalanceReader{err: require.AnError}
	lookup := &fakeLookup{}
	p := New(rpc, lookup, 20, 10, 0, zap.NewNop())

	pairs := []TxReceipt{
		{
			Tx:      ethrpc.RawTransaction{Hash: "0xHASH4", From: "0xAAA", TransactionIndex: "0x0"},
			Receipt: ethrpc.RawReceipt{GasUsed: "0x1", Status: "0x1"},
		},
	}

	res, err := p.Process(context.Background(), 1, pairs)
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)
	require.Equal(t, "0", res.Accounts[0].Balance)
}

func TestProcess_ExistingAccountIncrementsCounters(t *testing.T) {
	rpc := &fakeBalanceReader{balance: "500"}
	lookup := &fakeLookup{accounts: map[string]model.Account{
		"0xaaa": {Address: "0xaaa", Balance: "100", TransactionCount: 3, FirstSeenBlock: 10, LastSeenBlock: 10},
	}}
	p := New(rpc, lookup, 20, 10, 0, zap.NewNop())

	pairs := []TxReceipt{
		{
			Tx:      ethrpc.RawTransaction{Hash: "0xHASH5", From: "0xAAA", TransactionIndex: "0x0"},
			Receipt: ethrpc.RawReceipt{GasUsed: "0x1", Status: "0x1"},
		},
	}

	res, err := p.Process(context.Background(), 20, pairs)
	require.NoError(t, err)
	require.Len(t, res.Accounts, 1)
	require.Equal(t, uint64(4), res.Accounts[0].TransactionCount)
	require.Equal(t, uint64(10), res.Accounts[0].FirstSeenBlock)
	require.Equal(t, uint64(20), res.Accounts[0].LastSeenBlock)
}
