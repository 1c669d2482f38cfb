package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/model"
	"github.com/csic/platform/blockchain/indexer/internal/storage"
)

// openTestStore connects to TEST_DATABASE_URL, applying migrations fresh.
// These are integration tests against a real Postgres instance, not unit
// tests, so they are skipped unless that variable is set (no embedded
// Postgres or sqlite fallback exists in this stack, consistent with
// the rest of the platform's persistence layers).
func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping storage integration tests")
	}
	logger := zap.NewNop()
	s, err := storage.Open(context.Background(), url, logger)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStore_UpsertBlock_IsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	miner := "0xabc0000000000000000000000000000000000a"
	b := model.Block{
		Number:           100,
		Hash:             "0xblock100",
		ParentHash:       "0xblock99",
		Timestamp:        1700000000,
		GasUsed:          21000,
		GasLimit:         30000000,
		TransactionCount: 1,
		Miner:            &miner,
	}
	require.NoError(t, s.UpsertBlock(ctx, b))

	// Re-observing the same block overwrites rather than duplicates.
	b.GasUsed = 22000
	require.NoError(t, s.UpsertBlock(ctx, b))

	got, err := s.BlockByNumber(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, uint64(22000), got.GasUsed)

	count, err := s.BlockCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestStore_UpsertToken_PreservesMetadataAndIncrementsTransfers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	name := "USD Coin"
	symbol := "USDC"
	decimals := 6
	addr := "0xtoken0000000000000000000000000000000001"

	require.NoError(t, s.UpsertToken(ctx, model.Token{
		Address: addr, Name: &name, Symbol: &symbol, Decimals: &decimals,
		TokenType: model.TokenTypeERC20, FirstSeenBlock: 10, LastSeenBlock: 10,
	}))

	// A second discovery call with nil metadata must not clobber the
	// first call's metadata, must advance last_seen_block, and must
	// bump total_transfers.
	require.NoError(t, s.UpsertToken(ctx, model.Token{
		Address: addr, TokenType: model.TokenTypeERC20, FirstSeenBlock: 10, LastSeenBlock: 20,
	}))

	got, err := s.TokenByAddress(ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "USD Coin", *got.Name)
	require.Equal(t, uint64(20), got.LastSeenBlock)
	require.Equal(t, uint64(2), got.TotalTransfers)
}

func TestStore_InsertWithdrawalIfAbsent_DoesNotDuplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	w := model.Withdrawal{BlockNumber: 200, WithdrawalIndex: 5, ValidatorIndex: 1, Address: "0xval", Amount: "1000"}
	require.NoError(t, s.InsertWithdrawalIfAbsent(ctx, w))
	require.NoError(t, s.InsertWithdrawalIfAbsent(ctx, w))

	got, err := s.WithdrawalsByBlock(ctx, 200)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestStore_StartBlockCache_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetStartBlockCache(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.SetStartBlock(ctx, 15537394))
	require.NoError(t, s.SetTotalTransactionsBefore(ctx, 1_500_000_000))

	got, err = s.GetStartBlockCache(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, uint64(15537394), got.StartBlock)
	require.NotNil(t, got.TotalTransactionsBefore)
	require.Equal(t, uint64(1_500_000_000), *got.TotalTransactionsBefore)
}
