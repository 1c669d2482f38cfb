package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/model"
)

type fakeReader struct {
	name, symbol string
	decimals     int
	decimalsErr  error
	balances     map[string]string
}

func (f *fakeReader) Name(ctx context.Context, token string, blockNumber *uint64) (string, error) {
	return f.name, nil
}
func (f *fakeReader) Symbol(ctx context.Context, token string, blockNumber *uint64) (string, error) {
	return f.symbol, nil
}
func (f *fakeReader) Decimals(ctx context.Context, token string, blockNumber *uint64) (int, error) {
	return f.decimals, f.decimalsErr
}
func (f *fakeReader) BalanceOf(ctx context.Context, token, holder string, blockNumber *uint64) (string, error) {
	if f.balances == nil {
		return "0", nil
	}
	return f.balances[holder], nil
}

type fakeStore struct {
	tokens        map[string]model.Token
	balances      []model.TokenBalance
	upsertTokenErr error
}

func (f *fakeStore) TokenByAddress(ctx context.Context, address string) (*model.Token, error) {
	if t, ok := f.tokens[address]; ok {
		return &t, nil
	}
	return nil, nil
}
func (f *fakeStore) UpsertToken(ctx context.Context, t model.Token) error {
	if f.upsertTokenErr != nil {
		return f.upsertTokenErr
	}
	if f.tokens == nil {
		f.tokens = make(map[string]model.Token)
	}
	f.tokens[t.Address] = t
	return nil
}
func (f *fakeStore) UpsertTokenBalance(ctx context.Context, tb model.TokenBalance) error {
	f.balances = append(f.balances, tb)
	return nil
}

func TestDiscover_NewToken(t *testing.T) {
	reader := &fakeReader{name: "USD Coin", symbol: "USDC", decimals: 6}
	store := &fakeStore{}
	s := New(reader, store, 0, zap.NewNop())

	tok, err := s.Discover(context.Background(), "0xTokenAddress", 100)
	require.NoError(t, err)
	require.Equal(t, "USD Coin", *tok.Name)
	require.Equal(t, "USDC", *tok.Symbol)
	require.Equal(t, 6, *tok.Decimals)
	require.Equal(t, model.TokenTypeERC20, tok.TokenType)
	require.Equal(t, uint64(100), tok.FirstSeenBlock)
}

func TestDiscover_NotERC20(t *testing.T) {
	reader := &fakeReader{decimalsErr: ErrNotERC20}
	store := &fakeStore{}
	s := New(reader, store, 0, zap.NewNop())

	_, err := s.Discover(context.Background(), "0xNotAToken", 100)
	require.ErrorIs(t, err, ErrNotERC20)
}

func TestDiscover_ExistingTokenShortCircuits(t *testing.T) {
	name := "Wrapped Ether"
	existing := model.Token{Address: "0xweth", Name: &name, TokenType: model.TokenTypeERC20, FirstSeenBlock: 1, LastSeenBlock: 1}
	store := &fakeStore{tokens: map[string]model.Token{"0xweth": existing}}
	reader := &fakeReader{}
	s := New(reader, store, 0, zap.NewNop())

	got, err := s.Discover(context.Background(), "0xweth", 50)
	require.NoError(t, err)
	require.Equal(t, "Wrapped Ether", *got.Name)
}

func TestUpdateBalancesForTransfers_DedupesAndExcludesZeroAddress(t *testing.T) {
	store := &fakeStore{}
	reader := &fakeReader{balances: map[string]string{
		"0xalice": "1000",
		"0xbob":   "500",
	}}
	s := New(reader, store, time.Millisecond, zap.NewNop())

	transfers := []Transfer{
		{TokenAddress: "0xtoken", FromAddress: zeroAddress, ToAddress: "0xalice"},
		{TokenAddress: "0xtoken", FromAddress: "0xalice", ToAddress: "0xbob"},
		{TokenAddress: "0xtoken", FromAddress: "0xalice", ToAddress: "0xbob"},
	}

	s.UpdateBalancesForTransfers(context.Background(), transfers, 100)

	require.Len(t, store.balances, 2)
	seen := map[string]string{}
	for _, b := range store.balances {
		seen[b.AccountAddress] = b.Balance
	}
	require.Equal(t, "1000", seen["0xalice"])
	require.Equal(t, "500", seen["0xbob"])
}
