// Package token implements the Token Subsystem (L6): ERC-20 discovery
// from Transfer logs and scheduled balance re-reads, keeping the Token
// and TokenBalance tables consistent with observed on-chain state.
package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/csic/platform/blockchain/indexer/internal/ethrpc"
	"github.com/csic/platform/blockchain/indexer/internal/model"
)

// zeroAddress is excluded from balance tracking: mint/burn transfers
// touch it constantly and it never holds a meaningful balance.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// ErrNotERC20 is returned by Discover when none of name/symbol/decimals
// resolve, meaning the contract does not implement the probed surface.
var ErrNotERC20 = errors.New("token: not an ERC-20 contract")

// Transfer is one decoded ERC-20 Transfer log, as produced by the
// transaction processor (L7).
type Transfer struct {
	TokenAddress string
	FromAddress  string
	ToAddress    string
}

// Reader is the subset of ethrpc.Client the token subsystem depends on.
type Reader interface {
	Name(ctx context.Context, token string, blockNumber *uint64) (string, error)
	Symbol(ctx context.Context, token string, blockNumber *uint64) (string, error)
	Decimals(ctx context.Context, token string, blockNumber *uint64) (int, error)
	BalanceOf(ctx context.Context, token, holder string, blockNumber *uint64) (string, error)
}

// Store is the subset of storage.Store the token subsystem depends on.
type Store interface {
	TokenByAddress(ctx context.Context, address string) (*model.Token, error)
	UpsertToken(ctx context.Context, t model.Token) error
	UpsertTokenBalance(ctx context.Context, tb model.TokenBalance) error
}

// Subsystem keeps Token and TokenBalance tables in sync with observed
// Transfer logs.
type Subsystem struct {
	rpc    Reader
	store  Store
	logger *zap.Logger

	balanceUpdateInterval time.Duration
}

// New constructs a Subsystem. balanceUpdateInterval is the configured
// sleep between successive balanceOf reads (TOKEN_BALANCE_UPDATE_INTERVAL_MS).
func New(rpc Reader, store Store, balanceUpdateInterval time.Duration, logger *zap.Logger) *Subsystem {
	return &Subsystem{rpc: rpc, store: store, balanceUpdateInterval: balanceUpdateInterval, logger: logger}
}

// Discover returns the existing token row, or probes name/symbol/decimals
// and upserts a new one. Returns ErrNotERC20 if all three probes are
// empty (§4.6 discover_token).
func (s *Subsystem) Discover(ctx context.Context, address string, blockNumber uint64) (*model.Token, error) {
	address = strings.ToLower(address)

	existing, err := s.store.TokenByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	name, nameErr := s.rpc.Name(ctx, address, &blockNumber)
	symbol, symErr := s.rpc.Symbol(ctx, address, &blockNumber)
	decimals, decErr := s.rpc.Decimals(ctx, address, &blockNumber)

	if name == "" && symbol == "" && (decErr != nil || decimals == 0) {
		s.logger.Debug("token: probes empty, not an ERC-20",
			zap.String("address", address), zap.Error(nameErr), zap.Error(symErr), zap.Error(decErr))
		return nil, ErrNotERC20
	}

	t := model.Token{
		Address:        address,
		TokenType:      model.TokenTypeERC20,
		FirstSeenBlock: blockNumber,
		LastSeenBlock:  blockNumber,
	}
	if name != "" {
		t.Name = &name
	}
	if symbol != "" {
		t.Symbol = &symbol
	}
	if decErr == nil {
		t.Decimals = &decimals
	}

	if err := s.store.UpsertToken(ctx, t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateBalancesForTransfers forms the deduplicated (account, token) set
// from transfers, excluding the zero address, and re-reads each balance
// through L2, sleeping balanceUpdateInterval between reads to avoid
// starving the rate limiter (§4.6 update_balances_for_transfers).
func (s *Subsystem) UpdateBalancesForTransfers(ctx context.Context, transfers []Transfer, blockNumber uint64) {
	type pair struct{ account, token string }
	seen := make(map[pair]struct{})
	var ordered []pair

	addPair := func(account, token string) {
		account = strings.ToLower(account)
		token = strings.ToLower(token)
		if account == zeroAddress {
			return
		}
		p := pair{account: account, token: token}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		ordered = append(ordered, p)
	}

	for _, tr := range transfers {
		addPair(tr.FromAddress, tr.TokenAddress)
		addPair(tr.ToAddress, tr.TokenAddress)
	}

	for i, p := range ordered {
		if i > 0 && s.balanceUpdateInterval > 0 {
			select {
			case <-time.After(s.balanceUpdateInterval):
			case <-ctx.Done():
				return
			}
		}

		balance, err := s.rpc.BalanceOf(ctx, p.token, p.account, &blockNumber)
		if err != nil {
			if errors.Is(err, ethrpc.ErrNotAContract) {
				s.logger.Debug("token: balanceOf skipped, not a contract",
					zap.String("token", p.token), zap.String("account", p.account))
			} else {
				s.logger.Warn("token: balanceOf failed",
					zap.String("token", p.token), zap.String("account", p.account), zap.Error(err))
			}
			continue
		}

		tb := model.TokenBalance{
			AccountAddress:   p.account,
			TokenAddress:     p.token,
			Balance:          balance,
			BlockNumber:      blockNumber,
			LastUpdatedBlock: blockNumber,
		}
		if err := s.store.UpsertTokenBalance(ctx, tb); err != nil {
			s.logger.Error("token: failed to persist balance",
				zap.String("token", p.token), zap.String("account", p.account), zap.Error(err))
		}
	}
}
