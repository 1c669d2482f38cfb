package storage

import (
	"context"
	"fmt"

	"github.com/csic/platform/blockchain/indexer/internal/model"
)

// UpsertTokenBalance overwrites the balance for (account_address,
// token_address), as produced by the token subsystem's balance re-read
// (§4.6 update_balances_for_transfers).
func (s *Store) UpsertTokenBalance(ctx context.Context, tb model.TokenBalance) error {
	const query = `
INSERT INTO token_balances (account_address, token_address, balance, block_number, last_updated_block)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (account_address, token_address) DO UPDATE SET
	balance = EXCLUDED.balance,
	block_number = EXCLUDED.block_number,
	last_updated_block = EXCLUDED.last_updated_block`
	if _, err := s.pool.Exec(ctx, query, tb.AccountAddress, tb.TokenAddress, tb.Balance, tb.BlockNumber, tb.LastUpdatedBlock); err != nil {
		return fmt.Errorf("storage: upsert token balance (%s, %s): %w", tb.AccountAddress, tb.TokenAddress, err)
	}
	return nil
}

// TokenBalancesByAccount returns every token balance held by an account.
func (s *Store) TokenBalancesByAccount(ctx context.Context, accountAddress string) ([]model.TokenBalance, error) {
	const query = `SELECT account_address, token_address, balance, block_number, last_updated_block FROM token_balances WHERE account_address = $1`
	rows, err := s.pool.Query(ctx, query, accountAddress)
	if err != nil {
		return nil, fmt.Errorf("storage: token balances by account: %w", err)
	}
	defer rows.Close()

	var out []model.TokenBalance
	for rows.Next() {
		var tb model.TokenBalance
		if err := rows.Scan(&tb.AccountAddress, &tb.TokenAddress, &tb.Balance, &tb.BlockNumber, &tb.LastUpdatedBlock); err != nil {
			return nil, fmt.Errorf("storage: scan token balance: %w", err)
		}
		out = append(out, tb)
	}
	return out, rows.Err()
}
