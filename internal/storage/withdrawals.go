package storage

import (
	"context"
	"fmt"

	"github.com/csic/platform/blockchain/indexer/internal/model"
)

// InsertWithdrawalIfAbsent inserts a withdrawal row unless one already
// exists for (block_number, withdrawal_index), so repeated observations
// of the same block produce exactly one row (§8 Withdrawal uniqueness).
func (s *Store) InsertWithdrawalIfAbsent(ctx context.Context, w model.Withdrawal) error {
	const query = `
INSERT INTO withdrawals (block_number, withdrawal_index, validator_index, address, amount)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (block_number, withdrawal_index) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, w.BlockNumber, w.WithdrawalIndex, w.ValidatorIndex, w.Address, w.Amount); err != nil {
		return fmt.Errorf("storage: insert withdrawal (block %d, index %d): %w", w.BlockNumber, w.WithdrawalIndex, err)
	}
	return nil
}

// WithdrawalsByBlock returns every withdrawal for a block, ordered by
// withdrawal_index.
func (s *Store) WithdrawalsByBlock(ctx context.Context, blockNumber uint64) ([]model.Withdrawal, error) {
	const query = `SELECT block_number, withdrawal_index, validator_index, address, amount FROM withdrawals WHERE block_number = $1 ORDER BY withdrawal_index ASC`
	rows, err := s.pool.Query(ctx, query, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("storage: withdrawals by block: %w", err)
	}
	defer rows.Close()

	var out []model.Withdrawal
	for rows.Next() {
		var w model.Withdrawal
		if err := rows.Scan(&w.BlockNumber, &w.WithdrawalIndex, &w.ValidatorIndex, &w.Address, &w.Amount); err != nil {
			return nil, fmt.Errorf("storage: scan withdrawal: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
