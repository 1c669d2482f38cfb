package storage

import (
	"context"
	"fmt"

	"github.com/csic/platform/blockchain/indexer/internal/model"
)

// GetStartBlockCache returns the singleton start-block-cache row, or nil
// if the indexer has never resolved a start block.
func (s *Store) GetStartBlockCache(ctx context.Context) (*model.StartBlockCache, error) {
	const query = `SELECT start_block, total_transactions_before FROM start_block_cache WHERE id = 1`
	var c model.StartBlockCache
	err := s.pool.QueryRow(ctx, query).Scan(&c.StartBlock, &c.TotalTransactionsBefore)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: get start block cache: %w", err)
	}
	return &c, nil
}

// SetStartBlock persists the resolved start block on first launch.
func (s *Store) SetStartBlock(ctx context.Context, startBlock uint64) error {
	const query = `
INSERT INTO start_block_cache (id, start_block) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE SET start_block = EXCLUDED.start_block`
	if _, err := s.pool.Exec(ctx, query, startBlock); err != nil {
		return fmt.Errorf("storage: set start block: %w", err)
	}
	return nil
}

// SetTotalTransactionsBefore persists the historical count service's
// resolved value.
func (s *Store) SetTotalTransactionsBefore(ctx context.Context, total uint64) error {
	const query = `UPDATE start_block_cache SET total_transactions_before = $1 WHERE id = 1`
	if _, err := s.pool.Exec(ctx, query, total); err != nil {
		return fmt.Errorf("storage: set total transactions before: %w", err)
	}
	return nil
}
