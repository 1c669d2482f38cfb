package storage

import (
	"context"
	"fmt"

	"github.com/csic/platform/blockchain/indexer/internal/model"
)

// UpsertBlock inserts or overwrites the block row keyed by Number. All
// columns besides the primary key are overwritten on conflict so
// re-observing a block is idempotent (§3, §8 Idempotence of block
// persistence).
func (s *Store) UpsertBlock(ctx context.Context, b model.Block) error {
	const query = `
INSERT INTO blocks (
	number, hash, parent_hash, timestamp, gas_used, gas_limit, transaction_count,
	miner, difficulty, size_bytes, base_fee_per_gas, extra_data, state_root, nonce,
	withdrawals_root, blob_gas_used, excess_blob_gas, withdrawal_count,
	slot, proposer_index, epoch, slot_root, parent_root, beacon_deposit_count,
	graffiti, randao_reveal, randao_mix
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13, $14,
	$15, $16, $17, $18,
	$19, $20, $21, $22, $23, $24,
	$25, $26, $27
)
ON CONFLICT (number) DO UPDATE SET
	hash = EXCLUDED.hash,
	parent_hash = EXCLUDED.parent_hash,
	timestamp = EXCLUDED.timestamp,
	gas_used = EXCLUDED.gas_used,
	gas_limit = EXCLUDED.gas_limit,
	transaction_count = EXCLUDED.transaction_count,
	miner = EXCLUDED.miner,
	difficulty = EXCLUDED.difficulty,
	size_bytes = EXCLUDED.size_bytes,
	base_fee_per_gas = EXCLUDED.base_fee_per_gas,
	extra_data = EXCLUDED.extra_data,
	state_root = EXCLUDED.state_root,
	nonce = EXCLUDED.nonce,
	withdrawals_root = EXCLUDED.withdrawals_root,
	blob_gas_used = EXCLUDED.blob_gas_used,
	excess_blob_gas = EXCLUDED.excess_blob_gas,
	withdrawal_count = EXCLUDED.withdrawal_count,
	slot = EXCLUDED.slot,
	proposer_index = EXCLUDED.proposer_index,
	epoch = EXCLUDED.epoch,
	slot_root = EXCLUDED.slot_root,
	parent_root = EXCLUDED.parent_root,
	beacon_deposit_count = EXCLUDED.beacon_deposit_count,
	graffiti = EXCLUDED.graffiti,
	randao_reveal = EXCLUDED.randao_reveal,
	randao_mix = EXCLUDED.randao_mix
`
	_, err := s.pool.Exec(ctx, query,
		b.Number, b.Hash, b.ParentHash, b.Timestamp, b.GasUsed, b.GasLimit, b.TransactionCount,
		b.Miner, b.Difficulty, b.SizeBytes, b.BaseFeePerGas, b.ExtraData, b.StateRoot, b.Nonce,
		b.WithdrawalRoot, b.BlobGasUsed, b.ExcessBlobGas, b.WithdrawalCount,
		b.Slot, b.ProposerIndex, b.Epoch, b.SlotRoot, b.ParentRoot, b.BeaconDepositCount,
		b.Graffiti, b.RandaoReveal, b.RandaoMix,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert block %d: %w", b.Number, err)
	}
	return nil
}

// BlockByNumber returns the block row for number, or nil if absent.
func (s *Store) BlockByNumber(ctx context.Context, number uint64) (*model.Block, error) {
	const query = `
SELECT number, hash, parent_hash, timestamp, gas_used, gas_limit, transaction_count,
	miner, difficulty, size_bytes, base_fee_per_gas, extra_data, state_root, nonce,
	withdrawals_root, blob_gas_used, excess_blob_gas, withdrawal_count,
	slot, proposer_index, epoch, slot_root, parent_root, beacon_deposit_count,
	graffiti, randao_reveal, randao_mix
FROM blocks WHERE number = $1`
	return s.scanBlock(s.pool.QueryRow(ctx, query, number))
}

// BlockByHash returns the block row for hash, or nil if absent.
func (s *Store) BlockByHash(ctx context.Context, hash string) (*model.Block, error) {
	const query = `
SELECT number, hash, parent_hash, timestamp, gas_used, gas_limit, transaction_count,
	miner, difficulty, size_bytes, base_fee_per_gas, extra_data, state_root, nonce,
	withdrawals_root, blob_gas_used, excess_blob_gas, withdrawal_count,
	slot, proposer_index, epoch, slot_root, parent_root, beacon_deposit_count,
	graffiti, randao_reveal, randao_mix
FROM blocks WHERE hash = $1`
	return s.scanBlock(s.pool.QueryRow(ctx, query, hash))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanBlock(row rowScanner) (*model.Block, error) {
	var b model.Block
	err := row.Scan(
		&b.Number, &b.Hash, &b.ParentHash, &b.Timestamp, &b.GasUsed, &b.GasLimit, &b.TransactionCount,
		&b.Miner, &b.Difficulty, &b.SizeBytes, &b.BaseFeePerGas, &b.ExtraData, &b.StateRoot, &b.Nonce,
		&b.WithdrawalRoot, &b.BlobGasUsed, &b.ExcessBlobGas, &b.WithdrawalCount,
		&b.Slot, &b.ProposerIndex, &b.Epoch, &b.SlotRoot, &b.ParentRoot, &b.BeaconDepositCount,
		&b.Graffiti, &b.RandaoReveal, &b.RandaoMix,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: scan block: %w", err)
	}
	return &b, nil
}

// ListBlocks returns a page of blocks ordered by number descending.
func (s *Store) ListBlocks(ctx context.Context, page, perPage int) ([]model.Block, int, error) {
	offset := model.Offset(page, perPage)
	limit := perPage
	if limit < 1 || limit > model.MaxPerPage {
		limit = model.MaxPerPage
	}

	const query = `
SELECT number, hash, parent_hash, timestamp, gas_used, gas_limit, transaction_count,
	miner, difficulty, size_bytes, base_fee_per_gas, extra_data, state_root, nonce,
	withdrawals_root, blob_gas_used, excess_blob_gas, withdrawal_count,
	slot, proposer_index, epoch, slot_root, parent_root, beacon_deposit_count,
	graffiti, randao_reveal, randao_mix
FROM blocks ORDER BY number DESC LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list blocks: %w", err)
	}
	defer rows.Close()

	var out []model.Block
	for rows.Next() {
		b, err := s.scanBlock(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: list blocks: %w", err)
	}

	total, err := s.BlockCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// BlockCount returns the total number of indexed blocks.
func (s *Store) BlockCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count blocks: %w", err)
	}
	return n, nil
}

// LatestBlockNumber returns the highest indexed block number, or 0 if the
// table is empty. ok is false when empty.
func (s *Store) LatestBlockNumber(ctx context.Context) (number uint64, ok bool, err error) {
	var n *uint64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(number) FROM blocks`).Scan(&n); err != nil {
		return 0, false, fmt.Errorf("storage: latest block number: %w", err)
	}
	if n == nil {
		return 0, false, nil
	}
	return *n, true, nil
}

// DeclaredTransactionCount sums each block's self-reported
// transaction_count, as distinct from the number of transaction rows
// actually persisted (§4.10 "declared-transaction count").
func (s *Store) DeclaredTransactionCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(transaction_count), 0) FROM blocks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: declared transaction count: %w", err)
	}
	return n, nil
}
