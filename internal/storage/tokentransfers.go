package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/csic/platform/blockchain/indexer/internal/model"
)

// InsertTokenTransfersBatch appends N token-transfer rows as a single
// multi-row statement. Append-only: no natural uniqueness key, so
// re-observation of a block would duplicate rows — callers rely on the
// idempotent block/transaction upserts to avoid reprocessing a block's
// logs twice in steady-state operation.
func (s *Store) InsertTokenTransfersBatch(ctx context.Context, transfers []model.TokenTransfer) error {
	if len(transfers) == 0 {
		return nil
	}

	const cols = 7
	var sb strings.Builder
	sb.WriteString(`INSERT INTO token_transfers (transaction_hash, block_number, token_address, from_address, to_address, amount, token_type, token_id) VALUES `)
	args := make([]any, 0, len(transfers)*(cols+1))
	for i, t := range transfers {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * (cols + 1)
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, t.TransactionHash, t.BlockNumber, t.TokenAddress, t.FromAddress, t.ToAddress, t.Amount, string(t.TokenType), t.TokenID)
	}

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("storage: insert token transfers batch (%d rows): %w", len(transfers), err)
	}
	return nil
}

// TokenTransfersByTransaction returns every token transfer derived from
// one transaction's logs.
func (s *Store) TokenTransfersByTransaction(ctx context.Context, txHash string) ([]model.TokenTransfer, error) {
	const query = `SELECT transaction_hash, block_number, token_address, from_address, to_address, amount, token_type, token_id FROM token_transfers WHERE transaction_hash = $1`
	rows, err := s.pool.Query(ctx, query, txHash)
	if err != nil {
		return nil, fmt.Errorf("storage: token transfers by transaction: %w", err)
	}
	defer rows.Close()

	var out []model.TokenTransfer
	for rows.Next() {
		var t model.TokenTransfer
		var tokenType string
		if err := rows.Scan(&t.TransactionHash, &t.BlockNumber, &t.TokenAddress, &t.FromAddress, &t.ToAddress, &t.Amount, &tokenType, &t.TokenID); err != nil {
			return nil, fmt.Errorf("storage: scan token transfer: %w", err)
		}
		t.TokenType = model.TokenType(tokenType)
		out = append(out, t)
	}
	return out, rows.Err()
}
