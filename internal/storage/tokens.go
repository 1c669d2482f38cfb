package storage

import (
	"context"
	"fmt"

	"github.com/csic/platform/blockchain/indexer/internal/model"
)

// UpsertToken inserts a token row on first discovery, or on subsequent
// discovery calls preserves existing non-null metadata, advances
// last_seen_block, and increments total_transfers (§4.6 discover_token,
// §3 Token upsert semantics).
func (s *Store) UpsertToken(ctx context.Context, t model.Token) error {
	const query = `
INSERT INTO tokens (address, name, symbol, decimals, token_type, first_seen_block, last_seen_block, total_transfers)
VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
ON CONFLICT (address) DO UPDATE SET
	name = COALESCE(tokens.name, EXCLUDED.name),
	symbol = COALESCE(tokens.symbol, EXCLUDED.symbol),
	decimals = COALESCE(tokens.decimals, EXCLUDED.decimals),
	last_seen_block = GREATEST(tokens.last_seen_block, EXCLUDED.last_seen_block),
	total_transfers = tokens.total_transfers + 1`
	if _, err := s.pool.Exec(ctx, query, t.Address, t.Name, t.Symbol, t.Decimals, string(t.TokenType), t.FirstSeenBlock, t.LastSeenBlock); err != nil {
		return fmt.Errorf("storage: upsert token %s: %w", t.Address, err)
	}
	return nil
}

// TokenByAddress returns a token row, or nil if undiscovered.
func (s *Store) TokenByAddress(ctx context.Context, address string) (*model.Token, error) {
	const query = `SELECT address, name, symbol, decimals, token_type, first_seen_block, last_seen_block, total_transfers FROM tokens WHERE address = $1`
	var t model.Token
	var tokenType string
	err := s.pool.QueryRow(ctx, query, address).Scan(&t.Address, &t.Name, &t.Symbol, &t.Decimals, &tokenType, &t.FirstSeenBlock, &t.LastSeenBlock, &t.TotalTransfers)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: token by address: %w", err)
	}
	t.TokenType = model.TokenType(tokenType)
	return &t, nil
}

// ListTokens returns a paginated slice of tokens ordered by
// total_transfers descending.
func (s *Store) ListTokens(ctx context.Context, page, perPage int) ([]model.Token, int, error) {
	limit := perPage
	if limit < 1 || limit > model.MaxPerPage {
		limit = model.MaxPerPage
	}
	offset := model.Offset(page, perPage)

	const query = `SELECT address, name, symbol, decimals, token_type, first_seen_block, last_seen_block, total_transfers
FROM tokens ORDER BY total_transfers DESC LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list tokens: %w", err)
	}
	defer rows.Close()

	var out []model.Token
	for rows.Next() {
		var t model.Token
		var tokenType string
		if err := rows.Scan(&t.Address, &t.Name, &t.Symbol, &t.Decimals, &tokenType, &t.FirstSeenBlock, &t.LastSeenBlock, &t.TotalTransfers); err != nil {
			return nil, 0, fmt.Errorf("storage: scan token: %w", err)
		}
		t.TokenType = model.TokenType(tokenType)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: list tokens: %w", err)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tokens`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count tokens: %w", err)
	}
	return out, total, nil
}

// TokenHolders returns a paginated slice of token balances for one token,
// ordered by last_updated_block descending (§4.10 token holders).
func (s *Store) TokenHolders(ctx context.Context, tokenAddress string, page, perPage int) ([]model.TokenBalance, int, error) {
	limit := perPage
	if limit < 1 || limit > model.MaxPerPage {
		limit = model.MaxPerPage
	}
	offset := model.Offset(page, perPage)

	const query = `SELECT account_address, token_address, balance, block_number, last_updated_block
FROM token_balances WHERE token_address = $1 ORDER BY last_updated_block DESC LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, tokenAddress, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: token holders: %w", err)
	}
	defer rows.Close()

	var out []model.TokenBalance
	for rows.Next() {
		var tb model.TokenBalance
		if err := rows.Scan(&tb.AccountAddress, &tb.TokenAddress, &tb.Balance, &tb.BlockNumber, &tb.LastUpdatedBlock); err != nil {
			return nil, 0, fmt.Errorf("storage: scan token balance: %w", err)
		}
		out = append(out, tb)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: token holders: %w", err)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM token_balances WHERE token_address = $1`, tokenAddress).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count token holders: %w", err)
	}
	return out, total, nil
}
