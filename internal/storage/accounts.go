package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/csic/platform/blockchain/indexer/internal/model"
)

// InsertAccountsBatch upserts N account rows as a single multi-row
// statement. Duplicate addresses within the same batch are collapsed to
// their last occurrence before building the statement (Postgres cannot
// apply ON CONFLICT DO UPDATE twice against the same key inside one
// INSERT), which is the practical form of the insert-or-ignore tolerance
// §4.4 calls for — the transaction processor already emits at most one
// row per distinct touched address per block, so this is a defensive
// fallback, not the common case.
//
// Monotonicity (§8): first_seen_block is set once and never decreases;
// last_seen_block only advances; transaction_count only increases.
func (s *Store) InsertAccountsBatch(ctx context.Context, accounts []model.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	byAddress := make(map[string]model.Account, len(accounts))
	order := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if _, exists := byAddress[a.Address]; !exists {
			order = append(order, a.Address)
		}
		byAddress[a.Address] = a
	}

	const cols = 5
	var sb strings.Builder
	sb.WriteString(`INSERT INTO accounts (address, balance, transaction_count, first_seen_block, last_seen_block) VALUES `)
	args := make([]any, 0, len(order)*cols)
	for i, addr := range order {
		a := byAddress[addr]
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * cols
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, a.Address, a.Balance, a.TransactionCount, a.FirstSeenBlock, a.LastSeenBlock)
	}
	sb.WriteString(` ON CONFLICT (address) DO UPDATE SET
		balance = EXCLUDED.balance,
		last_seen_block = GREATEST(accounts.last_seen_block, EXCLUDED.last_seen_block),
		transaction_count = accounts.transaction_count + 1`)

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("storage: insert accounts batch (%d rows): %w", len(order), err)
	}
	return nil
}

// AccountByAddress returns an account row, or nil if the address has
// never been observed.
func (s *Store) AccountByAddress(ctx context.Context, address string) (*model.Account, error) {
	const query = `SELECT address, balance, transaction_count, first_seen_block, last_seen_block FROM accounts WHERE address = $1`
	var a model.Account
	err := s.pool.QueryRow(ctx, query, address).Scan(&a.Address, &a.Balance, &a.TransactionCount, &a.FirstSeenBlock, &a.LastSeenBlock)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: account by address: %w", err)
	}
	return &a, nil
}

// AccountCount returns the total number of distinct observed accounts.
func (s *Store) AccountCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count accounts: %w", err)
	}
	return n, nil
}
