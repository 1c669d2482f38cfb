package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/csic/platform/blockchain/indexer/internal/model"
)

// InsertTransactionsBatch upserts N transactions as a single multi-row
// statement. Re-observing a transaction hash overwrites every column,
// including block_number, so a reorg's final observation wins (§8
// Transaction upsert determinism).
func (s *Store) InsertTransactionsBatch(ctx context.Context, txs []model.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	const cols = 9
	var sb strings.Builder
	sb.WriteString(`INSERT INTO transactions (hash, block_number, from_address, to_address, value, gas_used, gas_price, status, transaction_index) VALUES `)
	args := make([]any, 0, len(txs)*cols)
	for i, tx := range txs {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * cols
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args, tx.Hash, tx.BlockNumber, tx.FromAddress, tx.ToAddress, tx.Value, tx.GasUsed, tx.GasPrice, tx.Status, tx.TransactionIndex)
	}
	sb.WriteString(` ON CONFLICT (hash) DO UPDATE SET
		block_number = EXCLUDED.block_number,
		from_address = EXCLUDED.from_address,
		to_address = EXCLUDED.to_address,
		value = EXCLUDED.value,
		gas_used = EXCLUDED.gas_used,
		gas_price = EXCLUDED.gas_price,
		status = EXCLUDED.status,
		transaction_index = EXCLUDED.transaction_index`)

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("storage: insert transactions batch (%d rows): %w", len(txs), err)
	}
	return nil
}

// TransactionByHash returns a transaction row, or nil if absent. Its logs
// are read separately with LogsByTransaction.
func (s *Store) TransactionByHash(ctx context.Context, hash string) (*model.Transaction, error) {
	const query = `SELECT hash, block_number, from_address, to_address, value, gas_used, gas_price, status, transaction_index FROM transactions WHERE hash = $1`
	var tx model.Transaction
	err := s.pool.QueryRow(ctx, query, hash).Scan(
		&tx.Hash, &tx.BlockNumber, &tx.FromAddress, &tx.ToAddress, &tx.Value, &tx.GasUsed, &tx.GasPrice, &tx.Status, &tx.TransactionIndex,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: transaction by hash: %w", err)
	}
	return &tx, nil
}

// TransactionsByBlock returns every transaction in a block, ordered by
// transaction_index (§8 round-trip behaviour).
func (s *Store) TransactionsByBlock(ctx context.Context, blockNumber uint64) ([]model.Transaction, error) {
	const query = `SELECT hash, block_number, from_address, to_address, value, gas_used, gas_price, status, transaction_index FROM transactions WHERE block_number = $1 ORDER BY transaction_index ASC`
	rows, err := s.pool.Query(ctx, query, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("storage: transactions by block: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		if err := rows.Scan(&tx.Hash, &tx.BlockNumber, &tx.FromAddress, &tx.ToAddress, &tx.Value, &tx.GasUsed, &tx.GasPrice, &tx.Status, &tx.TransactionIndex); err != nil {
			return nil, fmt.Errorf("storage: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// TransactionFilter narrows ListTransactions by status and/or block range.
type TransactionFilter struct {
	Status     *int
	FromBlock  *uint64
	ToBlock    *uint64
}

// ListTransactions returns a filtered, paginated slice of transactions
// ordered by block_number descending, transaction_index ascending.
func (s *Store) ListTransactions(ctx context.Context, filter TransactionFilter, page, perPage int) ([]model.Transaction, int, error) {
	var where []string
	var args []any
	add := func(clause string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.FromBlock != nil {
		add("block_number >= $%d", *filter.FromBlock)
	}
	if filter.ToBlock != nil {
		add("block_number <= $%d", *filter.ToBlock)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	limit := perPage
	if limit < 1 || limit > model.MaxPerPage {
		limit = model.MaxPerPage
	}
	offset := model.Offset(page, perPage)

	query := fmt.Sprintf(`SELECT hash, block_number, from_address, to_address, value, gas_used, gas_price, status, transaction_index
FROM transactions %s ORDER BY block_number DESC, transaction_index ASC LIMIT $%d OFFSET $%d`, whereClause, len(args)+1, len(args)+2)
	queryArgs := append(append([]any{}, args...), limit, offset)

	rows, err := s.pool.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list transactions: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		if err := rows.Scan(&tx.Hash, &tx.BlockNumber, &tx.FromAddress, &tx.ToAddress, &tx.Value, &tx.GasUsed, &tx.GasPrice, &tx.Status, &tx.TransactionIndex); err != nil {
			return nil, 0, fmt.Errorf("storage: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: list transactions: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM transactions %s`, whereClause)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count transactions: %w", err)
	}
	return out, total, nil
}

// TransactionCount returns the total number of indexed transactions.
func (s *Store) TransactionCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count transactions: %w", err)
	}
	return n, nil
}

// TransactionsSince returns transactions observed in blocks strictly
// greater than afterBlock, for live-feed delta queries (§4.10).
func (s *Store) TransactionsSince(ctx context.Context, afterBlock uint64, limit int) ([]model.Transaction, error) {
	if limit < 1 || limit > model.MaxPerPage {
		limit = model.MaxPerPage
	}
	const query = `SELECT hash, block_number, from_address, to_address, value, gas_used, gas_price, status, transaction_index
FROM transactions WHERE block_number > $1 ORDER BY block_number ASC, transaction_index ASC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, afterBlock, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: transactions since: %w", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		if err := rows.Scan(&tx.Hash, &tx.BlockNumber, &tx.FromAddress, &tx.ToAddress, &tx.Value, &tx.GasUsed, &tx.GasPrice, &tx.Status, &tx.TransactionIndex); err != nil {
			return nil, fmt.Errorf("storage: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
