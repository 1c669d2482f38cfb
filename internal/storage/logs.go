package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/csic/platform/blockchain/indexer/internal/model"
)

// InsertLogsBatch appends N log rows as a single multi-row statement.
// Logs are append-only; a conflicting (transaction_hash, log_index) pair
// (a re-observed block) overwrites in place, matching the upsert policy
// used for every other re-observable row.
func (s *Store) InsertLogsBatch(ctx context.Context, logs []model.Log) error {
	if len(logs) == 0 {
		return nil
	}

	const cols = 9
	var sb strings.Builder
	sb.WriteString(`INSERT INTO logs (transaction_hash, block_number, address, topic0, topic1, topic2, topic3, data, log_index) VALUES `)
	args := make([]any, 0, len(logs)*cols)
	for i, l := range logs {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * cols
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9)
		args = append(args, l.TransactionHash, l.BlockNumber, l.Address, l.Topic0, l.Topic1, l.Topic2, l.Topic3, l.Data, l.LogIndex)
	}
	sb.WriteString(` ON CONFLICT (transaction_hash, log_index) DO UPDATE SET
		block_number = EXCLUDED.block_number,
		address = EXCLUDED.address,
		topic0 = EXCLUDED.topic0,
		topic1 = EXCLUDED.topic1,
		topic2 = EXCLUDED.topic2,
		topic3 = EXCLUDED.topic3,
		data = EXCLUDED.data`)

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("storage: insert logs batch (%d rows): %w", len(logs), err)
	}
	return nil
}

// LogsByTransaction returns every log for a transaction, ordered by
// log_index.
func (s *Store) LogsByTransaction(ctx context.Context, txHash string) ([]model.Log, error) {
	const query = `SELECT transaction_hash, block_number, address, topic0, topic1, topic2, topic3, data, log_index FROM logs WHERE transaction_hash = $1 ORDER BY log_index ASC`
	rows, err := s.pool.Query(ctx, query, txHash)
	if err != nil {
		return nil, fmt.Errorf("storage: logs by transaction: %w", err)
	}
	defer rows.Close()

	var out []model.Log
	for rows.Next() {
		var l model.Log
		if err := rows.Scan(&l.TransactionHash, &l.BlockNumber, &l.Address, &l.Topic0, &l.Topic1, &l.Topic2, &l.Topic3, &l.Data, &l.LogIndex); err != nil {
			return nil, fmt.Errorf("storage: scan log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
