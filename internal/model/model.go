// Package model holds the persistent entities shared by the storage,
// indexing, and read-API layers. Every on-chain integer that can exceed
// 64-bit precision (balances, fees, token amounts) is carried as a decimal
// string end to end; arithmetic on those values happens with math/big in
// memory, never as float64.
package model

import "time"

// TokenType tags the kind of contract a TokenTransfer or Token row refers
// to. The indexer only decodes the ERC-20 Transfer topic, so ERC721 and
// ERC1155 are recognized tags but never produced by the transaction
// processor today.
type TokenType string

const (
	TokenTypeERC20   TokenType = "ERC20"
	TokenTypeERC721  TokenType = "ERC721"
	TokenTypeERC1155 TokenType = "ERC1155"
)

// Block is one row of the canonical execution chain, keyed by Number.
// Re-observing a block overwrites every other column (idempotent upsert).
type Block struct {
	Number           uint64
	Hash             string
	ParentHash       string
	Timestamp        uint64
	GasUsed          uint64
	GasLimit         uint64
	TransactionCount int

	Miner          *string
	Difficulty     *string
	SizeBytes      *uint64
	BaseFeePerGas  *string
	ExtraData      *string
	StateRoot      *string
	Nonce          *string
	WithdrawalRoot *string
	BlobGasUsed    *uint64
	ExcessBlobGas  *uint64
	WithdrawalCount *int

	Slot               *uint64
	ProposerIndex      *uint64
	Epoch              *uint64
	SlotRoot           *string
	ParentRoot         *string
	BeaconDepositCount *uint64
	Graffiti           *string
	RandaoReveal       *string
	RandaoMix          *string
}

// Transaction is keyed by Hash; (BlockNumber, TransactionIndex) is unique
// within a block.
type Transaction struct {
	Hash             string
	BlockNumber      uint64
	FromAddress      string
	ToAddress        *string
	Value            string
	GasUsed          uint64
	GasPrice         string
	Status           int
	TransactionIndex int
}

// Log is append-only; natural identity is (TransactionHash, LogIndex).
type Log struct {
	TransactionHash string
	BlockNumber     uint64
	Address         string
	Topic0          *string
	Topic1          *string
	Topic2          *string
	Topic3          *string
	Data            string
	LogIndex        int
}

// TokenTransfer is a derived, append-only record produced when a Log
// matches the ERC-20 Transfer topic signature.
type TokenTransfer struct {
	TransactionHash string
	BlockNumber     uint64
	TokenAddress    string
	FromAddress     string
	ToAddress       string
	Amount          string
	TokenType       TokenType
	TokenID         *string
}

// Account is keyed by Address. TransactionCount counts observations made
// by this indexer, not the on-chain nonce.
type Account struct {
	Address          string
	Balance          string
	TransactionCount uint64
	FirstSeenBlock   uint64
	LastSeenBlock    uint64
}

// Withdrawal is keyed by (BlockNumber, WithdrawalIndex); insert-if-absent.
type Withdrawal struct {
	BlockNumber     uint64
	WithdrawalIndex uint64
	ValidatorIndex  uint64
	Address         string
	Amount          string
}

// Token is keyed by Address. Each upsert preserves existing non-null
// metadata, advances LastSeenBlock and increments TotalTransfers. The
// token subsystem's Discover upserts only when no row exists yet, so it
// does not advance these for an already-known token.
type Token struct {
	Address        string
	Name           *string
	Symbol         *string
	Decimals       *int
	TokenType      TokenType
	FirstSeenBlock uint64
	LastSeenBlock  uint64
	TotalTransfers uint64
}

// TokenBalance is keyed by (AccountAddress, TokenAddress); upsert
// overwrites.
type TokenBalance struct {
	AccountAddress   string
	TokenAddress     string
	Balance          string
	BlockNumber      uint64
	LastUpdatedBlock uint64
}

// StartBlockCache is the singleton row recording the resolved start block
// and, once resolved, the historical transaction count before it.
type StartBlockCache struct {
	StartBlock               uint64
	TotalTransactionsBefore  *uint64
}

// Pagination is the metadata attached to every paginated read-API result.
type Pagination struct {
	CurrentPage int
	PerPage     int
	Total       int
	TotalPages  int
	HasNext     bool
}

// MaxPerPage is the hard cap applied to every caller-requested page size.
const MaxPerPage = 100

// NewPagination computes pagination metadata for a result set, clamping
// perPage to MaxPerPage and page to a minimum of 1.
func NewPagination(page, perPage, total int) Pagination {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	totalPages := total / perPage
	if total%perPage != 0 {
		totalPages++
	}
	return Pagination{
		CurrentPage: page,
		PerPage:     perPage,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
	}
}

// Offset returns the SQL OFFSET for a given page/perPage pair, after the
// same clamping NewPagination applies.
func Offset(page, perPage int) int {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return (page - 1) * perPage
}

// Stats is the aggregate summary exposed by the read API.
type Stats struct {
	LatestBlock               uint64
	BlockCount                int
	TransactionCount          int
	DeclaredTransactionCount  int64
	AccountCount              int
	TotalTransactions         uint64
	SyncPercent               float64
	IndexingPercent           float64
	AsOf                      time.Time
}
