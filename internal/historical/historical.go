// Package historical implements the Historical Count Service (L5): a
// single cached number, the count of transactions canonically recorded
// before the indexer's start block, resolved once at startup from an
// external analytical warehouse and falling back to a hard-coded
// piecewise estimator when the warehouse is unreachable or unconfigured.
package historical

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"

	"github.com/csic/platform/blockchain/indexer/internal/storage"
)

// warehouseTimeout bounds the analytical warehouse round trip (§5).
const warehouseTimeout = 30 * time.Second

// warehouseScope is the read-only BigQuery scope requested for the
// service-account token backing the canonical_tx_table query.
const warehouseScope = "https://www.googleapis.com/auth/bigquery.readonly"

// milestone is one row of the piecewise linear estimator, each giving an
// approximate transactions-per-block rate for chain activity up to
// UpToBlock.
type milestone struct {
	UpToBlock      uint64
	TxPerBlock     float64
}

// estimatorMilestones are hard-coded approximations of Ethereum mainnet
// transaction density across its history, used only when the warehouse
// is unreachable.
var estimatorMilestones = []milestone{
	{UpToBlock: 1_000_000, TxPerBlock: 2},
	{UpToBlock: 4_000_000, TxPerBlock: 15},
	{UpToBlock: 8_000_000, TxPerBlock: 60},
	{UpToBlock: 12_000_000, TxPerBlock: 110},
	{UpToBlock: 15_000_000, TxPerBlock: 150},
	{UpToBlock: 18_000_000, TxPerBlock: 170},
}

// estimate sums the piecewise rate across milestone ranges up to
// startBlock, falling back to the last known rate for anything beyond
// the final milestone.
func estimate(startBlock uint64) uint64 {
	var total float64
	var prev uint64
	lastRate := estimatorMilestones[0].TxPerBlock
	for _, m := range estimatorMilestones {
		upper := m.UpToBlock
		if upper > startBlock {
			upper = startBlock
		}
		if upper > prev {
			total += float64(upper-prev) * m.TxPerBlock
		}
		prev = m.UpToBlock
		lastRate = m.TxPerBlock
		if startBlock <= m.UpToBlock {
			return uint64(total)
		}
	}
	if startBlock > prev {
		total += float64(startBlock-prev) * lastRate
	}
	return uint64(total)
}

// Service holds the resolved transactions-before-start-block value
// behind a shared read-write cell; consumers never block on the
// warehouse after startup resolution completes.
type Service struct {
	mu    sync.RWMutex
	value uint64

	store                   *storage.Store
	warehouseCredentialPath string
	warehouseDatasetURL     string
	logger                  *zap.Logger
	httpClient              *http.Client
}

// New constructs a Service. warehouseDatasetURL is the HTTP endpoint the
// resolved OAuth2 client POSTs its query to; an empty credential path
// skips the warehouse entirely and goes straight to the estimator.
func New(store *storage.Store, warehouseCredentialPath, warehouseDatasetURL string, logger *zap.Logger) *Service {
	return &Service{
		store:                   store,
		warehouseCredentialPath: warehouseCredentialPath,
		warehouseDatasetURL:     warehouseDatasetURL,
		logger:                  logger,
		httpClient:              &http.Client{Timeout: warehouseTimeout},
	}
}

// Resolve implements the §4.5 algorithm: cache hit, else warehouse,
// else estimator. It must be called once at startup before Value is
// read by other components.
func (s *Service) Resolve(ctx context.Context, startBlock uint64) error {
	cached, err := s.store.GetStartBlockCache(ctx)
	if err != nil {
		return fmt.Errorf("historical: read start block cache: %w", err)
	}
	if cached != nil && cached.TotalTransactionsBefore != nil {
		s.set(*cached.TotalTransactionsBefore)
		return nil
	}

	if s.warehouseCredentialPath != "" {
		total, err := s.queryWarehouse(ctx, startBlock)
		if err == nil {
			s.set(total)
			if err := s.store.SetTotalTransactionsBefore(ctx, total); err != nil {
				s.logger.Warn("historical: failed to persist warehouse result", zap.Error(err))
			}
			return nil
		}
		s.logger.Warn("historical: warehouse query failed, falling back to estimator", zap.Error(err))
	}

	est := estimate(startBlock)
	s.logger.Warn("historical: using piecewise estimator for transactions before start block",
		zap.Uint64("start_block", startBlock), zap.Uint64("estimate", est))
	s.set(est)
	return nil
}

// queryWarehouse authenticates with the service-account key at
// warehouseCredentialPath and issues the canonical_tx_table count query.
func (s *Service) queryWarehouse(ctx context.Context, startBlock uint64) (uint64, error) {
	keyJSON, err := os.ReadFile(s.warehouseCredentialPath)
	if err != nil {
		return 0, fmt.Errorf("read warehouse credential: %w", err)
	}

	cfg, err := google.JWTConfigFromJSON(keyJSON, warehouseScope)
	if err != nil {
		return 0, fmt.Errorf("parse warehouse credential: %w", err)
	}

	client := cfg.Client(ctx)
	client.Timeout = warehouseTimeout

	body, err := json.Marshal(map[string]any{
		"query": "SELECT COUNT(*) AS total_transactions FROM canonical_tx_table WHERE block_number <= @target",
		"params": map[string]any{"target": startBlock},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal warehouse query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.warehouseDatasetURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build warehouse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("warehouse request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("warehouse returned HTTP %d", resp.StatusCode)
	}

	var out struct {
		TotalTransactions uint64 `json:"total_transactions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode warehouse response: %w", err)
	}
	return out.TotalTransactions, nil
}

func (s *Service) set(v uint64) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// Value returns the resolved transactions-before-start-block count.
func (s *Service) Value() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}
