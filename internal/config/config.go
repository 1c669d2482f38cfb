// Package config loads indexer configuration from the process environment
// (with .env support), following the shape used across the platform's
// other services: viper defaults, mapstructure unmarshal, then explicit
// validation of the fields that are fatal to start without.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full set of environment-driven knobs for the indexer.
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`

	EthRPCURL    string `mapstructure:"eth_rpc_url"`
	BeaconRPCURL string `mapstructure:"beacon_rpc_url"`

	APIPort int `mapstructure:"api_port"`

	StartBlock int64 `mapstructure:"start_block"`

	MaxConcurrentBlocks     int `mapstructure:"max_concurrent_blocks"`
	WorkerPoolSize          int `mapstructure:"worker_pool_size"`
	MaxConcurrentTxReceipts int `mapstructure:"max_concurrent_tx_receipts"`
	BlockQueueSizeMultiplier int `mapstructure:"block_queue_size_multiplier"`

	EthRPCMinIntervalMS    int `mapstructure:"eth_rpc_min_interval_ms"`
	BeaconRPCMinIntervalMS int `mapstructure:"beacon_rpc_min_interval_ms"`
	EthRPCMaxConcurrent    int `mapstructure:"eth_rpc_max_concurrent"`
	BeaconRPCMaxConcurrent int `mapstructure:"beacon_rpc_max_concurrent"`

	AccountBatchSize            int `mapstructure:"account_batch_size"`
	RPCBatchSize                 int `mapstructure:"rpc_batch_size"`
	MaxConcurrentBalanceFetches int `mapstructure:"max_concurrent_balance_fetches"`
	AccountBatchSleepMS         int `mapstructure:"account_batch_sleep_ms"`

	TokenBalanceUpdateIntervalMS int `mapstructure:"token_balance_update_interval_ms"`
	TokenRefreshIntervalMS       int `mapstructure:"token_refresh_interval_ms"`

	SyncDelaySeconds        int `mapstructure:"sync_delay_seconds"`
	BlockFetchIntervalSeconds int `mapstructure:"block_fetch_interval_seconds"`
	WorkerTimeoutSeconds    int `mapstructure:"worker_timeout_seconds"`

	WarehouseCredentialPath string `mapstructure:"warehouse_credential_path"`
	WarehouseDatasetURL     string `mapstructure:"warehouse_dataset_url"`

	KafkaBrokers string `mapstructure:"kafka_brokers"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from a .env file (if present), the process
// environment, and viper defaults, then validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	bind := func(key string) {
		_ = viper.BindEnv(key, strings.ToUpper(key))
	}
	for _, key := range []string{
		"database_url", "eth_rpc_url", "beacon_rpc_url", "api_port", "start_block",
		"max_concurrent_blocks", "worker_pool_size", "max_concurrent_tx_receipts",
		"block_queue_size_multiplier", "eth_rpc_min_interval_ms", "beacon_rpc_min_interval_ms",
		"eth_rpc_max_concurrent", "beacon_rpc_max_concurrent", "account_batch_size",
		"rpc_batch_size", "max_concurrent_balance_fetches", "account_batch_sleep_ms", "token_balance_update_interval_ms",
		"token_refresh_interval_ms", "sync_delay_seconds", "block_fetch_interval_seconds",
		"worker_timeout_seconds", "warehouse_credential_path", "warehouse_dataset_url", "kafka_brokers", "log_level",
	} {
		bind(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("database_url", "sqlite:./data/indexer.db")
	viper.SetDefault("api_port", 3000)
	viper.SetDefault("start_block", 0)

	viper.SetDefault("max_concurrent_blocks", 8)
	viper.SetDefault("worker_pool_size", 4)
	viper.SetDefault("max_concurrent_tx_receipts", 16)
	viper.SetDefault("block_queue_size_multiplier", 4)

	viper.SetDefault("eth_rpc_min_interval_ms", 50)
	viper.SetDefault("beacon_rpc_min_interval_ms", 100)
	viper.SetDefault("eth_rpc_max_concurrent", 8)
	viper.SetDefault("beacon_rpc_max_concurrent", 4)

	viper.SetDefault("account_batch_size", 50)
	viper.SetDefault("rpc_batch_size", 20)
	viper.SetDefault("max_concurrent_balance_fetches", 10)
	viper.SetDefault("account_batch_sleep_ms", 200)

	viper.SetDefault("token_balance_update_interval_ms", 150)
	viper.SetDefault("token_refresh_interval_ms", 300000)

	viper.SetDefault("sync_delay_seconds", 0)
	viper.SetDefault("block_fetch_interval_seconds", 12)
	viper.SetDefault("worker_timeout_seconds", 10)

	viper.SetDefault("log_level", "info")
}

func validate(cfg *Config) error {
	if cfg.BeaconRPCURL == "" {
		return fmt.Errorf("beacon_rpc_url is required")
	}
	if !strings.HasPrefix(cfg.BeaconRPCURL, "http") && !strings.HasPrefix(cfg.BeaconRPCURL, "ws") {
		return fmt.Errorf("beacon_rpc_url must start with http or ws")
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api_port: %d", cfg.APIPort)
	}
	if cfg.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker_pool_size must be positive")
	}
	if cfg.MaxConcurrentBlocks <= 0 {
		return fmt.Errorf("max_concurrent_blocks must be positive")
	}
	if cfg.BlockQueueSizeMultiplier <= 0 {
		return fmt.Errorf("block_queue_size_multiplier must be positive")
	}
	return nil
}

// QueueCapacity is the bounded block queue size derived from the worker
// pool size and the configured multiplier (§5 queue-bounded memory).
func (c *Config) QueueCapacity() int {
	return c.WorkerPoolSize * c.BlockQueueSizeMultiplier
}

func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutSeconds) * time.Second
}

func (c *Config) BlockFetchInterval() time.Duration {
	return time.Duration(c.BlockFetchIntervalSeconds) * time.Second
}

func (c *Config) EthRPCMinInterval() time.Duration {
	return time.Duration(c.EthRPCMinIntervalMS) * time.Millisecond
}

func (c *Config) BeaconRPCMinInterval() time.Duration {
	return time.Duration(c.BeaconRPCMinIntervalMS) * time.Millisecond
}

func (c *Config) TokenBalanceUpdateInterval() time.Duration {
	return time.Duration(c.TokenBalanceUpdateIntervalMS) * time.Millisecond
}

// AccountBatchSleep is the pause the transaction processor takes between
// chunks of touched-address balance fetches (§4.7 step 3).
func (c *Config) AccountBatchSleep() time.Duration {
	return time.Duration(c.AccountBatchSleepMS) * time.Millisecond
}
