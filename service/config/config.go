package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/solflow/service/ledger"
	"github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	MetricsAddr string
	LogLevel    string

	// Database configuration
	DatabaseURL string

	// ClickHouse configuration; empty disables the warehouse sink
	ClickHouseDSN string

	// NATS configuration; empty disables event publishing
	NATSURL string

	// Solana configuration. SOLANA_RPC_URL may hold several comma-separated endpoints.
	SolanaRPCURL string

	// Ledger configuration
	Whitelist      ledger.Whitelist
	ExtractWorkers int
	UndoRetention  int

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Follow configuration
	FollowInterval time.Duration
	MaxSlotsPerRun int
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.ClickHouseDSN = os.Getenv("CLICKHOUSE_DSN")
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if len(cfg.RPCEndpoints()) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	// Ledger configuration
	cfg.Whitelist = ledger.ParseWhitelist(os.Getenv("WALLET_WHITELIST"))
	for _, addr := range cfg.Whitelist.Addresses() {
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			errs = append(errs, fmt.Errorf("WALLET_WHITELIST: invalid address %q: %w", addr, err))
		}
	}

	workers, err := parseInt("EXTRACT_WORKERS", 0)
	if err != nil {
		errs = append(errs, err)
	} else if workers < 0 {
		errs = append(errs, fmt.Errorf("EXTRACT_WORKERS cannot be negative"))
	} else {
		cfg.ExtractWorkers = workers
	}

	retention, err := parseInt("UNDO_RETENTION", 150)
	if err != nil {
		errs = append(errs, err)
	} else if retention < 1 {
		errs = append(errs, fmt.Errorf("UNDO_RETENTION must be at least 1"))
	} else {
		cfg.UndoRetention = retention
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "solflow-ledger")

	// Follow configuration
	interval, err := parseDuration("FOLLOW_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else if interval < time.Second {
		errs = append(errs, fmt.Errorf("FOLLOW_INTERVAL must be at least 1 second"))
	} else {
		cfg.FollowInterval = interval
	}

	maxSlots, err := parseInt("MAX_SLOTS_PER_RUN", 100)
	if err != nil {
		errs = append(errs, err)
	} else if maxSlots < 1 {
		errs = append(errs, fmt.Errorf("MAX_SLOTS_PER_RUN must be at least 1"))
	} else {
		cfg.MaxSlotsPerRun = maxSlots
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// RPCEndpoints splits SolanaRPCURL into its endpoints, dropping empty entries.
func (c *Config) RPCEndpoints() []string {
	var out []string
	for _, part := range strings.Split(c.SolanaRPCURL, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if len(c.RPCEndpoints()) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ExtractWorkers < 0 {
		errs = append(errs, fmt.Errorf("ExtractWorkers cannot be negative"))
	}

	if c.UndoRetention < 1 {
		errs = append(errs, fmt.Errorf("UndoRetention must be at least 1"))
	}

	if c.FollowInterval < time.Second {
		errs = append(errs, fmt.Errorf("FollowInterval must be at least 1 second"))
	}

	if c.MaxSlotsPerRun < 1 {
		errs = append(errs, fmt.Errorf("MaxSlotsPerRun must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
