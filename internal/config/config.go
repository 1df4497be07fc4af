// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the ledger database (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Contract multipliers per symbol (e.g. ZN -> 1000); DefaultMultiplier
	// applies to symbols without an explicit entry.
	Multipliers       map[string]float64
	DefaultMultiplier float64

	// Bounded-retry discipline for contended store writes
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration

	// Trade-file ingestion
	TradeWatchDir      string
	TradeWatchInterval time.Duration

	// Live tick feed (websocket); empty disables the feed
	TickFeedURL string

	// S3-compatible backup target; empty bucket disables backups.
	// Credentials are optional, the AWS default chain applies when unset.
	BackupBucket    string
	BackupEndpoint  string
	BackupRegion    string
	BackupAccessKey string
	BackupSecretKey string
}

// Load reads configuration from environment variables.
// A .env file is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("LEDGER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	multipliers, err := parseMultipliers(getEnv("CONTRACT_MULTIPLIERS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:            absDataDir,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Port:               getEnvAsInt("GO_PORT", 8001),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		Multipliers:        multipliers,
		DefaultMultiplier:  getEnvAsFloat("DEFAULT_CONTRACT_MULTIPLIER", 1000),
		RetryMaxAttempts:   getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:     time.Duration(getEnvAsInt("RETRY_BASE_DELAY_MS", 100)) * time.Millisecond,
		TradeWatchDir:      getEnv("TRADE_WATCH_DIR", filepath.Join(absDataDir, "incoming")),
		TradeWatchInterval: time.Duration(getEnvAsInt("TRADE_WATCH_INTERVAL_SEC", 30)) * time.Second,
		TickFeedURL:        getEnv("TICK_FEED_URL", ""),
		BackupBucket:       getEnv("BACKUP_S3_BUCKET", ""),
		BackupEndpoint:     getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupRegion:       getEnv("BACKUP_S3_REGION", "auto"),
		BackupAccessKey:    getEnv("BACKUP_S3_ACCESS_KEY", ""),
		BackupSecretKey:    getEnv("BACKUP_S3_SECRET_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MultiplierFor returns the contract multiplier for a symbol
func (c *Config) MultiplierFor(symbol string) float64 {
	if m, ok := c.Multipliers[strings.ToUpper(symbol)]; ok {
		return m
	}
	return c.DefaultMultiplier
}

// DatabasePath returns the path of the single ledger store
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DefaultMultiplier <= 0 {
		return fmt.Errorf("default contract multiplier must be positive, got %v", c.DefaultMultiplier)
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("retry max attempts must be positive, got %d", c.RetryMaxAttempts)
	}
	return nil
}

// parseMultipliers parses "ZN:1000,ZF:1000,ES:50" into a symbol map
func parseMultipliers(raw string) (map[string]float64, error) {
	multipliers := make(map[string]float64)
	if raw == "" {
		return multipliers, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid contract multiplier entry %q (want SYMBOL:VALUE)", pair)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || value <= 0 {
			return nil, fmt.Errorf("invalid contract multiplier value in %q", pair)
		}
		multipliers[strings.ToUpper(strings.TrimSpace(parts[0]))] = value
	}

	return multipliers, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
