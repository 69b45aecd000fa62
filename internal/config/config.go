// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for all databases (always absolute)
	Port             int
	LogLevel         string
	DevMode          bool
	MarketDataURL    string        // Base URL of the quote provider
	MarketDataAPIKey string        // Optional provider API key
	SweepSchedule    string        // Cron spec for the market sweep job
	DispatchWorkers  int           // Notification dispatcher worker count
	DispatchRetries  int           // Bounded delivery attempts per notification
	AuditRetention   time.Duration // Age after which audit entries move to the cold store
	Archive          *ArchiveConfig
}

// ArchiveConfig holds cold-store upload configuration. Upload is disabled
// when Bucket is empty.
type ArchiveConfig struct {
	Bucket    string
	Endpoint  string // S3-compatible endpoint (empty = AWS default)
	Region    string
	AccessKey string
	SecretKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("WATCHDECK_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	retentionDays := getEnvAsInt("AUDIT_RETENTION_DAYS", 90)

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("PORT", 8080),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		MarketDataURL:    getEnv("MARKET_DATA_URL", "http://localhost:9100"),
		MarketDataAPIKey: getEnv("MARKET_DATA_API_KEY", ""),
		SweepSchedule:    getEnv("SWEEP_SCHEDULE", "0 */5 * * * *"),
		DispatchWorkers:  getEnvAsInt("DISPATCH_WORKERS", 2),
		DispatchRetries:  getEnvAsInt("DISPATCH_RETRIES", 3),
		AuditRetention:   time.Duration(retentionDays) * 24 * time.Hour,
		Archive: &ArchiveConfig{
			Bucket:    getEnv("ARCHIVE_S3_BUCKET", ""),
			Endpoint:  getEnv("ARCHIVE_S3_ENDPOINT", ""),
			Region:    getEnv("ARCHIVE_S3_REGION", "auto"),
			AccessKey: getEnv("ARCHIVE_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("ARCHIVE_S3_SECRET_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("dispatch workers must be at least 1, got %d", c.DispatchWorkers)
	}
	if c.AuditRetention <= 0 {
		return fmt.Errorf("audit retention must be positive")
	}
	return nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
