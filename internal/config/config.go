// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir           string // Base directory for all databases (always absolute)
	SolverServiceURL  string // Exact-solver sidecar; empty disables the remote baseline
	SamplerServiceURL string // Remote sampling oracle; empty uses the in-process simulator
	LogLevel          string
	Port              int
	DevMode           bool
	RunRetentionDays  int    // Completed runs older than this are purged (0 = keep forever)
	CleanupSchedule   string // Cron spec for the history cleanup job
	ArchiveSchedule   string // Cron spec for the export archive job
	Archive           *ArchiveConfig
}

// ArchiveConfig holds S3-compatible object storage settings for run exports.
// Archiving is disabled unless bucket and credentials are all present.
type ArchiveConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
}

// Enabled reports whether the archive target is fully configured.
func (a *ArchiveConfig) Enabled() bool {
	return a != nil && a.Bucket != "" && a.AccessKeyID != "" && a.SecretAccessKey != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("QUANTOPT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Port:              getEnvAsInt("PORT", 8001),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		SolverServiceURL:  getEnv("SOLVER_SERVICE_URL", ""),
		SamplerServiceURL: getEnv("SAMPLER_SERVICE_URL", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		RunRetentionDays:  getEnvAsInt("RUN_RETENTION_DAYS", 90),
		CleanupSchedule:   getEnv("CLEANUP_SCHEDULE", "0 0 3 * * *"),
		ArchiveSchedule:   getEnv("ARCHIVE_SCHEDULE", "0 30 3 * * *"),
		Archive:           loadArchiveConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.RunRetentionDays < 0 {
		return fmt.Errorf("run retention days must be non-negative, got %d", c.RunRetentionDays)
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

// loadArchiveConfig reads S3 archive settings. Credentials come only from the
// environment, never from defaults.
func loadArchiveConfig() *ArchiveConfig {
	return &ArchiveConfig{
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		Region:          getEnv("S3_REGION", "auto"),
		Bucket:          getEnv("S3_BUCKET", ""),
		AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		RetentionDays:   getEnvAsInt("ARCHIVE_RETENTION_DAYS", 30),
	}
}
