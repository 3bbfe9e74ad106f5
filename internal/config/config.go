// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/arclab/arcq/internal/modules/settings"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for databases, exports and archives (always absolute)
	Port     int
	DevMode  bool
	LogLevel string

	// Remote backend (IonQ-class hardware gateway)
	IonQBaseURL string
	IonQAPIKey  string
	IonQTarget  string // e.g. "qpu.forte-1", "qpu.aria-1", "simulator"

	// Experiment defaults
	DefaultShots  int // shots per q point on the simulator
	HardwareShots int // shots per q point on hardware (kept low, per-job minimums dominate cost)

	// Archive upload (S3-compatible object storage)
	Archive *ArchiveConfig
}

// ArchiveConfig holds object storage settings for results archival.
// Endpoint is configurable so S3-compatible stores (R2, MinIO) work too.
type ArchiveConfig struct {
	Enabled   bool
	Bucket    string
	Endpoint  string // empty = AWS default endpoint resolution
	Region    string
	AccessKey string
	SecretKey string
	Keep      int // number of archives to retain during rotation
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory with fallback logic:
	// ARCQ_DATA_DIR env var, else ./data, always resolved to an absolute path.
	dataDir := getEnv("ARCQ_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		Port:          getEnvAsInt("ARCQ_PORT", 8010),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		IonQBaseURL:   getEnv("IONQ_BASE_URL", "https://api.ionq.co/v0.3"),
		IonQAPIKey:    getEnv("IONQ_API_KEY", ""),
		IonQTarget:    getEnv("IONQ_TARGET", "simulator"),
		DefaultShots:  getEnvAsInt("ARCQ_DEFAULT_SHOTS", 1000),
		HardwareShots: getEnvAsInt("ARCQ_HARDWARE_SHOTS", 52),
		Archive:       loadArchiveConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UpdateFromSettings updates configuration from the settings database.
// Settings DB values take precedence over environment variables, so
// credentials can be rotated via the API without a restart.
func (c *Config) UpdateFromSettings(settingsRepo *settings.Repository) error {
	apiKey, err := settingsRepo.Get("ionq_api_key")
	if err != nil {
		return fmt.Errorf("failed to get ionq_api_key from settings: %w", err)
	}
	if apiKey != nil && *apiKey != "" {
		c.IonQAPIKey = *apiKey
	}

	target, err := settingsRepo.Get("ionq_target")
	if err != nil {
		return fmt.Errorf("failed to get ionq_target from settings: %w", err)
	}
	if target != nil && *target != "" {
		c.IonQTarget = *target
	}

	return nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.DefaultShots <= 0 {
		return fmt.Errorf("ARCQ_DEFAULT_SHOTS must be positive, got %d", c.DefaultShots)
	}
	if c.HardwareShots <= 0 {
		return fmt.Errorf("ARCQ_HARDWARE_SHOTS must be positive, got %d", c.HardwareShots)
	}

	// IonQ credentials are optional: the simulator backend works without them.

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

func loadArchiveConfig() *ArchiveConfig {
	return &ArchiveConfig{
		Enabled:   getEnvAsBool("ARCHIVE_ENABLED", false),
		Bucket:    getEnv("ARCHIVE_BUCKET", "arcq-results"),
		Endpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
		Region:    getEnv("ARCHIVE_REGION", "auto"),
		AccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
		SecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
		Keep:      getEnvAsInt("ARCHIVE_KEEP", 14),
	}
}
