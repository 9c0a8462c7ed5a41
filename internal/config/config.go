// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database (optional audit trail; in-memory store if not set)
	DatabaseURL string

	// Blockchain settings
	RPCURL         string
	ChainID        int64
	ExplorerAPIURL string // Etherscan-compatible transaction history API
	ExplorerAPIKey string

	// AML vendor
	AMLEnabled bool
	AMLAPIURL  string
	AMLAPIKey  string

	// ML inference service
	MLEnabled    bool
	MLServiceURL string

	// Deny-list source (file path or URL; file wins if both set)
	DenyListPath    string
	DenyListURL     string
	DenyListRefresh time.Duration

	// Risk policy knobs
	BlockThreshold  int           // Numeric block gate (independent of tier thresholds)
	CacheTTL        time.Duration // Verdict cache time-to-live
	SweepInterval   time.Duration // Expired-entry sweep cadence
	ProviderTimeout time.Duration // Per-provider call budget

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultChainID         = 84532 // Base Sepolia
	DefaultRPCURL          = "https://sepolia.base.org"
	DefaultBlockThreshold  = 75
	DefaultCacheTTL        = 24 * time.Hour
	DefaultSweepInterval   = time.Hour
	DefaultProviderTimeout = 5 * time.Second
	DefaultDenyListRefresh = time.Hour
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RPCURL:          getEnv("RPC_URL", DefaultRPCURL),
		ChainID:         getEnvInt64("CHAIN_ID", DefaultChainID),
		ExplorerAPIURL:  os.Getenv("EXPLORER_API_URL"),
		ExplorerAPIKey:  os.Getenv("EXPLORER_API_KEY"),
		AMLEnabled:      getEnvBool("AML_ENABLED", false),
		AMLAPIURL:       os.Getenv("AML_API_URL"),
		AMLAPIKey:       os.Getenv("AML_API_KEY"),
		MLEnabled:       getEnvBool("ML_ENABLED", false),
		MLServiceURL:    os.Getenv("ML_SERVICE_URL"),
		DenyListPath:    os.Getenv("DENYLIST_PATH"),
		DenyListURL:     os.Getenv("DENYLIST_URL"),
		DenyListRefresh: getEnvDuration("DENYLIST_REFRESH", DefaultDenyListRefresh),
		BlockThreshold:  int(getEnvInt64("BLOCK_THRESHOLD", DefaultBlockThreshold)),
		CacheTTL:        getEnvDuration("CACHE_TTL", DefaultCacheTTL),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", DefaultProviderTimeout),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.BlockThreshold < 0 || c.BlockThreshold > 100 {
		return fmt.Errorf("BLOCK_THRESHOLD must be in [0, 100], got %d", c.BlockThreshold)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout)
	}
	if c.AMLEnabled && c.AMLAPIURL == "" {
		return fmt.Errorf("AML_API_URL is required when AML_ENABLED is true")
	}
	if c.MLEnabled && c.MLServiceURL == "" {
		return fmt.Errorf("ML_SERVICE_URL is required when ML_ENABLED is true")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
