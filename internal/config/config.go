package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	DBPath string

	// Server settings
	ServerHost     string
	ServerPort     int
	APIKey         string
	AdminRateLimit int

	// Scorer settings
	ScorerURL     string
	ScorerAPIKey  string
	ScorerTimeout time.Duration
	ScorerLimit   int

	// Regeneration settings
	GroupSize       int
	BatchDelay      time.Duration
	CacheTTL        time.Duration
	MinValidRows    int
	StaleBatchLimit int

	// Sweep loop settings
	Interval     time.Duration
	SweepMode    string
	PurgeExpired bool

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		DBPath:          DefaultDBPath,
		ServerHost:      DefaultServerHost,
		ServerPort:      DefaultServerPort,
		APIKey:          GetEnvString("FEEDCACHE_API_KEY", ""),
		AdminRateLimit:  DefaultAdminRateLimit,
		ScorerURL:       DefaultScorerURL,
		ScorerAPIKey:    GetEnvString("FEEDCACHE_SCORER_API_KEY", ""),
		ScorerTimeout:   time.Duration(DefaultScorerTimeout) * time.Second,
		ScorerLimit:     DefaultScorerLimit,
		GroupSize:       DefaultGroupSize,
		BatchDelay:      time.Duration(DefaultBatchDelaySeconds) * time.Second,
		CacheTTL:        time.Duration(DefaultCacheTTLMinutes) * time.Minute,
		MinValidRows:    DefaultMinValidRows,
		StaleBatchLimit: DefaultStaleBatchLimit,
		Interval:        time.Duration(DefaultInterval) * time.Minute,
		SweepMode:       DefaultSweepMode,
		PurgeExpired:    true,
		LogLevel:        logLevel,
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// Validate reports settings that would make the orchestrator or sweep loop misbehave.
func (c *Config) Validate() error {
	if c.GroupSize <= 0 {
		return fmt.Errorf("group size must be positive, got %d", c.GroupSize)
	}
	if c.BatchDelay < 0 {
		return fmt.Errorf("batch delay must not be negative, got %s", c.BatchDelay)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.CacheTTL)
	}
	if c.MinValidRows <= 0 {
		return fmt.Errorf("min valid rows must be positive, got %d", c.MinValidRows)
	}
	if c.StaleBatchLimit <= 0 {
		return fmt.Errorf("stale batch limit must be positive, got %d", c.StaleBatchLimit)
	}
	if c.SweepMode != SweepModeStale && c.SweepMode != SweepModeAll {
		return fmt.Errorf("unknown sweep mode %q (want %q or %q)", c.SweepMode, SweepModeStale, SweepModeAll)
	}
	return nil
}
