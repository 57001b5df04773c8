// Package config loads runtime configuration from the environment and builds
// the process logger.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/propledger/allocation-engine/engine"
	"github.com/propledger/allocation-engine/factory"
)

// Config holds runtime configuration for the server.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"10s"`

	DBPath string `envconfig:"DB_PATH" default:"./allocation.db"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
	LogOutput string `envconfig:"LOG_OUTPUT" default:"stdout"`

	// AllocationMaxAttempts bounds the read-compute-write retries per request.
	AllocationMaxAttempts int `envconfig:"ALLOCATION_MAX_ATTEMPTS" default:"5"`

	// TiebreakOrder is the module order for obligations due the same day.
	TiebreakOrder string `envconfig:"TIEBREAK_ORDER" default:"dues,water"`

	// LedgerAuditInterval is how often every ledger is re-verified. Zero
	// disables the audit.
	LedgerAuditInterval time.Duration `envconfig:"LEDGER_AUDIT_INTERVAL" default:"1h"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000,http://localhost:5173"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.AllocationMaxAttempts < 1 {
		return nil, fmt.Errorf("ALLOCATION_MAX_ATTEMPTS must be at least 1, got %d", cfg.AllocationMaxAttempts)
	}
	if cfg.LedgerAuditInterval < 0 {
		return nil, fmt.Errorf("LEDGER_AUDIT_INTERVAL must not be negative, got %s", cfg.LedgerAuditInterval)
	}
	if _, err := cfg.ModuleOrder(); err != nil {
		return nil, fmt.Errorf("TIEBREAK_ORDER: %w", err)
	}
	return &cfg, nil
}

// ModuleOrder parses TiebreakOrder.
func (c *Config) ModuleOrder() (engine.ModuleOrder, error) {
	return factory.ParseModuleOrder(c.TiebreakOrder)
}

// IsProduction returns true when the server runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() LoggerConfig {
	lc := LoggerConfig{Level: c.LogLevel, Format: c.LogFormat, Output: c.LogOutput}
	if c.IsProduction() && c.LogFormat == "console" {
		lc.Format = "json"
	}
	return lc
}
