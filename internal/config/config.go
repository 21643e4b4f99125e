// Package config loads the application configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Mining    MiningConfig    `yaml:"mining"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig holds the persistence settings. An empty driver selects
// the in-memory store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig holds the wallet-cache settings. An empty address disables
// the cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LedgerConfig holds settlement network settings.
type LedgerConfig struct {
	RPCURL         string        `yaml:"rpc_url"`
	AssetCode      string        `yaml:"asset_code"`
	AssetIssuer    string        `yaml:"asset_issuer"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	Propagation    time.Duration `yaml:"propagation_delay"`
	MinimumReserve string        `yaml:"minimum_reserve"`
}

// MiningConfig tunes the accrual engine.
type MiningConfig struct {
	Cooldown           time.Duration `yaml:"cooldown"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	MaxSessionDuration time.Duration `yaml:"max_session_duration"`
	StatsSchedule      string        `yaml:"stats_schedule"`
}

// RateLimitConfig tunes the per-user API limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Ledger: LedgerConfig{
			AssetCode:      "MINE",
			CallTimeout:    15 * time.Second,
			Propagation:    2 * time.Second,
			MinimumReserve: "1.00000000",
		},
		Mining: MiningConfig{
			Cooldown:           30 * time.Minute,
			CheckpointInterval: time.Hour,
			MaxSessionDuration: 24 * time.Hour,
			StatsSchedule:      "@every 1m",
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 5, Burst: 10},
	}
}

// Load reads the configuration from $CONFIG_PATH (default config.yaml),
// falling back to defaults when the file is absent, then applies
// environment overrides.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment are enough to run.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if cfg.Server.Port <= 0 {
		return nil, fmt.Errorf("server port must be positive")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LEDGER_RPC_URL"); v != "" {
		c.Ledger.RPCURL = v
	}
	if v := os.Getenv("LEDGER_ASSET_CODE"); v != "" {
		c.Ledger.AssetCode = v
	}
	if v := os.Getenv("LEDGER_ASSET_ISSUER"); v != "" {
		c.Ledger.AssetIssuer = v
	}
}
