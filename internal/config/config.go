// Package config defines the top-level configuration for the settlement
// service and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Engine      EngineConfig   `toml:"engine"`
	Owner       OwnerConfig    `toml:"owner"`
	Postgres    PostgresConfig `toml:"postgres"`
	Redis       RedisConfig    `toml:"redis"`
	S3          S3Config       `toml:"s3"`
	Archive     ArchiveConfig  `toml:"archive"`
	Server      ServerConfig   `toml:"server"`
	Notify      NotifyConfig   `toml:"notify"`
	Mode        string         `toml:"mode"`
	Persistence string         `toml:"persistence"`
	LogLevel    string         `toml:"log_level"`
}

// EngineConfig holds the settlement parameters. Fee rates are in basis
// points; min_stake is a decimal base-unit amount.
type EngineConfig struct {
	EntryFeeBp   uint64 `toml:"entry_fee_bp"`
	CreatorFeeBp uint64 `toml:"creator_fee_bp"`
	MinStake     string `toml:"min_stake"`
}

// OwnerConfig identifies the owner authority. The address may be given
// directly, or derived from a signing key held raw or encrypted at rest.
type OwnerConfig struct {
	Address          string `toml:"address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the settled-market archival loop.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			EntryFeeBp:   100,
			CreatorFeeBp: 50,
			MinStake:     "10000000000000000", // 0.01 in 18-decimal base units
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "updown",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "updown-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 0,
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_resolved", "payout_claimed"},
		},
		Mode:        "full",
		Persistence: "memory",
		LogLevel:    "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"full":    true,
	"archive": true,
}

// validPersistence enumerates the accepted values for Config.Persistence.
var validPersistence = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// MinStakeAmount parses the configured minimum stake into a big.Int.
func (c *EngineConfig) MinStakeAmount() (*big.Int, error) {
	v, ok := new(big.Int).SetString(c.MinStake, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid engine.min_stake %q", c.MinStake)
	}
	return v, nil
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode and persistence
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, full, archive)", c.Mode))
	}
	if !validPersistence[strings.ToLower(c.Persistence)] {
		errs = append(errs, fmt.Sprintf("unknown persistence %q (valid: memory, postgres)", c.Persistence))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.EntryFeeBp+c.Engine.CreatorFeeBp > 10_000 {
		errs = append(errs, "engine: entry_fee_bp + creator_fee_bp must not exceed 10000")
	}
	if _, err := c.Engine.MinStakeAmount(); err != nil {
		errs = append(errs, "engine: min_stake must be a non-negative decimal integer")
	}

	// Owner — an address or a key source must identify the authority.
	if c.Owner.Address == "" && c.Owner.PrivateKey == "" && c.Owner.EncryptedKeyPath == "" {
		errs = append(errs, "owner: either address, private_key, or encrypted_key_path must be set")
	}
	if c.Owner.Address != "" && !common.IsHexAddress(c.Owner.Address) {
		errs = append(errs, fmt.Sprintf("owner: address %q is not a valid hex address", c.Owner.Address))
	}
	if c.Owner.EncryptedKeyPath != "" && c.Owner.KeyPassword == "" {
		errs = append(errs, "owner: key_password is required when encrypted_key_path is set")
	}

	// Postgres — only binding when the durable store is selected.
	if strings.ToLower(c.Persistence) == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive requires object storage.
	if c.Archive.Enabled || strings.ToLower(c.Mode) == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin < 0 {
			errs = append(errs, "server: rate_limit_per_min must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
