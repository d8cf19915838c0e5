// Package config defines the top-level configuration for polyarb and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POLYARB_* environment
// variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Exchange ExchangeConfig `toml:"exchange"`
	Engine   EngineConfig   `toml:"engine"`
	Risk     RiskConfig     `toml:"risk"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signing key material.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ExchangeConfig holds CLOB endpoints, chain parameters, and API credentials.
// The credential triple is optional; when absent a key is derived at startup.
type ExchangeConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int64  `toml:"chain_id"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// EngineConfig holds execution-engine timing parameters.
type EngineConfig struct {
	PollInterval     duration `toml:"poll_interval"`
	ExecutionTimeout duration `toml:"execution_timeout"`
	RetryWindow      duration `toml:"retry_window"`
	AssumedLoss      float64  `toml:"assumed_loss"`
	MaxConcurrent    int      `toml:"max_concurrent"`
}

// RiskConfig holds adaptive position sizing and stop parameters.
type RiskConfig struct {
	InitialPositionSize float64 `toml:"initial_position_size"`
	MaxPositionSize     float64 `toml:"max_position_size"`
	ScalingFactor       float64 `toml:"scaling_factor"`
	ScalingWindow       int     `toml:"scaling_window"`
	MinSuccessRate      float64 `toml:"min_success_rate"`
	EmergencyStopLoss   float64 `toml:"emergency_stop_loss"`
}

// ScannerConfig holds market-scan filters and pacing.
type ScannerConfig struct {
	Interval             duration `toml:"interval"`
	PageSize             int      `toml:"page_size"`
	MaxPages             int      `toml:"max_pages"`
	MinEdge              float64  `toml:"min_edge"`
	MinVolume            float64  `toml:"min_volume"`
	MinPrice             float64  `toml:"min_price"`
	MaxPrice             float64  `toml:"max_price"`
	MaxExecutionsPerScan int      `toml:"max_executions_per_scan"`
	RateLimit            int      `toml:"rate_limit"`
	RateWindow           duration `toml:"rate_window"`
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

// ArchiveConfig controls cold-storage archival of aged executions.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// ServerConfig controls the operational HTTP API.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "500ms" or "10s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values in
// config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:   137,
		},
		Engine: EngineConfig{
			PollInterval:     duration{500 * time.Millisecond},
			ExecutionTimeout: duration{30 * time.Second},
			RetryWindow:      duration{10 * time.Second},
			AssumedLoss:      -0.01,
			MaxConcurrent:    1,
		},
		Risk: RiskConfig{
			InitialPositionSize: 10.0,
			MaxPositionSize:     100.0,
			ScalingFactor:       1.5,
			ScalingWindow:       10,
			MinSuccessRate:      0.8,
			EmergencyStopLoss:   -50.0,
		},
		Scanner: ScannerConfig{
			Interval:             duration{30 * time.Second},
			PageSize:             100,
			MaxPages:             5,
			MinEdge:              2.0,
			MinVolume:            1000.0,
			MinPrice:             0.05,
			MaxPrice:             0.95,
			MaxExecutionsPerScan: 1,
			RateLimit:            30,
			RateWindow:           duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polyarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyarb-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events:   []string{"emergency_stop", "naked_exposure", "manual_review"},
			Cooldown: duration{time.Minute},
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8080,
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":     true,
	"scan":    true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, scan, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is only needed when orders will actually be signed.
	if strings.ToLower(c.Mode) == "run" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode run")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Exchange.ClobHost == "" {
		errs = append(errs, "exchange: clob_host must not be empty")
	}
	if c.Exchange.GammaHost == "" {
		errs = append(errs, "exchange: gamma_host must not be empty")
	}
	if c.Exchange.ChainID <= 0 {
		errs = append(errs, "exchange: chain_id must be positive")
	}
	ck := c.Exchange.ApiKey != ""
	cs := c.Exchange.ApiSecret != ""
	cp := c.Exchange.ApiPassphrase != ""
	if (ck || cs || cp) && !(ck && cs && cp) {
		errs = append(errs, "exchange: api_key, api_secret, and api_passphrase must all be set together")
	}

	if c.Engine.PollInterval.Duration <= 0 {
		errs = append(errs, "engine: poll_interval must be > 0")
	}
	if c.Engine.ExecutionTimeout.Duration <= 0 {
		errs = append(errs, "engine: execution_timeout must be > 0")
	}
	if c.Engine.RetryWindow.Duration <= 0 {
		errs = append(errs, "engine: retry_window must be > 0")
	}
	if c.Engine.AssumedLoss > 0 {
		errs = append(errs, "engine: assumed_loss must be <= 0")
	}
	if c.Engine.MaxConcurrent < 1 {
		errs = append(errs, "engine: max_concurrent must be >= 1")
	}

	if c.Risk.InitialPositionSize <= 0 {
		errs = append(errs, "risk: initial_position_size must be > 0")
	}
	if c.Risk.MaxPositionSize < c.Risk.InitialPositionSize {
		errs = append(errs, "risk: max_position_size must be >= initial_position_size")
	}
	if c.Risk.ScalingFactor <= 1 {
		errs = append(errs, "risk: scaling_factor must be > 1")
	}
	if c.Risk.ScalingWindow < 1 {
		errs = append(errs, "risk: scaling_window must be >= 1")
	}
	if c.Risk.MinSuccessRate <= 0 || c.Risk.MinSuccessRate > 1 {
		errs = append(errs, fmt.Sprintf("risk: min_success_rate must be in (0, 1], got %v", c.Risk.MinSuccessRate))
	}
	if c.Risk.EmergencyStopLoss >= 0 {
		errs = append(errs, "risk: emergency_stop_loss must be negative")
	}

	if c.Scanner.Interval.Duration <= 0 {
		errs = append(errs, "scanner: interval must be > 0")
	}
	if c.Scanner.MinPrice < 0 || c.Scanner.MaxPrice > 1 || c.Scanner.MinPrice >= c.Scanner.MaxPrice {
		errs = append(errs, fmt.Sprintf("scanner: price band [%v, %v] must satisfy 0 <= min < max <= 1", c.Scanner.MinPrice, c.Scanner.MaxPrice))
	}
	if c.Scanner.PageSize < 1 {
		errs = append(errs, "scanner: page_size must be >= 1")
	}

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
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled || strings.ToLower(c.Mode) == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
