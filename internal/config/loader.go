package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYARB_* environment variable overrides, and
// returns the final Config. The result has NOT been validated; callers
// should invoke Config.Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Pick up a .env file when present.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from well-known POLYARB_*
// variables when set, so operators can inject secrets at deploy time
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Wallet.PrivateKey, "POLYARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYARB_WALLET_KEY_PASSWORD")

	setStr(&cfg.Exchange.ClobHost, "POLYARB_EXCHANGE_CLOB_HOST")
	setStr(&cfg.Exchange.GammaHost, "POLYARB_EXCHANGE_GAMMA_HOST")
	setStr(&cfg.Exchange.WsHost, "POLYARB_EXCHANGE_WS_HOST")
	setInt64(&cfg.Exchange.ChainID, "POLYARB_EXCHANGE_CHAIN_ID")
	setStr(&cfg.Exchange.ApiKey, "POLYARB_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "POLYARB_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.ApiPassphrase, "POLYARB_EXCHANGE_API_PASSPHRASE")

	setDuration(&cfg.Engine.PollInterval, "POLYARB_ENGINE_POLL_INTERVAL")
	setDuration(&cfg.Engine.ExecutionTimeout, "POLYARB_ENGINE_EXECUTION_TIMEOUT")
	setDuration(&cfg.Engine.RetryWindow, "POLYARB_ENGINE_RETRY_WINDOW")
	setFloat64(&cfg.Engine.AssumedLoss, "POLYARB_ENGINE_ASSUMED_LOSS")
	setInt(&cfg.Engine.MaxConcurrent, "POLYARB_ENGINE_MAX_CONCURRENT")

	setFloat64(&cfg.Risk.InitialPositionSize, "POLYARB_RISK_INITIAL_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxPositionSize, "POLYARB_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.ScalingFactor, "POLYARB_RISK_SCALING_FACTOR")
	setInt(&cfg.Risk.ScalingWindow, "POLYARB_RISK_SCALING_WINDOW")
	setFloat64(&cfg.Risk.MinSuccessRate, "POLYARB_RISK_MIN_SUCCESS_RATE")
	setFloat64(&cfg.Risk.EmergencyStopLoss, "POLYARB_RISK_EMERGENCY_STOP_LOSS")

	setDuration(&cfg.Scanner.Interval, "POLYARB_SCANNER_INTERVAL")
	setInt(&cfg.Scanner.PageSize, "POLYARB_SCANNER_PAGE_SIZE")
	setInt(&cfg.Scanner.MaxPages, "POLYARB_SCANNER_MAX_PAGES")
	setFloat64(&cfg.Scanner.MinEdge, "POLYARB_SCANNER_MIN_EDGE")
	setFloat64(&cfg.Scanner.MinVolume, "POLYARB_SCANNER_MIN_VOLUME")
	setFloat64(&cfg.Scanner.MinPrice, "POLYARB_SCANNER_MIN_PRICE")
	setFloat64(&cfg.Scanner.MaxPrice, "POLYARB_SCANNER_MAX_PRICE")
	setInt(&cfg.Scanner.MaxExecutionsPerScan, "POLYARB_SCANNER_MAX_EXECUTIONS_PER_SCAN")
	setInt(&cfg.Scanner.RateLimit, "POLYARB_SCANNER_RATE_LIMIT")
	setDuration(&cfg.Scanner.RateWindow, "POLYARB_SCANNER_RATE_WINDOW")

	setStr(&cfg.Postgres.DSN, "POLYARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYARB_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "POLYARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYARB_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "POLYARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYARB_S3_FORCE_PATH_STYLE")

	setBool(&cfg.Archive.Enabled, "POLYARB_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POLYARB_ARCHIVE_RETENTION_DAYS")

	setStr(&cfg.Notify.TelegramToken, "POLYARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYARB_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "POLYARB_NOTIFY_COOLDOWN")

	setBool(&cfg.Server.Enabled, "POLYARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYARB_SERVER_API_KEY")

	setStr(&cfg.Mode, "POLYARB_MODE")
	setStr(&cfg.LogLevel, "POLYARB_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
