package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/polyarb/polyarb/internal/blob/s3"
	"github.com/polyarb/polyarb/internal/cache/redis"
	"github.com/polyarb/polyarb/internal/config"
	"github.com/polyarb/polyarb/internal/domain"
	"github.com/polyarb/polyarb/internal/exchange/polymarket"
	"github.com/polyarb/polyarb/internal/notify"
	"github.com/polyarb/polyarb/internal/store/postgres"
)

// Dependencies bundles the concrete implementations the application modes
// operate on. Wire constructs it; the returned cleanup function tears it
// down.
type Dependencies struct {
	ExecStore  domain.ExecutionStore
	AuditStore domain.AuditStore

	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	Archiver domain.Archiver

	Exchange *polymarket.Client
	Notifier *notify.Notifier
}

// needsPostgres reports whether the mode persists executions.
func needsPostgres(mode string) bool {
	switch mode {
	case "run", "archive":
		return true
	default:
		return false
	}
}

// needsS3 reports whether the mode touches object storage.
func needsS3(cfg *config.Config, mode string) bool {
	return mode == "archive" || cfg.Archive.Enabled
}

// Wire constructs all concrete dependencies from the configuration. The
// returned cleanup releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ExecStore = postgres.NewExecutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.BookCache = redis.NewOrderbookCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	if needsS3(cfg, mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		if deps.ExecStore != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.ExecStore, deps.AuditStore)
		}
	}

	exch, err := buildExchange(ctx, cfg, mode)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Exchange = exch

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	return deps, cleanup, nil
}

// buildExchange constructs the CLOB client. Signing material is loaded only
// for run mode; scan and archive modes use unauthenticated reads.
func buildExchange(ctx context.Context, cfg *config.Config, mode string) (*polymarket.Client, error) {
	var signer *polymarket.Signer
	var creds *polymarket.APICreds

	if mode == "run" {
		keyHex, err := polymarket.LoadSigningKey(polymarket.KeySource{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: load signing key: %w", err)
		}
		signer, err = polymarket.NewSigner(keyHex, int(cfg.Exchange.ChainID))
		if err != nil {
			return nil, fmt.Errorf("wire: signer: %w", err)
		}
		if cfg.Exchange.ApiKey != "" {
			creds = &polymarket.APICreds{
				Key:        cfg.Exchange.ApiKey,
				Secret:     cfg.Exchange.ApiSecret,
				Passphrase: cfg.Exchange.ApiPassphrase,
			}
		}
	}

	client := polymarket.NewClient(cfg.Exchange.ClobHost, cfg.Exchange.GammaHost, signer, creds)

	if mode == "run" && creds == nil {
		if err := client.DeriveAPIKey(ctx); err != nil {
			return nil, fmt.Errorf("wire: derive api key: %w", err)
		}
	}
	return client, nil
}
