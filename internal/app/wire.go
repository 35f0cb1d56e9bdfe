package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/updownlabs/updown/internal/blob/s3"
	cacheredis "github.com/updownlabs/updown/internal/cache/redis"
	"github.com/updownlabs/updown/internal/config"
	"github.com/updownlabs/updown/internal/crypto"
	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/engine"
	"github.com/updownlabs/updown/internal/ledger"
	"github.com/updownlabs/updown/internal/notify"
	"github.com/updownlabs/updown/internal/store/postgres"
)

// Dependencies bundles every service the operating modes need. Optional
// members (Redis-backed, S3-backed, notification) are nil when the
// corresponding subsystem is disabled in the configuration.
type Dependencies struct {
	Store    domain.LedgerStore
	Journal  domain.EventJournal
	Treasury domain.Treasury

	Cache       domain.MarketCache
	SignalBus   domain.SignalBus
	Publisher   domain.EventPublisher
	RateLimiter domain.RateLimiter

	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	Engine *engine.Engine
}

// Wire constructs all configured dependencies. It returns the bundle plus a
// cleanup function that closes every opened resource in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	owner, err := resolveOwner(cfg.Owner)
	if err != nil {
		return fail(fmt.Errorf("app: resolve owner: %w", err))
	}
	logger.Info("owner authority resolved", slog.String("address", owner.Hex()))

	// ── Persistence ──
	switch strings.ToLower(cfg.Persistence) {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
			return fail(fmt.Errorf("app: connect postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("app: run migrations: %w", err))
			}
		}

		deps.Store = postgres.NewLedgerStore(pg.Pool())
		deps.Journal = postgres.NewJournalStore(pg.Pool())
		deps.Treasury = postgres.NewTreasuryStore(pg.Pool())
		logger.Info("postgres persistence ready", slog.String("database", cfg.Postgres.Database))

	default: // "memory"
		deps.Store = ledger.NewMemoryStore()
		deps.Journal = ledger.NewMemoryJournal()
		deps.Treasury = ledger.NewMemoryTreasury()
		logger.Info("in-memory persistence ready")
	}

	// ── Redis (cache, signal bus, rate limiter) ──
	if cfg.Redis.Enabled {
		rc, err := cacheredis.New(ctx, cacheredis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("app: connect redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		bus := cacheredis.NewSignalBus(rc)
		deps.Cache = cacheredis.NewMarketCache(rc)
		deps.SignalBus = bus
		deps.Publisher = cacheredis.NewEventPublisher(bus)
		deps.RateLimiter = cacheredis.NewRateLimiter(rc)
		logger.Info("redis ready", slog.String("addr", cfg.Redis.Addr))
	}

	// ── Object storage + archiver ──
	if cfg.Archive.Enabled || strings.ToLower(cfg.Mode) == "archive" {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("app: connect object storage: %w", err))
		}
		closers = append(closers, func() { _ = s3c.Close() })

		writer := s3blob.NewWriter(s3c)
		reader := s3blob.NewReader(s3c)
		deps.BlobWriter = writer
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(writer, reader, deps.Store, deps.Journal, logger)
		logger.Info("object storage ready", slog.String("bucket", cfg.S3.Bucket))
	}

	// ── Notifications ──
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
		logger.Info("notifications enabled", slog.Int("senders", len(senders)))
	}

	// ── Engine ──
	minStake, err := cfg.Engine.MinStakeAmount()
	if err != nil {
		return fail(err)
	}
	eng, err := engine.New(ctx, engine.Config{
		EntryFeeBp:   cfg.Engine.EntryFeeBp,
		CreatorFeeBp: cfg.Engine.CreatorFeeBp,
		MinStake:     minStake,
		Owner:        owner,
	}, engine.Deps{
		Store:     deps.Store,
		Journal:   deps.Journal,
		Treasury:  deps.Treasury,
		Publisher: deps.Publisher,
		Cache:     deps.Cache,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("app: build engine: %w", err))
	}
	deps.Engine = eng

	return deps, cleanup, nil
}

// resolveOwner determines the owner authority address. A configured address
// wins; otherwise the address is derived from the signing key (raw hex or
// encrypted at rest).
func resolveOwner(cfg config.OwnerConfig) (common.Address, error) {
	if cfg.Address != "" {
		return common.HexToAddress(cfg.Address), nil
	}

	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.PrivateKey,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
	})
	if err != nil {
		return common.Address{}, err
	}

	priv, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("parse private key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(priv.PublicKey), nil
}
