package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/store"
	"github.com/xraph/subvault/store/memory"
	"github.com/xraph/subvault/store/mongo"
	"github.com/xraph/subvault/store/postgres"
	"github.com/xraph/subvault/store/sqlite"
	"github.com/xraph/subvault/stream"
	"github.com/xraph/subvault/transfer"
	"github.com/xraph/subvault/types"
)

// App owns the resources one command needs.
type App struct {
	cfg    *Config
	logger *slog.Logger

	Store store.Store
	Vault *subvault.Vault
	Redis *redis.Client

	started bool
}

// NewApp opens the configured store and builds a vault over it. Extra
// vault options (plugins mostly) are applied after the defaults.
func NewApp(ctx context.Context, cfg *Config, logger *slog.Logger, opts ...subvault.Option) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = s

	vopts := []subvault.Option{
		subvault.WithLogger(logger),
		subvault.WithAddress(types.Address(cfg.VaultAddress)),
		subvault.WithHookTimeout(cfg.HookTimeout),
	}
	if cfg.RedisURL != "" {
		client, err := openRedis(cfg.RedisURL)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Redis = client
		vopts = append(vopts, subvault.WithPlugin(stream.NewPublisher(client,
			stream.WithStream(cfg.StreamKey),
			stream.WithMaxLen(cfg.StreamMaxLen),
			stream.WithLogger(logger),
		)))
	}
	vopts = append(vopts, opts...)

	tokens, err := buildTransferer(cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Vault = subvault.New(s, tokens, vopts...)
	return a, nil
}

// Start migrates the store and notifies plugins.
func (a *App) Start(ctx context.Context) error {
	if err := a.Vault.Start(ctx); err != nil {
		return fmt.Errorf("start vault: %w", err)
	}
	a.started = true
	return nil
}

// Operator returns the configured acting identity.
func (a *App) Operator() (types.Address, error) {
	op := types.Address(a.cfg.Operator)
	if err := op.Validate(); err != nil {
		return "", fmt.Errorf("operator: set SUBVAULT_OPERATOR or --operator: %w", err)
	}
	return op, nil
}

// AsOperator returns ctx carrying the operator as the acting caller.
func (a *App) AsOperator(ctx context.Context) (context.Context, types.Address, error) {
	op, err := a.Operator()
	if err != nil {
		return nil, "", err
	}
	return subvault.WithCaller(ctx, op), op, nil
}

// Close stops the vault, which closes the store, then the Redis client.
func (a *App) Close() error {
	var err error
	switch {
	case a.started:
		err = a.Vault.Stop()
	case a.Store != nil:
		err = a.Store.Close()
	}
	a.started = false
	a.Store = nil
	if a.Redis != nil {
		if rerr := a.Redis.Close(); rerr != nil && err == nil {
			err = rerr
		}
		a.Redis = nil
	}
	return err
}

func openStore(ctx context.Context, cfg *Config) (store.Store, error) {
	switch cfg.Store {
	case StoreMemory:
		return memory.New(), nil
	case StoreSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath)
	case StorePostgres:
		return postgres.Open(ctx, cfg.DatabaseURL)
	case StoreMongo:
		return mongo.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func openRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// buildTransferer returns the HTTP gateway behind a breaker. Development
// setups without a gateway fall back to an in-process ledger.
func buildTransferer(cfg *Config, logger *slog.Logger) (transfer.Transferer, error) {
	if cfg.TransferURL == "" {
		if !cfg.IsDevelopment() {
			return nil, errors.New("TRANSFER_URL is required outside development")
		}
		logger.Warn("TRANSFER_URL not set, token movements use an in-process ledger")
		return transfer.NewLedger(), nil
	}
	var gw transfer.Transferer = transfer.NewHTTPGateway(cfg.TransferURL, transfer.WithAPIKey(cfg.TransferAPIKey))
	if !cfg.DisableBreaker {
		gw = transfer.WithBreaker(gw, transfer.DefaultBreakerConfig(), logger)
	}
	return gw, nil
}
