package subvault

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/subvault/plugin"
	"github.com/xraph/subvault/store"
	"github.com/xraph/subvault/transfer"
	"github.com/xraph/subvault/types"
)

// DefaultVaultAddress is the custody account used when none is configured.
const DefaultVaultAddress types.Address = "subvault"

// Vault is the recurring-billing engine.
//
// Every public entrypoint is one atomic unit against the store. Entrypoints
// are additionally serialized in-process, so two calls on the same Vault
// never interleave; batch calls hold the lock for the whole batch.
type Vault struct {
	store    store.Store
	transfer transfer.Transferer
	plugins  *plugin.Registry
	logger   *slog.Logger
	clock    func() time.Time
	address  types.Address

	mu sync.RWMutex
}

// New creates a new Vault over s, moving tokens through t.
func New(s store.Store, t transfer.Transferer, opts ...Option) *Vault {
	v := &Vault{
		store:    s,
		transfer: t,
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
		clock:    time.Now,
		address:  DefaultVaultAddress,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// Option configures a Vault instance.
type Option func(*Vault)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		v.logger = logger
		v.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(v *Vault) {
		_ = v.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock sets the source of ledger time. Ledger time is the clock's
// Unix seconds.
func WithClock(clock func() time.Time) Option {
	return func(v *Vault) {
		v.clock = clock
	}
}

// WithAddress sets the account that holds prepaid and merchant funds.
func WithAddress(addr types.Address) Option {
	return func(v *Vault) {
		v.address = addr
	}
}

// WithHookTimeout bounds each plugin hook call.
func WithHookTimeout(d time.Duration) Option {
	return func(v *Vault) {
		v.plugins.WithTimeout(d)
	}
}

// Address returns the custody account.
func (v *Vault) Address() types.Address { return v.address }

// Plugins returns the plugin registry.
func (v *Vault) Plugins() *plugin.Registry { return v.plugins }

// Start migrates the store and initializes plugins.
func (v *Vault) Start(ctx context.Context) error {
	if err := v.store.Migrate(ctx); err != nil {
		return storeError(err)
	}

	v.plugins.EmitInit(ctx, v)

	v.logger.Info("subvault started",
		"address", v.address,
		"plugins", v.plugins.Count(),
	)

	return nil
}

// Stop shuts down plugins and closes the store.
func (v *Vault) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.plugins.EmitShutdown(context.Background())

	return v.store.Close()
}

// Ping checks the store.
func (v *Vault) Ping(ctx context.Context) error {
	return v.store.Ping(ctx)
}

// ledgerTime converts the clock reading to ledger seconds.
func (v *Vault) ledgerTime() (uint64, time.Time) {
	wall := v.clock()
	secs := wall.Unix()
	if secs < 0 {
		return 0, wall
	}
	return uint64(secs), wall
}
