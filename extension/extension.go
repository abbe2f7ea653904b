// Package extension provides the Forge extension adapter for subvault.
//
// It implements the forge.Extension interface to integrate the vault
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.subvault" or "subvault" keys.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/vessel"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/scheduler"
	"github.com/xraph/subvault/store"
	"github.com/xraph/subvault/store/memory"
	"github.com/xraph/subvault/store/mongo"
	"github.com/xraph/subvault/store/postgres"
	"github.com/xraph/subvault/store/sqlite"
	"github.com/xraph/subvault/transfer"
	"github.com/xraph/subvault/types"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "subvault"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Prepaid recurring-billing subscription vault"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts subvault as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config    Config
	engine    *subvault.Vault
	store     store.Store
	groveDB   *grove.DB
	transfer  transfer.Transferer
	runner    *scheduler.Runner
	vaultOpts []subvault.Option
}

// New creates a new subvault Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Vault.
// This is nil until Register is called.
func (e *Extension) Engine() *subvault.Vault { return e.engine }

// Runner returns the charge runner, or nil when the scheduler is disabled.
func (e *Extension) Runner() *scheduler.Runner { return e.runner }

// Register implements [forge.Extension]. It loads configuration,
// initializes the vault, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		s, err := storeForGrove(e.groveDB)
		if err != nil {
			return err
		}
		e.store = s
	}
	if e.transfer == nil {
		e.transfer = e.buildTransferer()
	}

	eng := subvault.New(e.store, e.transfer, e.buildVaultOpts()...)
	e.engine = eng

	if e.config.EnableScheduler {
		if e.config.Operator == "" {
			return errors.New("subvault: scheduler enabled without an operator")
		}
		e.runner = scheduler.New(eng, types.Address(e.config.Operator),
			scheduler.WithSpec(e.config.ScheduleSpec),
			scheduler.WithPageSize(e.config.SchedulePageSize),
		)
	}

	return vessel.Provide(fapp.Container(), func() (*subvault.Vault, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("subvault: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	if e.runner != nil {
		if err := e.runner.Start(); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	if e.runner != nil {
		if err := e.runner.Stop(ctx); err != nil {
			e.Logger().Warn("subvault: scheduler did not stop cleanly",
				forge.F("error", err.Error()),
			)
		}
	}
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("subvault: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildTransferer resolves the token transfer collaborator from config.
func (e *Extension) buildTransferer() transfer.Transferer {
	if e.config.TransferURL == "" {
		e.Logger().Warn("subvault: no transfer_url configured, using in-process ledger")
		return transfer.NewLedger()
	}

	var opts []transfer.HTTPOption
	if e.config.TransferAPIKey != "" {
		opts = append(opts, transfer.WithAPIKey(e.config.TransferAPIKey))
	}
	gw := transfer.NewHTTPGateway(e.config.TransferURL, opts...)
	if e.config.DisableBreaker {
		return gw
	}
	return transfer.WithBreaker(gw, transfer.DefaultBreakerConfig(), nil)
}

// buildVaultOpts constructs subvault.Option values from the resolved config.
func (e *Extension) buildVaultOpts() []subvault.Option {
	opts := make([]subvault.Option, 0, len(e.vaultOpts)+2)

	if e.config.VaultAddress != "" {
		opts = append(opts, subvault.WithAddress(types.Address(e.config.VaultAddress)))
	}
	if e.config.HookTimeout > 0 {
		opts = append(opts, subvault.WithHookTimeout(e.config.HookTimeout))
	}

	// Append any pass-through vault options.
	opts = append(opts, e.vaultOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("subvault: configuration is required but not found in config files; " +
				"ensure 'extensions.subvault' or 'subvault' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("subvault: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("vault_address", e.config.VaultAddress),
		forge.F("transfer_url", e.config.TransferURL),
		forge.F("hook_timeout", e.config.HookTimeout),
		forge.F("enable_scheduler", e.config.EnableScheduler),
		forge.F("schedule_spec", e.config.ScheduleSpec),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.subvault", "subvault"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("subvault: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("subvault: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.VaultAddress == "" {
		cfg.VaultAddress = defaults.VaultAddress
	}
	if cfg.HookTimeout == 0 {
		cfg.HookTimeout = defaults.HookTimeout
	}
	if cfg.ScheduleSpec == "" {
		cfg.ScheduleSpec = defaults.ScheduleSpec
	}
	if cfg.SchedulePageSize == 0 {
		cfg.SchedulePageSize = defaults.SchedulePageSize
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableBreaker {
		yamlConfig.DisableBreaker = true
	}
	if programmaticConfig.EnableScheduler {
		yamlConfig.EnableScheduler = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.VaultAddress == "" {
		yamlConfig.VaultAddress = programmaticConfig.VaultAddress
	}
	if yamlConfig.TransferURL == "" {
		yamlConfig.TransferURL = programmaticConfig.TransferURL
	}
	if yamlConfig.TransferAPIKey == "" {
		yamlConfig.TransferAPIKey = programmaticConfig.TransferAPIKey
	}
	if yamlConfig.ScheduleSpec == "" {
		yamlConfig.ScheduleSpec = programmaticConfig.ScheduleSpec
	}
	if yamlConfig.Operator == "" {
		yamlConfig.Operator = programmaticConfig.Operator
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.HookTimeout == 0 {
		yamlConfig.HookTimeout = programmaticConfig.HookTimeout
	}
	if yamlConfig.SchedulePageSize == 0 {
		yamlConfig.SchedulePageSize = programmaticConfig.SchedulePageSize
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}

// storeForGrove picks the store matching the driver behind db, or the
// memory store when db is nil.
func storeForGrove(db *grove.DB) (store.Store, error) {
	if db == nil {
		return memory.New(), nil
	}
	switch drv := db.Driver().(type) {
	case *sqlitedriver.SqliteDB:
		return sqlite.New(db), nil
	case *pgdriver.PgDB:
		return postgres.New(db), nil
	case *mongodriver.MongoDB:
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("subvault: unsupported grove driver %T", drv)
	}
}
