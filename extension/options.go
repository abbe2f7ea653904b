package extension

import (
	"time"

	"github.com/xraph/grove"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/plugin"
	"github.com/xraph/subvault/store"
	"github.com/xraph/subvault/transfer"
)

// Option configures the subvault Forge extension.
type Option func(*Extension)

// WithStore sets the store for the vault.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGroveDB backs the vault with an open grove database. The store is
// chosen by the grove driver type (sqlite, pg or mongo). WithStore takes
// precedence.
func WithGroveDB(db *grove.DB) Option {
	return func(e *Extension) {
		e.groveDB = db
	}
}

// WithTransferer sets the token transfer collaborator, overriding
// TransferURL.
func WithTransferer(t transfer.Transferer) Option {
	return func(e *Extension) {
		e.transfer = t
	}
}

// WithVaultOption passes a subvault.Option through to the underlying vault.
func WithVaultOption(opt subvault.Option) Option {
	return func(e *Extension) {
		e.vaultOpts = append(e.vaultOpts, opt)
	}
}

// WithPlugin registers a vault plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.vaultOpts = append(e.vaultOpts, subvault.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithVaultAddress sets the custody account.
func WithVaultAddress(addr string) Option {
	return func(e *Extension) { e.config.VaultAddress = addr }
}

// WithTransferURL sets the token transfer service URL.
func WithTransferURL(url string) Option {
	return func(e *Extension) { e.config.TransferURL = url }
}

// WithHookTimeout sets the plugin hook timeout.
func WithHookTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.HookTimeout = d }
}

// WithScheduler enables the charge runner acting as operator on spec.
func WithScheduler(operator, spec string) Option {
	return func(e *Extension) {
		e.config.EnableScheduler = true
		e.config.Operator = operator
		e.config.ScheduleSpec = spec
	}
}
