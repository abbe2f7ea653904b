package extension

import "time"

// Config holds the subvault extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.subvault" or "subvault" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// VaultAddress is the custody account holding prepaid and merchant
	// funds (default: "subvault").
	VaultAddress string `json:"vault_address" mapstructure:"vault_address" yaml:"vault_address"`

	// TransferURL is the base URL of the token transfer service. When empty
	// an in-process ledger is used, which is only suitable for development.
	TransferURL string `json:"transfer_url" mapstructure:"transfer_url" yaml:"transfer_url"`

	// TransferAPIKey is sent as a bearer token to the transfer service.
	TransferAPIKey string `json:"transfer_api_key" mapstructure:"transfer_api_key" yaml:"transfer_api_key"`

	// DisableBreaker calls the transfer service without a circuit breaker.
	DisableBreaker bool `json:"disable_breaker" mapstructure:"disable_breaker" yaml:"disable_breaker"`

	// HookTimeout bounds each plugin hook call (default: 5s).
	HookTimeout time.Duration `json:"hook_timeout" mapstructure:"hook_timeout" yaml:"hook_timeout"`

	// EnableScheduler runs periodic batch charges of due subscriptions.
	EnableScheduler bool `json:"enable_scheduler" mapstructure:"enable_scheduler" yaml:"enable_scheduler"`

	// ScheduleSpec is the cron schedule of the charge runner
	// (default: "@every 1m").
	ScheduleSpec string `json:"schedule_spec" mapstructure:"schedule_spec" yaml:"schedule_spec"`

	// SchedulePageSize is the number of due subscriptions charged per run
	// (default: 500).
	SchedulePageSize int `json:"schedule_page_size" mapstructure:"schedule_page_size" yaml:"schedule_page_size"`

	// Operator is the identity the charge runner acts as. It must be the
	// vault administrator.
	Operator string `json:"operator" mapstructure:"operator" yaml:"operator"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		VaultAddress:     "subvault",
		HookTimeout:      5 * time.Second,
		ScheduleSpec:     "@every 1m",
		SchedulePageSize: 500,
	}
}
