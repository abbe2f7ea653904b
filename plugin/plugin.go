// Package plugin provides an extensible plugin system for the vault.
// Plugins hook into committed vault events to extend functionality. Hooks
// run after the atomic unit has committed and can never affect its outcome.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the vault starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, vault any) error
}

// OnShutdown is called when the vault stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Event log hooks
// ──────────────────────────────────────────────────

// OnEvent is called for every committed audit event.
type OnEvent interface {
	Plugin
	OnEvent(ctx context.Context, e *event.Event) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called when a new subscription is created.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

// OnStatusChanged is called after a subscription moves between statuses.
type OnStatusChanged interface {
	Plugin
	OnStatusChanged(ctx context.Context, sub *subscription.Subscription, from subscription.Status) error
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnCharged is called after a successful interval or usage charge.
type OnCharged interface {
	Plugin
	OnCharged(ctx context.Context, sub *subscription.Subscription, amount types.Amount, usage bool) error
}

// OnChargeFailed is called when a charge attempt is rejected.
type OnChargeFailed interface {
	Plugin
	OnChargeFailed(ctx context.Context, subID uint32, err error) error
}

// OnBatchCompleted is called after a batch charge or batch withdrawal.
type OnBatchCompleted interface {
	Plugin
	OnBatchCompleted(ctx context.Context, summary BatchSummary) error
}

// BatchSummary describes a finished batch run.
type BatchSummary struct {
	RunID     id.BatchRunID
	Kind      string // "charge" or "withdraw"
	Total     int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// ──────────────────────────────────────────────────
// Administrative hooks
// ──────────────────────────────────────────────────

// OnEmergencyStop is called when the emergency stop is enabled or disabled.
type OnEmergencyStop interface {
	Plugin
	OnEmergencyStop(ctx context.Context, stopped bool, admin types.Address) error
}
