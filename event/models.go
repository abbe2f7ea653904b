// Package event defines the vault's persisted audit log entries.
package event

import (
	"fmt"

	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/types"
)

// Kind names what happened.
type Kind string

// Event kinds. One is appended per successful state-changing call, plus
// KindChargeFailed for the recorded insufficient-balance outcome.
const (
	KindSubscriptionCreated   Kind = "subscription.created"
	KindSubscriptionPaused    Kind = "subscription.paused"
	KindSubscriptionResumed   Kind = "subscription.resumed"
	KindSubscriptionCancelled Kind = "subscription.cancelled"
	KindSubscriptionCharged   Kind = "subscription.charged"
	KindUsageCharged          Kind = "subscription.usage_charged"
	KindChargeFailed          Kind = "subscription.charge_failed"
	KindFundsDeposited        Kind = "funds.deposited"
	KindMerchantWithdrawal    Kind = "merchant.withdrawal"
	KindSubscriberWithdrawal  Kind = "subscriber.withdrawal"
	KindEmergencyStopEnabled  Kind = "emergency_stop.enabled"
	KindEmergencyStopDisabled Kind = "emergency_stop.disabled"
	KindVaultInitialized      Kind = "vault.initialized"
	KindAdminRotated          Kind = "admin.rotated"
	KindMinTopupUpdated       Kind = "config.min_topup_updated"
	KindFundsRecovered        Kind = "funds.recovered"
)

// Kinds lists every event kind.
func Kinds() []Kind {
	return []Kind{
		KindSubscriptionCreated, KindSubscriptionPaused, KindSubscriptionResumed,
		KindSubscriptionCancelled, KindSubscriptionCharged, KindUsageCharged,
		KindChargeFailed, KindFundsDeposited, KindMerchantWithdrawal,
		KindSubscriberWithdrawal, KindEmergencyStopEnabled, KindEmergencyStopDisabled,
		KindVaultInitialized, KindAdminRotated, KindMinTopupUpdated, KindFundsRecovered,
	}
}

// Event is one audit log entry. Timestamp is ledger time in seconds.
type Event struct {
	ID             id.EventID        `json:"id"`
	Kind           Kind              `json:"kind"`
	SubscriptionID *uint32           `json:"subscription_id,omitempty"`
	Actor          types.Address     `json:"actor,omitempty"`
	Counterparty   types.Address     `json:"counterparty,omitempty"`
	Amount         types.Amount      `json:"amount"`
	Timestamp      uint64            `json:"timestamp"`
	Data           map[string]string `json:"data,omitempty"`
}

// ForSubscription sets the subscription the event refers to.
func (e *Event) ForSubscription(subID uint32) *Event {
	e.SubscriptionID = &subID
	return e
}

// With adds a data attribute.
func (e *Event) With(key, value string) *Event {
	if e.Data == nil {
		e.Data = make(map[string]string)
	}
	e.Data[key] = value
	return e
}

// SubscriptionKey renders the subscription ID for logs and stream messages.
func (e *Event) SubscriptionKey() string {
	if e.SubscriptionID == nil {
		return ""
	}
	return fmt.Sprintf("%d", *e.SubscriptionID)
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	c := *e
	if e.SubscriptionID != nil {
		v := *e.SubscriptionID
		c.SubscriptionID = &v
	}
	if e.Data != nil {
		c.Data = make(map[string]string, len(e.Data))
		for k, v := range e.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// RecoveryReason classifies a stranded-funds recovery. Tags are persisted.
type RecoveryReason uint32

const (
	RecoveryAccidentalTransfer    RecoveryReason = 0
	RecoveryDeprecatedFlow        RecoveryReason = 1
	RecoveryUnreachableSubscriber RecoveryReason = 2
)

// Valid reports whether r is a defined reason.
func (r RecoveryReason) Valid() bool { return r <= RecoveryUnreachableSubscriber }

func (r RecoveryReason) String() string {
	switch r {
	case RecoveryAccidentalTransfer:
		return "accidental_transfer"
	case RecoveryDeprecatedFlow:
		return "deprecated_flow"
	case RecoveryUnreachableSubscriber:
		return "unreachable_subscriber"
	}
	return fmt.Sprintf("recovery_reason(%d)", uint32(r))
}
