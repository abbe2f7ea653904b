package audithook

import "github.com/xraph/subvault/event"

// Action constants for audit events. Actions for committed vault events
// reuse the event kind.
const (
	// Subscription actions
	ActionSubscriptionCreated   = string(event.KindSubscriptionCreated)
	ActionSubscriptionPaused    = string(event.KindSubscriptionPaused)
	ActionSubscriptionResumed   = string(event.KindSubscriptionResumed)
	ActionSubscriptionCancelled = string(event.KindSubscriptionCancelled)

	// Charge actions
	ActionSubscriptionCharged = string(event.KindSubscriptionCharged)
	ActionUsageCharged        = string(event.KindUsageCharged)
	ActionChargeFailed        = string(event.KindChargeFailed)
	ActionChargeRejected      = "subscription.charge_rejected"
	ActionBatchCompleted      = "batch.completed"

	// Funds actions
	ActionFundsDeposited       = string(event.KindFundsDeposited)
	ActionMerchantWithdrawal   = string(event.KindMerchantWithdrawal)
	ActionSubscriberWithdrawal = string(event.KindSubscriberWithdrawal)
	ActionFundsRecovered       = string(event.KindFundsRecovered)

	// Administrative actions
	ActionVaultInitialized      = string(event.KindVaultInitialized)
	ActionAdminRotated          = string(event.KindAdminRotated)
	ActionMinTopupUpdated       = string(event.KindMinTopupUpdated)
	ActionEmergencyStopEnabled  = string(event.KindEmergencyStopEnabled)
	ActionEmergencyStopDisabled = string(event.KindEmergencyStopDisabled)
)

// Resource constants for audit events.
const (
	ResourceSubscription = "subscription"
	ResourceMerchant     = "merchant"
	ResourceVault        = "vault"
	ResourceBatch        = "batch"
)

// Category constants for audit events.
const (
	CategorySubscription = "subscription"
	CategoryBilling      = "billing"
	CategoryPayment      = "payment"
	CategoryAdmin        = "admin"
	CategorySecurity     = "security"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)

// classification is how a committed event kind is filed in the audit trail.
type classification struct {
	resource string
	category string
	severity string
	outcome  string
}

var kindClass = map[event.Kind]classification{
	event.KindSubscriptionCreated:   {ResourceSubscription, CategorySubscription, SeverityInfo, OutcomeSuccess},
	event.KindSubscriptionPaused:    {ResourceSubscription, CategorySubscription, SeverityInfo, OutcomeSuccess},
	event.KindSubscriptionResumed:   {ResourceSubscription, CategorySubscription, SeverityInfo, OutcomeSuccess},
	event.KindSubscriptionCancelled: {ResourceSubscription, CategorySubscription, SeverityInfo, OutcomeSuccess},
	event.KindSubscriptionCharged:   {ResourceSubscription, CategoryBilling, SeverityInfo, OutcomeSuccess},
	event.KindUsageCharged:          {ResourceSubscription, CategoryBilling, SeverityInfo, OutcomeSuccess},
	event.KindChargeFailed:          {ResourceSubscription, CategoryBilling, SeverityWarning, OutcomeFailure},
	event.KindFundsDeposited:        {ResourceSubscription, CategoryPayment, SeverityInfo, OutcomeSuccess},
	event.KindSubscriberWithdrawal:  {ResourceSubscription, CategoryPayment, SeverityInfo, OutcomeSuccess},
	event.KindMerchantWithdrawal:    {ResourceMerchant, CategoryPayment, SeverityInfo, OutcomeSuccess},
	event.KindVaultInitialized:      {ResourceVault, CategoryAdmin, SeverityInfo, OutcomeSuccess},
	event.KindMinTopupUpdated:       {ResourceVault, CategoryAdmin, SeverityInfo, OutcomeSuccess},
	event.KindAdminRotated:          {ResourceVault, CategorySecurity, SeverityWarning, OutcomeSuccess},
	event.KindEmergencyStopEnabled:  {ResourceVault, CategorySecurity, SeverityCritical, OutcomeSuccess},
	event.KindEmergencyStopDisabled: {ResourceVault, CategorySecurity, SeverityWarning, OutcomeSuccess},
	event.KindFundsRecovered:        {ResourceVault, CategorySecurity, SeverityCritical, OutcomeSuccess},
}
