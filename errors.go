package subvault

import (
	"errors"
	"fmt"
)

// Code is the stable numeric identifier of a vault failure. Codes appear in
// batch results and in every serialized error, so they must never change.
type Code uint32

// Error is a categorized vault failure. The package-level Err values are
// sentinels: match them with errors.Is, read the code with CodeOf.
type Error struct {
	Code Code
	msg  string
}

func (e *Error) Error() string { return "subvault: " + e.msg }

func newError(code Code, msg string) *Error { return &Error{Code: code, msg: msg} }

// Sentinel errors.
var (
	// Authorization errors
	ErrUnauthorized = newError(401, "unauthorized")

	// Argument errors
	ErrInvalidArguments      = newError(400, "invalid arguments")
	ErrInvalidAmount         = newError(407, "invalid amount")
	ErrInvalidInterval       = newError(408, "invalid interval")
	ErrInvalidRecoveryAmount = newError(1007, "invalid recovery amount")
	ErrInvalidConfig         = newError(1102, "invalid config")

	// Not-found errors. A missing subscription and an uninitialized vault
	// have their own codes; ErrNotFound is reserved for a merchant with no
	// recorded balance.
	ErrNotFound             = newError(404, "not found")
	ErrSubscriptionNotFound = newError(405, "subscription not found")
	ErrNotInitialized       = newError(406, "vault not initialized")
	ErrAlreadyInitialized   = newError(412, "vault already initialized")

	// Lifecycle errors
	ErrInvalidStatusTransition = newError(409, "invalid status transition")
	ErrNotActive               = newError(1002, "subscription not active")
	ErrSubscriptionExpired     = newError(1003, "subscription expired")
	ErrUsageNotEnabled         = newError(1005, "usage charging not enabled")

	// Funds errors
	ErrInsufficientBalance         = newError(402, "insufficient balance")
	ErrBelowMinimumTopup           = newError(410, "below minimum top-up")
	ErrInsufficientMerchantBalance = newError(411, "insufficient merchant balance")
	ErrInsufficientPrepaidBalance  = newError(1006, "insufficient prepaid balance")

	// Timing errors. ErrReplay rejects a keyed charge for a period that was
	// already charged under another key; it also matches ErrIntervalNotElapsed.
	ErrIntervalNotElapsed = newError(1001, "interval not elapsed")
	ErrReplay             = newError(1004, "charge already processed")

	// Resource errors
	ErrOverflow                 = newError(1103, "arithmetic overflow")
	ErrSubscriptionLimitReached = newError(429, "subscription limit reached")

	// Circuit breaker
	ErrEmergencyStop = newError(1104, "emergency stop active")

	// Collaborator errors
	ErrTransferFailed = newError(1201, "token transfer failed")
	ErrStore          = newError(1301, "store failure")
)

// CodeOf returns the code of the first *Error in err's chain, or 0.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// transferError wraps a collaborator failure so that both ErrTransferFailed
// and the underlying cause match with errors.Is.
func transferError(err error) error {
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}

// storeError tags an unclassified persistence failure with ErrStore.
func storeError(err error) error {
	if err == nil || CodeOf(err) != 0 {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStore, err)
}

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("subvault: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets validation failures match ErrInvalidConfig.
func (e ValidationError) Unwrap() error { return ErrInvalidConfig }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "subvault: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("subvault: %d errors occurred", len(e.Errors))
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns e when it holds errors and nil otherwise.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrNotInitialized)
}

// IsAuthError returns true if the caller was not allowed to act.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsFundsError returns true if the error is about insufficient or too-small funds.
func IsFundsError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientMerchantBalance) ||
		errors.Is(err, ErrInsufficientPrepaidBalance) ||
		errors.Is(err, ErrBelowMinimumTopup)
}

// IsTransitionError returns true for lifecycle violations, including the
// not-active case that separates a suspended subscription from a broken one.
func IsTransitionError(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrSubscriptionExpired) ||
		errors.Is(err, ErrUsageNotEnabled)
}

// IsTimingError returns true if the operation was attempted too early.
func IsTimingError(err error) bool {
	return errors.Is(err, ErrIntervalNotElapsed) || errors.Is(err, ErrReplay)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransferFailed) ||
		errors.Is(err, ErrStore) ||
		errors.Is(err, ErrIntervalNotElapsed) ||
		errors.Is(err, ErrEmergencyStop)
}
