package subvault

import (
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// Re-export common types for convenience so users don't have to import the
// types and subscription packages.

// Amount is re-exported from types package.
type Amount = types.Amount

// Address is re-exported from types package.
type Address = types.Address

// Subscription is re-exported from subscription package.
type Subscription = subscription.Subscription

// Status is re-exported from subscription package.
type Status = subscription.Status

// Re-export status tags
const (
	StatusActive              = subscription.StatusActive
	StatusPaused              = subscription.StatusPaused
	StatusCancelled           = subscription.StatusCancelled
	StatusInsufficientBalance = subscription.StatusInsufficientBalance
)

// Re-export Amount constructors
var (
	NewAmount   = types.NewAmount
	ParseAmount = types.ParseAmount
)
