// Package subscription defines the subscription record, its status
// enumeration and the lifecycle transition table.
package subscription

import (
	"math"

	"github.com/xraph/subvault/types"
)

// Subscription is one subscriber/merchant agreement.
//
// Amount, IntervalSeconds, UsageEnabled and Expiration are fixed at creation.
// Records are never deleted; Cancelled is kept for audit.
type Subscription struct {
	types.Entity
	ID                   uint32        `json:"id"`
	Subscriber           types.Address `json:"subscriber"`
	Merchant             types.Address `json:"merchant"`
	Amount               types.Amount  `json:"amount"`
	IntervalSeconds      uint64        `json:"interval_seconds"`
	LastPaymentTimestamp uint64        `json:"last_payment_timestamp"`
	Status               Status        `json:"status"`
	PrepaidBalance       types.Amount  `json:"prepaid_balance"`
	UsageEnabled         bool          `json:"usage_enabled"`
	Expiration           *uint64       `json:"expiration,omitempty"`

	// LastChargeKey is the idempotency key of the last keyed interval
	// charge, empty if there was none.
	LastChargeKey string `json:"last_charge_key,omitempty"`
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	c := *s
	if s.Expiration != nil {
		exp := *s.Expiration
		c.Expiration = &exp
	}
	return &c
}

// NextCharge returns the earliest ledger time at which the next interval
// charge may run. ok is false when LastPaymentTimestamp + IntervalSeconds
// overflows; such a subscription can never be charged again.
func (s *Subscription) NextCharge() (next uint64, ok bool) {
	next = s.LastPaymentTimestamp + s.IntervalSeconds
	if next < s.LastPaymentTimestamp {
		return math.MaxUint64, false
	}
	return next, true
}

// NextChargeAt is NextCharge saturated at math.MaxUint64. Callers that must
// tell an overflow from a far-future charge use NextCharge.
func (s *Subscription) NextChargeAt() uint64 {
	next, _ := s.NextCharge()
	return next
}

// IsDue reports whether an interval charge may run at now.
func (s *Subscription) IsDue(now uint64) bool {
	next, ok := s.NextCharge()
	return ok && now >= next
}

// IsExpired reports whether the subscription has reached its expiration.
func (s *Subscription) IsExpired(now uint64) bool {
	return s.Expiration != nil && now >= *s.Expiration
}

// Chargeable reports whether an interval charge at now would pass the status,
// expiration and timing checks. It is the due-list predicate.
func (s *Subscription) Chargeable(now uint64) bool {
	return s.Status == StatusActive && !s.IsExpired(now) && s.IsDue(now)
}

// NextChargeInfo describes when the next interval charge is expected.
type NextChargeInfo struct {
	NextChargeTimestamp uint64 `json:"next_charge_timestamp"`
	IsChargeExpected    bool   `json:"is_charge_expected"`
}

// ChargeInfo computes the NextChargeInfo for s. A charge is expected while
// the subscription is Active or waiting on funds in InsufficientBalance.
func (s *Subscription) ChargeInfo() NextChargeInfo {
	return NextChargeInfo{
		NextChargeTimestamp: s.NextChargeAt(),
		IsChargeExpected:    s.Status == StatusActive || s.Status == StatusInsufficientBalance,
	}
}
