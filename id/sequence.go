package id

import (
	"errors"
	"math"
)

// MaxSubscriptionID is the largest value the subscription counter can hold.
// Once the counter reaches it, no further IDs are issued.
const MaxSubscriptionID uint32 = math.MaxUint32

// ErrExhausted is returned when the subscription ID space is used up.
var ErrExhausted = errors.New("id: subscription id space exhausted")

// AllocateSubscriptionID issues the ID held by the counter and returns the
// advanced counter. The exhaustion guard runs before any increment, so a
// counter at MaxSubscriptionID stays there and every later call fails.
//
// The caller persists next in the same atomic unit that stores the record
// carrying issued.
func AllocateSubscriptionID(current uint32) (issued, next uint32, err error) {
	if current == MaxSubscriptionID {
		return 0, current, ErrExhausted
	}
	return current, current + 1, nil
}
