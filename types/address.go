package types

import (
	"fmt"
	"strings"
)

// Address identifies an account: a subscriber, merchant, admin, the funding
// token contract, or the vault itself.
type Address string

// String implements fmt.Stringer.
func (a Address) String() string { return string(a) }

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool { return a == "" }

// Validate rejects empty addresses and addresses containing whitespace.
func (a Address) Validate() error {
	if a == "" {
		return fmt.Errorf("%w: empty address", ErrInvalid)
	}
	if strings.ContainsAny(string(a), " \t\r\n") {
		return fmt.Errorf("%w: address %q contains whitespace", ErrInvalid, string(a))
	}
	return nil
}
