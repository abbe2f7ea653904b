package subvault

import (
	"fmt"

	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// guard is one precondition of an entrypoint.
type guard func() error

// check runs guards in order and returns the first failure. Guards that load
// state assign it to variables captured by later guards.
func check(guards ...guard) error {
	for _, g := range guards {
		if err := g(); err != nil {
			return err
		}
	}
	return nil
}

// running fails with ErrEmergencyStop while the emergency stop is enabled.
func (u *unit) running() error {
	cfg, err := u.settings()
	if err != nil {
		return err
	}
	if cfg.Stopped {
		return ErrEmergencyStop
	}
	return nil
}

// admin requires the authenticated caller to be addr and addr to be the
// stored administrator.
func (u *unit) admin(addr types.Address) error {
	if err := requireAuth(u.ctx, addr); err != nil {
		return err
	}
	cfg, err := u.settings()
	if err != nil {
		return err
	}
	if cfg.Admin != addr {
		return fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, addr)
	}
	return nil
}

func positive(amount types.Amount, err error) guard {
	return func() error {
		if !amount.IsPositive() {
			return fmt.Errorf("%w: %s", err, amount)
		}
		return nil
	}
}

// party requires caller to be the subscriber or the merchant of sub.
func party(sub *subscription.Subscription, caller types.Address) error {
	if caller != sub.Subscriber && caller != sub.Merchant {
		return fmt.Errorf("%w: %s is not a party to subscription %d", ErrUnauthorized, caller, sub.ID)
	}
	return nil
}

// inStatus fails with err unless sub is in one of the given statuses.
func inStatus(sub *subscription.Subscription, err error, allowed ...subscription.Status) error {
	for _, s := range allowed {
		if sub.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: subscription %d is %s", err, sub.ID, sub.Status)
}
