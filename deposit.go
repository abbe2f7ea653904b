package subvault

import (
	"context"
	"fmt"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// DepositFunds moves amount from the subscriber into the vault and credits
// the subscription's prepaid balance. A subscription waiting in
// InsufficientBalance returns to Active once the balance covers one cycle.
//
// The token transfer runs before any balance write, so a failed transfer
// leaves the vault untouched.
func (v *Vault) DepositFunds(ctx context.Context, subID uint32, subscriber types.Address, amount types.Amount) error {
	var funded *subscription.Subscription

	err := v.exec(ctx, "deposit_funds", func(u *unit) error {
		var sub *subscription.Subscription
		if err := check(
			u.running,
			func() error { return requireAuth(ctx, subscriber) },
			func() error {
				if amount.LessThan(u.cfg.MinTopup) {
					return fmt.Errorf("%w: %s < %s", ErrBelowMinimumTopup, amount, u.cfg.MinTopup)
				}
				return nil
			},
			func() (err error) { sub, err = u.subscription(subID); return err },
			func() error {
				if sub.Status == subscription.StatusCancelled {
					return fmt.Errorf("%w: subscription %d is cancelled", ErrInvalidStatusTransition, subID)
				}
				return nil
			},
			func() error {
				if sub.Subscriber != subscriber {
					return fmt.Errorf("%w: %s is not the subscriber of %d", ErrUnauthorized, subscriber, subID)
				}
				return nil
			},
		); err != nil {
			return err
		}

		if err := u.move(subscriber, v.address, amount); err != nil {
			return err
		}

		prepaid, err := types.AddBalance(sub.PrepaidBalance, amount)
		if err != nil {
			return arith(err)
		}
		sub.PrepaidBalance = prepaid

		if sub.Status == subscription.StatusInsufficientBalance && !prepaid.LessThan(sub.Amount) {
			if err := u.setStatus(sub, subscription.StatusActive); err != nil {
				return err
			}
		}
		if err := u.saveSubscription(sub); err != nil {
			return err
		}

		funded = sub.Clone()
		return u.emit((&event.Event{
			Kind:   event.KindFundsDeposited,
			Actor:  subscriber,
			Amount: amount,
		}).ForSubscription(subID).With("prepaid_balance", prepaid.String()))
	})
	if err != nil {
		return err
	}

	v.logger.Debug("funds deposited",
		"subscription_id", subID,
		"amount", amount.String(),
		"prepaid_balance", funded.PrepaidBalance.String(),
		"status", funded.Status.String(),
	)
	return nil
}

// WithdrawSubscriberFunds refunds the remaining prepaid balance of a
// cancelled subscription to its subscriber. It is available during an
// emergency stop.
func (v *Vault) WithdrawSubscriberFunds(ctx context.Context, subID uint32, subscriber types.Address) (types.Amount, error) {
	var refunded types.Amount

	err := v.exec(ctx, "withdraw_subscriber_funds", func(u *unit) error {
		var sub *subscription.Subscription
		if err := check(
			func() error { return requireAuth(ctx, subscriber) },
			func() (err error) { sub, err = u.subscription(subID); return err },
			func() error {
				if sub.Subscriber != subscriber {
					return fmt.Errorf("%w: %s is not the subscriber of %d", ErrUnauthorized, subscriber, subID)
				}
				return nil
			},
			func() error { return inStatus(sub, ErrInvalidStatusTransition, subscription.StatusCancelled) },
			func() error {
				if !sub.PrepaidBalance.IsPositive() {
					return fmt.Errorf("%w: subscription %d has nothing to refund", ErrInsufficientPrepaidBalance, subID)
				}
				return nil
			},
		); err != nil {
			return err
		}

		refunded = sub.PrepaidBalance
		if err := u.move(v.address, subscriber, refunded); err != nil {
			return err
		}
		sub.PrepaidBalance = types.Zero
		if err := u.saveSubscription(sub); err != nil {
			return err
		}
		return u.emit((&event.Event{
			Kind:   event.KindSubscriberWithdrawal,
			Actor:  subscriber,
			Amount: refunded,
		}).ForSubscription(subID))
	})
	if err != nil {
		return types.Zero, err
	}

	v.logger.Debug("subscriber refunded",
		"subscription_id", subID,
		"amount", refunded.String(),
	)
	return refunded, nil
}
