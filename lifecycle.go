package subvault

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/settings"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// exec serializes an entrypoint and runs it as one unit.
func (v *Vault) exec(ctx context.Context, op string, fn func(u *unit) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.run(ctx, op, fn)
}

// Init configures a fresh vault. It can run only once; the caller becomes
// the administrator.
func (v *Vault) Init(ctx context.Context, token, admin types.Address, minTopup types.Amount) error {
	err := v.exec(ctx, "init", func(u *unit) error {
		if err := check(
			func() error { return requireAuth(ctx, admin) },
			func() error { return validAddress(token) },
			func() error {
				if !minTopup.IsPositive() {
					return ValidationError{Field: "min_topup", Message: "must be positive"}
				}
				return nil
			},
		); err != nil {
			return err
		}

		_, err := u.tx.GetSettings(u.ctx)
		switch {
		case err == nil:
			return ErrAlreadyInitialized
		case !errors.Is(err, ErrNotInitialized):
			return err
		}

		u.cfg = &settings.Settings{
			Entity:      types.NewEntity(u.wall),
			Admin:       admin,
			Token:       token,
			MinTopup:    minTopup,
			Initialized: true,
		}
		if err := u.tx.PutSettings(u.ctx, u.cfg); err != nil {
			return err
		}
		return u.emit(&event.Event{
			Kind:         event.KindVaultInitialized,
			Actor:        admin,
			Counterparty: token,
			Amount:       minTopup,
		})
	})
	if err != nil {
		return err
	}

	v.logger.Info("vault initialized",
		"admin", admin,
		"token", token,
		"min_topup", minTopup.String(),
	)
	return nil
}

func validAddress(addr types.Address) error {
	if err := addr.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	return nil
}

// CreateOption customizes a new subscription.
type CreateOption func(*subscription.Subscription)

// WithUsage enables usage-based charging on the subscription.
func WithUsage() CreateOption {
	return func(s *subscription.Subscription) { s.UsageEnabled = true }
}

// WithExpiration blocks interval charges at or after the ledger time ts.
func WithExpiration(ts uint64) CreateOption {
	return func(s *subscription.Subscription) { s.Expiration = &ts }
}

// CreateSubscription records a new Active agreement with an empty prepaid
// balance and returns its ID.
func (v *Vault) CreateSubscription(
	ctx context.Context,
	subscriber, merchant types.Address,
	amount types.Amount,
	intervalSeconds uint64,
	opts ...CreateOption,
) (uint32, error) {
	var created *subscription.Subscription

	err := v.exec(ctx, "create_subscription", func(u *unit) error {
		sub := &subscription.Subscription{
			Entity:               types.NewEntity(u.wall),
			Subscriber:           subscriber,
			Merchant:             merchant,
			Amount:               amount,
			IntervalSeconds:      intervalSeconds,
			LastPaymentTimestamp: u.now,
			Status:               subscription.StatusActive,
		}
		for _, opt := range opts {
			opt(sub)
		}

		if err := check(
			u.running,
			func() error { return requireAuth(ctx, subscriber) },
			positive(amount, ErrInvalidAmount),
			func() error {
				if intervalSeconds == 0 {
					return fmt.Errorf("%w: interval must be positive", ErrInvalidInterval)
				}
				return nil
			},
			func() error { return validAddress(merchant) },
			func() error {
				if sub.Expiration != nil && *sub.Expiration <= u.now {
					return fmt.Errorf("%w: expiration %d is not in the future", ErrInvalidArguments, *sub.Expiration)
				}
				return nil
			},
		); err != nil {
			return err
		}

		issued, next, err := id.AllocateSubscriptionID(u.cfg.NextID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSubscriptionLimitReached, err)
		}
		sub.ID = issued
		u.cfg.NextID = next

		if err := u.saveSettings(); err != nil {
			return err
		}
		if err := u.saveSubscription(sub); err != nil {
			return err
		}

		created = sub.Clone()
		u.afterCommit(func(ctx context.Context) {
			v.plugins.EmitSubscriptionCreated(ctx, created)
		})
		return u.emit((&event.Event{
			Kind:         event.KindSubscriptionCreated,
			Actor:        subscriber,
			Counterparty: merchant,
			Amount:       amount,
		}).ForSubscription(issued).
			With("interval_seconds", fmt.Sprintf("%d", intervalSeconds)).
			With("usage_enabled", fmt.Sprintf("%t", sub.UsageEnabled)))
	})
	if err != nil {
		return 0, err
	}

	v.logger.Debug("subscription created",
		"subscription_id", created.ID,
		"subscriber", subscriber,
		"merchant", merchant,
		"amount", amount.String(),
		"interval_seconds", intervalSeconds,
	)
	return created.ID, nil
}

// PauseSubscription moves an Active subscription to Paused. Pausing anything
// other than Active fails, including an already Paused subscription.
func (v *Vault) PauseSubscription(ctx context.Context, subID uint32, caller types.Address) error {
	return v.transition(ctx, "pause_subscription", subID, caller, subscription.StatusPaused,
		event.KindSubscriptionPaused, subscription.StatusActive)
}

// ResumeSubscription moves a Paused or InsufficientBalance subscription back
// to Active.
func (v *Vault) ResumeSubscription(ctx context.Context, subID uint32, caller types.Address) error {
	return v.transition(ctx, "resume_subscription", subID, caller, subscription.StatusActive,
		event.KindSubscriptionResumed, subscription.StatusPaused, subscription.StatusInsufficientBalance)
}

// CancelSubscription moves a subscription to the terminal Cancelled status.
// The remaining prepaid balance becomes refundable through
// WithdrawSubscriberFunds.
func (v *Vault) CancelSubscription(ctx context.Context, subID uint32, caller types.Address) error {
	return v.transition(ctx, "cancel_subscription", subID, caller, subscription.StatusCancelled,
		event.KindSubscriptionCancelled,
		subscription.StatusActive, subscription.StatusPaused, subscription.StatusInsufficientBalance)
}

// transition runs the shared pause/resume/cancel flow.
func (v *Vault) transition(
	ctx context.Context,
	op string,
	subID uint32,
	caller types.Address,
	to subscription.Status,
	kind event.Kind,
	from ...subscription.Status,
) error {
	err := v.exec(ctx, op, func(u *unit) error {
		var sub *subscription.Subscription
		if err := check(
			u.running,
			func() error { return requireAuth(ctx, caller) },
			func() (err error) { sub, err = u.subscription(subID); return err },
			func() error { return party(sub, caller) },
			func() error { return inStatus(sub, ErrInvalidStatusTransition, from...) },
		); err != nil {
			return err
		}

		if err := u.setStatus(sub, to); err != nil {
			return err
		}
		if err := u.saveSubscription(sub); err != nil {
			return err
		}

		e := (&event.Event{Kind: kind, Actor: caller}).ForSubscription(subID)
		if to == subscription.StatusCancelled {
			e.Amount = sub.PrepaidBalance
			e.With("refund_amount", sub.PrepaidBalance.String())
		}
		return u.emit(e)
	})
	if err != nil {
		return err
	}

	v.logger.Debug("subscription status changed",
		"op", op,
		"subscription_id", subID,
		"caller", caller,
		"status", to.String(),
	)
	return nil
}
