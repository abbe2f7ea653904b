package subvault

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/settings"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// Queries never mutate state and are available during an emergency stop.

// GetSubscription returns the subscription with the given ID.
func (v *Vault) GetSubscription(ctx context.Context, subID uint32) (*subscription.Subscription, error) {
	var sub *subscription.Subscription
	err := v.view(ctx, func(u *unit) (err error) {
		sub, err = u.subscription(subID)
		return err
	})
	return sub, err
}

// GetSubscriptionCount returns the number of subscriptions ever created,
// which is also the next ID to be issued. It is zero before Init.
func (v *Vault) GetSubscriptionCount(ctx context.Context) (uint32, error) {
	cfg, err := v.optionalSettings(ctx)
	if err != nil || cfg == nil {
		return 0, err
	}
	return cfg.NextID, nil
}

// GetEmergencyStopStatus reports whether the emergency stop is enabled. An
// uninitialized vault is not stopped.
func (v *Vault) GetEmergencyStopStatus(ctx context.Context) (bool, error) {
	cfg, err := v.optionalSettings(ctx)
	if err != nil || cfg == nil {
		return false, err
	}
	return cfg.Stopped, nil
}

// GetMinTopup returns the minimum deposit.
func (v *Vault) GetMinTopup(ctx context.Context) (types.Amount, error) {
	cfg, err := v.requiredSettings(ctx)
	if err != nil {
		return types.Zero, err
	}
	return cfg.MinTopup, nil
}

// GetAdmin returns the administrator.
func (v *Vault) GetAdmin(ctx context.Context) (types.Address, error) {
	cfg, err := v.requiredSettings(ctx)
	if err != nil {
		return "", err
	}
	return cfg.Admin, nil
}

// GetToken returns the funding token.
func (v *Vault) GetToken(ctx context.Context) (types.Address, error) {
	cfg, err := v.requiredSettings(ctx)
	if err != nil {
		return "", err
	}
	return cfg.Token, nil
}

func (v *Vault) requiredSettings(ctx context.Context) (*settings.Settings, error) {
	var cfg *settings.Settings
	err := v.view(ctx, func(u *unit) (err error) {
		cfg, err = u.settings()
		return err
	})
	return cfg, err
}

// optionalSettings returns nil settings for an uninitialized vault.
func (v *Vault) optionalSettings(ctx context.Context) (*settings.Settings, error) {
	cfg, err := v.requiredSettings(ctx)
	if errors.Is(err, ErrNotInitialized) {
		return nil, nil
	}
	return cfg, err
}

// GetMerchantBalance returns the merchant's withdrawable proceeds, zero for
// a merchant never credited.
func (v *Vault) GetMerchantBalance(ctx context.Context, merchant types.Address) (types.Amount, error) {
	bal := types.Zero
	err := v.view(ctx, func(u *unit) (err error) {
		bal, err = u.tx.GetMerchantBalance(u.ctx, merchant)
		return err
	})
	return bal, err
}

// GetNextChargeInfo reports when the next interval charge may run and
// whether one is expected at all.
func (v *Vault) GetNextChargeInfo(ctx context.Context, subID uint32) (subscription.NextChargeInfo, error) {
	sub, err := v.GetSubscription(ctx, subID)
	if err != nil {
		return subscription.NextChargeInfo{}, err
	}
	return sub.ChargeInfo(), nil
}

// EstimateTopupForIntervals returns how much must be deposited so the
// prepaid balance covers intervals more charges. It is zero when the balance
// already suffices.
func (v *Vault) EstimateTopupForIntervals(ctx context.Context, subID uint32, intervals uint64) (types.Amount, error) {
	sub, err := v.GetSubscription(ctx, subID)
	if err != nil {
		return types.Zero, err
	}
	needed, err := sub.Amount.MulUint64(intervals)
	if err != nil {
		return types.Zero, arith(err)
	}
	if !needed.GreaterThan(sub.PrepaidBalance) {
		return types.Zero, nil
	}
	short, err := needed.Sub(sub.PrepaidBalance)
	if err != nil {
		return types.Zero, arith(err)
	}
	return short, nil
}

// ListSubscriptionsByMerchant pages through a merchant's subscriptions in ID
// order. A limit of zero returns every remaining subscription.
func (v *Vault) ListSubscriptionsByMerchant(ctx context.Context, merchant types.Address, offset, limit int) ([]*subscription.Subscription, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must not be negative", ErrInvalidArguments)
	}
	var subs []*subscription.Subscription
	err := v.view(ctx, func(u *unit) (err error) {
		subs, err = u.tx.ListSubscriptionsByMerchant(u.ctx, merchant, subscription.ListOpts{Offset: offset, Limit: limit})
		return err
	})
	return subs, err
}

// GetMerchantSubscriptionCount returns how many subscriptions name merchant.
func (v *Vault) GetMerchantSubscriptionCount(ctx context.Context, merchant types.Address) (int, error) {
	var n int
	err := v.view(ctx, func(u *unit) (err error) {
		n, err = u.tx.CountSubscriptionsByMerchant(u.ctx, merchant)
		return err
	})
	return n, err
}

// ListDueSubscriptions returns up to limit Active subscriptions whose next
// interval charge is due at the current ledger time.
func (v *Vault) ListDueSubscriptions(ctx context.Context, limit int) ([]*subscription.Subscription, error) {
	var subs []*subscription.Subscription
	err := v.view(ctx, func(u *unit) (err error) {
		subs, err = u.tx.ListDueSubscriptions(u.ctx, u.now, limit)
		return err
	})
	return subs, err
}

// ListEvents returns audit events in append order.
func (v *Vault) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var events []*event.Event
	err := v.view(ctx, func(u *unit) (err error) {
		events, err = u.tx.ListEvents(u.ctx, opts)
		return err
	})
	return events, err
}
