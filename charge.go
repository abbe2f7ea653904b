package subvault

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/plugin"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// BatchResult is the outcome of one item of a batch call. Results are in
// input order.
type BatchResult struct {
	Index          int          `json:"index"`
	SubscriptionID uint32       `json:"subscription_id,omitempty"`
	Amount         types.Amount `json:"amount"`
	Success        bool         `json:"success"`
	ErrorCode      Code         `json:"error_code,omitempty"`
	Err            error        `json:"-"`
}

func batchResult(index int, err error) BatchResult {
	r := BatchResult{Index: index, Success: err == nil, Err: err}
	if err != nil {
		r.ErrorCode = CodeOf(err)
		if r.ErrorCode == 0 {
			r.ErrorCode = ErrStore.Code
		}
	}
	return r
}

// ChargeOption configures one ChargeSubscription call.
type ChargeOption func(*chargeOptions)

type chargeOptions struct {
	key string
}

// WithIdempotencyKey makes the charge safe to retry: once a charge with key
// has succeeded, repeating it returns nil without charging again. A different
// key for a period that was already charged fails with ErrReplay.
func WithIdempotencyKey(key string) ChargeOption {
	return func(o *chargeOptions) { o.key = key }
}

// ChargeSubscription bills one interval of a subscription. Anyone may
// trigger it; the proceeds always go to the subscription's merchant.
//
// When the prepaid balance cannot cover the amount, the subscription moves to
// InsufficientBalance, that status change is committed, and the call returns
// ErrInsufficientBalance. Balances and the payment timestamp are untouched.
func (v *Vault) ChargeSubscription(ctx context.Context, subID uint32, opts ...ChargeOption) error {
	var o chargeOptions
	for _, opt := range opts {
		opt(&o)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.charge(ctx, subID, o.key)
}

func (v *Vault) charge(ctx context.Context, subID uint32, key string) error {
	var (
		charged  *subscription.Subscription
		replayed bool
	)

	err := v.run(ctx, "charge_subscription", func(u *unit) error {
		var sub *subscription.Subscription
		if err := check(
			u.running,
			func() (err error) { sub, err = u.subscription(subID); return err },
		); err != nil {
			return err
		}
		if key != "" && key == sub.LastChargeKey {
			replayed = true
			return nil
		}
		if err := check(
			func() error { return inStatus(sub, ErrNotActive, subscription.StatusActive) },
			func() error {
				if sub.IsExpired(u.now) {
					return fmt.Errorf("%w: subscription %d expired at %d", ErrSubscriptionExpired, subID, *sub.Expiration)
				}
				return nil
			},
			func() error { return elapsed(sub, u.now, key) },
		); err != nil {
			return err
		}

		if sub.PrepaidBalance.LessThan(sub.Amount) {
			if err := u.setStatus(sub, subscription.StatusInsufficientBalance); err != nil {
				return err
			}
			if err := u.saveSubscription(sub); err != nil {
				return err
			}
			u.result = fmt.Errorf("%w: subscription %d holds %s, needs %s",
				ErrInsufficientBalance, subID, sub.PrepaidBalance, sub.Amount)
			return u.emit((&event.Event{
				Kind:         event.KindChargeFailed,
				Actor:        sub.Subscriber,
				Counterparty: sub.Merchant,
				Amount:       sub.Amount,
			}).ForSubscription(subID).With("reason", "insufficient_balance"))
		}

		prepaid, err := types.SubBalance(sub.PrepaidBalance, sub.Amount)
		if err != nil {
			return arith(err)
		}
		if err := u.credit(sub.Merchant, sub.Amount); err != nil {
			return err
		}
		sub.PrepaidBalance = prepaid
		sub.LastPaymentTimestamp = u.now
		if key != "" {
			sub.LastChargeKey = key
		}
		if err := u.saveSubscription(sub); err != nil {
			return err
		}

		charged = sub.Clone()
		u.afterCommit(func(ctx context.Context) {
			v.plugins.EmitCharged(ctx, charged, charged.Amount, false)
		})
		return u.emit((&event.Event{
			Kind:         event.KindSubscriptionCharged,
			Actor:        sub.Subscriber,
			Counterparty: sub.Merchant,
			Amount:       sub.Amount,
		}).ForSubscription(subID))
	})
	if err != nil {
		v.plugins.EmitChargeFailed(ctx, subID, err)
		v.logger.Debug("charge rejected",
			"subscription_id", subID,
			"code", CodeOf(err),
			"error", err,
		)
		return err
	}
	if replayed {
		v.logger.Debug("charge replayed", "subscription_id", subID, "idempotency_key", key)
		return nil
	}

	v.logger.Debug("subscription charged",
		"subscription_id", subID,
		"amount", charged.Amount.String(),
		"prepaid_balance", charged.PrepaidBalance.String(),
	)
	return nil
}

// elapsed rejects an interval charge that is not yet due. A keyed charge for
// a period already charged reports ErrReplay as well.
func elapsed(sub *subscription.Subscription, now uint64, key string) error {
	next, ok := sub.NextCharge()
	if !ok {
		return fmt.Errorf("%w: next charge of subscription %d is past the end of time", ErrOverflow, sub.ID)
	}
	if now >= next {
		return nil
	}
	if key != "" {
		return fmt.Errorf("%w: %w: next charge at %d, now %d", ErrReplay, ErrIntervalNotElapsed, next, now)
	}
	return fmt.Errorf("%w: next charge at %d, now %d", ErrIntervalNotElapsed, next, now)
}

// ChargeUsage debits a metered usage amount from the prepaid balance and
// credits the merchant. It does not consult or advance the billing interval.
// Draining the balance to zero moves the subscription to InsufficientBalance
// in the same unit.
func (v *Vault) ChargeUsage(ctx context.Context, subID uint32, usage types.Amount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var charged *subscription.Subscription
	err := v.run(ctx, "charge_usage", func(u *unit) error {
		var sub *subscription.Subscription
		if err := check(
			u.running,
			func() (err error) { sub, err = u.subscription(subID); return err },
			func() error { return inStatus(sub, ErrNotActive, subscription.StatusActive) },
			func() error {
				if !sub.UsageEnabled {
					return fmt.Errorf("%w: subscription %d", ErrUsageNotEnabled, subID)
				}
				return nil
			},
			positive(usage, ErrInvalidAmount),
			func() error {
				if sub.PrepaidBalance.LessThan(usage) {
					return fmt.Errorf("%w: subscription %d holds %s, usage %s",
						ErrInsufficientPrepaidBalance, subID, sub.PrepaidBalance, usage)
				}
				return nil
			},
		); err != nil {
			return err
		}

		prepaid, err := types.SubBalance(sub.PrepaidBalance, usage)
		if err != nil {
			return arith(err)
		}
		if err := u.credit(sub.Merchant, usage); err != nil {
			return err
		}
		sub.PrepaidBalance = prepaid
		if prepaid.IsZero() {
			if err := u.setStatus(sub, subscription.StatusInsufficientBalance); err != nil {
				return err
			}
		}
		if err := u.saveSubscription(sub); err != nil {
			return err
		}

		charged = sub.Clone()
		u.afterCommit(func(ctx context.Context) {
			v.plugins.EmitCharged(ctx, charged, usage, true)
		})
		return u.emit((&event.Event{
			Kind:         event.KindUsageCharged,
			Actor:        sub.Subscriber,
			Counterparty: sub.Merchant,
			Amount:       usage,
		}).ForSubscription(subID))
	})
	if err != nil {
		v.plugins.EmitChargeFailed(ctx, subID, err)
		return err
	}

	v.logger.Debug("usage charged",
		"subscription_id", subID,
		"usage", usage.String(),
		"prepaid_balance", charged.PrepaidBalance.String(),
	)
	return nil
}

// BatchCharge charges each subscription in its own unit and reports every
// outcome. Only the administrator may run it. A failing item never aborts
// the batch; the breaker and authorization checks apply to the whole call.
func (v *Vault) BatchCharge(ctx context.Context, subIDs []uint32) ([]BatchResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	start := time.Now()
	err := v.run(ctx, "batch_charge", func(u *unit) error {
		caller, _ := CallerFrom(ctx)
		return check(
			u.running,
			func() error { return u.admin(caller) },
		)
	})
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, len(subIDs))
	failed := 0
	for i, subID := range subIDs {
		err := v.charge(ctx, subID, "")
		results[i] = batchResult(i, err)
		results[i].SubscriptionID = subID
		if err != nil {
			failed++
		}
	}

	summary := plugin.BatchSummary{
		RunID:     id.NewBatchRunID(),
		Kind:      "charge",
		Total:     len(subIDs),
		Succeeded: len(subIDs) - failed,
		Failed:    failed,
		Elapsed:   time.Since(start),
	}
	v.plugins.EmitBatchCompleted(ctx, summary)
	v.logger.Info("batch charge completed",
		"run_id", summary.RunID.String(),
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)
	return results, nil
}
