package subvault

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/plugin"
	"github.com/xraph/subvault/types"
)

// WithdrawMerchantFunds pays amount of the merchant's accumulated proceeds
// out of the vault. Withdrawals stay available during an emergency stop.
func (v *Vault) WithdrawMerchantFunds(ctx context.Context, merchant types.Address, amount types.Amount) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := requireAuth(ctx, merchant); err != nil {
		return err
	}
	return v.withdraw(ctx, merchant, amount)
}

// withdraw runs one authorized withdrawal as its own unit.
func (v *Vault) withdraw(ctx context.Context, merchant types.Address, amount types.Amount) error {
	var remaining types.Amount

	err := v.run(ctx, "withdraw_merchant_funds", func(u *unit) error {
		var balance types.Amount
		if err := check(
			positive(amount, ErrInvalidAmount),
			func() (err error) { balance, err = u.tx.GetMerchantBalance(u.ctx, merchant); return err },
			func() error {
				if balance.IsZero() {
					return fmt.Errorf("%w: merchant %s has no balance", ErrNotFound, merchant)
				}
				return nil
			},
			func() error {
				if balance.LessThan(amount) {
					return fmt.Errorf("%w: %s holds %s, requested %s", ErrInsufficientMerchantBalance, merchant, balance, amount)
				}
				return nil
			},
		); err != nil {
			return err
		}

		if err := u.move(v.address, merchant, amount); err != nil {
			return err
		}
		next, err := types.SubBalance(balance, amount)
		if err != nil {
			return arith(err)
		}
		if err := u.tx.PutMerchantBalance(u.ctx, merchant, next); err != nil {
			return err
		}
		remaining = next
		return u.emit(&event.Event{
			Kind:   event.KindMerchantWithdrawal,
			Actor:  merchant,
			Amount: amount,
		})
	})
	if err != nil {
		return err
	}

	v.logger.Debug("merchant withdrawal",
		"merchant", merchant,
		"amount", amount.String(),
		"remaining", remaining.String(),
	)
	return nil
}

// BatchWithdrawMerchantFunds processes amounts in order under a single
// authorization check. Each entry commits or fails on its own against the
// balance left by earlier entries; results preserve input order.
func (v *Vault) BatchWithdrawMerchantFunds(ctx context.Context, merchant types.Address, amounts []types.Amount) ([]BatchResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := requireAuth(ctx, merchant); err != nil {
		return nil, err
	}

	start := time.Now()
	results := make([]BatchResult, len(amounts))
	failed := 0
	for i, amount := range amounts {
		err := v.withdraw(ctx, merchant, amount)
		results[i] = batchResult(i, err)
		results[i].Amount = amount
		if err != nil {
			failed++
		}
	}

	summary := plugin.BatchSummary{
		RunID:     id.NewBatchRunID(),
		Kind:      "withdraw",
		Total:     len(amounts),
		Succeeded: len(amounts) - failed,
		Failed:    failed,
		Elapsed:   time.Since(start),
	}
	v.plugins.EmitBatchCompleted(ctx, summary)
	v.logger.Info("batch withdrawal completed",
		"run_id", summary.RunID.String(),
		"merchant", merchant,
		"total", summary.Total,
		"failed", summary.Failed,
	)
	return results, nil
}
