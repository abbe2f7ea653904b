package subvault

import (
	"context"
	"fmt"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/types"
)

// EnableEmergencyStop halts every gated entrypoint. It is idempotent and
// always records its event.
func (v *Vault) EnableEmergencyStop(ctx context.Context, admin types.Address) error {
	return v.setStopped(ctx, admin, true)
}

// DisableEmergencyStop lifts the emergency stop. It is idempotent and
// always records its event.
func (v *Vault) DisableEmergencyStop(ctx context.Context, admin types.Address) error {
	return v.setStopped(ctx, admin, false)
}

func (v *Vault) setStopped(ctx context.Context, admin types.Address, stopped bool) error {
	kind := event.KindEmergencyStopDisabled
	if stopped {
		kind = event.KindEmergencyStopEnabled
	}

	var was bool
	err := v.exec(ctx, string(kind), func(u *unit) error {
		if err := u.admin(admin); err != nil {
			return err
		}
		was = u.cfg.Stopped
		u.cfg.Stopped = stopped
		if err := u.saveSettings(); err != nil {
			return err
		}
		u.afterCommit(func(ctx context.Context) {
			v.plugins.EmitEmergencyStop(ctx, stopped, admin)
		})
		return u.emit(&event.Event{Kind: kind, Actor: admin})
	})
	if err != nil {
		return err
	}

	v.logger.Warn("emergency stop updated",
		"admin", admin,
		"stopped", stopped,
		"changed", was != stopped,
	)
	return nil
}

// SetMinTopup changes the minimum deposit. Only the administrator may call it.
func (v *Vault) SetMinTopup(ctx context.Context, admin types.Address, minTopup types.Amount) error {
	var previous types.Amount
	err := v.exec(ctx, "set_min_topup", func(u *unit) error {
		if err := check(
			func() error { return u.admin(admin) },
			positive(minTopup, ErrInvalidConfig),
		); err != nil {
			return err
		}
		previous = u.cfg.MinTopup
		u.cfg.MinTopup = minTopup
		if err := u.saveSettings(); err != nil {
			return err
		}
		return u.emit((&event.Event{
			Kind:   event.KindMinTopupUpdated,
			Actor:  admin,
			Amount: minTopup,
		}).With("previous", previous.String()))
	})
	if err != nil {
		return err
	}

	v.logger.Info("min top-up updated",
		"previous", previous.String(),
		"min_topup", minTopup.String(),
	)
	return nil
}

// RotateAdmin hands administration to next. The current administrator must
// authorize it.
func (v *Vault) RotateAdmin(ctx context.Context, current, next types.Address) error {
	err := v.exec(ctx, "rotate_admin", func(u *unit) error {
		if err := check(
			func() error { return u.admin(current) },
			func() error { return validAddress(next) },
		); err != nil {
			return err
		}
		u.cfg.Admin = next
		if err := u.saveSettings(); err != nil {
			return err
		}
		return u.emit(&event.Event{
			Kind:         event.KindAdminRotated,
			Actor:        current,
			Counterparty: next,
		})
	})
	if err != nil {
		return err
	}

	v.logger.Info("admin rotated", "previous", current, "admin", next)
	return nil
}

// RecoverStrandedFunds sends tokens held by the vault but owed to nobody,
// such as an accidental direct transfer, to recipient. Only the
// administrator may call it and every recovery is recorded with its reason.
func (v *Vault) RecoverStrandedFunds(
	ctx context.Context,
	admin, recipient types.Address,
	amount types.Amount,
	reason event.RecoveryReason,
) error {
	recoveryID := id.NewRecoveryID()
	err := v.exec(ctx, "recover_stranded_funds", func(u *unit) error {
		if err := check(
			func() error { return u.admin(admin) },
			positive(amount, ErrInvalidRecoveryAmount),
			func() error { return validAddress(recipient) },
			func() error {
				if !reason.Valid() {
					return fmt.Errorf("%w: unknown recovery reason %d", ErrInvalidArguments, uint32(reason))
				}
				return nil
			},
		); err != nil {
			return err
		}

		if err := u.move(v.address, recipient, amount); err != nil {
			return err
		}
		return u.emit((&event.Event{
			Kind:         event.KindFundsRecovered,
			Actor:        admin,
			Counterparty: recipient,
			Amount:       amount,
		}).With("reason", reason.String()).With("recovery_id", recoveryID.String()))
	})
	if err != nil {
		return err
	}

	v.logger.Warn("stranded funds recovered",
		"recovery_id", recoveryID.String(),
		"admin", admin,
		"recipient", recipient,
		"amount", amount.String(),
		"reason", reason.String(),
	)
	return nil
}
