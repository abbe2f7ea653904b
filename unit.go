package subvault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/settings"
	"github.com/xraph/subvault/store"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/transfer"
	"github.com/xraph/subvault/types"
)

// movement is a completed token transfer made inside a unit.
type movement struct {
	key      string
	token    types.Address
	from, to types.Address
	amount   types.Amount
}

// unit is the state of one atomic unit of work.
type unit struct {
	v    *Vault
	ctx  context.Context
	tx   store.Tx
	now  uint64
	wall time.Time

	cfg       *settings.Settings
	events    []*event.Event
	after     []func(context.Context)
	movements []movement

	// result is returned to the caller after a successful commit. It carries
	// outcomes that are reported as errors but still persist state.
	result error
}

// run executes fn as one atomic unit. Events and hooks are dispatched only
// after the commit. If the unit fails after moving tokens, the moves are
// reversed.
func (v *Vault) run(ctx context.Context, op string, fn func(u *unit) error) error {
	now, wall := v.ledgerTime()
	u := &unit{v: v, now: now, wall: wall}

	err := v.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		u.ctx, u.tx = ctx, tx
		return fn(u)
	})
	if err != nil {
		v.compensate(ctx, op, u.movements, err)
		return storeError(err)
	}

	for _, e := range u.events {
		v.plugins.EmitEvent(ctx, e)
	}
	for _, hook := range u.after {
		hook(ctx)
	}
	return u.result
}

// view runs a read-only unit.
func (v *Vault) view(ctx context.Context, fn func(u *unit) error) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	now, wall := v.ledgerTime()
	u := &unit{v: v, now: now, wall: wall}
	err := v.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		u.ctx, u.tx = ctx, tx
		return fn(u)
	})
	return storeError(err)
}

// compensate reverses token moves of a unit that did not commit.
func (v *Vault) compensate(ctx context.Context, op string, moves []movement, cause error) {
	ctx = context.WithoutCancel(ctx)
	for i := len(moves) - 1; i >= 0; i-- {
		m := moves[i]
		rctx := transfer.WithIdempotencyKey(ctx, m.key+"-reversal")
		if err := v.transfer.Transfer(rctx, m.token, m.to, m.from, m.amount); err != nil {
			v.logger.Error("compensating transfer failed",
				"op", op,
				"from", m.to,
				"to", m.from,
				"amount", m.amount.String(),
				"cause", cause,
				"error", err,
			)
			continue
		}
		v.logger.Warn("transfer reversed after failed commit",
			"op", op,
			"from", m.from,
			"to", m.to,
			"amount", m.amount.String(),
			"cause", cause,
		)
	}
}

// settings loads the settings once per unit.
func (u *unit) settings() (*settings.Settings, error) {
	if u.cfg != nil {
		return u.cfg, nil
	}
	cfg, err := u.tx.GetSettings(u.ctx)
	if err != nil {
		return nil, err
	}
	u.cfg = cfg
	return cfg, nil
}

func (u *unit) saveSettings() error {
	u.cfg.Touch(u.wall)
	return u.tx.PutSettings(u.ctx, u.cfg)
}

func (u *unit) subscription(subID uint32) (*subscription.Subscription, error) {
	sub, err := u.tx.GetSubscription(u.ctx, subID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrSubscriptionNotFound, subID)
		}
		return nil, err
	}
	return sub, nil
}

func (u *unit) saveSubscription(sub *subscription.Subscription) error {
	sub.Touch(u.wall)
	return u.tx.PutSubscription(u.ctx, sub)
}

// setStatus moves sub to status along the lifecycle table and schedules the
// status hook.
func (u *unit) setStatus(sub *subscription.Subscription, to subscription.Status) error {
	from := sub.Status
	if err := subscription.ValidateTransition(from, to); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidStatusTransition, err)
	}
	sub.Status = to
	snapshot := sub.Clone()
	u.afterCommit(func(ctx context.Context) {
		u.v.plugins.EmitStatusChanged(ctx, snapshot, from)
	})
	return nil
}

// emit appends e to the audit log inside the unit.
func (u *unit) emit(e *event.Event) error {
	e.ID = id.NewEventID()
	e.Timestamp = u.now
	if err := u.tx.AppendEvent(u.ctx, e); err != nil {
		return err
	}
	u.events = append(u.events, e)
	return nil
}

func (u *unit) afterCommit(fn func(context.Context)) {
	u.after = append(u.after, fn)
}

// move transfers amount of the funding token. Later failures in the unit
// reverse it.
func (u *unit) move(from, to types.Address, amount types.Amount) error {
	cfg, err := u.settings()
	if err != nil {
		return err
	}
	key := id.NewTransferID().String()
	if err := u.v.transfer.Transfer(transfer.WithIdempotencyKey(u.ctx, key), cfg.Token, from, to, amount); err != nil {
		return transferError(err)
	}
	u.movements = append(u.movements, movement{key: key, token: cfg.Token, from: from, to: to, amount: amount})
	return nil
}

// credit adds amount to a merchant balance.
func (u *unit) credit(merchant types.Address, amount types.Amount) error {
	bal, err := u.tx.GetMerchantBalance(u.ctx, merchant)
	if err != nil {
		return err
	}
	next, err := types.AddBalance(bal, amount)
	if err != nil {
		return arith(err)
	}
	return u.tx.PutMerchantBalance(u.ctx, merchant, next)
}

// arith maps primitive arithmetic failures onto vault errors.
func arith(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrOverflow):
		return fmt.Errorf("%w: %w", ErrOverflow, err)
	case errors.Is(err, types.ErrNegative):
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	case errors.Is(err, types.ErrInsufficient):
		return fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
	}
	return err
}
