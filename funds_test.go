package subvault_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/store/memory"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/transfer"
	"github.com/xraph/subvault/types"
)

// earn gives shop a merchant balance of n through one charged interval.
func (h *harness) earn(n int64) {
	h.t.Helper()
	h.mint(alice, n)
	id := h.subscribe(n, day)
	h.deposit(id, n)
	h.advance(day)
	require.NoError(h.t, h.vault.ChargeSubscription(context.Background(), id))
}

func TestDepositFunds(t *testing.T) {
	h := newHarness(t)
	id := h.subscribe(1000, day)

	h.deposit(id, 700)
	assert.Equal(t, amt(700), h.sub(id).PrepaidBalance)
	assert.Equal(t, amt(10_000_000-700), h.balance(alice))
	assert.Equal(t, amt(700), h.balance(subvault.DefaultVaultAddress))

	deposited := h.events(event.ListOpts{Kind: event.KindFundsDeposited})
	require.Len(t, deposited, 1)
	assert.Equal(t, amt(700), deposited[0].Amount)
	assert.Equal(t, "700", deposited[0].Data["prepaid_balance"])

	tests := []struct {
		name       string
		ctx        context.Context
		subID      uint32
		subscriber types.Address
		amount     int64
		want       error
	}{
		{"unauthenticated", context.Background(), id, alice, 500, subvault.ErrUnauthorized},
		{"below minimum", as(alice), id, alice, 99, subvault.ErrBelowMinimumTopup},
		{"missing subscription", as(alice), 42, alice, 500, subvault.ErrSubscriptionNotFound},
		{"not the subscriber", as(bob), id, bob, 500, subvault.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.vault.DepositFunds(tt.ctx, tt.subID, tt.subscriber, amt(tt.amount))
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, amt(700), h.sub(id).PrepaidBalance)
}

func TestDepositTransferFailure(t *testing.T) {
	h := newHarness(t)
	id := h.subscribe(1000, day)

	h.ledger.FailWith(transfer.ErrUnavailable)
	err := h.vault.DepositFunds(as(alice), id, alice, amt(500))
	h.ledger.FailWith(nil)

	assert.ErrorIs(t, err, subvault.ErrTransferFailed)
	assert.ErrorIs(t, err, transfer.ErrUnavailable)
	assert.True(t, subvault.IsRetryable(err))
	assert.True(t, h.sub(id).PrepaidBalance.IsZero())
	assert.Empty(t, h.events(event.ListOpts{Kind: event.KindFundsDeposited}))

	err = h.vault.DepositFunds(as(bob), h.bobSubscription(), bob, amt(20_000_000))
	assert.ErrorIs(t, err, transfer.ErrInsufficientFunds)
}

func TestTransfersCarryIdempotencyKeys(t *testing.T) {
	ledger := transfer.NewLedger()
	require.NoError(t, ledger.Mint(token, alice, amt(10_000)))

	var keys []string
	tokens := transfer.Func(func(ctx context.Context, tok, from, to types.Address, amount types.Amount) error {
		keys = append(keys, transfer.IdempotencyKey(ctx))
		return ledger.Transfer(ctx, tok, from, to, amount)
	})
	v := subvault.New(memory.New(), tokens,
		subvault.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, v.Start(context.Background()))
	t.Cleanup(func() { _ = v.Stop() })
	require.NoError(t, v.Init(as(admin), token, admin, amt(100)))

	id, err := v.CreateSubscription(as(alice), alice, shop, amt(1000), day)
	require.NoError(t, err)
	require.NoError(t, v.DepositFunds(as(alice), id, alice, amt(500)))
	require.NoError(t, v.DepositFunds(as(alice), id, alice, amt(500)))

	require.Len(t, keys, 2)
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "xfr_"), k)
	}
	assert.NotEqual(t, keys[0], keys[1])
}

func (h *harness) bobSubscription() uint32 {
	h.t.Helper()
	id, err := h.vault.CreateSubscription(as(bob), bob, shop, amt(10), day)
	require.NoError(h.t, err)
	return id
}

func TestDepositReversedWhenCommitFails(t *testing.T) {
	h := newHarness(t)
	id := h.subscribe(1000, day)

	h.store.failAppends(true)
	err := h.vault.DepositFunds(as(alice), id, alice, amt(500))
	h.store.failAppends(false)

	require.ErrorIs(t, err, subvault.ErrStore)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, amt(10_000_000), h.balance(alice))
	assert.True(t, h.balance(subvault.DefaultVaultAddress).IsZero())
	assert.True(t, h.sub(id).PrepaidBalance.IsZero())
}

func TestWithdrawMerchantFunds(t *testing.T) {
	h := newHarness(t)

	err := h.vault.WithdrawMerchantFunds(as(shop), shop, amt(10))
	assert.ErrorIs(t, err, subvault.ErrNotFound)
	assert.Equal(t, subvault.Code(404), subvault.CodeOf(err))

	h.earn(5000)

	assert.ErrorIs(t, h.vault.WithdrawMerchantFunds(as(bob), shop, amt(10)), subvault.ErrUnauthorized)
	assert.ErrorIs(t, h.vault.WithdrawMerchantFunds(as(shop), shop, amt(0)), subvault.ErrInvalidAmount)
	assert.ErrorIs(t, h.vault.WithdrawMerchantFunds(as(shop), shop, amt(5001)), subvault.ErrInsufficientMerchantBalance)

	require.NoError(t, h.vault.WithdrawMerchantFunds(as(shop), shop, amt(2000)))
	assert.Equal(t, amt(3000), h.merchantBalance(shop))
	assert.Equal(t, amt(2000), h.balance(shop))

	require.NoError(t, h.vault.WithdrawMerchantFunds(as(shop), shop, amt(3000)))
	assert.True(t, h.merchantBalance(shop).IsZero())
	assert.Len(t, h.events(event.ListOpts{Kind: event.KindMerchantWithdrawal}), 2)
}

func TestBatchWithdrawMerchantFunds(t *testing.T) {
	h := newHarness(t)
	h.earn(2_500_000)

	_, err := h.vault.BatchWithdrawMerchantFunds(as(bob), shop, []types.Amount{amt(1)})
	assert.ErrorIs(t, err, subvault.ErrUnauthorized)

	results, err := h.vault.BatchWithdrawMerchantFunds(as(shop), shop,
		[]types.Amount{amt(1_000_000), amt(-5), amt(2_000_000)})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.Equal(t, amt(1_000_000), results[0].Amount)

	assert.False(t, results[1].Success)
	assert.Equal(t, subvault.Code(407), results[1].ErrorCode)
	assert.ErrorIs(t, results[1].Err, subvault.ErrInvalidAmount)

	assert.False(t, results[2].Success)
	assert.Equal(t, subvault.Code(411), results[2].ErrorCode)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, amt(1_500_000), h.merchantBalance(shop))
	assert.Equal(t, amt(1_000_000), h.balance(shop))
}

func TestWithdrawSubscriberFunds(t *testing.T) {
	h := newHarness(t)
	id := h.subscribe(1000, day)
	h.deposit(id, 1500)
	h.advance(day)
	require.NoError(t, h.vault.ChargeSubscription(context.Background(), id))

	_, err := h.vault.WithdrawSubscriberFunds(as(alice), id, alice)
	assert.ErrorIs(t, err, subvault.ErrInvalidStatusTransition, "refunds need a cancelled subscription")

	require.NoError(t, h.vault.CancelSubscription(as(shop), id, shop))

	_, err = h.vault.WithdrawSubscriberFunds(as(shop), id, shop)
	assert.ErrorIs(t, err, subvault.ErrUnauthorized)

	refunded, err := h.vault.WithdrawSubscriberFunds(as(alice), id, alice)
	require.NoError(t, err)
	assert.Equal(t, amt(500), refunded)
	assert.True(t, h.sub(id).PrepaidBalance.IsZero())
	assert.Equal(t, amt(10_000_000-1000), h.balance(alice))

	_, err = h.vault.WithdrawSubscriberFunds(as(alice), id, alice)
	assert.ErrorIs(t, err, subvault.ErrInsufficientPrepaidBalance)

	// Merchant proceeds stay in custody.
	assert.Equal(t, amt(1000), h.balance(subvault.DefaultVaultAddress))
}

func TestEmergencyStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.earn(3000)
	id := h.subscribe(1000, day)

	assert.ErrorIs(t, h.vault.EnableEmergencyStop(as(alice), alice), subvault.ErrUnauthorized)
	assert.ErrorIs(t, h.vault.EnableEmergencyStop(as(alice), admin), subvault.ErrUnauthorized)

	require.NoError(t, h.vault.EnableEmergencyStop(as(admin), admin))
	require.NoError(t, h.vault.EnableEmergencyStop(as(admin), admin), "enabling twice is a no-op")

	stopped, err := h.vault.GetEmergencyStopStatus(ctx)
	require.NoError(t, err)
	assert.True(t, stopped)

	_, err = h.vault.CreateSubscription(as(alice), alice, shop, amt(1000), day)
	assert.ErrorIs(t, err, subvault.ErrEmergencyStop)
	assert.Equal(t, subvault.Code(1104), subvault.CodeOf(err))
	assert.ErrorIs(t, h.vault.DepositFunds(as(alice), id, alice, amt(500)), subvault.ErrEmergencyStop)
	assert.ErrorIs(t, h.vault.ChargeSubscription(ctx, id), subvault.ErrEmergencyStop)
	assert.ErrorIs(t, h.vault.CancelSubscription(as(alice), id, alice), subvault.ErrEmergencyStop)

	_, err = h.vault.GetSubscription(ctx, id)
	require.NoError(t, err)
	require.NoError(t, h.vault.WithdrawMerchantFunds(as(shop), shop, amt(1000)))

	require.NoError(t, h.vault.DisableEmergencyStop(as(admin), admin))

	next, err := h.vault.CreateSubscription(as(alice), alice, shop, amt(1000), day)
	require.NoError(t, err)
	require.NoError(t, h.vault.DepositFunds(as(alice), next, alice, amt(500)))
	assert.Equal(t, subscription.StatusActive, h.sub(next).Status)
	assert.Equal(t, amt(2000), h.merchantBalance(shop))

	assert.Len(t, h.events(event.ListOpts{Kind: event.KindEmergencyStopEnabled}), 2)
	assert.Len(t, h.events(event.ListOpts{Kind: event.KindEmergencyStopDisabled}), 1)
}
