package subvault_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

func TestSettingsQueries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	gotAdmin, err := h.vault.GetAdmin(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, gotAdmin)

	gotToken, err := h.vault.GetToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, gotToken)

	minTopup, err := h.vault.GetMinTopup(ctx)
	require.NoError(t, err)
	assert.Equal(t, amt(100), minTopup)

	assert.True(t, h.merchantBalance("nobody").IsZero())
}

func TestGetNextChargeInfo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.subscribe(1000, day)
	start := uint64(genesis.Unix())

	info, err := h.vault.GetNextChargeInfo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, subscription.NextChargeInfo{NextChargeTimestamp: start + day, IsChargeExpected: true}, info)

	require.NoError(t, h.vault.PauseSubscription(as(alice), id, alice))
	info, err = h.vault.GetNextChargeInfo(ctx, id)
	require.NoError(t, err)
	assert.False(t, info.IsChargeExpected)

	_, err = h.vault.GetNextChargeInfo(ctx, 99)
	assert.ErrorIs(t, err, subvault.ErrSubscriptionNotFound)
}

func TestEstimateTopupForIntervals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.subscribe(1000, day)
	h.deposit(id, 2500)

	tests := []struct {
		intervals uint64
		want      int64
	}{
		{0, 0},
		{1, 0},
		{2, 0},
		{3, 500},
		{10, 7500},
	}
	for _, tt := range tests {
		got, err := h.vault.EstimateTopupForIntervals(ctx, id, tt.intervals)
		require.NoError(t, err)
		assert.Equal(t, amt(tt.want), got, "intervals=%d", tt.intervals)
	}
}

func TestEstimateTopupOverflow(t *testing.T) {
	h := newHarness(t)
	id, err := h.vault.CreateSubscription(as(alice), alice, shop, types.MaxAmount, day)
	require.NoError(t, err)

	_, err = h.vault.EstimateTopupForIntervals(context.Background(), id, 2)
	assert.ErrorIs(t, err, subvault.ErrOverflow)
}

func TestMerchantIndex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for range 5 {
		h.subscribe(1000, day)
	}
	other, err := h.vault.CreateSubscription(as(bob), bob, "cafe", amt(10), day)
	require.NoError(t, err)

	n, err := h.vault.GetMerchantSubscriptionCount(ctx, shop)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	page, err := h.vault.ListSubscriptionsByMerchant(ctx, shop, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint32(1), page[0].ID)
	assert.Equal(t, uint32(2), page[1].ID)

	all, err := h.vault.ListSubscriptionsByMerchant(ctx, shop, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	cafe, err := h.vault.ListSubscriptionsByMerchant(ctx, "cafe", 0, 10)
	require.NoError(t, err)
	require.Len(t, cafe, 1)
	assert.Equal(t, other, cafe[0].ID)

	_, err = h.vault.ListSubscriptionsByMerchant(ctx, shop, -1, 2)
	assert.ErrorIs(t, err, subvault.ErrInvalidArguments)
}

func TestListDueSubscriptions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	daily := h.subscribe(1000, day)
	weekly := h.subscribe(1000, 7*day)
	paused := h.subscribe(1000, day)
	require.NoError(t, h.vault.PauseSubscription(as(alice), paused, alice))

	due, err := h.vault.ListDueSubscriptions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	h.advance(day)
	due, err = h.vault.ListDueSubscriptions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, daily, due[0].ID)

	h.advance(6 * day)
	due, err = h.vault.ListDueSubscriptions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, daily, due[0].ID)

	due, err = h.vault.ListDueSubscriptions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, weekly, due[1].ID)
}

func TestListEvents(t *testing.T) {
	h := newHarness(t)
	first := h.subscribe(1000, day)
	second := h.subscribe(1000, day)
	h.deposit(first, 500)
	h.deposit(second, 500)

	all := h.events(event.ListOpts{})
	require.Len(t, all, 5)
	assert.Equal(t, event.KindVaultInitialized, all[0].Kind)
	for _, e := range all {
		assert.False(t, e.ID.IsNil())
		assert.Equal(t, uint64(genesis.Unix()), e.Timestamp)
	}

	forSecond := h.events(event.ListOpts{SubscriptionID: &second})
	require.Len(t, forSecond, 2)
	assert.Equal(t, event.KindSubscriptionCreated, forSecond[0].Kind)
	assert.Equal(t, event.KindFundsDeposited, forSecond[1].Kind)

	paged := h.events(event.ListOpts{Offset: 1, Limit: 2})
	require.Len(t, paged, 2)
	assert.Equal(t, all[1].ID, paged[0].ID)
}
