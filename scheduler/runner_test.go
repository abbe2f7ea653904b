package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/scheduler"
	"github.com/xraph/subvault/store/memory"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/transfer"
	"github.com/xraph/subvault/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newVault(t *testing.T) (*subvault.Vault, *transfer.Ledger, *clock) {
	t.Helper()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	ledger := transfer.NewLedger()
	v := subvault.New(memory.New(), ledger, subvault.WithLogger(discard), subvault.WithClock(clk.Now))

	ctx := context.Background()
	require.NoError(t, v.Start(ctx))
	require.NoError(t, v.Init(subvault.WithCaller(ctx, "admin"), "usdc", "admin", types.NewAmount(1)))
	require.NoError(t, ledger.Mint("usdc", "alice", types.NewAmount(1_000_000)))
	return v, ledger, clk
}

func subscribe(t *testing.T, v *subvault.Vault, amount, interval int64, deposit int64) uint32 {
	t.Helper()
	ctx := subvault.WithCaller(context.Background(), "alice")
	subID, err := v.CreateSubscription(ctx, "alice", "shop", types.NewAmount(amount), uint64(interval))
	require.NoError(t, err)
	if deposit > 0 {
		require.NoError(t, v.DepositFunds(ctx, subID, "alice", types.NewAmount(deposit)))
	}
	return subID
}

func TestRunOnceChargesDueSubscriptions(t *testing.T) {
	v, _, clk := newVault(t)
	funded := subscribe(t, v, 100, 60, 1_000)
	broke := subscribe(t, v, 100, 60, 0)
	later := subscribe(t, v, 100, 3_600, 1_000)

	runner := scheduler.New(v, "admin", scheduler.WithLogger(discard))
	ctx := context.Background()

	summary, err := runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Due, "nothing is due before the first interval elapses")

	clk.Advance(time.Minute)
	summary, err = runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Due)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	sub, err := v.GetSubscription(ctx, funded)
	require.NoError(t, err)
	assert.Equal(t, types.NewAmount(900), sub.PrepaidBalance)

	sub, err = v.GetSubscription(ctx, broke)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusInsufficientBalance, sub.Status)

	sub, err = v.GetSubscription(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, types.NewAmount(1_000), sub.PrepaidBalance)

	summary, err = runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Due, "charged and suspended subscriptions are no longer due")
}

func TestRunOnceRespectsPageSize(t *testing.T) {
	v, _, clk := newVault(t)
	for i := 0; i < 3; i++ {
		subscribe(t, v, 10, 60, 100)
	}
	clk.Advance(time.Minute)

	summary, err := scheduler.New(v, "admin", scheduler.WithPageSize(2), scheduler.WithLogger(discard)).
		RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Due)
	assert.Equal(t, 2, summary.Succeeded)
}

func TestRunOnceSkipsExpiredSubscriptions(t *testing.T) {
	v, _, clk := newVault(t)
	ctx := subvault.WithCaller(context.Background(), "alice")

	expired, err := v.CreateSubscription(ctx, "alice", "shop", types.NewAmount(100), 60,
		subvault.WithExpiration(1_700_000_030))
	require.NoError(t, err)
	require.NoError(t, v.DepositFunds(ctx, expired, "alice", types.NewAmount(1_000)))
	healthy := subscribe(t, v, 100, 60, 1_000)

	clk.Advance(time.Minute)
	runner := scheduler.New(v, "admin", scheduler.WithPageSize(1), scheduler.WithLogger(discard))

	summary, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Due)
	assert.Equal(t, 1, summary.Succeeded)

	sub, err := v.GetSubscription(ctx, healthy)
	require.NoError(t, err)
	assert.Equal(t, types.NewAmount(900), sub.PrepaidBalance)

	sub, err = v.GetSubscription(ctx, expired)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, types.NewAmount(1_000), sub.PrepaidBalance)

	due, err := v.ListDueSubscriptions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "expired subscriptions never fill the due page")
}

func TestRunOnceRequiresAdminOperator(t *testing.T) {
	v, _, clk := newVault(t)
	subscribe(t, v, 10, 60, 100)
	clk.Advance(time.Minute)

	_, err := scheduler.New(v, "mallory", scheduler.WithLogger(discard)).RunOnce(context.Background())
	assert.ErrorIs(t, err, subvault.ErrUnauthorized)
}

func TestRunOnceStopsOnEmergencyStop(t *testing.T) {
	v, _, clk := newVault(t)
	subscribe(t, v, 10, 60, 100)
	clk.Advance(time.Minute)
	ctx := context.Background()
	require.NoError(t, v.EnableEmergencyStop(subvault.WithCaller(ctx, "admin"), "admin"))

	_, err := scheduler.New(v, "admin", scheduler.WithLogger(discard)).RunOnce(ctx)
	assert.ErrorIs(t, err, subvault.ErrEmergencyStop)
}

type countingCharger struct {
	calls atomic.Int32
}

func (c *countingCharger) ListDueSubscriptions(context.Context, int) ([]*subscription.Subscription, error) {
	c.calls.Add(1)
	return nil, nil
}

func (c *countingCharger) BatchCharge(context.Context, []uint32) ([]subvault.BatchResult, error) {
	return nil, nil
}

func TestStartSchedulesRuns(t *testing.T) {
	charger := &countingCharger{}
	runner := scheduler.New(charger, "admin", scheduler.WithSpec("@every 1s"), scheduler.WithLogger(discard))

	require.NoError(t, runner.Start())
	assert.Error(t, runner.Start(), "second start is rejected")

	assert.Eventually(t, func() bool { return charger.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, runner.Stop(ctx))
	require.NoError(t, runner.Stop(ctx), "stopping twice is a no-op")
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	runner := scheduler.New(&countingCharger{}, "admin", scheduler.WithSpec("not a spec"), scheduler.WithLogger(discard))
	assert.Error(t, runner.Start())
}
