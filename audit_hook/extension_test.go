package audithook_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	subvault "github.com/xraph/subvault"
	audithook "github.com/xraph/subvault/audit_hook"
	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/plugin"
	"github.com/xraph/subvault/store/memory"
	"github.com/xraph/subvault/transfer"
	"github.com/xraph/subvault/types"
)

type captured struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (c *captured) Record(_ context.Context, e *audithook.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captured) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Action
	}
	return out
}

func TestOnEventClassifiesKinds(t *testing.T) {
	rec := &captured{}
	ext := audithook.New(rec)

	stop := &event.Event{ID: id.NewEventID(), Kind: event.KindEmergencyStopEnabled, Actor: "admin"}
	require.NoError(t, ext.OnEvent(context.Background(), stop))

	withdrawal := &event.Event{ID: id.NewEventID(), Kind: event.KindMerchantWithdrawal, Actor: "shop", Amount: types.NewAmount(5)}
	require.NoError(t, ext.OnEvent(context.Background(), withdrawal))

	failed := (&event.Event{ID: id.NewEventID(), Kind: event.KindChargeFailed, Actor: "alice"}).
		ForSubscription(3).With("reason", "insufficient_balance")
	require.NoError(t, ext.OnEvent(context.Background(), failed))

	require.Len(t, rec.events, 3)

	assert.Equal(t, audithook.ActionEmergencyStopEnabled, rec.events[0].Action)
	assert.Equal(t, audithook.SeverityCritical, rec.events[0].Severity)
	assert.Equal(t, audithook.CategorySecurity, rec.events[0].Category)

	assert.Equal(t, audithook.ResourceMerchant, rec.events[1].Resource)
	assert.Equal(t, "shop", rec.events[1].ResourceID)
	assert.Equal(t, "5", rec.events[1].Metadata["amount"])

	assert.Equal(t, "3", rec.events[2].ResourceID)
	assert.Equal(t, audithook.OutcomeFailure, rec.events[2].Outcome)
	assert.Equal(t, "insufficient_balance", rec.events[2].Metadata["reason"])
	assert.NotEmpty(t, rec.events[2].Reason)
}

func TestOnChargeFailedSkipsCommittedOutcome(t *testing.T) {
	rec := &captured{}
	ext := audithook.New(rec)
	ctx := context.Background()

	require.NoError(t, ext.OnChargeFailed(ctx, 1, fmt.Errorf("%w: short", subvault.ErrInsufficientBalance)))
	assert.Empty(t, rec.events)

	require.NoError(t, ext.OnChargeFailed(ctx, 1, subvault.ErrIntervalNotElapsed))
	require.NoError(t, ext.OnChargeFailed(ctx, 2, subvault.ErrEmergencyStop))
	require.Len(t, rec.events, 2)

	assert.Equal(t, audithook.ActionChargeRejected, rec.events[0].Action)
	assert.Equal(t, audithook.SeverityWarning, rec.events[0].Severity)
	assert.Equal(t, uint32(1001), rec.events[0].Metadata["code"])
	assert.Equal(t, true, rec.events[0].Metadata["retryable"])
	assert.Equal(t, audithook.SeverityError, rec.events[1].Severity)
}

func TestOnBatchCompletedOutcome(t *testing.T) {
	tests := []struct {
		name              string
		succeeded, failed int
		want              string
	}{
		{"all succeeded", 3, 0, audithook.OutcomeSuccess},
		{"some failed", 2, 1, audithook.OutcomePartial},
		{"all failed", 0, 3, audithook.OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &captured{}
			ext := audithook.New(rec)
			require.NoError(t, ext.OnBatchCompleted(context.Background(), plugin.BatchSummary{
				RunID:     id.NewBatchRunID(),
				Kind:      "charge",
				Total:     tt.succeeded + tt.failed,
				Succeeded: tt.succeeded,
				Failed:    tt.failed,
				Elapsed:   time.Millisecond,
			}))
			require.Len(t, rec.events, 1)
			assert.Equal(t, tt.want, rec.events[0].Outcome)
		})
	}
}

func TestActionFilters(t *testing.T) {
	ctx := context.Background()
	deposit := &event.Event{ID: id.NewEventID(), Kind: event.KindFundsDeposited}
	rotate := &event.Event{ID: id.NewEventID(), Kind: event.KindAdminRotated}

	rec := &captured{}
	ext := audithook.New(rec, audithook.WithEnabledActions(audithook.ActionAdminRotated))
	require.NoError(t, ext.OnEvent(ctx, deposit))
	require.NoError(t, ext.OnEvent(ctx, rotate))
	assert.Equal(t, []string{audithook.ActionAdminRotated}, rec.actions())

	rec = &captured{}
	ext = audithook.New(rec, audithook.WithDisabledActions(audithook.ActionAdminRotated))
	require.NoError(t, ext.OnEvent(ctx, deposit))
	require.NoError(t, ext.OnEvent(ctx, rotate))
	assert.Equal(t, []string{audithook.ActionFundsDeposited}, rec.actions())
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	ext := audithook.New(
		audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error { return errors.New("down") }),
		audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	assert.NoError(t, ext.OnEvent(context.Background(), &event.Event{Kind: event.KindFundsDeposited}))
}

func TestAuditsVaultActivity(t *testing.T) {
	rec := &captured{}
	ledger := transfer.NewLedger()
	vault := subvault.New(memory.New(), ledger,
		subvault.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		subvault.WithPlugin(audithook.New(rec)),
	)
	ctx := context.Background()
	require.NoError(t, vault.Start(ctx))
	t.Cleanup(func() { _ = vault.Stop() })

	require.NoError(t, vault.Init(subvault.WithCaller(ctx, "admin"), "usdc", "admin", types.NewAmount(1)))
	require.NoError(t, vault.EnableEmergencyStop(subvault.WithCaller(ctx, "admin"), "admin"))

	assert.Equal(t, []string{audithook.ActionVaultInitialized, audithook.ActionEmergencyStopEnabled}, rec.actions())
}
