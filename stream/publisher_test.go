package stream_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/store/memory"
	"github.com/xraph/subvault/stream"
	"github.com/xraph/subvault/transfer"
	"github.com/xraph/subvault/types"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestEncode(t *testing.T) {
	e := (&event.Event{
		ID:           id.NewEventID(),
		Kind:         event.KindFundsDeposited,
		Actor:        "alice",
		Counterparty: "shop",
		Amount:       types.MustParseAmount("170141183460469231731687303715884105727"),
		Timestamp:    1_700_000_000,
	}).ForSubscription(4).With("prepaid_balance", "10")

	values, err := stream.Encode(e)
	require.NoError(t, err)
	assert.Equal(t, "funds.deposited", values["kind"])
	assert.Equal(t, "4", values["subscription_id"])
	assert.Equal(t, "170141183460469231731687303715884105727", values["amount"])
	assert.Equal(t, "1700000000", values["timestamp"])
	assert.JSONEq(t, `{"prepaid_balance":"10"}`, values["data"].(string))

	values, err = stream.Encode(&event.Event{Kind: event.KindVaultInitialized})
	require.NoError(t, err)
	assert.NotContains(t, values, "subscription_id")
	assert.NotContains(t, values, "data")
}

func TestPublisherAppendsToStream(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	p := stream.NewPublisher(client, stream.WithStream("test:events"))

	require.NoError(t, p.OnInit(ctx, nil))
	for _, kind := range []event.Kind{event.KindVaultInitialized, event.KindSubscriptionCreated} {
		require.NoError(t, p.OnEvent(ctx, &event.Event{ID: id.NewEventID(), Kind: kind}))
	}

	msgs, err := client.XRange(ctx, "test:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "vault.initialized", msgs[0].Values["kind"])
	assert.Equal(t, "subscription.created", msgs[1].Values["kind"])
}

func TestPublisherTrimsStream(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	p := stream.NewPublisher(client, stream.WithMaxLen(2), stream.WithExactTrim())

	for i := 0; i < 5; i++ {
		require.NoError(t, p.OnEvent(ctx, &event.Event{ID: id.NewEventID(), Kind: event.KindFundsDeposited}))
	}

	n, err := client.XLen(ctx, stream.DefaultStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPublisherReportsRedisFailure(t *testing.T) {
	client, mr := newTestClient(t)
	p := stream.NewPublisher(client)
	mr.Close()

	assert.Error(t, p.OnInit(context.Background(), nil))
	assert.Error(t, p.OnEvent(context.Background(), &event.Event{Kind: event.KindFundsDeposited}))
}

func TestPublisherFollowsVault(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	vault := subvault.New(memory.New(), transfer.NewLedger(),
		subvault.WithLogger(logger),
		subvault.WithPlugin(stream.NewPublisher(client, stream.WithLogger(logger))),
	)
	require.NoError(t, vault.Start(ctx))

	admin := subvault.WithCaller(ctx, "admin")
	require.NoError(t, vault.Init(admin, "usdc", "admin", types.NewAmount(1)))
	require.NoError(t, vault.SetMinTopup(admin, "admin", types.NewAmount(5)))

	msgs, err := client.XRange(ctx, stream.DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, string(event.KindMinTopupUpdated), msgs[1].Values["kind"])
	assert.Equal(t, "5", msgs[1].Values["amount"])
}
