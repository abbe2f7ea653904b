package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/transfer"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		AppEnv:           "development",
		LogLevel:         "info",
		Store:            StoreSQLite,
		SQLitePath:       filepath.Join(t.TempDir(), "vault.db"),
		VaultAddress:     "subvault",
		Operator:         "ops",
		HookTimeout:      time.Second,
		ScheduleSpec:     "@every 1m",
		SchedulePageSize: 10,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func execute(t *testing.T, cfg *Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(cfg, discardLogger())
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func status(t *testing.T, cfg *Config) map[string]any {
	t.Helper()
	out, err := execute(t, cfg, "status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	return st
}

func TestCLI_AdminFlow(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied (sqlite)")

	out, err = execute(t, cfg, "init", "--token", "usdc", "--min-topup", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "admin=ops token=usdc min_topup=100")

	st := status(t, cfg)
	assert.Equal(t, "ops", st["admin"])
	assert.Equal(t, "usdc", st["token"])
	assert.Equal(t, "100", st["min_topup"])
	assert.Equal(t, float64(0), st["subscription_count"])
	assert.Equal(t, false, st["emergency_stop"])

	_, err = execute(t, cfg, "init", "--token", "usdc", "--min-topup", "100")
	assert.ErrorIs(t, err, subvault.ErrAlreadyInitialized)

	_, err = execute(t, cfg, "set-min-topup", "250")
	require.NoError(t, err)
	assert.Equal(t, "250", status(t, cfg)["min_topup"])

	out, err = execute(t, cfg, "emergency-stop", "enable")
	require.NoError(t, err)
	assert.Contains(t, out, "emergency stop: true")
	assert.Equal(t, true, status(t, cfg)["emergency_stop"])

	out, err = execute(t, cfg, "charge-due")
	require.NoError(t, err)
	assert.Contains(t, out, "due=0 succeeded=0 failed=0")

	out, err = execute(t, cfg, "events", "--kind", "vault.initialized")
	require.NoError(t, err)
	var events []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "ops", events[0]["actor"])

	out, err = execute(t, cfg, "events")
	require.NoError(t, err)
	events = nil
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	assert.Len(t, events, 3)
}

func TestCLI_RequiresOperator(t *testing.T) {
	cfg := testConfig(t)
	cfg.Operator = ""

	_, err := execute(t, cfg, "init", "--token", "usdc", "--min-topup", "100")
	assert.ErrorContains(t, err, "SUBVAULT_OPERATOR")

	_, err = execute(t, cfg, "--operator", "ops", "init", "--token", "usdc", "--min-topup", "100")
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.Operator)
}

func TestCLI_NonAdminRejected(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, cfg, "init", "--token", "usdc", "--min-topup", "100")
	require.NoError(t, err)

	_, err = execute(t, cfg, "--operator", "mallory", "emergency-stop", "enable")
	assert.ErrorIs(t, err, subvault.ErrUnauthorized)
}

func TestCLI_SubscriptionNotFound(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, cfg, "init", "--token", "usdc", "--min-topup", "100")
	require.NoError(t, err)

	_, err = execute(t, cfg, "subscription", "get", "7")
	assert.ErrorIs(t, err, subvault.ErrSubscriptionNotFound)

	_, err = execute(t, cfg, "subscription", "get", "seven")
	assert.ErrorContains(t, err, "invalid subscription id")
}

func TestCLI_RejectsUnknownStore(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, cfg, "--store", "cassandra", "status")
	assert.ErrorContains(t, err, "unknown store")
}

func TestBuildTransferer(t *testing.T) {
	logger := discardLogger()

	t.Run("development falls back to ledger", func(t *testing.T) {
		tr, err := buildTransferer(&Config{AppEnv: "development"}, logger)
		require.NoError(t, err)
		assert.IsType(t, &transfer.Ledger{}, tr)
	})

	t.Run("production requires gateway", func(t *testing.T) {
		_, err := buildTransferer(&Config{AppEnv: "production"}, logger)
		assert.ErrorContains(t, err, "TRANSFER_URL")
	})

	t.Run("gateway behind breaker", func(t *testing.T) {
		tr, err := buildTransferer(&Config{AppEnv: "production", TransferURL: "http://tokens"}, logger)
		require.NoError(t, err)
		assert.IsType(t, &transfer.Breaker{}, tr)
	})

	t.Run("breaker disabled", func(t *testing.T) {
		tr, err := buildTransferer(&Config{TransferURL: "http://tokens", DisableBreaker: true}, logger)
		require.NoError(t, err)
		assert.IsType(t, &transfer.HTTPGateway{}, tr)
	})
}

func TestNewApp_RedisStream(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = StoreMemory
	cfg.RedisURL = "redis://localhost:6379/0"

	a, err := NewApp(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, a.Redis)
	assert.Equal(t, 1, a.Vault.Plugins().Count())
	require.NoError(t, a.Close())

	cfg.RedisURL = "not-a-url"
	_, err = NewApp(context.Background(), cfg, discardLogger())
	assert.ErrorContains(t, err, "REDIS_URL")
}
