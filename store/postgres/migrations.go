package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the subvault store.
var Migrations = migrate.NewGroup("subvault")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_subvault_settings",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS subvault_settings (
    id          SMALLINT PRIMARY KEY CHECK (id = 1),
    admin       TEXT        NOT NULL,
    token       TEXT        NOT NULL,
    min_topup   NUMERIC(39) NOT NULL,
    next_id     BIGINT      NOT NULL DEFAULT 0,
    stopped     BOOLEAN     NOT NULL DEFAULT FALSE,
    initialized BOOLEAN     NOT NULL DEFAULT FALSE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS subvault_settings`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_subvault_subscriptions",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS subvault_subscriptions (
    id                     BIGINT PRIMARY KEY,
    subscriber             TEXT        NOT NULL,
    merchant               TEXT        NOT NULL,
    amount                 NUMERIC(39) NOT NULL,
    interval_seconds       BIGINT      NOT NULL,
    last_payment_timestamp BIGINT      NOT NULL,
    due_at                 BIGINT      NOT NULL,
    status                 SMALLINT    NOT NULL DEFAULT 0,
    prepaid_balance        NUMERIC(39) NOT NULL DEFAULT 0,
    usage_enabled          BOOLEAN     NOT NULL DEFAULT FALSE,
    expiration             BIGINT,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_subvault_subs_merchant ON subvault_subscriptions (merchant, id);
CREATE INDEX IF NOT EXISTS idx_subvault_subs_due ON subvault_subscriptions (due_at, id) WHERE status = 0;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS subvault_subscriptions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_subvault_merchant_balances",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS subvault_merchant_balances (
    merchant   TEXT PRIMARY KEY,
    balance    NUMERIC(39) NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS subvault_merchant_balances`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_subvault_events",
			Version: "20260101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS subvault_events (
    seq             BIGSERIAL PRIMARY KEY,
    id              TEXT        NOT NULL UNIQUE,
    kind            TEXT        NOT NULL,
    subscription_id BIGINT,
    actor           TEXT        NOT NULL DEFAULT '',
    counterparty    TEXT        NOT NULL DEFAULT '',
    amount          NUMERIC(39) NOT NULL DEFAULT 0,
    timestamp       BIGINT      NOT NULL,
    data            JSONB       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_subvault_events_kind ON subvault_events (kind, seq);
CREATE INDEX IF NOT EXISTS idx_subvault_events_sub ON subvault_events (subscription_id, seq);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS subvault_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "add_subvault_subscription_charge_key",
			Version: "20260101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
ALTER TABLE subvault_subscriptions ADD COLUMN IF NOT EXISTS last_charge_key TEXT NOT NULL DEFAULT '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `ALTER TABLE subvault_subscriptions DROP COLUMN IF EXISTS last_charge_key`)
				return err
			},
		},
	)
}
