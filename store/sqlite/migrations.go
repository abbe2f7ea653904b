package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the subvault store (SQLite).
var Migrations = migrate.NewGroup("subvault")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_subvault_settings",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS subvault_settings (
    id          INTEGER PRIMARY KEY CHECK (id = 1),
    admin       TEXT    NOT NULL,
    token       TEXT    NOT NULL,
    min_topup   TEXT    NOT NULL,
    next_id     INTEGER NOT NULL DEFAULT 0,
    stopped     INTEGER NOT NULL DEFAULT 0,
    initialized INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
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
    id                     INTEGER PRIMARY KEY,
    subscriber             TEXT    NOT NULL,
    merchant               TEXT    NOT NULL,
    amount                 TEXT    NOT NULL,
    interval_seconds       INTEGER NOT NULL,
    last_payment_timestamp INTEGER NOT NULL,
    due_at                 INTEGER NOT NULL,
    status                 INTEGER NOT NULL DEFAULT 0,
    prepaid_balance        TEXT    NOT NULL DEFAULT '0',
    usage_enabled          INTEGER NOT NULL DEFAULT 0,
    expiration             INTEGER,
    created_at             INTEGER NOT NULL,
    updated_at             INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_subvault_subs_merchant ON subvault_subscriptions (merchant, id);
CREATE INDEX IF NOT EXISTS idx_subvault_subs_due ON subvault_subscriptions (status, due_at);
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
    balance    TEXT    NOT NULL,
    updated_at INTEGER NOT NULL
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
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT    NOT NULL UNIQUE,
    kind            TEXT    NOT NULL,
    subscription_id INTEGER,
    actor           TEXT    NOT NULL DEFAULT '',
    counterparty    TEXT    NOT NULL DEFAULT '',
    amount          TEXT    NOT NULL DEFAULT '0',
    timestamp       INTEGER NOT NULL,
    data            TEXT    NOT NULL DEFAULT '{}'
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
ALTER TABLE subvault_subscriptions ADD COLUMN last_charge_key TEXT NOT NULL DEFAULT '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `ALTER TABLE subvault_subscriptions DROP COLUMN last_charge_key`)
				return err
			},
		},
	)
}
