// Package sqlite implements store.Store on SQLite via Grove ORM and its
// pure-Go sqlitedriver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // registers the sqlite migration executor
	"github.com/xraph/grove/migrate"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/settings"
	"github.com/xraph/subvault/store"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM. SQLite allows a single
// writer, so the driver should be opened with driver.WithPoolSize(1).
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// Open opens the database at path with a single connection and a busy
// timeout. The driver enables WAL journaling and foreign keys.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	sdb := sqlitedriver.New()
	if err := sdb.Open(ctx, dsn, driver.WithPoolSize(1)); err != nil {
		return nil, fmt.Errorf("subvault/sqlite: open: %w", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("subvault/sqlite: open: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("subvault/sqlite: ping: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("subvault/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("subvault/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Atomic runs fn inside a database transaction.
func (s *Store) Atomic(ctx context.Context, fn store.TxFunc) error {
	dtx, err := s.sdb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("subvault/sqlite: begin: %w", err)
	}
	if err := fn(ctx, &tx{tx: dtx}); err != nil {
		_ = dtx.Rollback() //nolint:errcheck // the unit already failed
		return err
	}
	if err := dtx.Commit(); err != nil {
		return fmt.Errorf("subvault/sqlite: commit: %w", err)
	}
	return nil
}

// tx implements store.Tx over one driver transaction.
type tx struct {
	tx driver.Tx
}

// ==================== Settings ====================

func (t *tx) GetSettings(ctx context.Context) (*settings.Settings, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+settingsColumns+` FROM subvault_settings WHERE id = 1`)
	st, err := scanSettings(row)
	if err != nil {
		if isNoRows(err) {
			return nil, subvault.ErrNotInitialized
		}
		return nil, fmt.Errorf("subvault/sqlite: get settings: %w", err)
	}
	return st, nil
}

func (t *tx) PutSettings(ctx context.Context, st *settings.Settings) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO subvault_settings (id, `+settingsColumns+`)
VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    admin = excluded.admin,
    token = excluded.token,
    min_topup = excluded.min_topup,
    next_id = excluded.next_id,
    stopped = excluded.stopped,
    initialized = excluded.initialized,
    updated_at = excluded.updated_at`,
		st.Admin.String(), st.Token.String(), st.MinTopup.String(), int64(st.NextID),
		st.Stopped, st.Initialized, unixNano(st.CreatedAt), unixNano(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("subvault/sqlite: put settings: %w", err)
	}
	return nil
}

// ==================== Subscriptions ====================

func (t *tx) GetSubscription(ctx context.Context, subID uint32) (*subscription.Subscription, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subvault_subscriptions WHERE id = ?`, int64(subID))
	sub, err := scanSubscription(row)
	if err != nil {
		if isNoRows(err) {
			return nil, subvault.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("subvault/sqlite: get subscription %d: %w", subID, err)
	}
	return sub, nil
}

func (t *tx) PutSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO subvault_subscriptions (`+subscriptionColumns+`, due_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    subscriber = excluded.subscriber,
    merchant = excluded.merchant,
    amount = excluded.amount,
    interval_seconds = excluded.interval_seconds,
    last_payment_timestamp = excluded.last_payment_timestamp,
    status = excluded.status,
    prepaid_balance = excluded.prepaid_balance,
    usage_enabled = excluded.usage_enabled,
    expiration = excluded.expiration,
    last_charge_key = excluded.last_charge_key,
    updated_at = excluded.updated_at,
    due_at = excluded.due_at`,
		int64(sub.ID), sub.Subscriber.String(), sub.Merchant.String(), sub.Amount.String(),
		i64(sub.IntervalSeconds), i64(sub.LastPaymentTimestamp),
		int64(sub.Status), sub.PrepaidBalance.String(), sub.UsageEnabled, expirationValue(sub),
		sub.LastChargeKey, unixNano(sub.CreatedAt), unixNano(sub.UpdatedAt), dueAt(sub),
	)
	if err != nil {
		return fmt.Errorf("subvault/sqlite: put subscription %d: %w", sub.ID, err)
	}
	return nil
}

func (t *tx) ListSubscriptionsByMerchant(ctx context.Context, merchant types.Address, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subvault_subscriptions WHERE merchant = ? ORDER BY id`
	args := []any{merchant.String()}
	q, args = paginate(q, args, opts.Offset, opts.Limit)
	return t.querySubscriptions(ctx, q, args...)
}

func (t *tx) CountSubscriptionsByMerchant(ctx context.Context, merchant types.Address) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM subvault_subscriptions WHERE merchant = ?`, merchant.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("subvault/sqlite: count subscriptions: %w", err)
	}
	return n, nil
}

func (t *tx) ListDueSubscriptions(ctx context.Context, now uint64, limit int) ([]*subscription.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subvault_subscriptions
WHERE status = ? AND due_at <= ?
  AND (expiration IS NULL OR expiration < 0 OR expiration > ?)
ORDER BY id`
	args := []any{int64(subscription.StatusActive), clamp(now), clamp(now)}
	q, args = paginate(q, args, 0, limit)

	subs, err := t.querySubscriptions(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	// due_at and expiration saturate at MaxInt64; recheck against the exact time.
	due := subs[:0]
	for _, sub := range subs {
		if sub.Chargeable(now) {
			due = append(due, sub)
		}
	}
	return due, nil
}

func (t *tx) querySubscriptions(ctx context.Context, q string, args ...any) ([]*subscription.Subscription, error) {
	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("subvault/sqlite: list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("subvault/sqlite: scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ==================== Merchant balances ====================

func (t *tx) GetMerchantBalance(ctx context.Context, merchant types.Address) (types.Amount, error) {
	var raw string
	err := t.tx.QueryRow(ctx,
		`SELECT balance FROM subvault_merchant_balances WHERE merchant = ?`, merchant.String(),
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return types.Zero, nil
		}
		return types.Zero, fmt.Errorf("subvault/sqlite: get merchant balance: %w", err)
	}
	return types.ParseAmount(raw)
}

func (t *tx) PutMerchantBalance(ctx context.Context, merchant types.Address, amount types.Amount) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO subvault_merchant_balances (merchant, balance, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (merchant) DO UPDATE SET
    balance = excluded.balance,
    updated_at = excluded.updated_at`,
		merchant.String(), amount.String(), unixNano(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("subvault/sqlite: put merchant balance: %w", err)
	}
	return nil
}

// ==================== Events ====================

func (t *tx) AppendEvent(ctx context.Context, e *event.Event) error {
	data, err := eventData(e)
	if err != nil {
		return fmt.Errorf("subvault/sqlite: encode event data: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO subvault_events (`+eventColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), string(e.Kind), subscriptionIDValue(e), e.Actor.String(), e.Counterparty.String(),
		e.Amount.String(), i64(e.Timestamp), data,
	)
	if err != nil {
		return fmt.Errorf("subvault/sqlite: append event: %w", err)
	}
	return nil
}

func (t *tx) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var (
		where []string
		args  []any
	)
	if opts.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	if opts.SubscriptionID != nil {
		where = append(where, "subscription_id = ?")
		args = append(args, int64(*opts.SubscriptionID))
	}

	q := `SELECT ` + eventColumns + ` FROM subvault_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq"
	q, args = paginate(q, args, opts.Offset, opts.Limit)

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("subvault/sqlite: list events: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("subvault/sqlite: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ==================== Helpers ====================

// paginate appends LIMIT/OFFSET. A non-positive limit means no limit.
func paginate(q string, args []any, offset, limit int) (string, []any) {
	switch {
	case limit > 0:
		q += " LIMIT ?"
		args = append(args, limit)
	case offset > 0:
		q += " LIMIT -1"
	}
	if offset > 0 {
		q += " OFFSET ?"
		args = append(args, offset)
	}
	return q, args
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
