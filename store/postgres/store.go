// Package postgres implements store.Store on PostgreSQL via Grove ORM and
// its pgx-backed pgdriver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"
	_ "github.com/xraph/grove/drivers/pgdriver/pgmigrate" // registers the pg migration executor
	"github.com/xraph/grove/migrate"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/settings"
	"github.com/xraph/subvault/store"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// compile-time interface checks
var (
	_ store.Store   = (*Store)(nil)
	_ driver.Driver = (*pgdriver.PgDB)(nil)
)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pgdb := pgdriver.New()
	if err := pgdb.Open(ctx, databaseURL, driver.WithPoolSize(20)); err != nil {
		return nil, fmt.Errorf("subvault/postgres: connect: %w", err)
	}
	db, err := grove.Open(pgdb)
	if err != nil {
		_ = pgdb.Close()
		return nil, fmt.Errorf("subvault/postgres: connect: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("subvault/postgres: ping: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("subvault/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("subvault/postgres: migration failed: %w", err)
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

// Atomic runs fn in a serializable transaction, so concurrent vault
// processes sharing the database cannot interleave units.
func (s *Store) Atomic(ctx context.Context, fn store.TxFunc) error {
	dtx, err := s.pg.BeginTx(ctx, &driver.TxOptions{IsolationLevel: driver.LevelSerializable})
	if err != nil {
		return fmt.Errorf("subvault/postgres: begin: %w", err)
	}
	if err := fn(ctx, &tx{tx: dtx}); err != nil {
		_ = dtx.Rollback() //nolint:errcheck // the unit already failed
		return err
	}
	if err := dtx.Commit(); err != nil {
		return fmt.Errorf("subvault/postgres: commit: %w", err)
	}
	return nil
}

// tx implements store.Tx over one driver transaction.
type tx struct {
	tx driver.Tx
}

// ==================== Settings ====================

func (t *tx) GetSettings(ctx context.Context) (*settings.Settings, error) {
	st, err := scanSettings(t.tx.QueryRow(ctx, selectSettings))
	if err != nil {
		if isNoRows(err) {
			return nil, subvault.ErrNotInitialized
		}
		return nil, fmt.Errorf("subvault/postgres: get settings: %w", err)
	}
	return st, nil
}

func (t *tx) PutSettings(ctx context.Context, st *settings.Settings) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO subvault_settings (id, admin, token, min_topup, next_id, stopped, initialized, created_at, updated_at)
VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    admin = EXCLUDED.admin,
    token = EXCLUDED.token,
    min_topup = EXCLUDED.min_topup,
    next_id = EXCLUDED.next_id,
    stopped = EXCLUDED.stopped,
    initialized = EXCLUDED.initialized,
    updated_at = EXCLUDED.updated_at`,
		st.Admin.String(), st.Token.String(), st.MinTopup.String(), int64(st.NextID),
		st.Stopped, st.Initialized, st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("subvault/postgres: put settings: %w", err)
	}
	return nil
}

// ==================== Subscriptions ====================

func (t *tx) GetSubscription(ctx context.Context, subID uint32) (*subscription.Subscription, error) {
	sub, err := scanSubscription(t.tx.QueryRow(ctx, selectSubscriptions+` WHERE id = $1`, int64(subID)))
	if err != nil {
		if isNoRows(err) {
			return nil, subvault.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("subvault/postgres: get subscription %d: %w", subID, err)
	}
	return sub, nil
}

func (t *tx) PutSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	_, err := t.tx.Exec(ctx, `
INSERT INTO subvault_subscriptions (
    id, subscriber, merchant, amount, interval_seconds, last_payment_timestamp, due_at,
    status, prepaid_balance, usage_enabled, expiration, last_charge_key, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
    subscriber = EXCLUDED.subscriber,
    merchant = EXCLUDED.merchant,
    amount = EXCLUDED.amount,
    interval_seconds = EXCLUDED.interval_seconds,
    last_payment_timestamp = EXCLUDED.last_payment_timestamp,
    due_at = EXCLUDED.due_at,
    status = EXCLUDED.status,
    prepaid_balance = EXCLUDED.prepaid_balance,
    usage_enabled = EXCLUDED.usage_enabled,
    expiration = EXCLUDED.expiration,
    last_charge_key = EXCLUDED.last_charge_key,
    updated_at = EXCLUDED.updated_at`,
		m.ID, m.Subscriber, m.Merchant, m.Amount, m.IntervalSeconds, m.LastPaymentTimestamp, m.DueAt,
		m.Status, m.PrepaidBalance, m.UsageEnabled, m.Expiration, m.LastChargeKey, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("subvault/postgres: put subscription %d: %w", sub.ID, err)
	}
	return nil
}

func (t *tx) ListSubscriptionsByMerchant(ctx context.Context, merchant types.Address, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	q, args := paginate(selectSubscriptions+` WHERE merchant = $1 ORDER BY id`,
		[]any{merchant.String()}, opts.Offset, opts.Limit)
	return t.querySubscriptions(ctx, q, args...)
}

func (t *tx) CountSubscriptionsByMerchant(ctx context.Context, merchant types.Address) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM subvault_subscriptions WHERE merchant = $1`, merchant.String(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("subvault/postgres: count subscriptions: %w", err)
	}
	return n, nil
}

func (t *tx) ListDueSubscriptions(ctx context.Context, now uint64, limit int) ([]*subscription.Subscription, error) {
	q, args := paginate(selectSubscriptions+` WHERE status = 0 AND due_at <= $1
  AND (expiration IS NULL OR expiration < 0 OR expiration > $1)
ORDER BY id`,
		[]any{clamp(now)}, 0, limit)
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
		return nil, fmt.Errorf("subvault/postgres: list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("subvault/postgres: scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// ==================== Merchant balances ====================

func (t *tx) GetMerchantBalance(ctx context.Context, merchant types.Address) (types.Amount, error) {
	var raw string
	err := t.tx.QueryRow(ctx,
		`SELECT balance::text FROM subvault_merchant_balances WHERE merchant = $1`, merchant.String(),
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return types.Zero, nil
		}
		return types.Zero, fmt.Errorf("subvault/postgres: get merchant balance: %w", err)
	}
	return types.ParseAmount(raw)
}

func (t *tx) PutMerchantBalance(ctx context.Context, merchant types.Address, amount types.Amount) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO subvault_merchant_balances (merchant, balance, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (merchant) DO UPDATE SET
    balance = EXCLUDED.balance,
    updated_at = EXCLUDED.updated_at`,
		merchant.String(), amount.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("subvault/postgres: put merchant balance: %w", err)
	}
	return nil
}

// ==================== Events ====================

func (t *tx) AppendEvent(ctx context.Context, e *event.Event) error {
	data, err := eventData(e)
	if err != nil {
		return fmt.Errorf("subvault/postgres: encode event data: %w", err)
	}
	var subID *int64
	if e.SubscriptionID != nil {
		v := int64(*e.SubscriptionID)
		subID = &v
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO subvault_events (id, kind, subscription_id, actor, counterparty, amount, timestamp, data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID.String(), string(e.Kind), subID, e.Actor.String(), e.Counterparty.String(),
		e.Amount.String(), i64(e.Timestamp), data,
	)
	if err != nil {
		return fmt.Errorf("subvault/postgres: append event: %w", err)
	}
	return nil
}

func (t *tx) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var (
		where []string
		args  []any
	)
	if opts.Kind != "" {
		args = append(args, string(opts.Kind))
		where = append(where, "kind = $"+strconv.Itoa(len(args)))
	}
	if opts.SubscriptionID != nil {
		args = append(args, int64(*opts.SubscriptionID))
		where = append(where, "subscription_id = $"+strconv.Itoa(len(args)))
	}

	q := selectEvents
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q, args = paginate(q+" ORDER BY seq", args, opts.Offset, opts.Limit)

	rows, err := t.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("subvault/postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("subvault/postgres: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ==================== Helpers ====================

// paginate appends LIMIT/OFFSET placeholders. A non-positive limit means no
// limit.
func paginate(q string, args []any, offset, limit int) (string, []any) {
	if limit > 0 {
		args = append(args, limit)
		q += " LIMIT $" + strconv.Itoa(len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		q += " OFFSET $" + strconv.Itoa(len(args))
	}
	return q, args
}

// isNoRows matches the no-rows sentinel of pgx and of database/sql.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}
