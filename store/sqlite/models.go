package sqlite

import (
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/settings"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// Ledger timestamps are uint64 and stored bit-for-bit in INTEGER columns.
// due_at holds the next charge time clamped to the signed range so that
// it can be compared and indexed.

func u64(v int64) uint64 { return uint64(v) } //nolint:gosec // bit-preserving round trip

func i64(v uint64) int64 { return int64(v) } //nolint:gosec // bit-preserving round trip

func dueAt(s *subscription.Subscription) int64 { return clamp(s.NextChargeAt()) }

func clamp(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

// scanner is satisfied by driver.Row and driver.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// ==================== Settings ====================

const settingsColumns = `admin, token, min_topup, next_id, stopped, initialized, created_at, updated_at`

func scanSettings(row scanner) (*settings.Settings, error) {
	var (
		st                   settings.Settings
		minTopup             string
		nextID               int64
		created, updated     int64
		stopped, initialized bool
	)
	if err := row.Scan(&st.Admin, &st.Token, &minTopup, &nextID, &stopped, &initialized, &created, &updated); err != nil {
		return nil, err
	}
	amount, err := types.ParseAmount(minTopup)
	if err != nil {
		return nil, err
	}
	st.MinTopup = amount
	st.NextID = uint32(nextID) //nolint:gosec // column only ever holds uint32 values
	st.Stopped = stopped
	st.Initialized = initialized
	st.CreatedAt = fromUnixNano(created)
	st.UpdatedAt = fromUnixNano(updated)
	return &st, nil
}

// ==================== Subscriptions ====================

const subscriptionColumns = `id, subscriber, merchant, amount, interval_seconds, last_payment_timestamp,
status, prepaid_balance, usage_enabled, expiration, last_charge_key, created_at, updated_at`

func scanSubscription(row scanner) (*subscription.Subscription, error) {
	var (
		s                subscription.Subscription
		subID            int64
		amount, prepaid  string
		interval, last   int64
		status           int64
		expiration       sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&subID, &s.Subscriber, &s.Merchant, &amount, &interval, &last,
		&status, &prepaid, &s.UsageEnabled, &expiration, &s.LastChargeKey, &created, &updated); err != nil {
		return nil, err
	}

	var err error
	if s.Amount, err = types.ParseAmount(amount); err != nil {
		return nil, err
	}
	if s.PrepaidBalance, err = types.ParseAmount(prepaid); err != nil {
		return nil, err
	}
	s.ID = uint32(subID) //nolint:gosec // primary key only ever holds uint32 values
	s.IntervalSeconds = u64(interval)
	s.LastPaymentTimestamp = u64(last)
	s.Status = subscription.Status(status) //nolint:gosec // validated below
	if !s.Status.Valid() {
		return nil, subscription.ErrUnknownStatus
	}
	if expiration.Valid {
		exp := u64(expiration.Int64)
		s.Expiration = &exp
	}
	s.CreatedAt = fromUnixNano(created)
	s.UpdatedAt = fromUnixNano(updated)
	return &s, nil
}

func expirationValue(s *subscription.Subscription) sql.NullInt64 {
	if s.Expiration == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: i64(*s.Expiration), Valid: true}
}

// ==================== Events ====================

const eventColumns = `id, kind, subscription_id, actor, counterparty, amount, timestamp, data`

func scanEvent(row scanner) (*event.Event, error) {
	var (
		e      event.Event
		eid    string
		subID  sql.NullInt64
		amount string
		ts     int64
		data   string
	)
	if err := row.Scan(&eid, &e.Kind, &subID, &e.Actor, &e.Counterparty, &amount, &ts, &data); err != nil {
		return nil, err
	}

	var err error
	if e.ID, err = id.ParseEventID(eid); err != nil {
		return nil, err
	}
	if e.Amount, err = types.ParseAmount(amount); err != nil {
		return nil, err
	}
	if subID.Valid {
		v := uint32(subID.Int64) //nolint:gosec // column only ever holds uint32 values
		e.SubscriptionID = &v
	}
	e.Timestamp = u64(ts)
	if data != "" && data != "{}" {
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func eventData(e *event.Event) (string, error) {
	if len(e.Data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func subscriptionIDValue(e *event.Event) sql.NullInt64 {
	if e.SubscriptionID == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*e.SubscriptionID), Valid: true}
}
