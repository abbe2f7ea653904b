package postgres

import (
	"encoding/json"
	"math"
	"time"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/settings"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// Ledger timestamps are uint64 and stored bit-for-bit in BIGINT columns.
// due_at holds the next charge time clamped to the signed range so that it
// can be compared and indexed. Amounts are NUMERIC(39) and read back as text.

func u64(v int64) uint64 { return uint64(v) } //nolint:gosec // bit-preserving round trip

func i64(v uint64) int64 { return int64(v) } //nolint:gosec // bit-preserving round trip

func clamp(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// scanner is satisfied by driver.Row and driver.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// ==================== Settings ====================

const selectSettings = `SELECT admin, token, min_topup::text, next_id, stopped, initialized, created_at, updated_at
FROM subvault_settings WHERE id = 1`

func scanSettings(row scanner) (*settings.Settings, error) {
	var (
		st              settings.Settings
		admin, token    string
		minTopup        string
		nextID          int64
		created, update time.Time
	)
	if err := row.Scan(&admin, &token, &minTopup, &nextID, &st.Stopped, &st.Initialized, &created, &update); err != nil {
		return nil, err
	}
	amount, err := types.ParseAmount(minTopup)
	if err != nil {
		return nil, err
	}
	st.Admin = types.Address(admin)
	st.Token = types.Address(token)
	st.MinTopup = amount
	st.NextID = uint32(nextID) //nolint:gosec // column only ever holds uint32 values
	st.CreatedAt = created.UTC()
	st.UpdatedAt = update.UTC()
	return &st, nil
}

// ==================== Subscriptions ====================

const selectSubscriptions = `SELECT id, subscriber, merchant, amount::text, interval_seconds, last_payment_timestamp,
status, prepaid_balance::text, usage_enabled, expiration, last_charge_key, created_at, updated_at
FROM subvault_subscriptions`

type subscriptionModel struct {
	ID                   int64
	Subscriber           string
	Merchant             string
	Amount               string
	IntervalSeconds      int64
	LastPaymentTimestamp int64
	DueAt                int64
	Status               int16
	PrepaidBalance       string
	UsageEnabled         bool
	Expiration           *int64
	LastChargeKey        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	m := &subscriptionModel{
		ID:                   int64(s.ID),
		Subscriber:           s.Subscriber.String(),
		Merchant:             s.Merchant.String(),
		Amount:               s.Amount.String(),
		IntervalSeconds:      i64(s.IntervalSeconds),
		LastPaymentTimestamp: i64(s.LastPaymentTimestamp),
		DueAt:                clamp(s.NextChargeAt()),
		Status:               int16(s.Status), //nolint:gosec // four defined statuses
		PrepaidBalance:       s.PrepaidBalance.String(),
		UsageEnabled:         s.UsageEnabled,
		LastChargeKey:        s.LastChargeKey,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
	if s.Expiration != nil {
		exp := i64(*s.Expiration)
		m.Expiration = &exp
	}
	return m
}

func scanSubscription(row scanner) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := row.Scan(&m.ID, &m.Subscriber, &m.Merchant, &m.Amount, &m.IntervalSeconds, &m.LastPaymentTimestamp,
		&m.Status, &m.PrepaidBalance, &m.UsageEnabled, &m.Expiration, &m.LastChargeKey, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return fromSubscriptionModel(&m)
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	amount, err := types.ParseAmount(m.Amount)
	if err != nil {
		return nil, err
	}
	prepaid, err := types.ParseAmount(m.PrepaidBalance)
	if err != nil {
		return nil, err
	}
	status := subscription.Status(m.Status) //nolint:gosec // validated below
	if !status.Valid() {
		return nil, subscription.ErrUnknownStatus
	}

	s := &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		ID:                   uint32(m.ID), //nolint:gosec // primary key only ever holds uint32 values
		Subscriber:           types.Address(m.Subscriber),
		Merchant:             types.Address(m.Merchant),
		Amount:               amount,
		IntervalSeconds:      u64(m.IntervalSeconds),
		LastPaymentTimestamp: u64(m.LastPaymentTimestamp),
		Status:               status,
		PrepaidBalance:       prepaid,
		UsageEnabled:         m.UsageEnabled,
		LastChargeKey:        m.LastChargeKey,
	}
	if m.Expiration != nil {
		exp := u64(*m.Expiration)
		s.Expiration = &exp
	}
	return s, nil
}

// ==================== Events ====================

const selectEvents = `SELECT id, kind, subscription_id, actor, counterparty, amount::text, timestamp, data
FROM subvault_events`

func scanEvent(row scanner) (*event.Event, error) {
	var (
		eid, kind           string
		subID               *int64
		actor, counterparty string
		amount              string
		ts                  int64
		data                []byte
	)
	if err := row.Scan(&eid, &kind, &subID, &actor, &counterparty, &amount, &ts, &data); err != nil {
		return nil, err
	}

	evtID, err := id.ParseEventID(eid)
	if err != nil {
		return nil, err
	}
	value, err := types.ParseAmount(amount)
	if err != nil {
		return nil, err
	}

	e := &event.Event{
		ID:           evtID,
		Kind:         event.Kind(kind),
		Actor:        types.Address(actor),
		Counterparty: types.Address(counterparty),
		Amount:       value,
		Timestamp:    u64(ts),
	}
	if subID != nil {
		v := uint32(*subID) //nolint:gosec // column only ever holds uint32 values
		e.SubscriptionID = &v
	}
	if len(data) > 0 {
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		if len(m) > 0 {
			e.Data = m
		}
	}
	return e, nil
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
