package mongo

import (
	"math"
	"time"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/id"
	"github.com/xraph/subvault/settings"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// Amounts are stored as decimal strings since BSON has no 128-bit integer.
// uint64 ledger values are stored bit-for-bit as int64; due_at holds the
// next charge time clamped to the signed range so it can be indexed.

func u64(v int64) uint64 { return uint64(v) } //nolint:gosec // bit-preserving round trip

func i64(v uint64) int64 { return int64(v) } //nolint:gosec // bit-preserving round trip

func clamp(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// ==================== Settings models ====================

const settingsDocID = "settings"

type settingsModel struct {
	ID          string    `bson:"_id"`
	Admin       string    `bson:"admin"`
	Token       string    `bson:"token"`
	MinTopup    string    `bson:"min_topup"`
	NextID      int64     `bson:"next_id"`
	Stopped     bool      `bson:"stopped"`
	Initialized bool      `bson:"initialized"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toSettingsModel(s *settings.Settings) *settingsModel {
	return &settingsModel{
		ID:          settingsDocID,
		Admin:       s.Admin.String(),
		Token:       s.Token.String(),
		MinTopup:    s.MinTopup.String(),
		NextID:      int64(s.NextID),
		Stopped:     s.Stopped,
		Initialized: s.Initialized,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func fromSettingsModel(m *settingsModel) (*settings.Settings, error) {
	minTopup, err := types.ParseAmount(m.MinTopup)
	if err != nil {
		return nil, err
	}
	return &settings.Settings{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt.UTC(),
			UpdatedAt: m.UpdatedAt.UTC(),
		},
		Admin:       types.Address(m.Admin),
		Token:       types.Address(m.Token),
		MinTopup:    minTopup,
		NextID:      uint32(m.NextID), //nolint:gosec // field only ever holds uint32 values
		Stopped:     m.Stopped,
		Initialized: m.Initialized,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	ID                   int64     `bson:"_id"`
	Subscriber           string    `bson:"subscriber"`
	Merchant             string    `bson:"merchant"`
	Amount               string    `bson:"amount"`
	IntervalSeconds      int64     `bson:"interval_seconds"`
	LastPaymentTimestamp int64     `bson:"last_payment_timestamp"`
	DueAt                int64     `bson:"due_at"`
	Status               int32     `bson:"status"`
	PrepaidBalance       string    `bson:"prepaid_balance"`
	UsageEnabled         bool      `bson:"usage_enabled"`
	Expiration           *int64    `bson:"expiration,omitempty"`
	LastChargeKey        string    `bson:"last_charge_key,omitempty"`
	CreatedAt            time.Time `bson:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at"`
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
		Status:               int32(s.Status), //nolint:gosec // four defined statuses
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
		ID:                   uint32(m.ID), //nolint:gosec // _id only ever holds uint32 values
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

// ==================== Merchant balance models ====================

type merchantBalanceModel struct {
	Merchant  string    `bson:"_id"`
	Balance   string    `bson:"balance"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// ==================== Event models ====================

type eventModel struct {
	ID             string            `bson:"_id"`
	Seq            int64             `bson:"seq"`
	Kind           string            `bson:"kind"`
	SubscriptionID *int64            `bson:"subscription_id,omitempty"`
	Actor          string            `bson:"actor"`
	Counterparty   string            `bson:"counterparty"`
	Amount         string            `bson:"amount"`
	Timestamp      int64             `bson:"timestamp"`
	Data           map[string]string `bson:"data,omitempty"`
}

func toEventModel(e *event.Event, seq int64) *eventModel {
	m := &eventModel{
		ID:           e.ID.String(),
		Seq:          seq,
		Kind:         string(e.Kind),
		Actor:        e.Actor.String(),
		Counterparty: e.Counterparty.String(),
		Amount:       e.Amount.String(),
		Timestamp:    i64(e.Timestamp),
		Data:         e.Data,
	}
	if e.SubscriptionID != nil {
		v := int64(*e.SubscriptionID)
		m.SubscriptionID = &v
	}
	return m
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	amount, err := types.ParseAmount(m.Amount)
	if err != nil {
		return nil, err
	}
	e := &event.Event{
		ID:           evtID,
		Kind:         event.Kind(m.Kind),
		Actor:        types.Address(m.Actor),
		Counterparty: types.Address(m.Counterparty),
		Amount:       amount,
		Timestamp:    u64(m.Timestamp),
	}
	if m.SubscriptionID != nil {
		v := uint32(*m.SubscriptionID) //nolint:gosec // field only ever holds uint32 values
		e.SubscriptionID = &v
	}
	if len(m.Data) > 0 {
		e.Data = m.Data
	}
	return e, nil
}
