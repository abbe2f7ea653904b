// Package mongo implements store.Store on MongoDB via Grove ORM. Atomic units
// use multi-document transactions, so the server must run as a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/settings"
	"github.com/xraph/subvault/store"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// Collection name constants.
const (
	colSettings         = "subvault_settings"
	colSubscriptions    = "subvault_subscriptions"
	colMerchantBalances = "subvault_merchant_balances"
	colEvents           = "subvault_events"
	colCounters         = "subvault_counters"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Open connects to uri, selects database and verifies the connection.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	mdb := mongodriver.New()
	if err := mdb.Open(ctx, uri, mongodriver.WithDatabase(database)); err != nil {
		return nil, fmt.Errorf("subvault/mongo: connect: %w", err)
	}
	db, err := grove.Open(mdb)
	if err != nil {
		_ = mdb.Close()
		return nil, fmt.Errorf("subvault/mongo: connect: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("subvault/mongo: ping: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Database returns the selected MongoDB database.
func (s *Store) Database() *mongo.Database { return s.mdb.Database() }

// Migrate creates indexes for all subvault collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("subvault/mongo: migrate %s indexes: %w", col, err)
		}
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

// sessionTx is the part of the driver's transaction handle Atomic relies on.
type sessionTx interface {
	SessionContext(ctx context.Context) context.Context
}

// Atomic runs fn inside a multi-document transaction. The transaction is
// not retried: fn may have moved tokens that only the vault can reverse.
func (s *Store) Atomic(ctx context.Context, fn store.TxFunc) error {
	gtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("subvault/mongo: begin: %w", err)
	}
	sess, ok := gtx.Raw().(sessionTx)
	if !ok {
		_ = gtx.Rollback() //nolint:errcheck // unusable transaction
		return fmt.Errorf("subvault/mongo: begin: unexpected transaction type %T", gtx.Raw())
	}
	if err := fn(sess.SessionContext(ctx), &tx{db: s.mdb.Database()}); err != nil {
		_ = gtx.Rollback() //nolint:errcheck // the unit already failed
		return err
	}
	if err := gtx.Commit(); err != nil {
		return fmt.Errorf("subvault/mongo: commit: %w", err)
	}
	return nil
}

// tx implements store.Tx. Every call must receive the session context
// handed to the unit by Atomic.
type tx struct {
	db *mongo.Database
}

// ==================== Settings ====================

func (t *tx) GetSettings(ctx context.Context) (*settings.Settings, error) {
	var m settingsModel
	err := t.db.Collection(colSettings).FindOne(ctx, bson.M{"_id": settingsDocID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subvault.ErrNotInitialized
		}
		return nil, fmt.Errorf("subvault/mongo: get settings: %w", err)
	}
	return fromSettingsModel(&m)
}

func (t *tx) PutSettings(ctx context.Context, st *settings.Settings) error {
	m := toSettingsModel(st)
	if err := t.replace(ctx, colSettings, m.ID, m); err != nil {
		return fmt.Errorf("subvault/mongo: put settings: %w", err)
	}
	return nil
}

// ==================== Subscriptions ====================

func (t *tx) GetSubscription(ctx context.Context, subID uint32) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := t.db.Collection(colSubscriptions).FindOne(ctx, bson.M{"_id": int64(subID)}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subvault.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("subvault/mongo: get subscription %d: %w", subID, err)
	}
	return fromSubscriptionModel(&m)
}

func (t *tx) PutSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	if err := t.replace(ctx, colSubscriptions, m.ID, m); err != nil {
		return fmt.Errorf("subvault/mongo: put subscription %d: %w", sub.ID, err)
	}
	return nil
}

func (t *tx) ListSubscriptionsByMerchant(ctx context.Context, merchant types.Address, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return t.findSubscriptions(ctx, bson.M{"merchant": merchant.String()}, opts.Offset, opts.Limit)
}

func (t *tx) CountSubscriptionsByMerchant(ctx context.Context, merchant types.Address) (int, error) {
	n, err := t.db.Collection(colSubscriptions).CountDocuments(ctx, bson.M{"merchant": merchant.String()})
	if err != nil {
		return 0, fmt.Errorf("subvault/mongo: count subscriptions: %w", err)
	}
	return int(n), nil
}

func (t *tx) ListDueSubscriptions(ctx context.Context, now uint64, limit int) ([]*subscription.Subscription, error) {
	filter := bson.M{
		"status": int32(subscription.StatusActive),
		"due_at": bson.M{"$lte": clamp(now)},
		"$or": bson.A{
			bson.M{"expiration": nil},
			bson.M{"expiration": bson.M{"$lt": int64(0)}},
			bson.M{"expiration": bson.M{"$gt": clamp(now)}},
		},
	}
	subs, err := t.findSubscriptions(ctx, filter, 0, limit)
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

func (t *tx) findSubscriptions(ctx context.Context, filter bson.M, offset, limit int) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	if err := t.find(ctx, colSubscriptions, filter, "_id", offset, limit, &models); err != nil {
		return nil, fmt.Errorf("subvault/mongo: list subscriptions: %w", err)
	}

	subs := make([]*subscription.Subscription, 0, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("subvault/mongo: decode subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// ==================== Merchant balances ====================

func (t *tx) GetMerchantBalance(ctx context.Context, merchant types.Address) (types.Amount, error) {
	var m merchantBalanceModel
	err := t.db.Collection(colMerchantBalances).FindOne(ctx, bson.M{"_id": merchant.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return types.Zero, nil
		}
		return types.Zero, fmt.Errorf("subvault/mongo: get merchant balance: %w", err)
	}
	return types.ParseAmount(m.Balance)
}

func (t *tx) PutMerchantBalance(ctx context.Context, merchant types.Address, amount types.Amount) error {
	m := &merchantBalanceModel{
		Merchant:  merchant.String(),
		Balance:   amount.String(),
		UpdatedAt: now(),
	}
	if err := t.replace(ctx, colMerchantBalances, m.Merchant, m); err != nil {
		return fmt.Errorf("subvault/mongo: put merchant balance: %w", err)
	}
	return nil
}

// ==================== Events ====================

func (t *tx) AppendEvent(ctx context.Context, e *event.Event) error {
	seq, err := t.nextSeq(ctx, colEvents)
	if err != nil {
		return fmt.Errorf("subvault/mongo: append event: %w", err)
	}
	if _, err := t.db.Collection(colEvents).InsertOne(ctx, toEventModel(e, seq)); err != nil {
		return fmt.Errorf("subvault/mongo: append event: %w", err)
	}
	return nil
}

func (t *tx) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	filter := bson.M{}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}
	if opts.SubscriptionID != nil {
		filter["subscription_id"] = int64(*opts.SubscriptionID)
	}

	var models []eventModel
	if err := t.find(ctx, colEvents, filter, "seq", opts.Offset, opts.Limit, &models); err != nil {
		return nil, fmt.Errorf("subvault/mongo: list events: %w", err)
	}

	events := make([]*event.Event, 0, len(models))
	for i := range models {
		e, err := fromEventModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("subvault/mongo: decode event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// ==================== Helpers ====================

// replace upserts doc under _id key.
func (t *tx) replace(ctx context.Context, col string, key, doc any) error {
	_, err := t.db.Collection(col).ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

// find decodes every document matching filter, sorted ascending by sortKey.
func (t *tx) find(ctx context.Context, col string, filter bson.M, sortKey string, offset, limit int, out any) error {
	opts := options.Find().SetSort(bson.D{{Key: sortKey, Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}

	cur, err := t.db.Collection(col).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}

// nextSeq increments and returns the named counter.
func (t *tx) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := t.db.Collection(colCounters).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all subvault collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSubscriptions: {
			{Keys: bson.D{{Key: "merchant", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "due_at", Value: 1}}},
		},
		colEvents: {
			{
				Keys:    bson.D{{Key: "seq", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "seq", Value: 1}}},
			{Keys: bson.D{{Key: "subscription_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
	}
}
