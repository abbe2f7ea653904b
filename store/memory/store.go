// Package memory provides an in-process store.Store. Every atomic unit stages
// its writes in an overlay that is applied only when the unit succeeds.
package memory

import (
	"context"
	"sort"
	"sync"

	subvault "github.com/xraph/subvault"
	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/settings"
	"github.com/xraph/subvault/store"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store is an in-memory store. Units run one at a time.
type Store struct {
	mu sync.Mutex

	settings      *settings.Settings
	subscriptions map[uint32]*subscription.Subscription
	balances      map[types.Address]types.Amount
	events        []*event.Event
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		subscriptions: make(map[uint32]*subscription.Subscription),
		balances:      make(map[types.Address]types.Amount),
	}
}

// Atomic implements store.Store.
func (s *Store) Atomic(ctx context.Context, fn store.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{
		base:          s,
		subscriptions: make(map[uint32]*subscription.Subscription),
		balances:      make(map[types.Address]types.Amount),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	t.commit()
	return nil
}

// Migrate is a no-op.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// tx is the overlay of one unit. Reads fall through to the base store.
type tx struct {
	base *Store

	settings      *settings.Settings
	subscriptions map[uint32]*subscription.Subscription
	balances      map[types.Address]types.Amount
	events        []*event.Event
}

func (t *tx) commit() {
	if t.settings != nil {
		t.base.settings = t.settings
	}
	for k, v := range t.subscriptions {
		t.base.subscriptions[k] = v
	}
	for k, v := range t.balances {
		t.base.balances[k] = v
	}
	t.base.events = append(t.base.events, t.events...)
}

// ──────────────────────────────────────────────────
// Settings
// ──────────────────────────────────────────────────

func (t *tx) GetSettings(_ context.Context) (*settings.Settings, error) {
	if t.settings != nil {
		return t.settings.Clone(), nil
	}
	if t.base.settings != nil {
		return t.base.settings.Clone(), nil
	}
	return nil, subvault.ErrNotInitialized
}

func (t *tx) PutSettings(_ context.Context, st *settings.Settings) error {
	t.settings = st.Clone()
	return nil
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

func (t *tx) lookup(subID uint32) (*subscription.Subscription, bool) {
	if sub, ok := t.subscriptions[subID]; ok {
		return sub, true
	}
	sub, ok := t.base.subscriptions[subID]
	return sub, ok
}

func (t *tx) GetSubscription(_ context.Context, subID uint32) (*subscription.Subscription, error) {
	if sub, ok := t.lookup(subID); ok {
		return sub.Clone(), nil
	}
	return nil, subvault.ErrSubscriptionNotFound
}

func (t *tx) PutSubscription(_ context.Context, sub *subscription.Subscription) error {
	t.subscriptions[sub.ID] = sub.Clone()
	return nil
}

// merged returns every visible subscription in ID order.
func (t *tx) merged(keep func(*subscription.Subscription) bool) []*subscription.Subscription {
	seen := make(map[uint32]struct{}, len(t.subscriptions))
	var out []*subscription.Subscription
	for k, sub := range t.subscriptions {
		seen[k] = struct{}{}
		if keep(sub) {
			out = append(out, sub.Clone())
		}
	}
	for k, sub := range t.base.subscriptions {
		if _, ok := seen[k]; ok {
			continue
		}
		if keep(sub) {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func page[T any](items []T, offset, limit int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (t *tx) ListSubscriptionsByMerchant(_ context.Context, merchant types.Address, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	all := t.merged(func(s *subscription.Subscription) bool { return s.Merchant == merchant })
	return page(all, opts.Offset, opts.Limit), nil
}

func (t *tx) CountSubscriptionsByMerchant(_ context.Context, merchant types.Address) (int, error) {
	return len(t.merged(func(s *subscription.Subscription) bool { return s.Merchant == merchant })), nil
}

func (t *tx) ListDueSubscriptions(_ context.Context, now uint64, limit int) ([]*subscription.Subscription, error) {
	due := t.merged(func(s *subscription.Subscription) bool { return s.Chargeable(now) })
	return page(due, 0, limit), nil
}

// ──────────────────────────────────────────────────
// Merchant balances
// ──────────────────────────────────────────────────

func (t *tx) GetMerchantBalance(_ context.Context, merchant types.Address) (types.Amount, error) {
	if b, ok := t.balances[merchant]; ok {
		return b, nil
	}
	return t.base.balances[merchant], nil
}

func (t *tx) PutMerchantBalance(_ context.Context, merchant types.Address, amount types.Amount) error {
	t.balances[merchant] = amount
	return nil
}

// ──────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────

func (t *tx) AppendEvent(_ context.Context, e *event.Event) error {
	t.events = append(t.events, e.Clone())
	return nil
}

func (t *tx) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var out []*event.Event
	for _, list := range [][]*event.Event{t.base.events, t.events} {
		for _, e := range list {
			if opts.Matches(e) {
				out = append(out, e.Clone())
			}
		}
	}
	return page(out, opts.Offset, opts.Limit), nil
}
