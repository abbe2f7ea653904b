package subscription

import (
	"context"

	"github.com/xraph/subvault/types"
)

// Store persists subscription records.
type Store interface {
	GetSubscription(ctx context.Context, subID uint32) (*Subscription, error)
	// PutSubscription inserts or replaces the record keyed by s.ID.
	PutSubscription(ctx context.Context, s *Subscription) error
	ListSubscriptionsByMerchant(ctx context.Context, merchant types.Address, opts ListOpts) ([]*Subscription, error)
	CountSubscriptionsByMerchant(ctx context.Context, merchant types.Address) (int, error)
	// ListDueSubscriptions returns the subscriptions Chargeable at now, in ID
	// order. Expired subscriptions are excluded so they cannot fill a page.
	ListDueSubscriptions(ctx context.Context, now uint64, limit int) ([]*Subscription, error)
}

// ListOpts pages through a merchant's subscriptions in ID order.
type ListOpts struct {
	Offset int
	Limit  int
}
