// Package store defines the persistence contract for subvault.
package store

import (
	"context"

	"github.com/xraph/subvault/event"
	"github.com/xraph/subvault/settings"
	"github.com/xraph/subvault/subscription"
	"github.com/xraph/subvault/types"
)

// Tx is the view of the store inside one atomic unit. Writes made through a
// Tx become visible to other units only if the unit commits.
type Tx interface {
	subscription.Store
	settings.Store
	event.Store

	// GetMerchantBalance returns zero for a merchant never credited.
	GetMerchantBalance(ctx context.Context, merchant types.Address) (types.Amount, error)
	PutMerchantBalance(ctx context.Context, merchant types.Address, amount types.Amount) error
}

// TxFunc is the body of an atomic unit.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the unified storage interface for all vault state.
type Store interface {
	// Atomic runs fn as one unit of work: if fn returns nil every write it
	// made is committed, otherwise none is.
	Atomic(ctx context.Context, fn TxFunc) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
