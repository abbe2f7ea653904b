// Package transfer provides the token-transfer collaborator used by the
// vault to move funds in and out of custody.
package transfer

import (
	"context"
	"errors"

	"github.com/xraph/subvault/types"
)

// Transfer errors.
var (
	ErrInsufficientFunds = errors.New("transfer: insufficient funds")
	ErrInvalidAmount     = errors.New("transfer: amount must be positive")
	ErrUnavailable       = errors.New("transfer: gateway unavailable")
)

// Transferer moves amount of token from one account to another. A nil
// return means the transfer happened in full; any error means nothing moved.
type Transferer interface {
	Transfer(ctx context.Context, token, from, to types.Address, amount types.Amount) error
}

type idempotencyKey struct{}

// WithIdempotencyKey returns ctx carrying the key that identifies one
// logical transfer. Retries of that transfer must reuse ctx.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKey returns the key set by WithIdempotencyKey, or "".
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	return key
}

// Func adapts a plain function to Transferer.
type Func func(ctx context.Context, token, from, to types.Address, amount types.Amount) error

// Transfer implements Transferer.
func (f Func) Transfer(ctx context.Context, token, from, to types.Address, amount types.Amount) error {
	return f(ctx, token, from, to, amount)
}
