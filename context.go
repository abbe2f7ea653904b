package subvault

import (
	"context"
	"fmt"

	"github.com/xraph/subvault/types"
)

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller. The
// transport that authenticated the request sets it; the vault only compares
// identities against it.
func WithCaller(ctx context.Context, caller types.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (types.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(types.Address)
	return caller, ok && !caller.IsZero()
}

// requireAuth fails unless addr is the authenticated caller.
func requireAuth(ctx context.Context, addr types.Address) error {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: no authenticated caller", ErrUnauthorized)
	}
	if addr.IsZero() || caller != addr {
		return fmt.Errorf("%w: caller %s cannot act as %q", ErrUnauthorized, caller, addr)
	}
	return nil
}
