// Package subvault provides a prepaid recurring-billing vault for Go
// applications.
//
// Subvault is designed as a library, not a service. Import it directly into
// your Go application and put it behind whatever transport authenticates
// your callers. It provides:
//
//   - Subscriptions between a subscriber and a merchant with a fixed amount
//     and billing interval
//   - Prepaid balances funded by deposits and drawn down by interval and
//     usage charges
//   - Merchant balances that accumulate proceeds until withdrawn
//   - An administrator-controlled emergency stop
//   - An append-only audit log of every committed change
//   - Pluggable storage (memory, SQLite, PostgreSQL, MongoDB) and token
//     transfer backends
//
// # Quick Start
//
// Create a vault over a store and a token transferer:
//
//	import (
//	    "github.com/xraph/subvault"
//	    "github.com/xraph/subvault/store/postgres"
//	    "github.com/xraph/subvault/transfer"
//	)
//
//	store, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	v := subvault.New(store, transfer.NewHTTPGateway(tokenServiceURL))
//	if err := v.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer v.Stop()
//
// # Authentication
//
// The vault does not authenticate anyone. The caller of every entrypoint is
// read from the context, set with WithCaller by the transport that verified
// the request. An entrypoint acting on behalf of an address requires that
// address to be the caller:
//
//	ctx = subvault.WithCaller(ctx, subscriber)
//	id, err := v.CreateSubscription(ctx, subscriber, merchant, types.NewAmount(1000), 86400)
//
// # Lifecycle
//
// A subscription is Active, Paused, Cancelled or InsufficientBalance.
// Charging an Active subscription whose prepaid balance cannot cover one
// interval moves it to InsufficientBalance; a deposit that restores the
// balance returns it to Active. Cancelled is terminal, and the remaining
// prepaid balance can then be withdrawn by the subscriber.
//
// # Amounts
//
// All balances are signed 128-bit integers in the token's smallest unit.
// Every operation on them is checked; an overflow fails the call with
// ErrOverflow instead of wrapping.
//
// # Atomicity
//
// Each entrypoint runs as one unit of work against the store. If a unit
// fails after moving tokens, the move is reversed. Events and plugin hooks
// see only committed work.
package subvault
