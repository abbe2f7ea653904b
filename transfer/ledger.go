package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/subvault/types"
)

var _ Transferer = (*Ledger)(nil)

type accountKey struct {
	token   types.Address
	account types.Address
}

// Ledger is an in-process token ledger. It backs tests and local runs where
// no external token service exists.
type Ledger struct {
	mu       sync.RWMutex
	balances map[accountKey]types.Amount
	fail     error
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[accountKey]types.Amount)}
}

// Mint credits amount of token to account.
func (l *Ledger) Mint(token, account types.Address, amount types.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := accountKey{token, account}
	next, err := types.AddBalance(l.balances[k], amount)
	if err != nil {
		return fmt.Errorf("transfer: mint %s to %s: %w", amount, account, err)
	}
	l.balances[k] = next
	return nil
}

// Balance returns the token balance of account.
func (l *Ledger) Balance(token, account types.Address) types.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[accountKey{token, account}]
}

// FailWith makes every subsequent Transfer return err. Pass nil to clear.
func (l *Ledger) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = err
}

// Transfer implements Transferer.
func (l *Ledger) Transfer(_ context.Context, token, from, to types.Address, amount types.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fail != nil {
		return l.fail
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	fk, tk := accountKey{token, from}, accountKey{token, to}
	fromBal, err := types.SubBalance(l.balances[fk], amount)
	if err != nil {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from, l.balances[fk], amount)
	}
	l.balances[fk] = fromBal

	toBal, err := types.AddBalance(l.balances[tk], amount)
	if err != nil {
		l.balances[fk], _ = types.AddBalance(fromBal, amount) //nolint:errcheck // restoring a value that just fit
		return fmt.Errorf("transfer: credit %s: %w", to, err)
	}
	l.balances[tk] = toBal
	return nil
}
