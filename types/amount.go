// Package types provides the ledger primitives shared across subvault.
package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/bits"
	"strconv"
)

// Arithmetic errors. Callers map these onto their own error vocabulary.
var (
	ErrOverflow     = errors.New("types: arithmetic overflow")
	ErrInsufficient = errors.New("types: insufficient balance")
	ErrNegative     = errors.New("types: negative amount")
	ErrInvalid      = errors.New("types: invalid amount")
)

// Amount is a signed 128-bit integer quantity of the funding token, in its
// smallest unit. The zero value is zero.
//
// All arithmetic is checked: an operation whose exact result does not fit in
// 128 bits returns ErrOverflow and a zero Amount. Nothing wraps.
type Amount struct {
	hi int64
	lo uint64
}

// Zero is the zero Amount.
var Zero Amount

// MaxAmount and MinAmount bound the representable range.
var (
	MaxAmount = Amount{hi: 1<<63 - 1, lo: 1<<64 - 1}
	MinAmount = Amount{hi: -1 << 63, lo: 0}
)

// NewAmount creates an Amount from an int64.
func NewAmount(v int64) Amount {
	return Amount{hi: v >> 63, lo: uint64(v)}
}

// Add returns a + b.
func (a Amount) Add(b Amount) (Amount, error) {
	lo, carry := bits.Add64(a.lo, b.lo, 0)
	r := Amount{hi: a.hi + b.hi + int64(carry), lo: lo}
	if (a.hi < 0) == (b.hi < 0) && (r.hi < 0) != (a.hi < 0) {
		return Zero, ErrOverflow
	}
	return r, nil
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) (Amount, error) {
	lo, borrow := bits.Sub64(a.lo, b.lo, 0)
	r := Amount{hi: a.hi - b.hi - int64(borrow), lo: lo}
	if (a.hi < 0) != (b.hi < 0) && (r.hi < 0) != (a.hi < 0) {
		return Zero, ErrOverflow
	}
	return r, nil
}

// Neg returns -a. Negating MinAmount overflows.
func (a Amount) Neg() (Amount, error) {
	return Zero.Sub(a)
}

// MulUint64 returns a * n.
func (a Amount) MulUint64(n uint64) (Amount, error) {
	if n == 0 || a.IsZero() {
		return Zero, nil
	}
	if a.hi == 0 && a.lo>>63 == 0 {
		// Below 2^63 times below 2^64 always fits in 127 bits.
		hi, lo := bits.Mul64(a.lo, n)
		return Amount{hi: int64(hi), lo: lo}, nil
	}
	p := new(big.Int).Mul(a.Big(), new(big.Int).SetUint64(n))
	return FromBig(p)
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a.hi < b.hi:
		return -1
	case a.hi > b.hi:
		return 1
	case a.lo < b.lo:
		return -1
	case a.lo > b.lo:
		return 1
	}
	return 0
}

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int {
	switch {
	case a.hi < 0:
		return -1
	case a.hi == 0 && a.lo == 0:
		return 0
	}
	return 1
}

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool { return a.hi == 0 && a.lo == 0 }

// IsPositive reports whether a > 0.
func (a Amount) IsPositive() bool { return a.Sign() > 0 }

// IsNegative reports whether a < 0.
func (a Amount) IsNegative() bool { return a.hi < 0 }

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a.Cmp(b) < 0 }

// GreaterThan reports whether a > b.
func (a Amount) GreaterThan(b Amount) bool { return a.Cmp(b) > 0 }

// Int64 returns a as an int64 and whether it fits.
func (a Amount) Int64() (int64, bool) {
	v := int64(a.lo)
	return v, a.hi == v>>63
}

// Big returns a as a *big.Int.
func (a Amount) Big() *big.Int {
	b := new(big.Int).SetInt64(a.hi)
	b.Lsh(b, 64)
	return b.Add(b, new(big.Int).SetUint64(a.lo))
}

var (
	bigMax = MaxAmount.Big()
	bigMin = MinAmount.Big()
	two128 = new(big.Int).Lsh(big.NewInt(1), 128)
	mask64 = new(big.Int).SetUint64(1<<64 - 1)
)

// FromBig converts b to an Amount, failing with ErrOverflow when out of range.
func FromBig(b *big.Int) (Amount, error) {
	if b.Cmp(bigMax) > 0 || b.Cmp(bigMin) < 0 {
		return Zero, ErrOverflow
	}
	u := new(big.Int).Set(b)
	if u.Sign() < 0 {
		u.Add(u, two128)
	}
	lo := new(big.Int).And(u, mask64).Uint64()
	hi := new(big.Int).Rsh(u, 64).Uint64()
	return Amount{hi: int64(hi), lo: lo}, nil
}

// String returns the base-10 representation.
func (a Amount) String() string {
	if v, ok := a.Int64(); ok {
		return strconv.FormatInt(v, 10)
	}
	return a.Big().String()
}

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (Amount, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return NewAmount(v), nil
	}
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return FromBig(b)
}

// MustParseAmount is like ParseAmount but panics on error.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// MarshalJSON encodes the amount as a decimal string so that values beyond
// 2^53 survive JSON consumers.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal string or a JSON integer.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Value implements driver.Valuer. Amounts are stored as decimal text.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Zero
		return nil
	case int64:
		*a = NewAmount(v)
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	default:
		return fmt.Errorf("types: cannot scan %T into Amount", src)
	}
}

// ──────────────────────────────────────────────────
// Balance helpers
// ──────────────────────────────────────────────────

// AddBalance credits amt to a non-negative balance.
func AddBalance(balance, amt Amount) (Amount, error) {
	if amt.IsNegative() {
		return Zero, ErrNegative
	}
	return balance.Add(amt)
}

// SubBalance debits amt from a balance. The result is never negative.
func SubBalance(balance, amt Amount) (Amount, error) {
	if amt.IsNegative() {
		return Zero, ErrNegative
	}
	if balance.LessThan(amt) {
		return Zero, ErrInsufficient
	}
	return balance.Sub(amt)
}
