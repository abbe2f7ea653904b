package types

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestAmountAdd(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Amount
		want    string
		wantErr error
	}{
		{"small", NewAmount(100), NewAmount(200), "300", nil},
		{"negative", NewAmount(-5), NewAmount(3), "-2", nil},
		{"carry into high word", NewAmount(math.MaxInt64), NewAmount(math.MaxInt64), "18446744073709551614", nil},
		{"max plus zero", MaxAmount, Zero, "170141183460469231731687303715884105727", nil},
		{"max plus one", MaxAmount, NewAmount(1), "", ErrOverflow},
		{"min plus minus one", MinAmount, NewAmount(-1), "", ErrOverflow},
		{"max plus min", MaxAmount, MinAmount, "-1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Add(tt.b)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error: got %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if !got.IsZero() {
					t.Errorf("result on overflow: got %s, want 0", got)
				}
				return
			}
			if got.String() != tt.want {
				t.Errorf("sum: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAmountSub(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Amount
		want    string
		wantErr error
	}{
		{"simple", NewAmount(500), NewAmount(200), "300", nil},
		{"below zero", NewAmount(1), NewAmount(2), "-1", nil},
		{"borrow from high word", MustParseAmount("18446744073709551616"), NewAmount(1), "18446744073709551615", nil},
		{"min minus one", MinAmount, NewAmount(1), "", ErrOverflow},
		{"max minus minus one", MaxAmount, NewAmount(-1), "", ErrOverflow},
		{"zero minus min", Zero, MinAmount, "", ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.Sub(tt.b)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error: got %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.String() != tt.want {
				t.Errorf("difference: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAmountMulUint64(t *testing.T) {
	tests := []struct {
		name    string
		a       Amount
		n       uint64
		want    string
		wantErr error
	}{
		{"zero factor", NewAmount(7), 0, "0", nil},
		{"small", NewAmount(1000), 30, "30000", nil},
		{"wide", NewAmount(math.MaxInt64), math.MaxUint64, "170141183460469231704017187605319778305", nil},
		{"negative", NewAmount(-3), 4, "-12", nil},
		{"overflow", MaxAmount, 2, "", ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.MulUint64(tt.n)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error: got %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got.String() != tt.want {
				t.Errorf("product: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAmountCompare(t *testing.T) {
	if NewAmount(-1).Cmp(NewAmount(1)) != -1 {
		t.Error("-1 should be less than 1")
	}
	if MaxAmount.Cmp(MinAmount) != 1 {
		t.Error("max should be greater than min")
	}
	if NewAmount(42).Cmp(MustParseAmount("42")) != 0 {
		t.Error("equal values should compare equal")
	}
	if !NewAmount(-9).IsNegative() || NewAmount(-9).IsPositive() {
		t.Error("sign predicates wrong for -9")
	}
	if Zero.Sign() != 0 || NewAmount(3).Sign() != 1 || NewAmount(-3).Sign() != -1 {
		t.Error("Sign mismatch")
	}
}

func TestAmountParseRoundTrip(t *testing.T) {
	for _, s := range []string{
		"0", "1", "-1", "9223372036854775807", "-9223372036854775808",
		"170141183460469231731687303715884105727",
		"-170141183460469231731687303715884105728",
	} {
		a, err := ParseAmount(s)
		if err != nil {
			t.Fatalf("parse %s: %v", s, err)
		}
		if a.String() != s {
			t.Errorf("round-trip: got %s, want %s", a, s)
		}
	}

	if _, err := ParseAmount("170141183460469231731687303715884105728"); !errors.Is(err, ErrOverflow) {
		t.Errorf("out of range: got %v, want ErrOverflow", err)
	}
	if _, err := ParseAmount("12abc"); !errors.Is(err, ErrInvalid) {
		t.Errorf("garbage: got %v, want ErrInvalid", err)
	}
}

func TestAmountJSON(t *testing.T) {
	type wrapper struct {
		Balance Amount `json:"balance"`
	}

	data, err := json.Marshal(wrapper{Balance: NewAmount(2500)})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"balance":"2500"}` {
		t.Errorf("marshal: got %s", data)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"balance":1200}`), &w); err != nil {
		t.Fatal(err)
	}
	if w.Balance.Cmp(NewAmount(1200)) != 0 {
		t.Errorf("numeric unmarshal: got %s", w.Balance)
	}
}

func TestAmountScan(t *testing.T) {
	var a Amount
	for _, src := range []any{int64(77), "77", []byte("77")} {
		if err := a.Scan(src); err != nil {
			t.Fatalf("scan %T: %v", src, err)
		}
		if a.Cmp(NewAmount(77)) != 0 {
			t.Errorf("scan %T: got %s", src, a)
		}
	}
	if err := a.Scan(3.5); err == nil {
		t.Error("expected error scanning float")
	}
}

func TestBalanceHelpers(t *testing.T) {
	got, err := AddBalance(NewAmount(10), NewAmount(5))
	if err != nil || got.Cmp(NewAmount(15)) != 0 {
		t.Errorf("AddBalance: got %s, %v", got, err)
	}
	if _, err := AddBalance(NewAmount(10), NewAmount(-5)); !errors.Is(err, ErrNegative) {
		t.Errorf("AddBalance negative: got %v", err)
	}
	if _, err := AddBalance(MaxAmount, NewAmount(1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("AddBalance overflow: got %v", err)
	}

	got, err = SubBalance(NewAmount(10), NewAmount(10))
	if err != nil || !got.IsZero() {
		t.Errorf("SubBalance to zero: got %s, %v", got, err)
	}
	if _, err := SubBalance(NewAmount(10), NewAmount(11)); !errors.Is(err, ErrInsufficient) {
		t.Errorf("SubBalance below zero: got %v", err)
	}
}
