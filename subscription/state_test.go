package subscription

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestStatusTags(t *testing.T) {
	tests := []struct {
		status Status
		tag    uint32
		name   string
	}{
		{StatusActive, 0, "active"},
		{StatusPaused, 1, "paused"},
		{StatusCancelled, 2, "cancelled"},
		{StatusInsufficientBalance, 3, "insufficient_balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if uint32(tt.status) != tt.tag {
				t.Errorf("tag = %d, want %d", uint32(tt.status), tt.tag)
			}
			if tt.status.String() != tt.name {
				t.Errorf("String() = %q, want %q", tt.status.String(), tt.name)
			}

			data, err := json.Marshal(tt.status)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got Status
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal %s: %v", data, err)
			}
			if got != tt.status {
				t.Errorf("round trip = %v, want %v", got, tt.status)
			}

			parsed, err := ParseStatus(tt.name)
			if err != nil || parsed != tt.status {
				t.Errorf("ParseStatus(%q) = %v, %v", tt.name, parsed, err)
			}
		})
	}
}

func TestStatusRejectsUnknownTags(t *testing.T) {
	var s Status
	if err := json.Unmarshal([]byte("4"), &s); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("expected ErrUnknownStatus, got %v", err)
	}
	if _, err := ParseStatus("archived"); !errors.Is(err, ErrUnknownStatus) {
		t.Errorf("expected ErrUnknownStatus, got %v", err)
	}
	if Status(9).Valid() {
		t.Error("Status(9) must be invalid")
	}
	if Status(9).String() != "status(9)" {
		t.Errorf("unexpected String(): %s", Status(9))
	}
}

func TestTransitions(t *testing.T) {
	all := []Status{StatusActive, StatusPaused, StatusCancelled, StatusInsufficientBalance}
	allowed := map[[2]Status]bool{
		{StatusActive, StatusPaused}:                 true,
		{StatusActive, StatusCancelled}:              true,
		{StatusActive, StatusInsufficientBalance}:    true,
		{StatusPaused, StatusActive}:                 true,
		{StatusPaused, StatusCancelled}:              true,
		{StatusInsufficientBalance, StatusActive}:    true,
		{StatusInsufficientBalance, StatusCancelled}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
			err := ValidateTransition(from, to)
			if want && err != nil {
				t.Errorf("ValidateTransition(%s, %s): %v", from, to, err)
			}
			if !want && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("ValidateTransition(%s, %s) = %v, want ErrInvalidTransition", from, to, err)
			}
		}
	}

	if len(AllowedTransitions(StatusCancelled)) != 0 || !StatusCancelled.IsTerminal() {
		t.Error("cancelled must be terminal")
	}
}

func TestNextChargeAt(t *testing.T) {
	s := &Subscription{LastPaymentTimestamp: 100, IntervalSeconds: 50}
	if s.NextChargeAt() != 150 {
		t.Errorf("NextChargeAt = %d", s.NextChargeAt())
	}
	if s.IsDue(149) || !s.IsDue(150) {
		t.Error("due boundary must be inclusive")
	}

	s = &Subscription{LastPaymentTimestamp: math.MaxUint64 - 10, IntervalSeconds: 50}
	if s.NextChargeAt() != math.MaxUint64 {
		t.Errorf("NextChargeAt must saturate, got %d", s.NextChargeAt())
	}
	if _, ok := s.NextCharge(); ok {
		t.Error("NextCharge must report the overflow")
	}
	if s.IsDue(math.MaxUint64) {
		t.Error("an overflowing next charge is never due")
	}
}

func TestChargeable(t *testing.T) {
	exp := uint64(200)
	tests := []struct {
		name string
		sub  Subscription
		now  uint64
		want bool
	}{
		{"due", Subscription{LastPaymentTimestamp: 100, IntervalSeconds: 50}, 150, true},
		{"early", Subscription{LastPaymentTimestamp: 100, IntervalSeconds: 50}, 149, false},
		{"paused", Subscription{Status: StatusPaused, LastPaymentTimestamp: 100, IntervalSeconds: 50}, 150, false},
		{"before expiration", Subscription{LastPaymentTimestamp: 100, IntervalSeconds: 50, Expiration: &exp}, 199, true},
		{"expired", Subscription{LastPaymentTimestamp: 100, IntervalSeconds: 50, Expiration: &exp}, 200, false},
		{"overflow", Subscription{LastPaymentTimestamp: 10, IntervalSeconds: math.MaxUint64}, math.MaxUint64, false},
	}
	for _, tt := range tests {
		if got := tt.sub.Chargeable(tt.now); got != tt.want {
			t.Errorf("%s: Chargeable(%d) = %v", tt.name, tt.now, got)
		}
	}
}

func TestChargeInfo(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusActive, true},
		{StatusInsufficientBalance, true},
		{StatusPaused, false},
		{StatusCancelled, false},
	}
	for _, tt := range tests {
		s := &Subscription{Status: tt.status, LastPaymentTimestamp: 10, IntervalSeconds: 5}
		info := s.ChargeInfo()
		if info.IsChargeExpected != tt.expected || info.NextChargeTimestamp != 15 {
			t.Errorf("%s: %+v", tt.status, info)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	exp := uint64(500)
	s := &Subscription{ID: 1, Expiration: &exp}
	c := s.Clone()
	*c.Expiration = 1
	if *s.Expiration != 500 {
		t.Error("clone shares the expiration pointer")
	}
}
