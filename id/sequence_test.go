package id_test

import (
	"errors"
	"testing"

	"github.com/xraph/subvault/id"
)

func TestAllocateSubscriptionID(t *testing.T) {
	tests := []struct {
		name       string
		current    uint32
		wantIssued uint32
		wantNext   uint32
		wantErr    error
	}{
		{"first", 0, 0, 1, nil},
		{"middle", 41, 41, 42, nil},
		{"last issuable", id.MaxSubscriptionID - 1, id.MaxSubscriptionID - 1, id.MaxSubscriptionID, nil},
		{"exhausted", id.MaxSubscriptionID, 0, id.MaxSubscriptionID, id.ErrExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issued, next, err := id.AllocateSubscriptionID(tt.current)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error: got %v, want %v", err, tt.wantErr)
			}
			if issued != tt.wantIssued {
				t.Errorf("issued: got %d, want %d", issued, tt.wantIssued)
			}
			if next != tt.wantNext {
				t.Errorf("next: got %d, want %d", next, tt.wantNext)
			}
		})
	}
}

func TestAllocateSubscriptionIDStaysExhausted(t *testing.T) {
	counter := id.MaxSubscriptionID - 1

	issued, next, err := id.AllocateSubscriptionID(counter)
	if err != nil {
		t.Fatalf("allocate at MAX-1: %v", err)
	}
	if issued != id.MaxSubscriptionID-1 {
		t.Errorf("issued: got %d, want %d", issued, id.MaxSubscriptionID-1)
	}
	counter = next

	for i := 0; i < 3; i++ {
		_, next, err = id.AllocateSubscriptionID(counter)
		if !errors.Is(err, id.ErrExhausted) {
			t.Fatalf("call %d: got %v, want ErrExhausted", i, err)
		}
		if next != counter {
			t.Fatalf("call %d: counter moved from %d to %d", i, counter, next)
		}
	}
}
