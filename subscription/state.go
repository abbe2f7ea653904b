package subscription

import (
	"errors"
	"fmt"
	"strconv"
)

// Status is the lifecycle state of a subscription.
//
// The integer tags are part of the persisted form in every store and in
// JSON. They must never be renumbered.
type Status uint32

const (
	StatusActive              Status = 0
	StatusPaused              Status = 1
	StatusCancelled           Status = 2
	StatusInsufficientBalance Status = 3
)

// ErrInvalidTransition is returned by ValidateTransition.
var ErrInvalidTransition = errors.New("subscription: invalid status transition")

// ErrUnknownStatus is returned when decoding an unknown tag.
var ErrUnknownStatus = errors.New("subscription: unknown status")

var statusNames = [...]string{
	StatusActive:              "active",
	StatusPaused:              "paused",
	StatusCancelled:           "cancelled",
	StatusInsufficientBalance: "insufficient_balance",
}

// transitions is the lifecycle table. Cancelled has no outgoing edges.
var transitions = map[Status][]Status{
	StatusActive:              {StatusPaused, StatusCancelled, StatusInsufficientBalance},
	StatusPaused:              {StatusActive, StatusCancelled},
	StatusInsufficientBalance: {StatusActive, StatusCancelled},
	StatusCancelled:           nil,
}

// Valid reports whether s is one of the four defined statuses.
func (s Status) Valid() bool { return s <= StatusInsufficientBalance }

// String returns the lowercase status name.
func (s Status) String() string {
	if !s.Valid() {
		return "status(" + strconv.FormatUint(uint64(s), 10) + ")"
	}
	return statusNames[s]
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool { return s == StatusCancelled }

// ParseStatus accepts either the status name or its integer tag.
func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if name == v {
			return Status(i), nil
		}
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || !Status(n).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, v)
	}
	return Status(n), nil
}

// UnmarshalJSON accepts the integer tag and rejects unknown values.
func (s *Status) UnmarshalJSON(data []byte) error {
	n, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil || !Status(n).Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownStatus, data)
	}
	*s = Status(n)
	return nil
}

// AllowedTransitions returns the statuses reachable from s in one step.
func AllowedTransitions(s Status) []Status {
	out := make([]Status, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition unless from -> to is allowed.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
