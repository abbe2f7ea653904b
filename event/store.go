package event

import "context"

// Store persists the audit log.
type Store interface {
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)
}

// ListOpts filters the audit log. Results are in append order.
type ListOpts struct {
	Kind           Kind
	SubscriptionID *uint32
	Offset         int
	Limit          int
}

// Matches reports whether e passes the Kind and SubscriptionID filters.
func (o ListOpts) Matches(e *Event) bool {
	if o.Kind != "" && e.Kind != o.Kind {
		return false
	}
	if o.SubscriptionID != nil && (e.SubscriptionID == nil || *e.SubscriptionID != *o.SubscriptionID) {
		return false
	}
	return true
}
