package domain

import "context"

// Context is an addressable page/session that can receive change notifications.
// Deliver must respect ctx cancellation; an error means this target did not
// get the event and nothing else.
type Context interface {
	ID() string
	Deliver(ctx context.Context, event ChangeEvent) error
}

// DeliveryStatus tags a per-target notification outcome.
type DeliveryStatus uint8

const (
	DeliveryDelivered DeliveryStatus = iota
	DeliveryFailed
)

func (s DeliveryStatus) String() string {
	if s == DeliveryDelivered {
		return "delivered"
	}
	return "failed"
}

// DeliveryResult is the outcome of one delivery attempt. Err is set only when
// Status is DeliveryFailed.
type DeliveryResult struct {
	Target string
	Status DeliveryStatus
	Err    error
}
