package core

import "pkt.systems/signally/schema"

// EventSink receives coordinator notifications. Implementations must not
// block; events are published while the coordinator holds its state lock so
// that subscribers observe transitions in order.
type EventSink interface {
	OnEvent(event schema.Event)
}
