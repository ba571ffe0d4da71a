package bus

import "time"

// Event is a domain event published on the bus.
//
// Kinds are dot-namespaced: the engine publishes under "message." and
// "conversation." for local mutations, and the realtime boundary
// publishes under "rt." for inbound events consumed by the reconciler.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Emit builds an event stamped with the current time.
func Emit(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
