package model

import "slices"

// Status is a message delivery status.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusError     Status = "error"
)

// validTransitions defines the forward-only status order. A status may
// only move rightwards along sending → sent → delivered → read, or from
// sending to error. Skipping ahead (e.g. sending → read for an inbound
// message confirmed read in one event) is legal; moving back never is.
var validTransitions = map[Status][]Status{
	StatusSending:   {StatusSent, StatusDelivered, StatusRead, StatusError},
	StatusSent:      {StatusDelivered, StatusRead},
	StatusDelivered: {StatusRead},
	StatusRead:      {},
	StatusError:     {},
}

// CanTransition reports whether a status change from → to is legal.
// A same-status "transition" is allowed; callers treat it as a no-op.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return slices.Contains(validTransitions[from], to)
}
