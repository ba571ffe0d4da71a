package store

import "errors"

// ErrNotFound is returned for references to unknown contacts,
// conversations or messages.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned for a status change that would move
// a message backwards in the delivery lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")
