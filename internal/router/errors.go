package router

import "errors"

// Authorization and framing errors. All of these reject the event silently:
// no state change, no broadcast, nothing surfaced to the sender.
var (
	ErrUnknownEventType   = errors.New("unknown event type")
	ErrNotJoined          = errors.New("connection has not joined a session")
	ErrUnauthorizedRole   = errors.New("role not permitted to send this event")
	ErrSessionMismatch    = errors.New("event session code does not match joined session")
	ErrInvalidSessionCode = errors.New("invalid session code")
	ErrInvalidRole        = errors.New("role must be 'presenter' or 'viewer'")
)
