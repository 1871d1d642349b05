package interfaces

import "slidecast/pkg/types"

// Connection is one transport endpoint attached to a room. Writes must be
// FIFO per connection; delivery across connections is unordered.
type Connection interface {
	// ID identifies the connection for logging and membership tracking.
	ID() string

	// WriteEvent queues an event for delivery. Best-effort: an error means
	// the event was dropped for this connection only.
	WriteEvent(event types.Event) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Broadcaster is the fan-out surface of the room registry. All delivery is
// best-effort and at-most-once; callers must not assume receipt.
type Broadcaster interface {
	// BroadcastToRoom sends to every member of the room.
	BroadcastToRoom(code string, event types.Event)

	// BroadcastToViewers sends to every non-presenter member.
	BroadcastToViewers(code string, event types.Event)

	// BroadcastToPresenters sends to every presenter member.
	BroadcastToPresenters(code string, event types.Event)

	// BroadcastToOthers sends to every room member except conn.
	BroadcastToOthers(conn Connection, event types.Event)

	// CloseRoom discards all membership for the code. Connections themselves
	// stay open; the transport layer closes them.
	CloseRoom(code string)
}
