package room

import (
	"log"
	"sync"

	"slidecast/pkg/interfaces"
	"slidecast/pkg/types"
)

// member is one connection's standing within a room.
type member struct {
	role       types.Role
	viewerID   string
	viewerName string
}

// Registry tracks which transport connections currently belong to which
// session code. Membership is purely in-memory and rebuilt empty on process
// restart; the durable roster lives in the session store.
//
// Rooms are created lazily on first join and are not validated against the
// store, so joining never blocks on storage. A reconnecting viewer is a new
// membership entry; its stale predecessor lingers until the transport-level
// disconnect is observed, which can briefly inflate the member count.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[interfaces.Connection]*member
	bindings map[interfaces.Connection]string
}

// NewRegistry creates an empty room registry. Constructed once at process
// start and injected; never reached through package state.
func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]map[interfaces.Connection]*member),
		bindings: make(map[interfaces.Connection]string),
	}
}

// Join adds the connection to the room for code, creating the room if
// needed. A connection holds at most one membership: joining a different
// code first runs the leave path for the old room, departure announcement
// included. A viewer join is announced to every current member, including
// the new one, with the resulting member count.
func (r *Registry) Join(code string, conn interfaces.Connection, role types.Role, viewerID, viewerName string) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	var departing *member
	var remaining []interfaces.Connection
	if old, bound := r.bindings[conn]; bound && old != code {
		departing = r.rooms[old][conn]
		delete(r.rooms[old], conn)
		if len(r.rooms[old]) == 0 {
			delete(r.rooms, old)
		}
		remaining = r.roomMembersLocked(old)
	}
	if r.rooms[code] == nil {
		r.rooms[code] = make(map[interfaces.Connection]*member)
	}
	r.rooms[code][conn] = &member{role: role, viewerID: viewerID, viewerName: viewerName}
	r.bindings[conn] = code
	memberCount := len(r.rooms[code])
	recipients := r.roomMembersLocked(code)
	r.mu.Unlock()

	if departing != nil && departing.role == types.RoleViewer {
		deliver(remaining, types.NewViewerLeftEvent(departing.viewerID))
	}

	log.Printf("room: %s joined session %s (members=%d)", role, code, memberCount)

	if role == types.RoleViewer {
		deliver(recipients, types.NewViewerJoinedEvent(viewerID, viewerName, memberCount))
	}
}

// Leave removes the connection from whatever room it belongs to. Idempotent:
// leaving twice, or without having joined, is a silent no-op. A departing
// viewer is announced to the remaining members.
func (r *Registry) Leave(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	code, bound := r.bindings[conn]
	if !bound {
		r.mu.Unlock()
		return
	}
	delete(r.bindings, conn)

	departing := r.rooms[code][conn]
	delete(r.rooms[code], conn)
	if len(r.rooms[code]) == 0 {
		delete(r.rooms, code)
	}
	remaining := r.roomMembersLocked(code)
	r.mu.Unlock()

	if departing == nil {
		return
	}

	log.Printf("room: %s left session %s", departing.role, code)

	if departing.role == types.RoleViewer {
		deliver(remaining, types.NewViewerLeftEvent(departing.viewerID))
	}
}

// Membership returns the room code and role the connection joined with.
func (r *Registry) Membership(conn interfaces.Connection) (code string, role types.Role, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	code, bound := r.bindings[conn]
	if !bound {
		return "", "", false
	}
	m := r.rooms[code][conn]
	if m == nil {
		return "", "", false
	}
	return code, m.role, true
}

// MemberCount returns the number of connections currently in the room.
func (r *Registry) MemberCount(code string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[code])
}

// BroadcastToRoom sends the event to every member of the room.
func (r *Registry) BroadcastToRoom(code string, event types.Event) {
	r.mu.RLock()
	recipients := r.roomMembersLocked(code)
	r.mu.RUnlock()

	deliver(recipients, event)
}

// BroadcastToViewers sends the event to every non-presenter member.
func (r *Registry) BroadcastToViewers(code string, event types.Event) {
	r.broadcastRole(code, types.RoleViewer, event)
}

// BroadcastToPresenters sends the event to every presenter member.
func (r *Registry) BroadcastToPresenters(code string, event types.Event) {
	r.broadcastRole(code, types.RolePresenter, event)
}

// BroadcastToOthers sends the event to every member of the sender's room
// except the sender.
func (r *Registry) BroadcastToOthers(conn interfaces.Connection, event types.Event) {
	r.mu.RLock()
	code, bound := r.bindings[conn]
	var recipients []interfaces.Connection
	if bound {
		for other := range r.rooms[code] {
			if other != conn {
				recipients = append(recipients, other)
			}
		}
	}
	r.mu.RUnlock()

	deliver(recipients, event)
}

// CloseRoom discards all membership for the code. Connections stay open;
// the transport layer tears them down.
func (r *Registry) CloseRoom(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.rooms[code] {
		delete(r.bindings, conn)
	}
	delete(r.rooms, code)
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"rooms":       len(r.rooms),
		"connections": len(r.bindings),
	}
}

func (r *Registry) roomMembersLocked(code string) []interfaces.Connection {
	recipients := make([]interfaces.Connection, 0, len(r.rooms[code]))
	for conn := range r.rooms[code] {
		recipients = append(recipients, conn)
	}
	return recipients
}

func (r *Registry) broadcastRole(code string, role types.Role, event types.Event) {
	r.mu.RLock()
	var recipients []interfaces.Connection
	for conn, m := range r.rooms[code] {
		if m.role == role {
			recipients = append(recipients, conn)
		}
	}
	r.mu.RUnlock()

	deliver(recipients, event)
}

// deliver writes the event to each recipient outside the registry lock.
// Best-effort: a failed write drops the event for that connection only.
func deliver(recipients []interfaces.Connection, event types.Event) {
	for _, conn := range recipients {
		if err := conn.WriteEvent(event); err != nil {
			log.Printf("room: failed to deliver %s to %s: %v", event.Type, conn.ID(), err)
		}
	}
}
