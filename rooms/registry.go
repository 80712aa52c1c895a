// Package rooms maintains which connections are subscribed to which
// blueprint room and fans events out to them.
package rooms

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Emitter is the slice of a live connection the registry needs: a stable
// identifier plus the ability to push an event. The websocket handler wraps
// each socket.io connection in one, and tests substitute fakes.
type Emitter interface {
	ID() string
	Emit(event string, payload any) error
}

// Registry is the process-wide room membership table. One instance is created
// at startup and shared by every connection handler.
type Registry struct {
	mu sync.RWMutex
	// room key -> connection id -> connection
	rooms map[string]map[string]Emitter
	// connection id -> room keys it joined, so disconnect cleanup does not
	// scan every room
	joined map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]Emitter),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join adds the connection to the room, creating the room on first use.
// Joining a room the connection is already in is a no-op.
func (r *Registry) Join(roomKey string, conn Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomKey]
	if !ok {
		members = make(map[string]Emitter)
		r.rooms[roomKey] = members
	}
	members[conn.ID()] = conn

	keys, ok := r.joined[conn.ID()]
	if !ok {
		keys = make(map[string]struct{})
		r.joined[conn.ID()] = keys
	}
	keys[roomKey] = struct{}{}
}

// Leave removes the connection from the room. Unknown rooms and non-members
// are ignored.
func (r *Registry) Leave(roomKey string, conn Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(roomKey, conn.ID())
}

// RemoveEverywhere drops the connection from every room it joined. Called on
// disconnect.
func (r *Registry) RemoveEverywhere(conn Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomKey := range r.joined[conn.ID()] {
		r.removeLocked(roomKey, conn.ID())
	}
}

func (r *Registry) removeLocked(roomKey, connID string) {
	if members, ok := r.rooms[roomKey]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomKey)
		}
	}
	if keys, ok := r.joined[connID]; ok {
		delete(keys, roomKey)
		if len(keys) == 0 {
			delete(r.joined, connID)
		}
	}
}

// Broadcast delivers payload to every current member of the room, including
// whichever member triggered it. A failed delivery is logged and skipped so
// the remaining members still receive the event.
func (r *Registry) Broadcast(roomKey, event string, payload any) {
	r.mu.RLock()
	members := make([]Emitter, 0, len(r.rooms[roomKey]))
	for _, conn := range r.rooms[roomKey] {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	for _, conn := range members {
		if err := conn.Emit(event, payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"room":          roomKey,
				"event":         event,
				"connection_id": conn.ID(),
			}).WithError(err).Warn("Failed to deliver broadcast to member")
		}
	}
}

// MemberCount returns the number of connections currently in the room.
func (r *Registry) MemberCount(roomKey string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomKey])
}

// Snapshot returns room key -> member count for every active room.
func (r *Registry) Snapshot() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make(map[string]int, len(r.rooms))
	for key, members := range r.rooms {
		rooms[key] = len(members)
	}
	return rooms
}
