package core

import "sync"

// Registry maps room ids to their member connections.
// A room exists only while it has at least one member.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[*Conn]struct{})}
}

// Join inserts c into room, creating the room if needed. Returns true if newly added.
func (r *Registry) Join(c *Conn, room string) bool {
	if room == "" || c == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		r.rooms[room] = members
	}
	if _, exists := members[c]; exists {
		return false
	}
	members[c] = struct{}{}
	return true
}

// Leave removes c from room and deletes the room once it is empty.
// Returns true if c was a member.
func (r *Registry) Leave(c *Conn, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[c]; !exists {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	return true
}

// Members returns a snapshot of the room's members; nil for unknown rooms.
func (r *Registry) Members(room string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[room]
	if !ok {
		return nil
	}
	out := make([]*Conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Has reports whether room currently exists.
func (r *Registry) Has(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room]
	return ok
}

// Size returns the number of members in room.
func (r *Registry) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Rooms returns the number of live rooms.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Reset drops every room.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]map[*Conn]struct{})
}
