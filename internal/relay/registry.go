package relay

import (
	"sync"
)

// Registry is the single authoritative index of live connections and room
// membership. It is purely in-memory and rebuilt empty on restart. Rooms
// are a derived index over connections: a conversation's room is the set
// of connections currently joined to it.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
}

// Unregister removes the connection and drops it from every room it was
// joined to. Idempotent.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, c)
	for conversationId, members := range r.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, conversationId)
		}
	}
}

func (r *Registry) AddToRoom(conversationId string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[conversationId] == nil {
		r.rooms[conversationId] = make(map[*Client]struct{})
	}
	r.rooms[conversationId][c] = struct{}{}
}

func (r *Registry) RemoveFromRoom(conversationId string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.rooms[conversationId]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, conversationId)
		}
	}
}

// RoomMembers returns the connections currently joined to a conversation.
func (r *Registry) RoomMembers(conversationId string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Client, 0, len(r.rooms[conversationId]))
	for c := range r.rooms[conversationId] {
		members = append(members, c)
	}
	return members
}

// MembersBySubject returns the subject's connections in a conversation's
// room. A subject may hold several connections (multiple tabs/devices).
func (r *Registry) MembersBySubject(conversationId, subjectId string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var members []*Client
	for c := range r.rooms[conversationId] {
		if c.principal.SubjectId == subjectId {
			members = append(members, c)
		}
	}
	return members
}

func (r *Registry) SubjectPresent(conversationId, subjectId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.rooms[conversationId] {
		if c.principal.SubjectId == subjectId {
			return true
		}
	}
	return false
}

func (r *Registry) RoomSize(conversationId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[conversationId])
}

func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

func (r *Registry) NumClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
