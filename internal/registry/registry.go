// Package registry indexes the live connections of this process: which user
// owns each connection and which chat rooms each connection is inside.
//
// Every index lives in one Registry value and every mutation goes through its
// single lock, so the connection, user and room indexes can never disagree.
package registry

import (
	"slices"
	"sync"

	"github.com/npezzotti/go-storechat/internal/protocol"
	"github.com/npezzotti/go-storechat/internal/types"
)

// Endpoint is the outbound side of a connection. QueueMessage must not block.
type Endpoint interface {
	QueueMessage(msg *protocol.ServerMessage) bool
}

type Connection struct {
	Id       string
	UserId   int
	Role     types.Role
	StoreIds []int
	Endpoint Endpoint
	// Rooms is only populated on the value returned by Unregister and holds
	// the chats the connection was removed from.
	Rooms []int
}

// OwnsStore reports whether the connection belongs to the merchant owning storeId.
func (c Connection) OwnsStore(storeId int) bool {
	return c.Role == types.RoleMerchant && slices.Contains(c.StoreIds, storeId)
}

type entry struct {
	conn  Connection
	rooms map[int]struct{}
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
	users map[int]map[string]struct{}
	rooms map[int]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]*entry),
		users: make(map[int]map[string]struct{}),
		rooms: make(map[int]map[string]struct{}),
	}
}

// Register records c. A stale entry with the same id is replaced, including
// its room memberships. It reports whether c is the user's only connection.
func (r *Registry) Register(c Connection) bool {
	if c.Id == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.Id]; ok {
		r.removeLocked(c.Id)
	}

	c.StoreIds = slices.Clone(c.StoreIds)
	c.Rooms = nil
	r.conns[c.Id] = &entry{
		conn:  c,
		rooms: make(map[int]struct{}),
	}

	if r.users[c.UserId] == nil {
		r.users[c.UserId] = make(map[string]struct{})
	}
	r.users[c.UserId][c.Id] = struct{}{}

	return len(r.users[c.UserId]) == 1
}

// Unregister removes the connection and purges it from every room. It returns
// the removed connection and how many connections its user still has.
func (r *Registry) Unregister(connId string) (Connection, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.removeLocked(connId)
	if !ok {
		return Connection{}, 0, false
	}

	return c, len(r.users[c.UserId]), true
}

func (r *Registry) removeLocked(connId string) (Connection, bool) {
	e, ok := r.conns[connId]
	if !ok {
		return Connection{}, false
	}

	c := e.conn
	for chatId := range e.rooms {
		c.Rooms = append(c.Rooms, chatId)
		r.dropMemberLocked(chatId, connId)
	}
	slices.Sort(c.Rooms)

	delete(r.conns, connId)
	if userConns, ok := r.users[c.UserId]; ok {
		delete(userConns, connId)
		if len(userConns) == 0 {
			delete(r.users, c.UserId)
		}
	}

	return c, true
}

func (r *Registry) dropMemberLocked(chatId int, connId string) {
	if members, ok := r.rooms[chatId]; ok {
		delete(members, connId)
		if len(members) == 0 {
			delete(r.rooms, chatId)
		}
	}
}

// Join adds the connection to the chat room. Unknown connections are ignored.
// It reports whether the membership is new.
func (r *Registry) Join(chatId int, connId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connId]
	if !ok {
		return false
	}
	if _, ok := e.rooms[chatId]; ok {
		return false
	}

	e.rooms[chatId] = struct{}{}
	if r.rooms[chatId] == nil {
		r.rooms[chatId] = make(map[string]struct{})
	}
	r.rooms[chatId][connId] = struct{}{}

	return true
}

// Leave removes the connection from the chat room and reports whether it was a member.
func (r *Registry) Leave(chatId int, connId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connId]
	if !ok {
		return false
	}
	if _, ok := e.rooms[chatId]; !ok {
		return false
	}

	delete(e.rooms, chatId)
	r.dropMemberLocked(chatId, connId)

	return true
}

func (r *Registry) IsOnline(userId int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userId]) > 0
}

func (r *Registry) ConnectionsFor(userId int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.users[userId])
}

func (r *Registry) MembersOf(chatId int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedKeys(r.rooms[chatId])
}

// UserInRoom reports whether any connection of the user is inside the chat room.
func (r *Registry) UserInRoom(chatId, userId int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for connId := range r.rooms[chatId] {
		if e, ok := r.conns[connId]; ok && e.conn.UserId == userId {
			return true
		}
	}
	return false
}

// EndpointsFor returns the endpoints of every live connection of the user.
func (r *Registry) EndpointsFor(userId int) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eps := make([]Endpoint, 0, len(r.users[userId]))
	for _, connId := range sortedKeys(r.users[userId]) {
		if ep := r.conns[connId].conn.Endpoint; ep != nil {
			eps = append(eps, ep)
		}
	}
	return eps
}

// RoomEndpoints returns the endpoints of the chat room's members, leaving out
// the connection skip (pass "" to include everyone).
func (r *Registry) RoomEndpoints(chatId int, skip string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eps := make([]Endpoint, 0, len(r.rooms[chatId]))
	for _, connId := range sortedKeys(r.rooms[chatId]) {
		if connId == skip {
			continue
		}
		if ep := r.conns[connId].conn.Endpoint; ep != nil {
			eps = append(eps, ep)
		}
	}
	return eps
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// OnlineUsers returns the number of users with at least one live connection.
func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
