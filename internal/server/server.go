package server

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-storechat/internal/auth"
	"github.com/npezzotti/go-storechat/internal/database"
	"github.com/npezzotti/go-storechat/internal/protocol"
	"github.com/npezzotti/go-storechat/internal/registry"
	"github.com/npezzotti/go-storechat/internal/stats"
	"github.com/npezzotti/go-storechat/internal/types"
	"github.com/teris-io/shortid"
)

const requestTimeout = 10 * time.Second

type ChatServer struct {
	log         *log.Logger
	db          database.ChatStore
	registry    *registry.Registry
	presence    *Presence
	router      *Router
	tracker     *Tracker
	stats       stats.StatsProvider
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	wg          sync.WaitGroup
	closing     atomic.Bool
}

func NewChatServer(logger *log.Logger, db database.Repository, audience AudienceResolver, su stats.StatsProvider) (*ChatServer, error) {
	reg := registry.New()

	for _, name := range []string{
		stats.ActiveConnections,
		stats.OnlineUsers,
		stats.MessagesSent,
		stats.StatusTransitions,
	} {
		su.RegisterMetric(name)
	}

	return &ChatServer{
		log:      logger,
		db:       db,
		registry: reg,
		presence: NewPresence(logger, db, audience, reg, su),
		router:   NewRouter(logger, db, reg, su),
		tracker:  NewTracker(logger, db, reg, su),
		stats:    su,
		clients:  make(map[*Client]struct{}),
	}, nil
}

// Connect registers an authenticated websocket and starts serving it.
func (cs *ChatServer) Connect(p auth.Principal, conn *websocket.Conn) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = uuid.NewString()
	}

	c := NewClient(id, p, conn, cs, cs.log)
	cs.attach(c)

	cs.wg.Add(1)
	go c.Write()
	go c.Read()

	return c
}

func (cs *ChatServer) attach(c *Client) {
	cs.addClient(c)

	conn := c.connection()
	first := cs.registry.Register(conn)
	cs.stats.Incr(stats.ActiveConnections)
	cs.log.Printf("registered connection %q for user %d (%s)", c.id, conn.UserId, conn.Role)

	c.QueueMessage(protocol.Event(protocol.EventSystemMessage, &protocol.SystemMessage{
		Message:   "connected",
		Timestamp: protocol.Now(),
	}))

	if first {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		adv := cs.presence.Transition(ctx, conn, true)
		adv.Log(cs.log)
	}
}

// detach unregisters the client, announces it left its rooms and, if it was
// the user's last connection, runs the offline transition.
func (cs *ChatServer) detach(c *Client) {
	cs.removeClient(c)

	conn, remaining, ok := cs.registry.Unregister(c.id)
	if !ok {
		return
	}
	cs.stats.Decr(stats.ActiveConnections)
	cs.log.Printf("unregistered connection %q for user %d", c.id, conn.UserId)

	for _, chatId := range conn.Rooms {
		cs.broadcastRoom(chatId, "", protocol.Event(protocol.EventUserLeftChat, &protocol.ChatMembership{
			UserId:   conn.UserId,
			UserRole: conn.Role,
			ChatId:   chatId,
		}))
	}

	if remaining == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		adv := cs.presence.Transition(ctx, conn, false)
		adv.Log(cs.log)
	}
}

func (cs *ChatServer) broadcastRoom(chatId int, skip string, msg *protocol.ServerMessage) {
	for _, ep := range cs.registry.RoomEndpoints(chatId, skip) {
		ep.QueueMessage(msg)
	}
}

func (cs *ChatServer) sendToUser(userId int, msg *protocol.ServerMessage) {
	for _, ep := range cs.registry.EndpointsFor(userId) {
		ep.QueueMessage(msg)
	}
}

// NotifyChatCreated tells the customer and the store's merchant about a chat
// opened through the HTTP API.
func (cs *ChatServer) NotifyChatCreated(chat types.Chat, created bool) {
	cs.sendToUser(chat.CustomerId, protocol.Event(protocol.EventConversationStarted, &protocol.ConversationNotice{
		Chat:     chat,
		StoreId:  chat.StoreId,
		UserId:   chat.CustomerId,
		Existing: !created,
	}))

	if created && chat.MerchantId != 0 {
		cs.sendToUser(chat.MerchantId, protocol.Event(protocol.EventNewConversation, &protocol.ConversationNotice{
			Chat:    chat,
			StoreId: chat.StoreId,
			UserId:  chat.CustomerId,
		}))
	}
}

// Online reports whether the user has a live connection.
func (cs *ChatServer) Online(userId int) bool {
	return cs.registry.IsOnline(userId)
}

func (cs *ChatServer) Connections() int {
	return cs.registry.Len()
}

func (cs *ChatServer) OnlineUsers() int {
	return cs.registry.OnlineUsers()
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

// Shutdown stops every client and waits for their cleanup to finish.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	cs.closing.Store(true)

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
