package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"github.com/npezzotti/go-storechat/internal/database"
	"github.com/npezzotti/go-storechat/internal/errs"
	"github.com/npezzotti/go-storechat/internal/protocol"
	"github.com/npezzotti/go-storechat/internal/registry"
	"github.com/npezzotti/go-storechat/internal/stats"
	"github.com/npezzotti/go-storechat/internal/types"
)

const maxContentLength = 4096

// Router persists new messages and fans them out.
type Router struct {
	log      *log.Logger
	db       database.ChatStore
	registry *registry.Registry
	stats    stats.StatsProvider
	locks    *keyedMutex
}

func NewRouter(logger *log.Logger, db database.ChatStore, reg *registry.Registry, su stats.StatsProvider) *Router {
	return &Router{
		log:      logger,
		db:       db,
		registry: reg,
		stats:    su,
		locks:    newKeyedMutex(),
	}
}

// Send stores the message and emits it to the chat's room, then directly to
// the customer and the merchant when they are online outside the room.
// Nothing is emitted unless the message was stored.
func (r *Router) Send(ctx context.Context, conn registry.Connection, req protocol.SendMessage) (types.Message, error) {
	const op = "send message"

	switch {
	case req.ChatId <= 0:
		return types.Message{}, errs.E(errs.KindValidation, op, "chatId is required")
	case strings.TrimSpace(req.Content) == "":
		return types.Message{}, errs.E(errs.KindValidation, op, "content is required")
	case len(req.Content) > maxContentLength:
		return types.Message{}, errs.E(errs.KindValidation, op, "content too long")
	case req.SenderId != 0 && req.SenderId != conn.UserId:
		return types.Message{}, errs.E(errs.KindAuthorization, op, "sender mismatch")
	}

	chat, err := loadChat(ctx, r.db, op, req.ChatId)
	if err != nil {
		return types.Message{}, err
	}

	if !isParty(conn, chat) {
		return types.Message{}, errs.E(errs.KindAuthorization, op, "not a party to this chat")
	}

	// room order must match creation order
	unlock := r.locks.Lock(chat.Id)
	defer unlock()

	msg, err := r.db.CreateMessage(ctx, chat.Id, conn.UserId, req.Content)
	if err != nil {
		r.log.Printf("CreateMessage: %v", err)
		return types.Message{}, errs.Wrap(errs.KindPersistence, op, err)
	}
	r.stats.Incr(stats.MessagesSent)

	payload := &protocol.NewMessage{Message: msg, ConversationId: chat.Id}
	roomMsg := protocol.Event(protocol.EventNewMessage, payload)

	for _, ep := range r.registry.RoomEndpoints(chat.Id, "") {
		ep.QueueMessage(roomMsg)
	}

	if !r.registry.UserInRoom(chat.Id, chat.CustomerId) {
		for _, ep := range r.registry.EndpointsFor(chat.CustomerId) {
			ep.QueueMessage(roomMsg)
		}
	}

	if chat.MerchantId != 0 && !r.registry.UserInRoom(chat.Id, chat.MerchantId) {
		ambient := protocol.Event(protocol.EventMerchantNewMessage, payload)
		for _, ep := range r.registry.EndpointsFor(chat.MerchantId) {
			ep.QueueMessage(ambient)
		}
	}

	return msg, nil
}

func loadChat(ctx context.Context, db database.ChatStore, op string, chatId int) (types.Chat, error) {
	chat, err := db.GetChat(ctx, chatId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Chat{}, errs.E(errs.KindNotFound, op, "chat not found")
		}
		return types.Chat{}, errs.Wrap(errs.KindPersistence, op, err)
	}
	return chat, nil
}

// isParty reports whether conn belongs to the chat's customer or to the
// merchant owning its store.
func isParty(conn registry.Connection, chat types.Chat) bool {
	if conn.Role == types.RoleMerchant {
		return conn.OwnsStore(chat.StoreId)
	}
	return conn.UserId == chat.CustomerId
}
