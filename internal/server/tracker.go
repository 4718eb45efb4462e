package server

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/npezzotti/go-storechat/internal/database"
	"github.com/npezzotti/go-storechat/internal/errs"
	"github.com/npezzotti/go-storechat/internal/protocol"
	"github.com/npezzotti/go-storechat/internal/registry"
	"github.com/npezzotti/go-storechat/internal/stats"
	"github.com/npezzotti/go-storechat/internal/types"
)

// Tracker moves messages along sent -> delivered -> read and announces the
// moves to the chat's room.
type Tracker struct {
	log      *log.Logger
	db       database.ChatStore
	registry *registry.Registry
	stats    stats.StatsProvider
}

func NewTracker(logger *log.Logger, db database.ChatStore, reg *registry.Registry, su stats.StatsProvider) *Tracker {
	return &Tracker{
		log:      logger,
		db:       db,
		registry: reg,
		stats:    su,
	}
}

// DeliverOnJoin marks the other party's sent messages in the chat as
// delivered and emits one batched event when any moved.
func (t *Tracker) DeliverOnJoin(ctx context.Context, conn registry.Connection, chatId int) (int64, error) {
	n, err := t.db.MarkChatDelivered(ctx, chatId, conn.UserId)
	if err != nil {
		return 0, errs.Wrap(errs.KindPersistence, "deliver on join", err)
	}

	if n == 0 {
		return 0, nil
	}
	t.stats.Add(stats.StatusTransitions, n)

	now := protocol.Now()
	msg := protocol.Event(protocol.EventMessagesDelivered, &protocol.MessagesDelivered{
		ChatId:      chatId,
		DeliveredBy: conn.UserId,
		Timestamp:   now,
		Count:       n,
	})
	for _, ep := range t.registry.RoomEndpoints(chatId, "") {
		ep.QueueMessage(msg)
	}

	return n, nil
}

// Acknowledge applies a delivered/read report for one message. A report of
// the status the message already has succeeds without an event.
func (t *Tracker) Acknowledge(ctx context.Context, conn registry.Connection, ack protocol.MessageAck, requested types.MessageStatus) (types.MessageStatus, error) {
	const op = "acknowledge message"

	if ack.MessageId == uuid.Nil {
		return "", errs.E(errs.KindValidation, op, "messageId is required")
	}
	if !requested.Valid() {
		return "", errs.E(errs.KindValidation, op, "unknown status")
	}

	msg, err := t.db.GetMessage(ctx, ack.MessageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", errs.E(errs.KindNotFound, op, "message not found")
		}
		return "", errs.Wrap(errs.KindPersistence, op, err)
	}

	if ack.ConversationId != 0 && ack.ConversationId != msg.ChatId {
		return "", errs.E(errs.KindValidation, op, "conversation mismatch")
	}

	chat, err := loadChat(ctx, t.db, op, msg.ChatId)
	if err != nil {
		return "", err
	}

	if !isParty(conn, chat) {
		return "", errs.E(errs.KindAuthorization, op, "not a party to this chat")
	}
	if msg.SenderId == conn.UserId {
		return "", errs.E(errs.KindAuthorization, op, "cannot acknowledge own message")
	}

	next, err := types.Transition(msg.Status, requested)
	if errors.Is(err, types.ErrStatusUnchanged) {
		return msg.Status, nil
	}
	if err != nil {
		return "", &errs.Error{Kind: errs.KindValidation, Op: op, Msg: "invalid status transition", Err: err}
	}

	ok, err := t.db.UpdateMessageStatus(ctx, msg.Id, next)
	if err != nil {
		return "", errs.Wrap(errs.KindPersistence, op, err)
	}
	if !ok {
		// another report moved it past next first
		return "", &errs.Error{Kind: errs.KindValidation, Op: op, Msg: "invalid status transition", Err: types.ErrInvalidTransition}
	}
	t.stats.Incr(stats.StatusTransitions)

	update := protocol.Event(protocol.EventMessageStatusUpdate, &protocol.MessageStatusUpdate{
		MessageId: msg.Id,
		Status:    next,
	})
	for _, ep := range t.registry.RoomEndpoints(chat.Id, "") {
		ep.QueueMessage(update)
	}

	return next, nil
}
