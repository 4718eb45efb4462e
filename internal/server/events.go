package server

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/npezzotti/go-storechat/internal/errs"
	"github.com/npezzotti/go-storechat/internal/protocol"
	"github.com/npezzotti/go-storechat/internal/types"
)

type eventHandler func(cs *ChatServer, ctx context.Context, c *Client, msg *protocol.ClientMessage) error

var eventHandlers = map[string]eventHandler{
	protocol.EventJoinConversation:  (*ChatServer).handleJoin,
	protocol.EventLeaveConversation: (*ChatServer).handleLeave,
	protocol.EventTypingStart:       (*ChatServer).handleTyping,
	protocol.EventTypingStop:        (*ChatServer).handleTyping,
	protocol.EventMessageDelivered:  (*ChatServer).handleAck,
	protocol.EventMessageRead:       (*ChatServer).handleAck,
	protocol.EventSendMessage:       (*ChatServer).handleSend,
}

// dispatch runs one inbound event. Handlers answer successes themselves;
// errors are answered here with the code of their kind. A panic fails only
// the event that raised it. Once shutdown has begun every event is refused.
func (cs *ChatServer) dispatch(c *Client, msg *protocol.ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			cs.log.Printf("panic handling %q from %q: %v", msg.Event, c.id, r)
			c.QueueMessage(protocol.ErrResponse(msg.Id, errs.E(errs.KindInternal, msg.Event, "internal error")))
		}
	}()

	if cs.closing.Load() {
		c.QueueMessage(protocol.ErrServiceUnavailable(msg.Id))
		return
	}

	handle, ok := eventHandlers[msg.Event]
	if !ok {
		c.QueueMessage(protocol.ErrResponse(msg.Id, errs.E(errs.KindValidation, "dispatch", fmt.Sprintf("unknown event %q", msg.Event))))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := handle(cs, ctx, c, msg); err != nil {
		if k := errs.KindOf(err); k == errs.KindPersistence || k == errs.KindInternal {
			cs.log.Printf("%s: %v", msg.Event, err)
		}
		c.QueueMessage(protocol.ErrResponse(msg.Id, err))
	}
}

func decodeData(msg *protocol.ClientMessage, v any) error {
	if len(msg.Data) == 0 {
		return errs.E(errs.KindValidation, msg.Event, "missing data")
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return &errs.Error{Kind: errs.KindValidation, Op: msg.Event, Msg: "invalid message format", Err: err}
	}
	return nil
}

func (cs *ChatServer) handleJoin(ctx context.Context, c *Client, msg *protocol.ClientMessage) error {
	const op = "join conversation"

	var req protocol.JoinConversation
	if err := decodeData(msg, &req); err != nil {
		return err
	}
	if req.ChatId <= 0 {
		return errs.E(errs.KindValidation, op, "chatId is required")
	}

	conn := c.connection()
	chat, err := loadChat(ctx, cs.db, op, req.ChatId)
	if err != nil {
		return err
	}
	if !isParty(conn, chat) {
		return errs.E(errs.KindAuthorization, op, "not a party to this chat")
	}

	joined := cs.registry.Join(chat.Id, c.id)
	c.QueueMessage(protocol.NoErrOK(msg.Id, chat))

	if joined {
		cs.broadcastRoom(chat.Id, c.id, protocol.Event(protocol.EventUserJoinedChat, &protocol.ChatMembership{
			UserId:   conn.UserId,
			UserRole: conn.Role,
			ChatId:   chat.Id,
		}))
	}

	if _, err := cs.tracker.DeliverOnJoin(ctx, conn, chat.Id); err != nil {
		cs.log.Printf("%s: %v", op, err)
	}

	return nil
}

func (cs *ChatServer) handleLeave(ctx context.Context, c *Client, msg *protocol.ClientMessage) error {
	var req protocol.LeaveConversation
	if err := decodeData(msg, &req); err != nil {
		return err
	}
	if req.ChatId <= 0 {
		return errs.E(errs.KindValidation, "leave conversation", "chatId is required")
	}

	left := cs.registry.Leave(req.ChatId, c.id)
	c.QueueMessage(protocol.NoErrOK(msg.Id, nil))

	if left {
		cs.broadcastRoom(req.ChatId, "", protocol.Event(protocol.EventUserLeftChat, &protocol.ChatMembership{
			UserId:   c.principal.UserId,
			UserRole: c.principal.Role,
			ChatId:   req.ChatId,
		}))
	}

	return nil
}

func (cs *ChatServer) handleTyping(ctx context.Context, c *Client, msg *protocol.ClientMessage) error {
	var req protocol.Typing
	if err := decodeData(msg, &req); err != nil {
		return err
	}
	if req.ConversationId <= 0 {
		return errs.E(errs.KindValidation, msg.Event, "conversationId is required")
	}
	if !slices.Contains(cs.registry.MembersOf(req.ConversationId), c.id) {
		return errs.E(errs.KindAuthorization, msg.Event, "not in conversation")
	}

	cs.broadcastRoom(req.ConversationId, c.id, protocol.Event(msg.Event, &protocol.Typing{
		ConversationId: req.ConversationId,
		UserId:         c.principal.UserId,
	}))
	c.QueueMessage(protocol.NoErrOK(msg.Id, nil))

	return nil
}

func (cs *ChatServer) handleAck(ctx context.Context, c *Client, msg *protocol.ClientMessage) error {
	var req protocol.MessageAck
	if err := decodeData(msg, &req); err != nil {
		return err
	}

	requested := types.StatusDelivered
	if msg.Event == protocol.EventMessageRead {
		requested = types.StatusRead
	}

	status, err := cs.tracker.Acknowledge(ctx, c.connection(), req, requested)
	if err != nil {
		return err
	}

	c.QueueMessage(protocol.NoErrOK(msg.Id, &protocol.MessageStatusUpdate{
		MessageId: req.MessageId,
		Status:    status,
	}))
	return nil
}

func (cs *ChatServer) handleSend(ctx context.Context, c *Client, msg *protocol.ClientMessage) error {
	var req protocol.SendMessage
	if err := decodeData(msg, &req); err != nil {
		return err
	}

	stored, err := cs.router.Send(ctx, c.connection(), req)
	if err != nil {
		return err
	}

	c.QueueMessage(protocol.NoErrAccepted(msg.Id, stored))
	return nil
}
