package server

import (
	"database/sql"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/npezzotti/go-storechat/internal/database"
	"github.com/npezzotti/go-storechat/internal/protocol"
	"github.com/npezzotti/go-storechat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestJoin_MarksOtherPartysMessagesDelivered(t *testing.T) {
	db := &database.MockRepository{}
	cs, cust, merch := chatRoomFixture(t, db)

	db.On("GetChat", mock.Anything, chatId).Return(testChat, nil)
	// the reader id excludes the merchant's own messages from the batch
	db.On("MarkChatDelivered", mock.Anything, chatId, merchantId).Return(int64(3), nil).Once()

	cs.dispatch(merch, request(t, 4, protocol.EventJoinConversation, protocol.JoinConversation{ChatId: chatId}))

	merchMsgs := drain(merch)
	assert.Equal(t, http.StatusOK, responseTo(t, merchMsgs, 4).ResponseCode)
	require.NotNil(t, merchMsgs[0].Response, "the join is answered before any room event")
	assert.Contains(t, cs.registry.MembersOf(chatId), merch.id)

	custMsgs := drain(cust)
	joined := eventsNamed(custMsgs, protocol.EventUserJoinedChat)
	require.Len(t, joined, 1)
	assert.Equal(t, &protocol.ChatMembership{UserId: merchantId, UserRole: types.RoleMerchant, ChatId: chatId}, joined[0].Data)
	assert.Empty(t, eventsNamed(merchMsgs, protocol.EventUserJoinedChat), "the joiner is not told about itself")

	delivered := eventsNamed(custMsgs, protocol.EventMessagesDelivered)
	require.Len(t, delivered, 1, "one batched event, not one per message")
	batch := delivered[0].Data.(*protocol.MessagesDelivered)
	assert.Equal(t, int64(3), batch.Count)
	assert.Equal(t, merchantId, batch.DeliveredBy)
	assert.Equal(t, chatId, batch.ChatId)

	db.AssertNotCalled(t, "MarkChatDelivered", mock.Anything, chatId, customerId)
	db.AssertExpectations(t)
}

func TestJoin_NothingToDeliver(t *testing.T) {
	db := &database.MockRepository{}
	cs, cust, merch := chatRoomFixture(t, db)
	db.On("GetChat", mock.Anything, chatId).Return(testChat, nil)
	db.On("MarkChatDelivered", mock.Anything, chatId, merchantId).Return(int64(0), nil)

	cs.dispatch(merch, request(t, 1, protocol.EventJoinConversation, protocol.JoinConversation{ChatId: chatId}))

	assert.Empty(t, eventsNamed(drain(cust), protocol.EventMessagesDelivered))
	assert.Empty(t, eventsNamed(drain(merch), protocol.EventMessagesDelivered))
}

func TestJoin_Rejections(t *testing.T) {
	t.Run("not a party", func(t *testing.T) {
		db := &database.MockRepository{}
		cs, _, _ := chatRoomFixture(t, db)
		db.On("GetChat", mock.Anything, chatId).Return(testChat, nil)

		rival := newTestClient(t, cs, "rival", merchant(merchantId+1, storeId+1))
		cs.attach(rival)
		drain(rival)

		cs.dispatch(rival, request(t, 2, protocol.EventJoinConversation, protocol.JoinConversation{ChatId: chatId}))
		assert.Equal(t, http.StatusForbidden, responseTo(t, drain(rival), 2).ResponseCode)
		assert.NotContains(t, cs.registry.MembersOf(chatId), rival.id)
		db.AssertNotCalled(t, "MarkChatDelivered", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("chat not found", func(t *testing.T) {
		db := &database.MockRepository{}
		cs, _, merch := chatRoomFixture(t, db)
		db.On("GetChat", mock.Anything, 404).Return(types.Chat{}, sql.ErrNoRows)

		cs.dispatch(merch, request(t, 3, protocol.EventJoinConversation, protocol.JoinConversation{ChatId: 404}))
		resp := responseTo(t, drain(merch), 3)
		assert.Equal(t, http.StatusNotFound, resp.ResponseCode)
		assert.Equal(t, "chat not found", resp.Error)
	})

	t.Run("missing data", func(t *testing.T) {
		db := &database.MockRepository{}
		cs, _, merch := chatRoomFixture(t, db)

		cs.dispatch(merch, &protocol.ClientMessage{BaseMessage: protocol.BaseMessage{Id: 6}, Event: protocol.EventJoinConversation})
		assert.Equal(t, http.StatusBadRequest, responseTo(t, drain(merch), 6).ResponseCode)
	})
}

func TestLeave(t *testing.T) {
	db := &database.MockRepository{}
	cs, cust, merch := chatRoomFixture(t, db)
	require.True(t, cs.registry.Join(chatId, merch.id))

	cs.dispatch(merch, request(t, 8, protocol.EventLeaveConversation, protocol.LeaveConversation{ChatId: chatId}))
	assert.Equal(t, http.StatusOK, responseTo(t, drain(merch), 8).ResponseCode)
	assert.Equal(t, []string{cust.id}, cs.registry.MembersOf(chatId))
	assert.Len(t, eventsNamed(drain(cust), protocol.EventUserLeftChat), 1)

	// leaving again is a no-op
	cs.dispatch(merch, request(t, 9, protocol.EventLeaveConversation, protocol.LeaveConversation{ChatId: chatId}))
	assert.Equal(t, http.StatusOK, responseTo(t, drain(merch), 9).ResponseCode)
	assert.Empty(t, drain(cust))
}

func TestTyping(t *testing.T) {
	db := &database.MockRepository{}
	cs, cust, merch := chatRoomFixture(t, db)

	// not inside the room yet
	cs.dispatch(merch, request(t, 1, protocol.EventTypingStart, protocol.Typing{ConversationId: chatId}))
	assert.Equal(t, http.StatusForbidden, responseTo(t, drain(merch), 1).ResponseCode)
	assert.Empty(t, drain(cust))

	require.True(t, cs.registry.Join(chatId, merch.id))
	cs.dispatch(merch, request(t, 2, protocol.EventTypingStart, protocol.Typing{ConversationId: chatId, UserId: 999}))

	merchMsgs := drain(merch)
	assert.Equal(t, http.StatusOK, responseTo(t, merchMsgs, 2).ResponseCode)
	assert.Empty(t, eventsNamed(merchMsgs, protocol.EventTypingStart), "typing is not echoed to the sender")

	typing := eventsNamed(drain(cust), protocol.EventTypingStart)
	require.Len(t, typing, 1)
	assert.Equal(t, &protocol.Typing{ConversationId: chatId, UserId: merchantId}, typing[0].Data)

	cs.dispatch(merch, request(t, 3, protocol.EventTypingStop, protocol.Typing{ConversationId: chatId}))
	assert.Len(t, eventsNamed(drain(cust), protocol.EventTypingStop), 1)
}

func TestAcknowledge(t *testing.T) {
	msgId := uuid.New()

	tcases := []struct {
		name      string
		event     string
		stored    types.Message
		ack       protocol.MessageAck
		update    *bool
		code      int
		status    types.MessageStatus
		broadcast bool
	}{
		{
			name:      "delivered",
			event:     protocol.EventMessageDelivered,
			stored:    types.Message{Id: msgId, ChatId: chatId, SenderId: customerId, Status: types.StatusSent},
			ack:       protocol.MessageAck{MessageId: msgId, ConversationId: chatId},
			update:    boolPtr(true),
			code:      http.StatusOK,
			status:    types.StatusDelivered,
			broadcast: true,
		},
		{
			name:      "read skips delivered",
			event:     protocol.EventMessageRead,
			stored:    types.Message{Id: msgId, ChatId: chatId, SenderId: customerId, Status: types.StatusSent},
			ack:       protocol.MessageAck{MessageId: msgId},
			update:    boolPtr(true),
			code:      http.StatusOK,
			status:    types.StatusRead,
			broadcast: true,
		},
		{
			name:   "same state is acknowledged quietly",
			event:  protocol.EventMessageDelivered,
			stored: types.Message{Id: msgId, ChatId: chatId, SenderId: customerId, Status: types.StatusDelivered},
			ack:    protocol.MessageAck{MessageId: msgId, ConversationId: chatId},
			code:   http.StatusOK,
			status: types.StatusDelivered,
		},
		{
			name:   "regression is rejected",
			event:  protocol.EventMessageDelivered,
			stored: types.Message{Id: msgId, ChatId: chatId, SenderId: customerId, Status: types.StatusRead},
			ack:    protocol.MessageAck{MessageId: msgId, ConversationId: chatId},
			code:   http.StatusBadRequest,
		},
		{
			name:   "lost compare-and-swap",
			event:  protocol.EventMessageDelivered,
			stored: types.Message{Id: msgId, ChatId: chatId, SenderId: customerId, Status: types.StatusSent},
			ack:    protocol.MessageAck{MessageId: msgId, ConversationId: chatId},
			update: boolPtr(false),
			code:   http.StatusBadRequest,
		},
		{
			name:   "own message",
			event:  protocol.EventMessageRead,
			stored: types.Message{Id: msgId, ChatId: chatId, SenderId: merchantId, Status: types.StatusSent},
			ack:    protocol.MessageAck{MessageId: msgId, ConversationId: chatId},
			code:   http.StatusForbidden,
		},
		{
			name:   "conversation mismatch",
			event:  protocol.EventMessageRead,
			stored: types.Message{Id: msgId, ChatId: chatId, SenderId: customerId, Status: types.StatusSent},
			ack:    protocol.MessageAck{MessageId: msgId, ConversationId: chatId + 1},
			code:   http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			cs, cust, merch := chatRoomFixture(t, db)
			db.On("GetMessage", mock.Anything, msgId).Return(tc.stored, nil)
			db.On("GetChat", mock.Anything, chatId).Return(testChat, nil).Maybe()
			if tc.update != nil {
				db.On("UpdateMessageStatus", mock.Anything, msgId, mock.Anything).Return(*tc.update, nil).Once()
			}

			cs.dispatch(merch, request(t, 11, tc.event, tc.ack))

			resp := responseTo(t, drain(merch), 11)
			assert.Equal(t, tc.code, resp.ResponseCode)
			if tc.code == http.StatusOK {
				assert.Equal(t, &protocol.MessageStatusUpdate{MessageId: msgId, Status: tc.status}, resp.Data)
			}

			updates := eventsNamed(drain(cust), protocol.EventMessageStatusUpdate)
			if tc.broadcast {
				require.Len(t, updates, 1)
				assert.Equal(t, &protocol.MessageStatusUpdate{MessageId: msgId, Status: tc.status}, updates[0].Data)
				db.AssertCalled(t, "UpdateMessageStatus", mock.Anything, msgId, tc.status)
			} else {
				assert.Empty(t, updates)
			}
			if tc.update == nil {
				db.AssertNotCalled(t, "UpdateMessageStatus", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestAcknowledge_MessageNotFound(t *testing.T) {
	db := &database.MockRepository{}
	cs, _, merch := chatRoomFixture(t, db)
	id := uuid.New()
	db.On("GetMessage", mock.Anything, id).Return(types.Message{}, sql.ErrNoRows)

	cs.dispatch(merch, request(t, 1, protocol.EventMessageRead, protocol.MessageAck{MessageId: id}))
	assert.Equal(t, http.StatusNotFound, responseTo(t, drain(merch), 1).ResponseCode)
}

func TestDeliverOnJoin_PersistenceFailure(t *testing.T) {
	db := &database.MockRepository{}
	cs, cust, merch := chatRoomFixture(t, db)
	db.On("GetChat", mock.Anything, chatId).Return(testChat, nil)
	db.On("MarkChatDelivered", mock.Anything, chatId, merchantId).Return(int64(0), errors.New("timeout"))

	cs.dispatch(merch, request(t, 1, protocol.EventJoinConversation, protocol.JoinConversation{ChatId: chatId}))

	// the join itself still succeeds
	assert.Equal(t, http.StatusOK, responseTo(t, drain(merch), 1).ResponseCode)
	assert.Empty(t, eventsNamed(drain(cust), protocol.EventMessagesDelivered))
}

func TestDispatch_RecoversFromPanic(t *testing.T) {
	db := &database.MockRepository{}
	cs, _, merch := chatRoomFixture(t, db)
	db.On("GetChat", mock.Anything, chatId).Run(func(mock.Arguments) { panic("boom") }).Return(testChat, nil)

	assert.NotPanics(t, func() {
		cs.dispatch(merch, request(t, 12, protocol.EventJoinConversation, protocol.JoinConversation{ChatId: chatId}))
	})
	assert.Equal(t, http.StatusInternalServerError, responseTo(t, drain(merch), 12).ResponseCode)
}

func boolPtr(b bool) *bool { return &b }
