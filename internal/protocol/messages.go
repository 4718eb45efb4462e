package protocol

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-storechat/internal/errs"
	"github.com/npezzotti/go-storechat/internal/types"
)

// Inbound events.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMessageDelivered  = "message_delivered"
	EventMessageRead       = "message_read"
	EventSendMessage       = "send_message"
)

// Outbound events.
const (
	EventMerchantStatusUpdate = "merchant_status_update"
	EventCustomerStatusUpdate = "customer_status_update"
	EventNewMessage           = "new_message"
	EventMerchantNewMessage   = "merchant_new_message"
	EventMessagesDelivered    = "messages_delivered"
	EventMessageStatusUpdate  = "message_status_update"
	EventUserJoinedChat       = "user_joined_chat"
	EventUserLeftChat         = "user_left_chat"
	EventNewConversation      = "new_conversation"
	EventConversationStarted  = "conversation_started"
	EventSystemMessage        = "system_message"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the envelope of every frame a client sends. Data is decoded
// according to Event.
type ClientMessage struct {
	BaseMessage
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinConversation struct {
	ChatId int `json:"chatId"`
}

type LeaveConversation struct {
	ChatId int `json:"chatId"`
}

type Typing struct {
	ConversationId int `json:"conversationId"`
	UserId         int `json:"userId"`
}

type MessageAck struct {
	MessageId      uuid.UUID `json:"messageId"`
	ConversationId int       `json:"conversationId"`
}

type SendMessage struct {
	ChatId   int    `json:"chatId"`
	SenderId int    `json:"senderId,omitempty"`
	Content  string `json:"content"`
}

type ServerMessage struct {
	BaseMessage
	Event    string    `json:"event,omitempty"`
	Data     any       `json:"data,omitempty"`
	Response *Response `json:"response,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type MerchantStatusUpdate struct {
	MerchantId int   `json:"merchantId"`
	IsOnline   bool  `json:"isOnline"`
	StoreIds   []int `json:"storeIds"`
}

type CustomerStatusUpdate struct {
	CustomerId int  `json:"customerId"`
	IsOnline   bool `json:"isOnline"`
}

// NewMessage is the message itself plus the conversation it belongs to.
type NewMessage struct {
	types.Message
	ConversationId int `json:"conversationId"`
}

type MessagesDelivered struct {
	ChatId      int       `json:"chatId"`
	DeliveredBy int       `json:"deliveredBy"`
	Timestamp   time.Time `json:"timestamp"`
	Count       int64     `json:"count"`
}

type MessageStatusUpdate struct {
	MessageId uuid.UUID           `json:"messageId"`
	Status    types.MessageStatus `json:"status"`
}

type ChatMembership struct {
	UserId   int        `json:"userId"`
	UserRole types.Role `json:"userRole"`
	ChatId   int        `json:"chatId"`
}

type ConversationNotice struct {
	Chat     types.Chat `json:"chat"`
	StoreId  int        `json:"storeId"`
	UserId   int        `json:"userId"`
	Existing bool       `json:"existing"`
}

type SystemMessage struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Event builds an unsolicited server event.
func Event(name string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: name,
		Data:  data,
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func NoErrAccepted(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
			Data:         data,
		},
	}
}

// ErrResponse answers request id with the code derived from err's Kind. Only
// the public part of an *errs.Error is exposed.
func ErrResponse(id int, err error) *ServerMessage {
	kind := errs.KindOf(err)
	msg := http.StatusText(kind.StatusCode())
	var e *errs.Error
	if errors.As(err, &e) && kind != errs.KindPersistence && kind != errs.KindInternal {
		msg = e.Public()
	}

	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: kind.StatusCode(),
			Error:        strings.ToLower(msg),
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
