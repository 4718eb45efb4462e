package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-storechat/internal/errs"
	"github.com/npezzotti/go-storechat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoErrOk(t *testing.T) {
	result := NoErrOK(1, map[string]any{
		"testkey": "testvalue",
	})

	assert.NotNil(t, result.Response, "expected response to be non-nil")
	assert.Equal(t, 1, result.Id, "expected Id to match")
	assert.WithinDuration(t, time.Now(), result.Timestamp, time.Second, "expected Timestamp to be within 1 second")
	assert.Equal(t, http.StatusOK, result.Response.ResponseCode, "expected ResponseCode to match")
	assert.Equal(t, map[string]any{"testkey": "testvalue"}, result.Response.Data, "expected Data to match")
}

func TestNoErrAccepted(t *testing.T) {
	result := NoErrAccepted(7, nil)

	assert.Equal(t, 7, result.Id)
	assert.Equal(t, http.StatusAccepted, result.Response.ResponseCode)
	assert.Empty(t, result.Response.Error)
}

func TestErrResponse(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{
			name: "authorization exposes public message",
			err:  errs.E(errs.KindAuthorization, "join", "Not a party to this chat"),
			code: http.StatusForbidden,
			msg:  "not a party to this chat",
		},
		{
			name: "wrapped not found",
			err:  fmt.Errorf("join: %w", errs.E(errs.KindNotFound, "get chat", "chat not found")),
			code: http.StatusNotFound,
			msg:  "chat not found",
		},
		{
			name: "persistence hides cause",
			err:  errs.Wrap(errs.KindPersistence, "create message", errors.New("pq: connection refused")),
			code: http.StatusInternalServerError,
			msg:  "internal server error",
		},
		{
			name: "plain error is internal",
			err:  errors.New("boom"),
			code: http.StatusInternalServerError,
			msg:  "internal server error",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			res := ErrResponse(3, tc.err)
			assert.Equal(t, 3, res.Id)
			assert.Equal(t, tc.code, res.Response.ResponseCode)
			assert.Equal(t, tc.msg, res.Response.Error)
		})
	}
}

func TestErrInvalidMessage(t *testing.T) {
	res := ErrInvalidMessage(-1)
	assert.Equal(t, 0, res.Id, "expected negative id to be dropped")
	assert.Equal(t, http.StatusBadRequest, res.Response.ResponseCode)
	assert.Equal(t, "invalid message format", res.Response.Error)

	res = ErrInvalidMessage(5)
	assert.Equal(t, 5, res.Id)
}

func TestNewMessageFlattensMessage(t *testing.T) {
	id := uuid.New()
	ev := NewMessage{
		Message: types.Message{
			Id:       id,
			ChatId:   4,
			SenderId: 9,
			Content:  "Hi",
			Status:   types.StatusSent,
		},
		ConversationId: 4,
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, id.String(), decoded["id"])
	assert.Equal(t, "Hi", decoded["content"])
	assert.Equal(t, "sent", decoded["status"])
	assert.EqualValues(t, 4, decoded["conversationId"])
	assert.EqualValues(t, 4, decoded["chatId"])
}

func TestClientMessageDecoding(t *testing.T) {
	raw := `{"id":12,"event":"join_conversation","data":{"chatId":33}}`

	var msg ClientMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, 12, msg.Id)
	assert.Equal(t, EventJoinConversation, msg.Event)

	var join JoinConversation
	require.NoError(t, json.Unmarshal(msg.Data, &join))
	assert.Equal(t, 33, join.ChatId)
}
