package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransition(t *testing.T) {
	tcases := []struct {
		name      string
		current   MessageStatus
		requested MessageStatus
		expected  MessageStatus
		err       error
	}{
		{"sent to delivered", StatusSent, StatusDelivered, StatusDelivered, nil},
		{"sent to read", StatusSent, StatusRead, StatusRead, nil},
		{"delivered to read", StatusDelivered, StatusRead, StatusRead, nil},
		{"read to delivered", StatusRead, StatusDelivered, StatusRead, ErrInvalidTransition},
		{"delivered to sent", StatusDelivered, StatusSent, StatusDelivered, ErrInvalidTransition},
		{"read to sent", StatusRead, StatusSent, StatusRead, ErrInvalidTransition},
		{"same status", StatusDelivered, StatusDelivered, StatusDelivered, ErrStatusUnchanged},
		{"unknown requested", StatusSent, MessageStatus("archived"), StatusSent, ErrInvalidTransition},
		{"unknown current", MessageStatus(""), StatusRead, MessageStatus(""), ErrInvalidTransition},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.current, tc.requested)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.expected, next, "expected resulting status to match")
		})
	}
}

func TestPredecessors(t *testing.T) {
	assert.Empty(t, Predecessors(StatusSent), "nothing moves to sent")
	assert.Equal(t, []MessageStatus{StatusSent}, Predecessors(StatusDelivered))
	assert.Equal(t, []MessageStatus{StatusSent, StatusDelivered}, Predecessors(StatusRead))
}

func TestParseMessageStatus(t *testing.T) {
	st, err := ParseMessageStatus("read")
	assert.NoError(t, err)
	assert.Equal(t, StatusRead, st)

	_, err = ParseMessageStatus("bogus")
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	tcases := map[string]Role{
		"merchant":  RoleMerchant,
		" Merchant": RoleMerchant,
		"seller":    RoleMerchant,
		"customer":  RoleCustomer,
		"":          RoleCustomer,
		"admin":     RoleCustomer,
	}

	for in, expected := range tcases {
		assert.Equal(t, expected, ParseRole(in), "ParseRole(%q)", in)
	}
}
