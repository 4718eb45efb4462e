package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid message status transition")
	ErrStatusUnchanged   = errors.New("message status unchanged")
)

// MessageStatus is a forward-only state machine: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

var statusOrder = []MessageStatus{StatusSent, StatusDelivered, StatusRead}

func (s MessageStatus) rank() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s MessageStatus) Valid() bool {
	return s.rank() >= 0
}

func (s MessageStatus) String() string {
	return string(s)
}

func ParseMessageStatus(s string) (MessageStatus, error) {
	st := MessageStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown message status %q", s)
	}
	return st, nil
}

// Transition returns the status a message moves to when requested is
// reported while it is in current. Skipping forward (sent -> read) is allowed.
func Transition(current, requested MessageStatus) (MessageStatus, error) {
	cur, req := current.rank(), requested.rank()
	if cur < 0 || req < 0 {
		return current, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, current, requested)
	}

	switch {
	case req == cur:
		return current, ErrStatusUnchanged
	case req < cur:
		return current, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, current, requested)
	}

	return requested, nil
}

// Predecessors lists every status from which Transition accepts target.
// The storage layer uses it as the guard of its compare-and-swap updates.
func Predecessors(target MessageStatus) []MessageStatus {
	var from []MessageStatus
	for _, st := range statusOrder {
		if next, err := Transition(st, target); err == nil && next == target {
			from = append(from, st)
		}
	}
	return from
}
