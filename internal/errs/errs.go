// Package errs classifies failures of the real-time layer.
//
// Request paths (join, send, acknowledge) return *Error, which is fatal to the
// triggering request and never to the connection. Advisory paths (presence,
// analytics) return Advisory, which callers log and continue past.
package errs

import (
	"errors"
	"fmt"
	"log"
	"net/http"
)

type Kind uint8

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindPersistence
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	case KindNotFound:
		return "not found"
	default:
		return "internal"
	}
}

// StatusCode is the response code reported to a client for a failure of kind k.
func (k Kind) StatusCode() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Public is the message safe to show to the client that caused the error.
func (e *Error) Public() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.String()
}

func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Advisory collects failures that must not interrupt the caller.
type Advisory struct {
	Op   string
	errs []error
}

func NewAdvisory(op string) Advisory {
	return Advisory{Op: op}
}

func (a *Advisory) Add(err error) {
	if err != nil {
		a.errs = append(a.errs, err)
	}
}

func (a Advisory) Failed() bool {
	return len(a.errs) > 0
}

func (a Advisory) Err() error {
	if !a.Failed() {
		return nil
	}
	return fmt.Errorf("%s: %w", a.Op, errors.Join(a.errs...))
}

// Log writes the collected failures, if any, to l.
func (a Advisory) Log(l *log.Logger) {
	if err := a.Err(); err != nil {
		l.Printf("advisory: %v", err)
	}
}
