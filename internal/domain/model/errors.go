package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the categorical error taxonomy shared by every component.
// Handlers translate kinds to transport codes at the boundary; internal code
// only ever branches on the kind, never on the message text.
type ErrorKind int16

const (
	KindNotFound ErrorKind = iota + 1
	KindAlreadyExists
	KindConflict
	KindBadInput
	KindUnauthorized
	KindStorage
	KindBroker
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindConflict:
		return "conflict"
	case KindBadInput:
		return "bad_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindStorage:
		return "storage"
	case KindBroker:
		return "broker"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the tagged result carried across component boundaries.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// NewError builds a bare tagged error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError tags an underlying error without leaking its text to callers.
// The cause stays reachable for logs via errors.Unwrap.
func WrapError(kind ErrorKind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the kind from an error chain, KindStorage when untagged.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
