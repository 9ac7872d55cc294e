package rpc

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodePermissionDenied Code = "permission_denied"
	CodeInvalidState     Code = "invalid_state"
	CodeNotFound         Code = "not_found"
	CodeInvalidArgument  Code = "invalid_argument"
	CodeUnauthenticated  Code = "unauthenticated"
	CodeUnimplemented    Code = "unimplemented"
	CodeUnavailable      Code = "unavailable"
	CodeInternal         Code = "internal"
)

// Error is an error carried over the wire. Two errors match under
// errors.Is when their codes are equal, so callers test against the
// sentinels below.
type Error struct {
	Code    Code   `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrPermissionDenied = &Error{Code: CodePermissionDenied}
	ErrInvalidState     = &Error{Code: CodeInvalidState}
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument}
	ErrUnauthenticated  = &Error{Code: CodeUnauthenticated}
	ErrUnimplemented    = &Error{Code: CodeUnimplemented}
	ErrInternal         = &Error{Code: CodeInternal}

	// ErrConnectionLost is returned by calls whose connection dropped
	// before a response arrived.
	ErrConnectionLost = &Error{Code: CodeUnavailable, Message: "connection lost"}
	ErrSessionClosed  = &Error{Code: CodeUnavailable, Message: "session closed"}
	ErrSlowConsumer   = &Error{Code: CodeUnavailable, Message: "send buffer full"}
	ErrClientClosed   = errors.New("rpc client closed")
)
