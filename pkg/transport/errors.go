package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrCallPending indicates another call is still waiting for its reply.
	ErrCallPending = errors.New("call already pending")
	// ErrTimeout indicates no reply arrived before the call timed out.
	ErrTimeout = errors.New("call timed out")
	// ErrEmptyName indicates a function name is empty.
	ErrEmptyName = errors.New("empty function name")
	// ErrNameTooLong indicates a function name exceeds MaxNameLen.
	ErrNameTooLong = errors.New("function name too long")
	// ErrInvalidName indicates a function name contains a NUL byte.
	ErrInvalidName = errors.New("function name contains NUL")
	// ErrNilHandler indicates a handler is missing.
	ErrNilHandler = errors.New("nil handler")
	// ErrRegistryFull indicates the registry reached its capacity.
	ErrRegistryFull = errors.New("registry full")
	// ErrDuplicateName indicates the function name is already registered.
	ErrDuplicateName = errors.New("function already registered")
	// ErrShortMessage indicates a payload too short to hold a message.
	ErrShortMessage = errors.New("short message")
	// ErrMissingTerminator indicates a request without a NUL after the name.
	ErrMissingTerminator = errors.New("missing name terminator")
	// ErrUnknownType indicates an unknown message type tag.
	ErrUnknownType = errors.New("unknown message type")
	// ErrRateLimited indicates a request was rejected by RateLimit.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ErrorCode is the code carried by an Error message.
type ErrorCode byte

// Error codes.
const (
	CodeOK               ErrorCode = 0
	CodeFunctionNotFound ErrorCode = 1
	CodeInternal         ErrorCode = 2
)

// String implements fmt.Stringer.
func (c ErrorCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeFunctionNotFound:
		return "function not found"
	case CodeInternal:
		return "internal error"
	default:
		return fmt.Sprintf("code %d", byte(c))
	}
}

// RemoteError wraps the error code replied by the peer, or returned by a
// handler to choose the code sent back.
type RemoteError struct {
	Code ErrorCode
}

// Error implements error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", byte(e.Code), e.Code)
}

// CodeOf maps a handler error to the code replied to the caller.
// Anything other than a RemoteError with a nonzero code is an internal error.
func CodeOf(err error) ErrorCode {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) && remoteErr.Code != CodeOK {
		return remoteErr.Code
	}
	return CodeInternal
}
