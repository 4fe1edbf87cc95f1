// Package xrpcerr defines the error taxonomy shared by the pool, RPC
// client, health monitor, and load balancer packages. Errors carry a Kind
// so callers (and the load balancer's retry driver) can classify a failure
// without string matching, following the teacher's preference for plain
// sentinel/wrapped stdlib errors over a third-party errors package.
package xrpcerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error without requiring callers to unwrap to a
// concrete type.
type Kind int

const (
	// KindUnknown is the zero value; Of returns it for errors with no Kind.
	KindUnknown Kind = iota
	KindInvalidConfig
	KindInvalidArgument
	KindConnectFailure
	KindSendFailure
	KindRecvFailure
	KindTimeout
	KindMalformedResponse
	KindUpstreamError
	KindQueueUnavailable
	KindExhaustedRetries
)

func (k Kind) String() string {
	switch k {
	case KindInvalidConfig:
		return "InvalidConfig"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindConnectFailure:
		return "ConnectFailure"
	case KindSendFailure:
		return "SendFailure"
	case KindRecvFailure:
		return "RecvFailure"
	case KindTimeout:
		return "Timeout"
	case KindMalformedResponse:
		return "MalformedResponse"
	case KindUpstreamError:
		return "UpstreamError"
	case KindQueueUnavailable:
		return "QueueUnavailable"
	case KindExhaustedRetries:
		return "ExhaustedRetries"
	default:
		return "Unknown"
	}
}

// Error is a Kind-tagged error. It wraps an optional underlying cause so
// %w-style unwrapping and errors.Is/errors.As keep working.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err (or anything it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// Of returns the Kind of err, or KindUnknown if err isn't (or doesn't wrap)
// an *Error.
func Of(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}
