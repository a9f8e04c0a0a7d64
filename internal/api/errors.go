package api

import (
	"context"
	"errors"
	"net"
)

// ErrorKind categorizes client errors for handling.
type ErrorKind string

const (
	KindUnknown         ErrorKind = "unknown"
	KindTimeout         ErrorKind = "timeout"
	KindConnection      ErrorKind = "connection"
	KindModelNotFound   ErrorKind = "model_not_found"
	KindInvalidResponse ErrorKind = "invalid_response"
)

// ClientError represents an error from a model client.
type ClientError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches another ClientError of the same kind, so sentinel checks work
// with errors.Is regardless of message.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrTimeout         = &ClientError{Kind: KindTimeout}
	ErrConnection      = &ClientError{Kind: KindConnection}
	ErrModelNotFound   = &ClientError{Kind: KindModelNotFound}
	ErrInvalidResponse = &ClientError{Kind: KindInvalidResponse}
)

// KindOf returns the kind of err, KindUnknown when err is not a ClientError.
func KindOf(err error) ErrorKind {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return KindUnknown
}

// IsUnreachable reports whether err means the endpoint could not be reached
// at all. A timeout is not: the endpoint answered, just too slowly.
func IsUnreachable(err error) bool {
	return KindOf(err) == KindConnection
}

// transportError classifies an error returned by http.Client.Do.
func transportError(message string, err error) *ClientError {
	if isTimeout(err) {
		return &ClientError{Kind: KindTimeout, Message: message, Cause: err}
	}
	return &ClientError{Kind: KindConnection, Message: message, Cause: err}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
