package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ValidationError is returned for requests rejected before anything was sent
// to the server.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError wraps failures to reach the server or to read its response,
// including request timeouts.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("%s: request timed out", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ApplicationError is a non 2xx response. Message holds the server's "error"
// field when it sent one.
type ApplicationError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ApplicationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: server returned %d", e.Op, e.StatusCode)
}

// ParseError is a 2xx response whose body could not be decoded.
type ParseError struct {
	Op   string
	Body string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: unable to parse response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func IsTimeout(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr) && terr.Timeout()
}

func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// ServerMessage returns the message the server attached to err, or fallback if
// there is none.
func ServerMessage(err error, fallback string) string {
	var aerr *ApplicationError
	if errors.As(err, &aerr) && aerr.Message != "" {
		return aerr.Message
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	return fallback
}
