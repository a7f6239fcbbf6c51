package core

import (
	"errors"
	"forecastica/internal/client"
)

var (
	ErrBusy           = errors.New("another request is already in progress")
	ErrNotConfigured  = errors.New("problem type, target and model must be selected first")
	ErrEmptySelection = errors.New("no columns selected")
	ErrUnknownColumn  = errors.New("unknown column")
	ErrInvalidState   = errors.New("action not available in the current state")
	ErrStale          = errors.New("result discarded: page is no longer displayed")
)

type errorMessages struct {
	transport   string
	application string
	parse       string
}

const timeoutMessage = "The request timed out. Retry to try again."

// userMessage maps a client error onto the text shown to the user.
func userMessage(err error, msgs errorMessages) string {
	var (
		verr *client.ValidationError
		aerr *client.ApplicationError
		perr *client.ParseError
	)

	switch {
	case errors.As(err, &verr):
		return verr.Reason
	case client.IsTimeout(err):
		return timeoutMessage
	case errors.As(err, &aerr):
		return client.ServerMessage(err, msgs.application)
	case errors.As(err, &perr):
		return msgs.parse
	default:
		return msgs.transport
	}
}

func retryable(err error) bool {
	var terr *client.TransportError
	return errors.As(err, &terr)
}
