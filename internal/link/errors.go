package link

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrRefused means the peer could not be reached or rejected the connection
	ErrRefused = errors.New("connection refused")
	// ErrTimeout means the peer did not answer within the dial timeout
	ErrTimeout = errors.New("connection timed out")
	// ErrNotConnected is returned by Send when the link has no open connection
	ErrNotConnected = errors.New("not connected")
	// ErrWrite wraps a transport failure while sending
	ErrWrite = errors.New("write failed")
	// ErrAlreadyConnected is returned by Connect on a link that is not Disconnected
	ErrAlreadyConnected = errors.New("already connected")
)

// ConnError reports a failed Connect. Kind is ErrRefused or ErrTimeout.
type ConnError struct {
	Link    string
	Address string
	Kind    error
	Err     error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("link %s: connect %s: %v: %v", e.Link, e.Address, e.Kind, e.Err)
}

func (e *ConnError) Unwrap() []error { return []error{e.Kind, e.Err} }

// IoError reports a failed Send. Kind is ErrNotConnected or ErrWrite.
type IoError struct {
	Link string
	Kind error
	Err  error
}

func (e *IoError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("link %s: %v", e.Link, e.Kind)
	}
	return fmt.Sprintf("link %s: %v: %v", e.Link, e.Kind, e.Err)
}

func (e *IoError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// classifyDialError maps a dialer error onto ErrTimeout or ErrRefused.
// Anything that is not a timeout (refused, unreachable, bad handshake) is ErrRefused.
func classifyDialError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrTimeout
	default:
		return ErrRefused
	}
}
