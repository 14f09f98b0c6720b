package session

import (
	"errors"
	"fmt"
)

// Kind classifies a controller error. No kind is fatal to the process.
type Kind int

const (
	// KindConnection: a peer is unreachable or went away
	KindConnection Kind = iota + 1
	// KindProtocol: a malformed or incomplete message or selection
	KindProtocol
	// KindState: a command issued out of sequence
	KindState
	// KindValidation: telemetry with non-finite values
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindState:
		return "state"
	case KindValidation:
		return "validation"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	ErrIncompleteSelection = errors.New("selection needs two port identifiers")
	ErrUnknownPort         = errors.New("selected port was not offered")
	ErrDuplicatePort       = errors.New("the same port was selected twice")
	ErrTooFewPorts         = errors.New("backend reported fewer than two ports")
	ErrConnectInProgress   = errors.New("connect is already waiting for a selection")
	ErrNotConnected        = errors.New("devices are not connected, run connect first")
	ErrNotCalibrated       = errors.New("devices are not calibrated, run calibrate first")
	ErrNoProgram           = errors.New("the exercise program has no first entry")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrShuttingDown        = errors.New("session is shutting down")
)

// Error is a classified failure of one command
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
