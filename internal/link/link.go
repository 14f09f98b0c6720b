package link

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/events"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/go_func_utils"
)

// State is the lifecycle of a Link
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Link owns one duplex connection to an external process.
// It never reconnects on its own: after the peer goes away the link stays
// Disconnected until Connect is called again.
type Link struct {
	name   string
	dialer Dialer
	logger *log.Logger

	mu          sync.Mutex
	state       State
	conn        Conn
	address     string
	localClose  bool
	loopRunning bool
	loopDone    chan struct{}

	// writeMu serializes writers; reads never take it
	writeMu sync.Mutex

	stateEvent *events.CallbackEvent[State]
}

// New creates a disconnected link. name is used in logs and errors.
func New(name string, dialer Dialer, logger *log.Logger) *Link {
	if dialer == nil {
		panic("Link: dialer cannot be nil")
	}
	if logger == nil {
		panic("Link: logger cannot be nil")
	}
	return &Link{
		name:       name,
		dialer:     dialer,
		logger:     logger,
		stateEvent: events.NewCallbackEvent[State](false),
	}
}

// Name returns the link name
func (l *Link) Name() string { return l.name }

// State returns the current lifecycle state
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Address returns the address of the current (or last attempted) connection
func (l *Link) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.address
}

// ListenToState registers a callback for state transitions
func (l *Link) ListenToState(callback func(State)) func() {
	return l.stateEvent.Listen(callback)
}

// Connect dials address. It does not retry; failures are *ConnError with Kind
// ErrRefused or ErrTimeout. Connecting a link that is not Disconnected returns
// ErrAlreadyConnected.
func (l *Link) Connect(ctx context.Context, address string) error {
	l.mu.Lock()
	if l.state != StateDisconnected {
		l.mu.Unlock()
		return ErrAlreadyConnected
	}
	l.state = StateConnecting
	l.address = address
	l.mu.Unlock()
	l.stateEvent.Notify(StateConnecting)

	l.logger.Printf("Link[%s]: Connecting to %s", l.name, address)
	conn, err := l.dialer.Dial(ctx, address)

	l.mu.Lock()
	if err != nil {
		l.state = StateDisconnected
		l.mu.Unlock()
		l.stateEvent.Notify(StateDisconnected)
		connErr := &ConnError{Link: l.name, Address: address, Kind: classifyDialError(err), Err: err}
		l.logger.Printf("Link[%s]: %v", l.name, connErr)
		return connErr
	}
	l.conn = conn
	l.state = StateConnected
	l.localClose = false
	l.loopDone = make(chan struct{})
	l.mu.Unlock()
	l.stateEvent.Notify(StateConnected)

	l.logger.Printf("Link[%s]: Connected to %s", l.name, address)
	return nil
}

// Send writes the UTF-8 bytes of text with no added framing. It is safe to
// call concurrently with the receive loop.
func (l *Link) Send(text string) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return &IoError{Link: l.name, Kind: ErrNotConnected}
	}

	l.writeMu.Lock()
	err := conn.WriteMessage([]byte(text))
	l.writeMu.Unlock()
	if err != nil {
		return &IoError{Link: l.name, Kind: ErrWrite, Err: err}
	}
	return nil
}

// ReceiveLoop reads until the peer closes the stream or an I/O error occurs,
// handing every read to onMessage as a string. When the loop ends the link is
// Disconnected and onClosed is called exactly once: with nil for an orderly
// close (peer EOF or local Close) and with the error otherwise.
// It blocks; use Start to run it on its own goroutine.
func (l *Link) ReceiveLoop(onMessage func(string), onClosed func(error)) {
	conn, done, ok := l.claimLoop()
	if !ok {
		if onClosed != nil {
			onClosed(&IoError{Link: l.name, Kind: ErrNotConnected})
		}
		return
	}
	l.runLoop(conn, done, onMessage, onClosed)
}

// Start runs the receive loop on a new goroutine. The loop is registered
// before Start returns, so a following Close always waits for it.
func (l *Link) Start(onMessage func(string), onClosed func(error)) {
	conn, done, ok := l.claimLoop()
	if !ok {
		if onClosed != nil {
			onClosed(&IoError{Link: l.name, Kind: ErrNotConnected})
		}
		return
	}
	go_func_utils.SafeGo(l.logger, func() { l.runLoop(conn, done, onMessage, onClosed) })
}

func (l *Link) claimLoop() (Conn, chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil || l.loopRunning {
		return nil, nil, false
	}
	l.loopRunning = true
	return l.conn, l.loopDone, true
}

func (l *Link) runLoop(conn Conn, done chan struct{}, onMessage func(string), onClosed func(error)) {
	defer close(done)

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			local := l.release(conn)
			var reported error
			if !local && !errors.Is(err, io.EOF) {
				reported = err
				l.logger.Printf("Link[%s]: Receive error: %v", l.name, err)
			} else {
				l.logger.Printf("Link[%s]: Connection closed", l.name)
			}
			if onClosed != nil {
				onClosed(reported)
			}
			return
		}
		if onMessage != nil {
			onMessage(strings.ToValidUTF8(string(msg), "\uFFFD"))
		}
	}
}

// Close closes the connection and waits for a running receive loop to exit.
// Closing a disconnected link is a no-op. Close must not be called from the
// link's own onMessage/onClosed callbacks.
func (l *Link) Close() error {
	l.mu.Lock()
	conn := l.conn
	done := l.loopDone
	running := l.loopRunning
	if conn != nil {
		l.localClose = true
	}
	l.mu.Unlock()

	if conn == nil {
		return nil
	}

	err := conn.Close()
	if running {
		<-done
	} else {
		l.release(conn)
	}
	return err
}

// release detaches conn from the link and reports whether the close was local
func (l *Link) release(conn Conn) bool {
	l.mu.Lock()
	local := l.localClose
	changed := false
	if l.conn == conn {
		l.conn = nil
		l.state = StateDisconnected
		l.loopRunning = false
		changed = true
	}
	l.mu.Unlock()

	_ = conn.Close()
	if changed {
		l.stateEvent.Notify(StateDisconnected)
	}
	return local
}
