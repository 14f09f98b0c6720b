package console

import (
	"bytes"
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/events"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/session"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeSession echoes every command and closes Done on "exit"
type fakeSession struct {
	mu         sync.Mutex
	dispatched []string
	output     *events.CallbackEvent[string]
	done       chan struct{}
	doneOnce   sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		output: events.NewCallbackEvent[string](false),
		done:   make(chan struct{}),
	}
}

func (f *fakeSession) Dispatch(_ context.Context, text string) error {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, text)
	f.mu.Unlock()

	if text == "fail" {
		f.output.Notify("Error: fail: state error")
		return assert.AnError
	}
	f.output.Notify("ran " + text)
	if text == "exit" {
		f.doneOnce.Do(func() { close(f.done) })
	}
	return nil
}

func (f *fakeSession) Status() session.Status {
	return session.Status{Selected: []string{"COM3", "COM4"}}
}

func (f *fakeSession) ListenToOutput(cb func(string)) func() {
	return f.output.Listen(cb)
}

func (f *fakeSession) Done() <-chan struct{} {
	return f.done
}

func (f *fakeSession) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dispatched...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestToneOf(t *testing.T) {
	cases := map[string]tone{
		"Error: connect: connection error: refused":    toneError,
		"You lost balance, exercise restarts in 5s...": toneWarn,
		"Entered Red Zone. Center your leg.":           toneWarn,
		"Entered Green Zone":                           toneGood,
		"Good work! Now is a pause for 15s.":           toneGood,
		"All exercises completed! Well done.":          toneGood,
		"Session stopped.":                             toneNormal,
	}
	for line, want := range cases {
		assert.Equal(t, want, toneOf(line), line)
	}
}

func TestLine_DispatchesUntilInputEnds(t *testing.T) {
	s := newFakeSession()
	out := &syncBuffer{}
	c := NewLine(s, bytes.NewBufferString("connect\n\n  \nfail\nstart\n"), out, testLogger())

	assert.NoError(t, c.Run(context.Background()))

	assert.Equal(t, []string{"connect", "fail", "start"}, s.commands())
	assert.Contains(t, out.String(), "ran connect")
	assert.Contains(t, out.String(), "Error: fail: state error")
	assert.Contains(t, out.String(), prompt)
}

func TestLine_ExitStopsConsole(t *testing.T) {
	s := newFakeSession()
	in, inWriter := io.Pipe()
	defer inWriter.Close()
	c := NewLine(s, in, &syncBuffer{}, testLogger())

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	_, err := io.WriteString(inWriter, "exit\n")
	assert.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("console did not stop after exit")
	}
	assert.Equal(t, []string{"exit"}, s.commands())
}

func TestLine_ContextCancel(t *testing.T) {
	s := newFakeSession()
	in, inWriter := io.Pipe()
	defer inWriter.Close()
	c := NewLine(s, in, &syncBuffer{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("console did not stop on cancel")
	}
	// output listener is gone
	assert.Equal(t, 0, s.output.ListenerCount())
}

func TestLine_MultiLineOutput(t *testing.T) {
	s := newFakeSession()
	out := &syncBuffer{}
	c := NewLine(s, bytes.NewBufferString(""), out, testLogger())

	c.print("HMD Menu:\n1. Connect to HMD")
	assert.Contains(t, out.String(), "HMD Menu:")
	assert.Contains(t, out.String(), "1. Connect to HMD")
}

func TestNewLine_NilDependencies(t *testing.T) {
	assert.Panics(t, func() { NewLine(nil, &bytes.Buffer{}, &bytes.Buffer{}, testLogger()) })
	assert.Panics(t, func() { NewLine(newFakeSession(), nil, &bytes.Buffer{}, testLogger()) })
	assert.Panics(t, func() { NewLine(newFakeSession(), &bytes.Buffer{}, &bytes.Buffer{}, nil) })
}
