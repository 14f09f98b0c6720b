package console

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/events"
)

type fakeLogs struct {
	lines *events.ChannelEvent[string]
}

func (f *fakeLogs) ListenToLines(ch chan<- string) func() {
	return f.lines.Listen(ch)
}

func startTUI(t *testing.T, s *fakeSession, logs *fakeLogs) (*TUI, tcell.SimulationScreen, <-chan error) {
	t.Helper()
	ui := NewTUI(s, logs, testLogger())

	screen := tcell.NewSimulationScreen("UTF-8")
	ui.app.SetScreen(screen)

	drawn := make(chan struct{})
	var once sync.Once
	ui.app.SetAfterDrawFunc(func(tcell.Screen) {
		once.Do(func() { close(drawn) })
	})

	done := make(chan error, 1)
	go func() { done <- ui.Run(context.Background()) }()

	select {
	case <-drawn:
	case <-time.After(2 * time.Second):
		t.Fatal("console never drew")
	}
	return ui, screen, done
}

func typeLine(screen tcell.SimulationScreen, text string) {
	for _, r := range text {
		screen.InjectKey(tcell.KeyRune, r, tcell.ModNone)
	}
	screen.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("console did not stop")
	}
}

func TestTUI_DispatchesInputAndShowsOutput(t *testing.T) {
	s := newFakeSession()
	logs := &fakeLogs{lines: events.NewChannelEvent[string](false)}
	ui, screen, done := startTUI(t, s, logs)

	typeLine(screen, "start")
	assert.Eventually(t, func() bool {
		cmds := s.commands()
		return len(cmds) == 1 && cmds[0] == "start"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return strings.Contains(ui.outputView.GetText(true), "ran start")
	}, 2*time.Second, 10*time.Millisecond)

	logs.lines.Notify("Engine: started Narrow stance")
	assert.Eventually(t, func() bool {
		return strings.Contains(ui.logView.GetText(true), "Engine: started Narrow stance")
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return strings.Contains(ui.statusView.GetText(true), "COM3, COM4")
	}, 2*time.Second, 10*time.Millisecond)

	screen.InjectKey(tcell.KeyEscape, 0, tcell.ModNone)
	waitStopped(t, done)
	assert.Equal(t, []string{"start", "exit"}, s.commands())
}

func TestTUI_StopsWhenSessionExits(t *testing.T) {
	s := newFakeSession()
	logs := &fakeLogs{lines: events.NewChannelEvent[string](false)}
	_, _, done := startTUI(t, s, logs)

	require.NoError(t, s.Dispatch(context.Background(), "exit"))
	waitStopped(t, done)
	assert.Equal(t, 0, logs.lines.ListenerCount())
	assert.Equal(t, 0, s.output.ListenerCount())
}

func TestNewTUI_NilDependencies(t *testing.T) {
	logs := &fakeLogs{lines: events.NewChannelEvent[string](false)}
	assert.Panics(t, func() { NewTUI(nil, logs, testLogger()) })
	assert.Panics(t, func() { NewTUI(newFakeSession(), nil, testLogger()) })
	assert.Panics(t, func() { NewTUI(newFakeSession(), logs, nil) })
}
