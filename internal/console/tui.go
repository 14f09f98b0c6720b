package console

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/go_func_utils"
)

const (
	statusRefresh = 250 * time.Millisecond
	maxViewLines  = 1000
)

// LogSource is implemented by *logging.Logger
type LogSource interface {
	ListenToLines(ch chan<- string) func()
}

// TUI is the full-screen operator console: status and session output on the
// left, the process log on the right, a command line at the bottom.
type TUI struct {
	session Session
	logs    LogSource
	logger  *log.Logger

	app        *tview.Application
	mainFlex   *tview.Flex
	statusView *tview.TextView
	outputView *tview.TextView
	logView    *tview.TextView
	input      *tview.InputField

	finished chan struct{}
	// cancels dispatches still running when the console closes
	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc
	wg             sync.WaitGroup
}

func NewTUI(s Session, logs LogSource, logger *log.Logger) *TUI {
	if s == nil {
		panic("TUI: session cannot be nil")
	}
	if logs == nil {
		panic("TUI: log source cannot be nil")
	}
	if logger == nil {
		panic("TUI: logger cannot be nil")
	}
	ui := &TUI{
		session:  s,
		logs:     logs,
		logger:   logger,
		app:      tview.NewApplication(),
		finished: make(chan struct{}),
	}
	ui.dispatchCtx, ui.cancelDispatch = context.WithCancel(context.Background())
	ui.initialize()
	return ui
}

func (ui *TUI) initialize() {
	// No SetChangedFunc(app.Draw): writes may still arrive after the app stopped
	ui.statusView = tview.NewTextView().
		SetDynamicColors(true)
	ui.statusView.SetBorder(true).SetTitle(" Status ")

	ui.outputView = tview.NewTextView().
		SetDynamicColors(true).
		SetMaxLines(maxViewLines)
	ui.outputView.SetBorder(true).SetTitle(" Session ")

	ui.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetMaxLines(maxViewLines)
	ui.logView.SetBorder(true).SetTitle(" Logs ")

	ui.input = tview.NewInputField().
		SetLabel(prompt).
		SetFieldBackgroundColor(tcell.ColorDefault)
	ui.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(ui.input.GetText())
		ui.input.SetText("")
		if text != "" {
			ui.dispatch(text)
		}
	})

	instructions := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[yellow]connect[white] | [yellow]calibrate[white] | [yellow]start[white] | [yellow]stop[white] | [yellow]hmd[white] | [yellow]Esc[white] Exit")

	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(instructions, 1, 0, false).
		AddItem(ui.statusView, 8, 0, false).
		AddItem(ui.outputView, 0, 1, false).
		AddItem(ui.input, 1, 0, true)

	ui.mainFlex = tview.NewFlex().
		AddItem(left, 0, 1, true).
		AddItem(ui.logView, 0, 1, false)

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlC:
			ui.dispatch("exit")
			return nil
		}
		return event
	})
}

// dispatch runs off the UI goroutine; commands may block on a dial
func (ui *TUI) dispatch(text string) {
	ui.wg.Add(1)
	go_func_utils.SafeGo(ui.logger, func() {
		defer ui.wg.Done()
		_ = ui.session.Dispatch(ui.dispatchCtx, text)
	})
}

// Run shows the console and blocks until ctx is cancelled or the session exits
func (ui *TUI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unregisterOutput := ui.session.ListenToOutput(func(msg string) {
		ui.appendLine(ui.outputView, msg)
	})
	defer unregisterOutput()

	logChan := make(chan string, 64)
	unregisterLogs := ui.logs.ListenToLines(logChan)
	defer unregisterLogs()

	ui.wg.Add(1)
	go_func_utils.SafeGo(ui.logger, func() {
		defer ui.wg.Done()
		ui.refresh(ctx, logChan)
	})

	ui.app.SetRoot(ui.mainFlex, true).SetFocus(ui.input)
	err := ui.app.Run()
	close(ui.finished)

	cancel()
	ui.cancelDispatch()
	ui.wg.Wait()
	return err
}

// refresh feeds the log pane and redraws the status until the console stops
func (ui *TUI) refresh(ctx context.Context, logChan <-chan string) {
	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			ui.stop()
			return
		case <-ui.session.Done():
			ui.stop()
			return
		case <-ui.finished:
			return
		case line := <-logChan:
			_, _ = fmt.Fprintln(ui.logView, tview.Escape(line))
			ui.logView.ScrollToEnd()
			ui.draw()
		case <-ticker.C:
			ui.statusView.SetText(tview.Escape(strings.Join(ui.session.Status().Lines(), "\n")))
			ui.draw()
		}
	}
}

func (ui *TUI) appendLine(view *tview.TextView, msg string) {
	colour := map[tone]string{
		toneNormal: "white",
		toneError:  "red",
		toneWarn:   "yellow",
		toneGood:   "green",
	}[toneOf(msg)]
	_, _ = fmt.Fprintf(view, "[%s]%s[white]\n", colour, tview.Escape(msg))
	view.ScrollToEnd()
	ui.draw()
}

func (ui *TUI) draw() {
	ui.app.Draw()
}

// stop repeats Stop until Run returns; a Stop issued before the screen is up is lost
func (ui *TUI) stop() {
	for {
		ui.app.Stop()
		select {
		case <-ui.finished:
			return
		case <-time.After(statusRefresh):
		}
	}
}
