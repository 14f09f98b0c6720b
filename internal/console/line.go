package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/go_func_utils"
)

const prompt = "> "

// Line is the plain stdin/stdout operator console
type Line struct {
	session Session
	in      io.Reader
	out     io.Writer
	logger  *log.Logger

	outMu  sync.Mutex
	colors map[tone]*color.Color
}

func NewLine(s Session, in io.Reader, out io.Writer, logger *log.Logger) *Line {
	if s == nil {
		panic("LineConsole: session cannot be nil")
	}
	if in == nil || out == nil {
		panic("LineConsole: in and out cannot be nil")
	}
	if logger == nil {
		panic("LineConsole: logger cannot be nil")
	}
	return &Line{
		session: s,
		in:      in,
		out:     out,
		logger:  logger,
		colors: map[tone]*color.Color{
			toneNormal: color.New(color.Reset),
			toneError:  color.New(color.FgRed, color.Bold),
			toneWarn:   color.New(color.FgYellow),
			toneGood:   color.New(color.FgGreen),
		},
	}
}

// Run reads commands until ctx is cancelled, the session exits or input ends.
// End of input only stops the console; the session keeps running.
func (c *Line) Run(ctx context.Context) error {
	unregister := c.session.ListenToOutput(c.print)
	defer unregister()

	lines := make(chan string)
	readErr := make(chan error, 1)
	// The reader cannot be interrupted; it is left blocked on exit
	go_func_utils.SafeGo(c.logger, func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	})

	c.write(prompt)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.session.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading console input: %w", err)
			}
			c.logger.Println("LineConsole: Input closed")
			return nil
		case text := <-lines:
			if strings.TrimSpace(text) != "" {
				// failures are already reported through the session output
				_ = c.session.Dispatch(ctx, text)
			}
			c.write(prompt)
		}
	}
}

func (c *Line) print(msg string) {
	col := c.colors[toneOf(msg)]
	c.outMu.Lock()
	defer c.outMu.Unlock()
	for _, line := range strings.Split(msg, "\n") {
		_, _ = col.Fprintln(c.out, line)
	}
}

func (c *Line) write(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = io.WriteString(c.out, s)
}
