package logging

import (
	"io"
	"log"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/events"
)

const Flags = log.LstdFlags | log.Lmicroseconds

type Options struct {
	// File enables a size-rotated log file when non-empty
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger is the process logger. Every entry also goes to line listeners,
// which is how the full-screen console shows the log.
type Logger struct {
	*log.Logger
	lines *events.ChannelEvent[string]
	file  *lumberjack.Logger
}

// New returns a logger writing to the rotated file (if configured), to
// console (if non-nil), and to line listeners.
func New(opts Options, console io.Writer) *Logger {
	l := &Logger{lines: events.NewChannelEvent[string](false)}

	writers := []io.Writer{lineWriter{l.lines}}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		writers = append(writers, l.file)
	}
	if console != nil {
		writers = append(writers, console)
	}

	l.Logger = log.New(io.MultiWriter(writers...), "", Flags)
	return l
}

// ListenToLines delivers each log entry, without its trailing newline, to ch.
// Entries are dropped for a listener whose channel is full.
func (l *Logger) ListenToLines(ch chan<- string) func() {
	return l.lines.Listen(ch)
}

// Close closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// lineWriter relies on log.Logger issuing a single Write per entry
type lineWriter struct {
	lines *events.ChannelEvent[string]
}

func (w lineWriter) Write(p []byte) (int, error) {
	w.lines.Notify(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
