package console

import (
	"context"
	"strings"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/session"
)

// Session is the part of *session.Controller an operator console drives
type Session interface {
	Dispatch(ctx context.Context, text string) error
	Status() session.Status
	ListenToOutput(callback func(string)) func()
	Done() <-chan struct{}
}

type tone int

const (
	toneNormal tone = iota
	toneError
	toneWarn
	toneGood
)

// toneOf picks how an output line is highlighted
func toneOf(line string) tone {
	switch {
	case strings.HasPrefix(line, "Error:"):
		return toneError
	case strings.HasPrefix(line, "You lost balance"), strings.HasPrefix(line, "Entered Red Zone"):
		return toneWarn
	case strings.HasPrefix(line, "Good work"), strings.HasPrefix(line, "Entered Green Zone"),
		strings.HasPrefix(line, "All exercises completed"):
		return toneGood
	default:
		return toneNormal
	}
}
