package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotCalibrated   = errors.New("calibration is required before starting")
	ErrUnknownExercise = errors.New("exercise not found in program")
	ErrAlreadyRunning  = errors.New("a session is already running")
	ErrShutdown        = errors.New("engine is shut down")
)

// State is the engine's position in the exercise program lifecycle
type State int

const (
	StateIdle State = iota
	StateCalibrated
	StateRunning
	StateRetrying
	StatePaused
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalibrated:
		return "calibrated"
	case StateRunning:
		return "running"
	case StateRetrying:
		return "retrying"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Active reports whether a session exists in this state
func (s State) Active() bool {
	return s == StateRunning || s == StateRetrying || s == StatePaused
}

// ZoneState is the last zone the wearer entered
type ZoneState int

const (
	ZoneNone ZoneState = iota
	ZoneGreen
	ZoneRed
)

func (z ZoneState) String() string {
	switch z {
	case ZoneGreen:
		return "green"
	case ZoneRed:
		return "red"
	default:
		return "none"
	}
}

// Config holds the exercise-program timing policy
type Config struct {
	// BalanceLossAfter is how long the wearer may stay out of the green zone
	BalanceLossAfter time.Duration
	// RetryDelay is the wait before an exercise restarts after balance loss
	RetryDelay time.Duration
	// PauseDelay is the rest between a successful exercise and the next one
	PauseDelay time.Duration
}

// Default timing policy
const (
	DefaultBalanceLossAfter = 4 * time.Second
	DefaultRetryDelay       = 5 * time.Second
	DefaultPauseDelay       = 15 * time.Second
)

func DefaultConfig() Config {
	return Config{
		BalanceLossAfter: DefaultBalanceLossAfter,
		RetryDelay:       DefaultRetryDelay,
		PauseDelay:       DefaultPauseDelay,
	}
}

// EventKind identifies an observable engine event
type EventKind int

const (
	EventExerciseStarted EventKind = iota
	EventZoneEnter
	EventBalanceLost
	EventExerciseSucceeded
	EventProgramCompleted
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventExerciseStarted:
		return "exercise-started"
	case EventZoneEnter:
		return "zone-enter"
	case EventBalanceLost:
		return "balance-lost"
	case EventExerciseSucceeded:
		return "exercise-succeeded"
	case EventProgramCompleted:
		return "program-completed"
	case EventStopped:
		return "stopped"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is emitted to listeners from the engine goroutine
type Event struct {
	Kind         EventKind
	RunID        string
	ExerciseID   int
	ExerciseName string
	Attempt      int
	Zone         ZoneState     // EventZoneEnter only
	Delay        time.Duration // wait before the follow-up action, if any
	Duration     time.Duration // exercise duration, EventExerciseStarted only
	At           time.Time
}

// Message renders the event as the wearer-facing status line
func (e Event) Message() string {
	switch e.Kind {
	case EventExerciseStarted:
		if e.Attempt > 1 {
			return fmt.Sprintf("Restarting %s...", e.ExerciseName)
		}
		return fmt.Sprintf("%s started for %d seconds...", e.ExerciseName, int(e.Duration/time.Second))
	case EventZoneEnter:
		if e.Zone == ZoneGreen {
			return "Entered Green Zone"
		}
		return "Entered Red Zone. Center your leg."
	case EventBalanceLost:
		return fmt.Sprintf("You lost balance, exercise restarts in %s...", formatDelay(e.Delay))
	case EventExerciseSucceeded:
		return fmt.Sprintf("Good work! Now is a pause for %s.", formatDelay(e.Delay))
	case EventProgramCompleted:
		return "All exercises completed! Well done."
	case EventStopped:
		return "Session stopped."
	default:
		return e.Kind.String()
	}
}

func formatDelay(d time.Duration) string {
	if d%time.Second == 0 {
		n := int(d / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	}
	return d.String()
}

// Snapshot is a consistent copy of the engine state
type Snapshot struct {
	State        State
	Calibrated   bool
	Visualizing  bool
	RunID        string
	ExerciseID   int
	ExerciseName string
	Attempt      int
	StartTime    time.Time
	LastZone     ZoneState
	// OutOfZoneSince is zero while the wearer is in the green zone
	OutOfZoneSince time.Time
}
