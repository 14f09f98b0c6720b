package session

import (
	"fmt"
	"strings"

	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/engine"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/link"
	"github.com/lowaak/smart-trainer/balance-orchestrator/internal/telemetry"
)

// Status is a point-in-time view of the whole session
type Status struct {
	Engine            engine.Snapshot
	BackendConnected  bool
	Frontend          link.State
	Headset           link.State
	Selected          []string
	Calibrated        bool
	AwaitingSelection bool
	Devices           []telemetry.Device
}

// Status returns the current session state. It does not wait for a running command.
func (c *Controller) Status() Status {
	selected, calibrated := c.connection()
	return Status{
		Engine:            c.engine.Snapshot(),
		BackendConnected:  c.backend.Connected(),
		Frontend:          c.frontend.State(),
		Headset:           c.headset.State(),
		Selected:          selected,
		Calibrated:        calibrated,
		AwaitingSelection: c.awaitingSelection(),
		Devices:           c.router.Devices(),
	}
}

// Lines renders the status for the operator console
func (s Status) Lines() []string {
	backend := link.StateDisconnected
	if s.BackendConnected {
		backend = link.StateConnected
	}
	lines := []string{
		fmt.Sprintf("Links: backend=%s frontend=%s headset=%s", backend, s.Frontend, s.Headset),
	}

	switch {
	case s.AwaitingSelection:
		lines = append(lines, "Ports: waiting for selection on the front end")
	case len(s.Selected) == 0:
		lines = append(lines, "Ports: none selected")
	default:
		cal := "not calibrated"
		if s.Calibrated {
			cal = "calibrated"
		}
		lines = append(lines, fmt.Sprintf("Ports: %s (%s)", strings.Join(s.Selected, ", "), cal))
	}

	e := s.Engine
	if e.Visualizing {
		lines = append(lines, fmt.Sprintf("Session %s: %s, exercise %d %q attempt %d, zone %s",
			shortID(e.RunID), e.State, e.ExerciseID, e.ExerciseName, e.Attempt, e.LastZone))
	} else {
		lines = append(lines, fmt.Sprintf("Session: %s", e.State))
	}

	for _, d := range s.Devices {
		state := "disconnected"
		if d.Connected {
			state = "connected"
		}
		if d.HasSample {
			lines = append(lines, fmt.Sprintf("Device %s (%s, %s): x=%.3f y=%.3f", d.ID, d.Side, state, d.Latest.X, d.Latest.Y))
		} else {
			lines = append(lines, fmt.Sprintf("Device %s (%s, %s): no data", d.ID, d.Side, state))
		}
	}
	return lines
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
