package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrNonFinite marks a sample carrying NaN or infinite values
var ErrNonFinite = errors.New("non-finite value")

// Side identifies which foot an insole is worn on
type Side int

const (
	SideUnknown Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "unknown"
	}
}

// ParseSide accepts "left"/"right" in any case; anything else is SideUnknown
func ParseSide(s string) Side {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l":
		return SideLeft
	case "right", "r":
		return SideRight
	default:
		return SideUnknown
	}
}

// CoPSample is one center-of-pressure reading from an insole.
// Build it with NewCoPSample; the pressures slice is never shared with the caller.
type CoPSample struct {
	X         float64
	Y         float64
	pressures []float64
}

func NewCoPSample(x, y float64, pressures []float64) CoPSample {
	var p []float64
	if len(pressures) > 0 {
		p = make([]float64, len(pressures))
		copy(p, pressures)
	}
	return CoPSample{X: x, Y: y, pressures: p}
}

// Pressures returns a copy of the per-sensor pressures
func (s CoPSample) Pressures() []float64 {
	if len(s.pressures) == 0 {
		return nil
	}
	out := make([]float64, len(s.pressures))
	copy(out, s.pressures)
	return out
}

// PressureCount returns the number of pressure channels
func (s CoPSample) PressureCount() int { return len(s.pressures) }

// Validate rejects samples with a NaN or infinite coordinate or pressure
func (s CoPSample) Validate() error {
	if !finite(s.X) {
		return fmt.Errorf("x=%v: %w", s.X, ErrNonFinite)
	}
	if !finite(s.Y) {
		return fmt.Errorf("y=%v: %w", s.Y, ErrNonFinite)
	}
	for i, p := range s.pressures {
		if !finite(p) {
			return fmt.Errorf("pressures[%d]=%v: %w", i, p, ErrNonFinite)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Reading is a validated sample as delivered to router subscribers
type Reading struct {
	DeviceID string
	Side     Side
	Sample   CoPSample
	At       time.Time
}

// Device is the orchestrator's cached view of one backend device
type Device struct {
	ID        string
	Side      Side
	Connected bool
	HasSample bool
	Latest    CoPSample
	UpdatedAt time.Time
}
