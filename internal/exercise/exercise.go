package exercise

import (
	"fmt"
	"strings"
	"time"
)

// Legs selects which insole(s) an exercise is judged on
type Legs int

const (
	LegsLeft Legs = iota + 1
	LegsRight
	LegsBoth
)

func (l Legs) String() string {
	switch l {
	case LegsLeft:
		return "left"
	case LegsRight:
		return "right"
	case LegsBoth:
		return "both"
	default:
		return fmt.Sprintf("Legs(%d)", int(l))
	}
}

// ParseLegs parses left|right|both, case-insensitively
func ParseLegs(s string) (Legs, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return LegsLeft, nil
	case "right":
		return LegsRight, nil
	case "both":
		return LegsBoth, nil
	default:
		return 0, fmt.Errorf("unknown legs %q (want left, right or both)", s)
	}
}

// Range is a closed interval [Min, Max]
type Range struct {
	Min float64
	Max float64
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Zone is a rectangular region over CoP coordinates. A nil axis is unbounded.
// Outside inverts membership, which is how red zones ("too far from centre")
// are usually expressed.
type Zone struct {
	X       *Range
	Y       *Range
	Outside bool
}

// Contains reports whether (x, y) lies in the zone
func (z Zone) Contains(x, y float64) bool {
	inside := (z.X == nil || z.X.Contains(x)) && (z.Y == nil || z.Y.Contains(y))
	if z.Outside {
		return !inside
	}
	return inside
}

func (z Zone) String() string {
	axis := func(name string, r *Range) string {
		if r == nil {
			return name + " any"
		}
		return fmt.Sprintf("%s [%g, %g]", name, r.Min, r.Max)
	}
	s := axis("x", z.X) + ", " + axis("y", z.Y)
	if z.Outside {
		return "outside " + s
	}
	return s
}

// Box is a zone bounded on both axes
func Box(minX, maxX, minY, maxY float64) Zone {
	return Zone{X: &Range{Min: minX, Max: maxX}, Y: &Range{Min: minY, Max: maxY}}
}

// Square is the box |x| <= half, |y| <= half
func Square(half float64) Zone {
	return Box(-half, half, -half, half)
}

// OutsideSquare is everything strictly beyond |x| > half or |y| > half
func OutsideSquare(half float64) Zone {
	z := Square(half)
	z.Outside = true
	return z
}

// Definition is one entry of the exercise program. Definitions are immutable
// once the program is built.
type Definition struct {
	ID              int
	Name            string
	DurationSeconds int
	Legs            Legs
	Green           Zone
	// Red is optional; nil means the exercise has no red zone
	Red *Zone
}

// Duration returns DurationSeconds as a time.Duration
func (d Definition) Duration() time.Duration {
	return time.Duration(d.DurationSeconds) * time.Second
}

// InGreen reports whether (x, y) is in the green zone
func (d Definition) InGreen(x, y float64) bool {
	return d.Green.Contains(x, y)
}

// InRed reports whether (x, y) is in the red zone
func (d Definition) InRed(x, y float64) bool {
	return d.Red != nil && d.Red.Contains(x, y)
}

func (d Definition) validate() error {
	if d.ID < 1 {
		return fmt.Errorf("exercise %q: id must be >= 1, got %d", d.Name, d.ID)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("exercise %d: name is required", d.ID)
	}
	if d.DurationSeconds <= 0 {
		return fmt.Errorf("exercise %d: duration must be positive, got %d", d.ID, d.DurationSeconds)
	}
	switch d.Legs {
	case LegsLeft, LegsRight, LegsBoth:
	default:
		return fmt.Errorf("exercise %d: invalid legs %v", d.ID, d.Legs)
	}
	if err := validateZone(d.Green); err != nil {
		return fmt.Errorf("exercise %d: green zone: %w", d.ID, err)
	}
	if d.Red != nil {
		if err := validateZone(*d.Red); err != nil {
			return fmt.Errorf("exercise %d: red zone: %w", d.ID, err)
		}
	}
	return nil
}

func validateZone(z Zone) error {
	for name, r := range map[string]*Range{"x": z.X, "y": z.Y} {
		if r != nil && r.Min > r.Max {
			return fmt.Errorf("%s range [%v, %v] is empty", name, r.Min, r.Max)
		}
	}
	return nil
}
