package exercise

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Program is the ordered exercise table. Entry n+1 follows entry n.
type Program struct {
	defs []Definition
	byID map[int]Definition
}

// NewProgram validates defs: ids unique, starting at 1 and contiguous
func NewProgram(defs []Definition) (*Program, error) {
	sorted := make([]Definition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[int]Definition, len(sorted))
	for i, d := range sorted {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate exercise id %d", d.ID)
		}
		if d.ID != i+1 {
			return nil, fmt.Errorf("exercise ids must be contiguous from 1: found %d at position %d", d.ID, i+1)
		}
		byID[d.ID] = d
	}
	return &Program{defs: sorted, byID: byID}, nil
}

// Get returns the definition with the given id
func (p *Program) Get(id int) (Definition, bool) {
	d, ok := p.byID[id]
	return d, ok
}

// Len returns the number of exercises
func (p *Program) Len() int { return len(p.defs) }

// All returns the definitions in id order
func (p *Program) All() []Definition {
	out := make([]Definition, len(p.defs))
	copy(out, p.defs)
	return out
}

// DefaultProgram is the built-in balance program. Coordinates are normalized
// CoP units with the origin at the centre of the insole.
func DefaultProgram() *Program {
	red35 := OutsideSquare(0.35)
	red40 := OutsideSquare(0.40)
	p, err := NewProgram([]Definition{
		{ID: 1, Name: "Two-leg stance", DurationSeconds: 30, Legs: LegsBoth, Green: Square(0.15), Red: &red35},
		{ID: 2, Name: "Left single-leg stance", DurationSeconds: 20, Legs: LegsLeft, Green: Square(0.20), Red: &red40},
		{ID: 3, Name: "Right single-leg stance", DurationSeconds: 20, Legs: LegsRight, Green: Square(0.20), Red: &red40},
		{ID: 4, Name: "Two-leg stance, eyes closed", DurationSeconds: 30, Legs: LegsBoth, Green: Square(0.15), Red: &red35},
	})
	if err != nil {
		panic("exercise: invalid default program: " + err.Error())
	}
	return p
}

type programFile struct {
	Exercises []definitionYAML `yaml:"exercises"`
}

type definitionYAML struct {
	ID              int       `yaml:"id"`
	Name            string    `yaml:"name"`
	DurationSeconds int       `yaml:"duration_seconds"`
	Legs            string    `yaml:"legs"`
	Green           *zoneYAML `yaml:"green"`
	Red             *zoneYAML `yaml:"red"`
}

type zoneYAML struct {
	X       []float64 `yaml:"x"`
	Y       []float64 `yaml:"y"`
	Outside bool      `yaml:"outside"`
}

func (z zoneYAML) toZone() (Zone, error) {
	axis := func(name string, v []float64) (*Range, error) {
		switch len(v) {
		case 0:
			return nil, nil
		case 2:
			return &Range{Min: v[0], Max: v[1]}, nil
		default:
			return nil, fmt.Errorf("%s must be [min, max], got %d values", name, len(v))
		}
	}
	x, err := axis("x", z.X)
	if err != nil {
		return Zone{}, err
	}
	y, err := axis("y", z.Y)
	if err != nil {
		return Zone{}, err
	}
	return Zone{X: x, Y: y, Outside: z.Outside}, nil
}

// ParseProgram decodes a YAML program document
func ParseProgram(raw []byte) (*Program, error) {
	var f programFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing program: %w", err)
	}
	if len(f.Exercises) == 0 {
		return nil, fmt.Errorf("parsing program: no exercises")
	}

	defs := make([]Definition, 0, len(f.Exercises))
	for _, e := range f.Exercises {
		legs, err := ParseLegs(e.Legs)
		if err != nil {
			return nil, fmt.Errorf("exercise %d: %w", e.ID, err)
		}
		if e.Green == nil {
			return nil, fmt.Errorf("exercise %d: green zone is required", e.ID)
		}
		green, err := e.Green.toZone()
		if err != nil {
			return nil, fmt.Errorf("exercise %d: green zone: %w", e.ID, err)
		}
		d := Definition{
			ID:              e.ID,
			Name:            e.Name,
			DurationSeconds: e.DurationSeconds,
			Legs:            legs,
			Green:           green,
		}
		if e.Red != nil {
			red, err := e.Red.toZone()
			if err != nil {
				return nil, fmt.Errorf("exercise %d: red zone: %w", e.ID, err)
			}
			d.Red = &red
		}
		defs = append(defs, d)
	}
	return NewProgram(defs)
}

// LoadFile reads a YAML program from path
func LoadFile(path string) (*Program, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading program file: %w", err)
	}
	return ParseProgram(raw)
}
