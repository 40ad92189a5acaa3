// Package world provides the static map model: bounds, spawn point, and obstacles.
package world

import (
	"errors"
	"fmt"
)

// Rect is an axis-aligned rectangle. Y grows downward.
type Rect struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Overlaps reports whether r and o share interior area. Touching edges do not overlap.
func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.Right() &&
		r.Right() > o.X &&
		r.Y < o.Bottom() &&
		r.Bottom() > o.Y
}

// OverlapsHorizontally reports whether the x ranges of r and o intersect.
func (r Rect) OverlapsHorizontally(o Rect) bool {
	return r.X < o.Right() && r.Right() > o.X
}

// Point is a map coordinate.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Map is the static, shared level definition. It is configuration: identical
// on every client for a given ID and never mutated at runtime.
type Map struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Width is the horizontal extent; characters are clamped to [0, Width].
	Width float64 `json:"width"`
	// Height is the floor plane: feet never go below y = Height.
	Height    float64 `json:"height"`
	Spawn     Point   `json:"spawn"`
	Obstacles []Rect  `json:"obstacles"`
}

// Validate checks map invariants.
//
// Postcondition: Returns nil if the map is valid, or an error describing the first violation.
func (m *Map) Validate() error {
	if m.ID == "" {
		return errors.New("map id must not be empty")
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("map %q: width and height must be positive, got %gx%g", m.ID, m.Width, m.Height)
	}
	if m.Spawn.X < 0 || m.Spawn.X > m.Width || m.Spawn.Y < 0 || m.Spawn.Y > m.Height {
		return fmt.Errorf("map %q: spawn (%g,%g) outside bounds", m.ID, m.Spawn.X, m.Spawn.Y)
	}
	for i, o := range m.Obstacles {
		if o.Width <= 0 || o.Height <= 0 {
			return fmt.Errorf("map %q: obstacle %d has non-positive size %gx%g", m.ID, i, o.Width, o.Height)
		}
	}
	return nil
}

// Default returns the reference level: a 1600x900 arena with nine platforms.
func Default() *Map {
	return &Map{
		ID:     "default",
		Name:   "Rooftops",
		Width:  1600,
		Height: 900,
		Spawn:  Point{X: 50, Y: 900},
		Obstacles: []Rect{
			{X: 200, Y: 800, Width: 400, Height: 50},
			{X: 675, Y: 625, Width: 100, Height: 100},
			{X: 800, Y: 500, Width: 300, Height: 50},
			{X: 800, Y: 300, Width: 300, Height: 50},
			{X: 600, Y: 300, Width: 50, Height: 50},
			{X: 400, Y: 300, Width: 50, Height: 50},
			{X: 200, Y: 300, Width: 50, Height: 50},
			{X: 0, Y: 150, Width: 50, Height: 50},
			{X: 1200, Y: 400, Width: 200, Height: 50},
		},
	}
}
