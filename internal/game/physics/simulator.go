package physics

import (
	"math"
	"time"

	"github.com/cory-johannsen/huddle/internal/game/world"
)

// Facing is the horizontal direction a character looks toward.
type Facing int

const (
	FacingLeft  Facing = -1
	FacingRight Facing = 1
)

// Input is the held-key set sampled for one frame.
type Input struct {
	Left  bool
	Right bool
	Jump  bool
}

// Body is the kinematic and transient state of one character.
type Body struct {
	X  float64
	Y  float64
	VY float64

	Facing   Facing
	JumpHold int
	Health   int
	// Moving reports whether the last Step changed the position.
	Moving bool

	// Message is the active chat bubble; empty when none.
	Message        string
	MessageExpires time.Time
}

// Simulator owns the local character's Body and advances it against a fixed map.
type Simulator struct {
	params Params
	level  *world.Map
	body   Body
}

// New creates a Simulator with the body standing on the map spawn point at full health.
//
// Precondition: level must be non-nil and valid.
// Postcondition: The body is at rest with feet at level.Spawn.
func New(level *world.Map, params Params) *Simulator {
	s := &Simulator{params: params, level: level}
	s.Respawn()
	return s
}

// Params returns the simulator's tuning.
func (s *Simulator) Params() Params { return s.params }

// Body returns a copy of the current state.
func (s *Simulator) Body() Body { return s.body }

// Rect returns the character's current bounding box.
func (s *Simulator) Rect() world.Rect {
	return world.Rect{X: s.body.X, Y: s.body.Y, Width: s.params.Width, Height: s.params.Height}
}

// Place teleports the body to (x, y) at rest.
func (s *Simulator) Place(x, y float64) {
	s.body.X = x
	s.body.Y = y
	s.body.VY = 0
}

// Respawn restores full health and moves the body to the spawn point at rest.
func (s *Simulator) Respawn() {
	s.body.X = s.level.Spawn.X
	s.body.Y = s.level.Spawn.Y - s.params.Height
	s.body.VY = 0
	s.body.Health = s.params.MaxHealth
	if s.body.Facing == 0 {
		s.body.Facing = FacingRight
	}
}

// SetHealth clamps h to [0, MaxHealth] and stores it. A body at zero health
// respawns on the next Step.
func (s *Simulator) SetHealth(h int) {
	s.body.Health = max(0, min(h, s.params.MaxHealth))
}

// Say attaches msg as the chat bubble until now + MessageTTL, replacing any previous bubble.
func (s *Simulator) Say(msg string, now time.Time) {
	s.body.Message = msg
	s.body.MessageExpires = now.Add(s.params.MessageTTL)
}

// Step advances the body by one frame.
//
// Precondition: deltaMs is the time since the previous frame (zero on the first frame).
// Postcondition: Returns true when the position changed during this frame.
func (s *Simulator) Step(in Input, deltaMs float64, now time.Time) bool {
	p := s.params
	b := &s.body
	tf := p.TimeFactor(deltaMs)

	startX, startY := b.X, b.Y

	if in.Left {
		b.X -= p.Speed * tf
		b.Facing = FacingLeft
	}
	if in.Right {
		b.X += p.Speed * tf
		b.Facing = FacingRight
	}

	switch {
	case in.Jump && s.Grounded():
		b.VY = -p.JumpStrength
		b.JumpHold = 0
	case in.Jump && b.JumpHold < p.JumpHoldCap:
		b.VY -= p.JumpImpulse * tf
		b.JumpHold++
	case !in.Jump:
		b.JumpHold = p.JumpHoldCap
	}

	b.VY += p.Gravity * tf
	b.Y += b.VY * tf

	s.resolveCollisions(startY)

	if b.Health <= 0 {
		s.Respawn()
	}

	if b.Message != "" && !now.Before(b.MessageExpires) {
		b.Message = ""
		b.MessageExpires = time.Time{}
	}

	b.Moving = b.X != startX || b.Y != startY
	return b.Moving
}

// resolveCollisions clamps the body to the floor and world edges, then pushes
// it out of every overlapping obstacle along a single axis. Vertical
// resolution applies when the body crossed the obstacle's top (falling) or
// bottom (rising) edge this frame; otherwise the shallower side is pushed
// out, but only if its penetration is under Proximity.
func (s *Simulator) resolveCollisions(startY float64) {
	p := s.params
	b := &s.body

	floor := s.level.Height
	if b.Y+p.Height > floor {
		b.Y = floor - p.Height
		b.VY = 0
	}
	if b.X < 0 {
		b.X = 0
	}
	if right := s.level.Width - p.Width; b.X > right {
		b.X = right
	}

	for _, o := range s.level.Obstacles {
		if !s.Rect().Overlaps(o) {
			continue
		}
		switch {
		case b.VY > 0 && startY <= o.Y-p.Height:
			b.Y = o.Y - p.Height
			b.VY = 0
		case b.VY < 0 && startY >= o.Bottom():
			b.Y = o.Bottom()
			b.VY = 0
			b.JumpHold = p.JumpHoldCap
		default:
			fromLeft := b.X + p.Width - o.X
			fromRight := o.Right() - b.X
			if fromLeft <= fromRight {
				if fromLeft < p.Proximity {
					b.X = o.X - p.Width
				}
			} else if fromRight < p.Proximity {
				b.X = o.Right()
			}
		}
	}
}

// Grounded reports whether the feet are on the floor or resting within
// GroundTolerance above the top of an obstacle they horizontally overlap.
func (s *Simulator) Grounded() bool {
	p := s.params
	feet := s.body.Y + p.Height
	if feet >= s.level.Height {
		return true
	}
	r := s.Rect()
	for _, o := range s.level.Obstacles {
		if r.OverlapsHorizontally(o) && math.Abs(feet-o.Y) < p.GroundTolerance {
			return true
		}
	}
	return false
}
