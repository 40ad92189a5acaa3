// Package physics advances one locally-controlled character per animation
// frame: horizontal movement, variable-height jumping, gravity, and
// collision against a static obstacle set.
//
// The simulator is deterministic and single-threaded. Identical inputs,
// deltas and timestamps always produce identical bodies, which is what lets
// peers mirror a character from relayed poses alone.
package physics

import "time"

// Params holds the tunable constants of the simulation. Every per-frame
// quantity is expressed at the FrameMs baseline and scaled by the time factor.
type Params struct {
	// FrameMs is the baseline frame duration in milliseconds (60 updates per second).
	FrameMs float64
	// Speed is the horizontal displacement per baseline frame.
	Speed float64
	// Gravity is the vertical velocity gained per baseline frame.
	Gravity float64
	// JumpStrength is the upward velocity set when a jump starts.
	JumpStrength float64
	// JumpImpulse is the extra upward velocity per frame while the jump key is held mid-air.
	JumpImpulse float64
	// JumpHoldCap is the number of frames the hold bonus may apply.
	JumpHoldCap int
	// Width and Height are the character's bounding box.
	Width  float64
	Height float64
	// Proximity is the penetration depth below which a side push-out is applied.
	Proximity float64
	// GroundTolerance is how far above an obstacle top the feet may be and still count as grounded.
	GroundTolerance float64
	// MessageTTL is how long a chat bubble stays attached to the character.
	MessageTTL time.Duration
	// MaxHealth is the full (and respawn) health.
	MaxHealth int
}

// DefaultParams returns the reference tuning.
func DefaultParams() Params {
	return Params{
		FrameMs:         1000.0 / 60.0,
		Speed:           5,
		Gravity:         0.5,
		JumpStrength:    8,
		JumpImpulse:     0.5,
		JumpHoldCap:     15,
		Width:           25,
		Height:          45,
		Proximity:       20,
		GroundTolerance: 2,
		MessageTTL:      5 * time.Second,
		MaxHealth:       100,
	}
}

// TimeFactor normalizes an elapsed frame time to the baseline.
// Negative deltas are treated as zero.
func (p Params) TimeFactor(deltaMs float64) float64 {
	if deltaMs <= 0 {
		return 0
	}
	return deltaMs / p.FrameMs
}
