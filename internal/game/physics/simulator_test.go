package physics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/huddle/internal/game/world"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func frame() float64 { return DefaultParams().FrameMs }

func openMap() *world.Map {
	return &world.Map{ID: "open", Width: 1600, Height: 900, Spawn: world.Point{X: 100, Y: 900}}
}

func mapWith(obstacles ...world.Rect) *world.Map {
	m := openMap()
	m.Obstacles = obstacles
	return m
}

func run(s *Simulator, in Input, frames int) {
	for i := 0; i < frames; i++ {
		s.Step(in, frame(), epoch)
	}
}

func TestNew_StartsOnFloorAtSpawn(t *testing.T) {
	s := New(openMap(), DefaultParams())
	b := s.Body()
	assert.Equal(t, 100.0, b.X)
	assert.Equal(t, 855.0, b.Y)
	assert.Equal(t, 100, b.Health)
	assert.Equal(t, FacingRight, b.Facing)
	assert.True(t, s.Grounded())
}

func TestStep_ZeroDeltaDoesNotMove(t *testing.T) {
	s := New(openMap(), DefaultParams())
	moved := s.Step(Input{Right: true, Jump: true}, 0, epoch)
	assert.False(t, moved)
	assert.Equal(t, 100.0, s.Body().X)
}

func TestStep_IdleOnFloorDoesNotMove(t *testing.T) {
	s := New(openMap(), DefaultParams())
	assert.False(t, s.Step(Input{}, frame(), epoch))
	assert.False(t, s.Body().Moving)
}

func TestStep_HorizontalMovementAndFacing(t *testing.T) {
	s := New(openMap(), DefaultParams())
	assert.True(t, s.Step(Input{Right: true}, frame(), epoch))
	assert.Equal(t, 105.0, s.Body().X)
	assert.Equal(t, FacingRight, s.Body().Facing)

	s.Step(Input{Left: true}, frame(), epoch)
	assert.Equal(t, 100.0, s.Body().X)
	assert.Equal(t, FacingLeft, s.Body().Facing)
}

func TestStep_BothDirectionsRightWinsFacing(t *testing.T) {
	s := New(openMap(), DefaultParams())
	moved := s.Step(Input{Left: true, Right: true}, frame(), epoch)
	assert.False(t, moved)
	assert.Equal(t, FacingRight, s.Body().Facing)
}

func TestStep_FrameRateIndependentHorizontal(t *testing.T) {
	a := New(openMap(), DefaultParams())
	b := New(openMap(), DefaultParams())

	run(a, Input{Right: true}, 2)
	b.Step(Input{Right: true}, 2*frame(), epoch)

	assert.InDelta(t, a.Body().X, b.Body().X, 1e-9)
}

func TestStep_WorldEdgesClamp(t *testing.T) {
	s := New(openMap(), DefaultParams())
	s.Place(2, 855)
	s.Step(Input{Left: true}, frame(), epoch)
	assert.Equal(t, 0.0, s.Body().X)

	s.Place(1573, 855)
	s.Step(Input{Right: true}, frame(), epoch)
	assert.Equal(t, 1575.0, s.Body().X)
}

func TestStep_FloorClamp(t *testing.T) {
	s := New(openMap(), DefaultParams())
	s.Place(100, 500)
	run(s, Input{}, 200)
	b := s.Body()
	assert.Equal(t, 855.0, b.Y)
	assert.Equal(t, 0.0, b.VY)
}

func TestStep_JumpLeavesGround(t *testing.T) {
	s := New(openMap(), DefaultParams())
	s.Step(Input{Jump: true}, frame(), epoch)
	b := s.Body()
	assert.Equal(t, -7.5, b.VY)
	assert.Equal(t, 847.5, b.Y)
	assert.Equal(t, 0, b.JumpHold)
	assert.False(t, s.Grounded())
}

func TestStep_ReleaseEndsHold(t *testing.T) {
	s := New(openMap(), DefaultParams())
	s.Step(Input{Jump: true}, frame(), epoch)
	s.Step(Input{}, frame(), epoch)
	assert.Equal(t, 15, s.Body().JumpHold)

	vy := s.Body().VY
	s.Step(Input{Jump: true}, frame(), epoch)
	assert.Equal(t, vy+0.5, s.Body().VY, "re-pressing mid-air must not add lift")
}

func TestStep_HoldCapLimitsImpulse(t *testing.T) {
	s := New(openMap(), DefaultParams())
	run(s, Input{Jump: true}, 1+15)
	assert.Equal(t, 15, s.Body().JumpHold)

	vy := s.Body().VY
	s.Step(Input{Jump: true}, frame(), epoch)
	assert.Equal(t, vy+0.5, s.Body().VY)
}

func TestStep_LandsOnObstacleTop(t *testing.T) {
	s := New(mapWith(world.Rect{X: 100, Y: 700, Width: 200, Height: 50}), DefaultParams())
	s.Place(150, 500)
	run(s, Input{}, 120)
	b := s.Body()
	assert.Equal(t, 655.0, b.Y)
	assert.Equal(t, 0.0, b.VY)
	assert.True(t, s.Grounded())
	assert.False(t, s.Step(Input{}, frame(), epoch))
}

func TestStep_BonksHeadOnObstacleBottom(t *testing.T) {
	s := New(mapWith(world.Rect{X: 100, Y: 790, Width: 200, Height: 20}), DefaultParams())
	s.Place(150, 855)
	// 45 units to the bottom edge at 7.5 per frame, touching after six frames.
	run(s, Input{Jump: true}, 7)

	b := s.Body()
	assert.Equal(t, 810.0, b.Y)
	assert.Equal(t, 0.0, b.VY)
	assert.Equal(t, 15, b.JumpHold)
}

func TestStep_PushedOutOfWallFromLeft(t *testing.T) {
	s := New(mapWith(world.Rect{X: 200, Y: 700, Width: 100, Height: 200}), DefaultParams())
	s.Place(174, 855)
	s.Step(Input{Right: true}, frame(), epoch)
	assert.Equal(t, 175.0, s.Body().X)
}

func TestStep_PushedOutOfWallFromRight(t *testing.T) {
	s := New(mapWith(world.Rect{X: 200, Y: 700, Width: 100, Height: 200}), DefaultParams())
	s.Place(301, 855)
	s.Step(Input{Left: true}, frame(), epoch)
	assert.Equal(t, 300.0, s.Body().X)
}

func TestStep_DeepSidePenetrationNotResolved(t *testing.T) {
	s := New(mapWith(world.Rect{X: 200, Y: 700, Width: 100, Height: 200}), DefaultParams())
	s.Place(230, 855)
	s.Step(Input{}, frame(), epoch)
	assert.Equal(t, 230.0, s.Body().X)
}

func TestGrounded_WithinToleranceAboveObstacle(t *testing.T) {
	s := New(mapWith(world.Rect{X: 100, Y: 700, Width: 200, Height: 50}), DefaultParams())
	s.Place(150, 700-45-1.5)
	assert.True(t, s.Grounded())

	s.Place(150, 700-45-3)
	assert.False(t, s.Grounded())

	s.Place(400, 655)
	assert.False(t, s.Grounded(), "must overlap horizontally")
}

func TestSay_ExpiresAfterTTL(t *testing.T) {
	s := New(openMap(), DefaultParams())
	s.Say("hi", epoch)

	s.Step(Input{}, frame(), epoch.Add(4999*time.Millisecond))
	assert.Equal(t, "hi", s.Body().Message)

	s.Step(Input{}, frame(), epoch.Add(5*time.Second))
	assert.Empty(t, s.Body().Message)
}

func TestSay_ReplacesPreviousBubble(t *testing.T) {
	s := New(openMap(), DefaultParams())
	s.Say("one", epoch)
	s.Say("two", epoch.Add(4*time.Second))

	s.Step(Input{}, frame(), epoch.Add(6*time.Second))
	assert.Equal(t, "two", s.Body().Message)
}

func TestSetHealth_ClampsAndZeroRespawns(t *testing.T) {
	s := New(openMap(), DefaultParams())
	s.SetHealth(150)
	assert.Equal(t, 100, s.Body().Health)

	s.Place(800, 300)
	s.SetHealth(-5)
	assert.Equal(t, 0, s.Body().Health)

	moved := s.Step(Input{}, frame(), epoch)
	require.True(t, moved)
	b := s.Body()
	assert.Equal(t, 100, b.Health)
	assert.Equal(t, 100.0, b.X)
	assert.Equal(t, 855.0, b.Y)
}

func TestDefaultMap_SpawnGrounded(t *testing.T) {
	s := New(world.Default(), DefaultParams())
	assert.True(t, s.Grounded())
	assert.Equal(t, 855.0, s.Body().Y)
}

// Property-based tests

func TestPropertyConvergesOntoObstacleTop(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		top := rapid.Float64Range(200, 800).Draw(t, "top")
		height := rapid.Float64Range(50, 100).Draw(t, "height")
		ox := rapid.Float64Range(100, 1000).Draw(t, "ox")
		ow := rapid.Float64Range(50, 400).Draw(t, "ow")
		obstacle := world.Rect{X: ox, Y: top, Width: ow, Height: height}

		// Character fully within the obstacle's horizontal span.
		x := rapid.Float64Range(ox, ox+ow-25).Draw(t, "x")
		drop := rapid.Float64Range(0, 150).Draw(t, "drop")

		s := New(mapWith(obstacle), DefaultParams())
		s.Place(x, top-45-drop)
		run(s, Input{}, 240)

		b := s.Body()
		if b.Y != top-45 {
			t.Fatalf("y = %v, want %v", b.Y, top-45)
		}
		if b.VY != 0 {
			t.Fatalf("vy = %v, want 0", b.VY)
		}
	})
}

func TestPropertyShortHoldYieldsLessLift(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := DefaultParams()
		held := rapid.IntRange(1, p.JumpHoldCap).Draw(t, "held")
		total := p.JumpHoldCap + 1

		short := New(openMap(), p)
		full := New(openMap(), p)
		for i := 0; i < total; i++ {
			short.Step(Input{Jump: i < held}, p.FrameMs, epoch)
			full.Step(Input{Jump: true}, p.FrameMs, epoch)
		}

		if !(short.Body().VY > full.Body().VY) {
			t.Fatalf("held %d: vy %v not greater than full-hold vy %v", held, short.Body().VY, full.Body().VY)
		}
	})
}

func TestPropertyStaysWithinWorld(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New(world.Default(), DefaultParams())
		steps := rapid.SliceOfN(rapid.IntRange(0, 7), 1, 300).Draw(t, "inputs")
		for _, bits := range steps {
			in := Input{Left: bits&1 != 0, Right: bits&2 != 0, Jump: bits&4 != 0}
			s.Step(in, frame(), epoch)
			b := s.Body()
			if b.X < 0 || b.X > 1600-25 {
				t.Fatalf("x out of bounds: %v", b.X)
			}
			if b.Y+45 > 900 {
				t.Fatalf("feet below floor: %v", b.Y+45)
			}
		}
	})
}

func TestPropertyDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := New(world.Default(), DefaultParams())
		b := New(world.Default(), DefaultParams())
		steps := rapid.SliceOfN(rapid.IntRange(0, 7), 1, 200).Draw(t, "inputs")
		for _, bits := range steps {
			in := Input{Left: bits&1 != 0, Right: bits&2 != 0, Jump: bits&4 != 0}
			ma := a.Step(in, frame(), epoch)
			mb := b.Step(in, frame(), epoch)
			if ma != mb || a.Body() != b.Body() {
				t.Fatalf("simulators diverged")
			}
		}
	})
}
