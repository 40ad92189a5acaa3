package client

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/game/physics"
	"github.com/cory-johannsen/huddle/internal/gameserver"
)

// InputSource samples the held keys for the frame at now.
type InputSource func(now time.Time) physics.Input

// EventSource is the inbound half of a relay connection.
type EventSource interface {
	Read(ctx context.Context) (gameserver.Envelope, error)
}

// Run drives g: one frame every frame interval, with relay events applied
// between frames on the same goroutine. It returns when ctx is done or the
// connection fails.
func (g *Game) Run(ctx context.Context, events EventSource, input InputSource, frame time.Duration) error {
	inbound := make(chan gameserver.Envelope, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			env, err := events.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case env := <-inbound:
			if err := g.HandleEvent(ctx, env, time.Now()); err != nil {
				g.logger.Debug("event not applied", zap.String("event", env.Event), zap.Error(err))
			}
		case now := <-ticker.C:
			delta := float64(now.Sub(last)) / float64(time.Millisecond)
			last = now
			g.ExpireMessages(now)
			if err := g.Tick(ctx, input(now), delta, now); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Wander returns an InputSource that walks in one direction for a random
// stretch, then turns, jumping now and then. Deterministic for a given seed.
func Wander(seed int64) InputSource {
	rng := rand.New(rand.NewSource(seed))
	var (
		right    = true
		turnAt   time.Time
		jumpTill time.Time
	)
	return func(now time.Time) physics.Input {
		if turnAt.IsZero() || !now.Before(turnAt) {
			right = rng.Intn(2) == 0
			turnAt = now.Add(time.Duration(500+rng.Intn(2500)) * time.Millisecond)
		}
		if now.After(jumpTill) && rng.Intn(90) == 0 {
			jumpTill = now.Add(time.Duration(50+rng.Intn(250)) * time.Millisecond)
		}
		return physics.Input{Left: !right, Right: right, Jump: now.Before(jumpTill)}
	}
}
