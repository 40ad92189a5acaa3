package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/game/character"
	"github.com/cory-johannsen/huddle/internal/game/physics"
	"github.com/cory-johannsen/huddle/internal/game/world"
	"github.com/cory-johannsen/huddle/internal/gameserver"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const frameMs = 1000.0 / 60

type sent struct {
	event string
	data  any
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) Send(_ context.Context, event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{event: event, data: data})
	return nil
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.event == event {
			n++
		}
	}
	return n
}

func (r *recorder) last(t *testing.T, event string) any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].event == event {
			return r.sent[i].data
		}
	}
	t.Fatalf("no %s sent", event)
	return nil
}

func env(t *testing.T, event string, data any) gameserver.Envelope {
	t.Helper()
	frame, err := gameserver.Encode(event, data)
	require.NoError(t, err)
	var e gameserver.Envelope
	require.NoError(t, json.Unmarshal(frame, &e))
	return e
}

func newTestGame(t *testing.T, voice *Voice) (*Game, *recorder) {
	t.Helper()
	rec := &recorder{}
	desc := character.Descriptor{Name: "Ana"}.WithDefaults()
	return NewGame(rec, world.Default(), physics.DefaultParams(), desc, voice, zap.NewNop()), rec
}

func joinRoom(t *testing.T, g *Game, roomID string) {
	t.Helper()
	require.NoError(t, g.HandleEvent(context.Background(), env(t, gameserver.EventRoomCreated, gameserver.RoomPayload{RoomID: roomID}), epoch))
	require.Equal(t, roomID, g.RoomID())
}

func TestGame_TickOutsideRoomIsInert(t *testing.T) {
	g, rec := newTestGame(t, nil)
	before := g.Body()
	require.NoError(t, g.Tick(context.Background(), physics.Input{Right: true}, frameMs, epoch))
	assert.Equal(t, before.X, g.Body().X)
	assert.Zero(t, rec.count(gameserver.EventMove))
}

func TestGame_RequestMatchCarriesCharacter(t *testing.T) {
	g, rec := newTestGame(t, nil)
	require.NoError(t, g.RequestMatch(context.Background()))
	req := rec.last(t, gameserver.EventRequestMatch).(gameserver.MatchRequest)
	require.NotNil(t, req.Character)
	assert.Equal(t, "Ana", req.Character.Name)
}

func TestGame_EmitsMoveOnlyWhenMoved(t *testing.T) {
	g, rec := newTestGame(t, nil)
	joinRoom(t, g, "r1")
	require.Equal(t, 1, rec.count(gameserver.EventMove), "entering a room announces position")

	ctx := context.Background()
	require.NoError(t, g.Tick(ctx, physics.Input{}, frameMs, epoch))
	assert.Equal(t, 1, rec.count(gameserver.EventMove))

	require.NoError(t, g.Tick(ctx, physics.Input{Right: true}, frameMs, epoch))
	assert.Equal(t, 2, rec.count(gameserver.EventMove))
	mv := rec.last(t, gameserver.EventMove).(gameserver.MovePayload)
	assert.Equal(t, "r1", mv.RoomID)
	assert.Equal(t, world.Default().Spawn.X+5, mv.X)
	assert.Equal(t, int(physics.FacingRight), mv.Facing)
	assert.Equal(t, 100, mv.Health)
}

func TestGame_MirrorsPeers(t *testing.T) {
	g, rec := newTestGame(t, nil)
	joinRoom(t, g, "r1")
	ctx := context.Background()

	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventCurrentPlayers, []gameserver.PlayerState{
		{ID: "b", X: 10, Y: 20, Health: 70},
	}), epoch))
	assert.Equal(t, 70, g.Peers()["b"].Health)

	moves := rec.count(gameserver.EventMove)
	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventPlayerJoined, gameserver.PlayerPayload{PlayerID: "c"}), epoch))
	assert.Equal(t, 100, g.Peers()["c"].Health)
	assert.Equal(t, moves+1, rec.count(gameserver.EventMove), "a newcomer is told where we are")

	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventMove, gameserver.MovePayload{PlayerID: "c", X: 300, Y: 400, Health: 40, Facing: -1}), epoch))
	c := g.Peers()["c"]
	assert.Equal(t, 300.0, c.X)
	assert.Equal(t, 40, c.Health)
	assert.Equal(t, physics.FacingLeft, c.Facing)

	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventMove, gameserver.MovePayload{PlayerID: "d", X: 1}), epoch))
	assert.Contains(t, g.Peers(), "d")

	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventPlayerLeft, gameserver.PlayerPayload{PlayerID: "c"}), epoch))
	assert.NotContains(t, g.Peers(), "c")

	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventPartnerLeft, nil), epoch))
	assert.True(t, g.PartnerLeft())
}

func TestGame_ChatBubbles(t *testing.T) {
	g, rec := newTestGame(t, nil)
	ctx := context.Background()
	assert.ErrorIs(t, g.Say(ctx, "hi", epoch), ErrNotInRoom)

	joinRoom(t, g, "r1")
	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventPlayerJoined, gameserver.PlayerPayload{PlayerID: "b"}), epoch))
	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventChatMessage, gameserver.ChatPayload{PlayerID: "b", Name: "Bo", Message: "yo"}), epoch))

	assert.Equal(t, []ChatLine{{PlayerID: "b", Name: "Bo", Message: "yo"}}, g.Chat())
	assert.Equal(t, "yo", g.Peers()["b"].Message)

	g.ExpireMessages(epoch.Add(4 * time.Second))
	assert.Equal(t, "yo", g.Peers()["b"].Message)
	g.ExpireMessages(epoch.Add(5 * time.Second))
	assert.Empty(t, g.Peers()["b"].Message)

	long := "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyzabcdefghij"
	require.NoError(t, g.Say(ctx, "  "+long+"  ", epoch))
	chat := rec.last(t, gameserver.EventChatMessage).(gameserver.ChatPayload)
	assert.Equal(t, long[:50], chat.Message)
	assert.Equal(t, "Ana", chat.Name)
	assert.Equal(t, long[:50], g.Body().Message)
}

func TestGame_RespawnAtZeroHealth(t *testing.T) {
	g, rec := newTestGame(t, nil)
	joinRoom(t, g, "r1")
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		require.NoError(t, g.Tick(ctx, physics.Input{Right: true}, frameMs, epoch))
	}
	require.Greater(t, g.Body().X, world.Default().Spawn.X)

	g.SetHealth(0)
	require.NoError(t, g.Tick(ctx, physics.Input{}, frameMs, epoch))
	b := g.Body()
	assert.Equal(t, world.Default().Spawn.X, b.X)
	assert.Equal(t, 100, b.Health)
	assert.Equal(t, b.X, rec.last(t, gameserver.EventMove).(gameserver.MovePayload).X)
}

func TestGame_LeaveMatchResets(t *testing.T) {
	g, rec := newTestGame(t, nil)
	joinRoom(t, g, "r1")
	ctx := context.Background()
	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventPlayerJoined, gameserver.PlayerPayload{PlayerID: "b"}), epoch))
	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventChatMessage, gameserver.ChatPayload{PlayerID: "b", Message: "x"}), epoch))

	require.NoError(t, g.LeaveMatch(ctx))
	assert.Equal(t, "r1", rec.last(t, gameserver.EventLeaveRoom).(gameserver.RoomPayload).RoomID)
	assert.Empty(t, g.RoomID())
	assert.Empty(t, g.Peers())
	assert.Empty(t, g.Chat())
	assert.ErrorIs(t, g.LeaveMatch(ctx), ErrNotInRoom)
}

func TestGame_VoiceFlags(t *testing.T) {
	g, _ := newTestGame(t, nil)
	joinRoom(t, g, "r1")
	ctx := context.Background()
	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventPlayerJoined, gameserver.PlayerPayload{PlayerID: "b"}), epoch))

	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventVoiceStart, gameserver.VoicePayload{PlayerID: "b"}), epoch))
	assert.True(t, g.Peers()["b"].Speaking)
	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventVoiceEnd, gameserver.VoicePayload{PlayerID: "b"}), epoch))
	assert.False(t, g.Peers()["b"].Speaking)

	// Without a voice manager signaling is ignored.
	require.NoError(t, g.HandleEvent(ctx, env(t, gameserver.EventVoiceOffer, gameserver.SignalPayload{PlayerID: "b"}), epoch))
}

func TestGame_UnknownEvent(t *testing.T) {
	g, _ := newTestGame(t, nil)
	err := g.HandleEvent(context.Background(), gameserver.Envelope{Event: "teleport"}, epoch)
	assert.ErrorIs(t, err, gameserver.ErrUnknownEvent)
}

type chanSource chan gameserver.Envelope

func (c chanSource) Read(ctx context.Context) (gameserver.Envelope, error) {
	select {
	case e := <-c:
		return e, nil
	case <-ctx.Done():
		return gameserver.Envelope{}, ctx.Err()
	}
}

func TestGame_RunAppliesEventsAndTicks(t *testing.T) {
	g, rec := newTestGame(t, nil)
	src := make(chanSource, 1)
	src <- env(t, gameserver.EventRoomJoined, gameserver.RoomPayload{RoomID: "r9"})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	right := func(time.Time) physics.Input { return physics.Input{Right: true} }
	require.NoError(t, g.Run(ctx, src, right, 10*time.Millisecond))

	assert.Equal(t, "r9", g.RoomID())
	assert.Greater(t, rec.count(gameserver.EventMove), 2)
	assert.Greater(t, g.Body().X, world.Default().Spawn.X)
}

func TestWander_Deterministic(t *testing.T) {
	a, b := Wander(7), Wander(7)
	now := epoch
	for i := 0; i < 600; i++ {
		in := a(now)
		require.Equal(t, in, b(now))
		assert.NotEqual(t, in.Left, in.Right)
		now = now.Add(16 * time.Millisecond)
	}
}
