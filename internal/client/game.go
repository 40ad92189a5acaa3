package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/game/character"
	"github.com/cory-johannsen/huddle/internal/game/physics"
	"github.com/cory-johannsen/huddle/internal/game/world"
	"github.com/cory-johannsen/huddle/internal/gameserver"
)

// chatMaxLen mirrors the relay's cap so the local bubble matches what peers see.
const chatMaxLen = 50

// ErrNotInRoom is returned by actions that need a room before one is assigned.
var ErrNotInRoom = errors.New("not in a room")

// Peer is the mirrored state of a remote member.
type Peer struct {
	ID             string
	X, Y           float64
	Health         int
	Facing         physics.Facing
	Character      *character.Descriptor
	Message        string
	MessageExpires time.Time
	Speaking       bool
}

// ChatLine is one entry of the chat log.
type ChatLine struct {
	PlayerID string
	Name     string
	Message  string
}

// Game is one client's view of a match: the local simulator, the mirrored
// peers and the chat log. Tick and HandleEvent must be called from a single
// goroutine; Run does so.
type Game struct {
	sender    Sender
	sim       *physics.Simulator
	character character.Descriptor
	voice     *Voice
	logger    *zap.Logger

	roomID      string
	peers       map[string]*Peer
	chat        []ChatLine
	partnerLeft bool
}

// NewGame creates a Game for desc on level. voice may be nil.
//
// Precondition: desc must be valid; sender, level and logger must be non-nil.
func NewGame(sender Sender, level *world.Map, params physics.Params, desc character.Descriptor, voice *Voice, logger *zap.Logger) *Game {
	return &Game{
		sender:    sender,
		sim:       physics.New(level, params),
		character: desc.WithDefaults(),
		voice:     voice,
		logger:    logger,
		peers:     make(map[string]*Peer),
	}
}

// RoomID returns the current room, or "" when not matched.
func (g *Game) RoomID() string { return g.roomID }

// Body returns the local character state.
func (g *Game) Body() physics.Body { return g.sim.Body() }

// Peers returns a copy of the mirrored peers keyed by id.
func (g *Game) Peers() map[string]Peer {
	out := make(map[string]Peer, len(g.peers))
	for id, p := range g.peers {
		out[id] = *p
	}
	return out
}

// Chat returns the chat log, oldest first.
func (g *Game) Chat() []ChatLine {
	return append([]ChatLine(nil), g.chat...)
}

// PartnerLeft reports whether the relay has signalled that this client is alone in its room.
func (g *Game) PartnerLeft() bool { return g.partnerLeft }

// RequestMatch asks the relay for a room, sending the local character.
func (g *Game) RequestMatch(ctx context.Context) error {
	desc := g.character
	return g.sender.Send(ctx, gameserver.EventRequestMatch, gameserver.MatchRequest{Character: &desc})
}

// Tick advances the local simulator by one frame and emits move when the
// position changed. Outside a room the simulator does not run.
func (g *Game) Tick(ctx context.Context, in physics.Input, deltaMs float64, now time.Time) error {
	if g.roomID == "" {
		return nil
	}
	if !g.sim.Step(in, deltaMs, now) {
		return nil
	}
	return g.sendMove(ctx)
}

// SetHealth applies damage or healing to the local character. Zero health
// respawns on the next Tick.
func (g *Game) SetHealth(h int) { g.sim.SetHealth(h) }

// Say posts a chat line and shows it over the local character.
func (g *Game) Say(ctx context.Context, text string, now time.Time) error {
	if g.roomID == "" {
		return ErrNotInRoom
	}
	text = character.ClampText(text, chatMaxLen)
	if text == "" {
		return nil
	}
	g.sim.Say(text, now)
	b := g.sim.Body()
	return g.sender.Send(ctx, gameserver.EventChatMessage, gameserver.ChatPayload{
		RoomID:  g.roomID,
		Name:    g.character.Name,
		Message: text,
		X:       b.X,
		Y:       b.Y,
	})
}

// LeaveMatch leaves the room and resets local state: peers, chat and voice
// sessions are dropped and the character respawns.
func (g *Game) LeaveMatch(ctx context.Context) error {
	if g.roomID == "" {
		return ErrNotInRoom
	}
	err := g.sender.Send(ctx, gameserver.EventLeaveRoom, gameserver.RoomPayload{RoomID: g.roomID})
	if g.voice != nil {
		if verr := g.voice.Disable(ctx); verr != nil {
			g.logger.Debug("ending voice", zap.Error(verr))
		}
		g.voice.SetRoom("")
	}
	g.reset("")
	return err
}

// HandleEvent applies one relay event to the mirrored state.
func (g *Game) HandleEvent(ctx context.Context, env gameserver.Envelope, now time.Time) error {
	switch env.Event {
	case gameserver.EventRoomCreated, gameserver.EventRoomJoined:
		p, err := gameserver.DecodeData[gameserver.RoomPayload](env)
		if err != nil {
			return err
		}
		g.reset(p.RoomID)
		if g.voice != nil {
			g.voice.SetRoom(p.RoomID)
		}
		g.logger.Info("entered room", zap.String("room_id", p.RoomID), zap.String("event", env.Event))
		return g.sendMove(ctx)

	case gameserver.EventCurrentPlayers:
		players, err := gameserver.DecodeData[[]gameserver.PlayerState](env)
		if err != nil {
			return err
		}
		for _, ps := range players {
			g.peers[ps.ID] = &Peer{ID: ps.ID, X: ps.X, Y: ps.Y, Health: ps.Health, Character: ps.Character, Facing: physics.FacingRight}
		}
		return nil

	case gameserver.EventPlayerJoined:
		p, err := gameserver.DecodeData[gameserver.PlayerPayload](env)
		if err != nil {
			return err
		}
		g.partnerLeft = false
		g.peers[p.PlayerID] = &Peer{ID: p.PlayerID, Health: g.sim.Params().MaxHealth, Character: p.Character, Facing: physics.FacingRight}
		// The newcomer knows nothing of us yet.
		if err := g.sendMove(ctx); err != nil {
			return err
		}
		if g.voice != nil && g.voice.Enabled() {
			return g.voice.Call(ctx, p.PlayerID)
		}
		return nil

	case gameserver.EventPlayerLeft:
		p, err := gameserver.DecodeData[gameserver.PlayerPayload](env)
		if err != nil {
			return err
		}
		delete(g.peers, p.PlayerID)
		if g.voice != nil {
			g.voice.ClosePeer(p.PlayerID)
		}
		return nil

	case gameserver.EventPartnerLeft:
		g.partnerLeft = true
		g.logger.Info("partner left", zap.String("room_id", g.roomID))
		return nil

	case gameserver.EventMove:
		p, err := gameserver.DecodeData[gameserver.MovePayload](env)
		if err != nil {
			return err
		}
		peer := g.peer(p.PlayerID)
		peer.X, peer.Y, peer.Health = p.X, p.Y, p.Health
		if p.Facing != 0 {
			peer.Facing = physics.Facing(p.Facing)
		}
		if p.Character != nil {
			peer.Character = p.Character
		}
		if p.Message != "" && p.Message != peer.Message {
			peer.Message = p.Message
			peer.MessageExpires = now.Add(g.sim.Params().MessageTTL)
		}
		return nil

	case gameserver.EventChatMessage:
		p, err := gameserver.DecodeData[gameserver.ChatPayload](env)
		if err != nil {
			return err
		}
		g.chat = append(g.chat, ChatLine{PlayerID: p.PlayerID, Name: p.Name, Message: p.Message})
		if peer, ok := g.peers[p.PlayerID]; ok {
			peer.Message = p.Message
			peer.MessageExpires = now.Add(g.sim.Params().MessageTTL)
		}
		return nil

	case gameserver.EventVoiceStart, gameserver.EventVoiceEnd:
		p, err := gameserver.DecodeData[gameserver.VoicePayload](env)
		if err != nil {
			return err
		}
		if peer, ok := g.peers[p.PlayerID]; ok {
			peer.Speaking = env.Event == gameserver.EventVoiceStart
		}
		return nil

	case gameserver.EventVoiceOffer, gameserver.EventVoiceAnswer, gameserver.EventVoiceCandidate:
		if g.voice == nil {
			return nil
		}
		p, err := gameserver.DecodeData[gameserver.SignalPayload](env)
		if err != nil {
			return err
		}
		switch env.Event {
		case gameserver.EventVoiceOffer:
			return g.voice.HandleOffer(ctx, p.PlayerID, p.Offer)
		case gameserver.EventVoiceAnswer:
			return g.voice.HandleAnswer(p.PlayerID, p.Answer)
		default:
			return g.voice.HandleCandidate(p.PlayerID, p.Candidate)
		}

	default:
		return fmt.Errorf("%w: %q", gameserver.ErrUnknownEvent, env.Event)
	}
}

// ExpireMessages clears peer chat bubbles whose display time has passed.
func (g *Game) ExpireMessages(now time.Time) {
	for _, p := range g.peers {
		if p.Message != "" && !now.Before(p.MessageExpires) {
			p.Message = ""
		}
	}
}

func (g *Game) peer(id string) *Peer {
	p, ok := g.peers[id]
	if !ok {
		p = &Peer{ID: id, Health: g.sim.Params().MaxHealth, Facing: physics.FacingRight}
		g.peers[id] = p
	}
	return p
}

func (g *Game) reset(roomID string) {
	g.roomID = roomID
	g.peers = make(map[string]*Peer)
	g.chat = nil
	g.partnerLeft = false
	g.sim.Respawn()
}

func (g *Game) sendMove(ctx context.Context) error {
	b := g.sim.Body()
	desc := g.character
	return g.sender.Send(ctx, gameserver.EventMove, gameserver.MovePayload{
		RoomID:    g.roomID,
		X:         b.X,
		Y:         b.Y,
		Health:    b.Health,
		Facing:    int(b.Facing),
		Character: &desc,
		Message:   b.Message,
	})
}
