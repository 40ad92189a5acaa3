package gameserver

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/game/character"
	"github.com/cory-johannsen/huddle/internal/game/session"
	"github.com/cory-johannsen/huddle/internal/observability"
)

// defaultHealth is reported for members that have not moved yet.
const defaultHealth = 100

const fallbackName = "Player"

var (
	// ErrUnknownEvent is returned for an event name the server does not accept.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrEmptyChat is returned when a chat line is blank after trimming.
	ErrEmptyChat = errors.New("empty chat message")
)

// RelayService applies client events to the registry and fans out the
// resulting notifications. It is not safe for concurrent use: the Dispatcher
// is its only caller.
type RelayService struct {
	registry *session.Registry
	members  *session.Manager
	relay    *Relay
	matcher  *Matchmaker
	signal   *Signaling
	chatMax  int
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewRelayService wires the matchmaker, relay and signaling components over
// the given registry and member manager.
//
// Precondition: registry, members and logger must be non-nil; chatMaxLen must be >= 1. metrics may be nil.
// Postcondition: Returns a ready RelayService.
func NewRelayService(registry *session.Registry, members *session.Manager, chatMaxLen int, metrics *observability.Metrics, logger *zap.Logger) *RelayService {
	relay := NewRelay(registry, members, metrics, logger)
	return &RelayService{
		registry: registry,
		members:  members,
		relay:    relay,
		matcher:  NewMatchmaker(registry, members, relay, metrics, logger),
		signal:   NewSignaling(registry, members, relay),
		chatMax:  chatMaxLen,
		metrics:  metrics,
		logger:   logger,
	}
}

// Connect registers a new member.
//
// Precondition: memberID must be non-empty and unique.
// Postcondition: Returns the member's outbox, or an error if the id is taken.
func (s *RelayService) Connect(memberID string) (*session.Outbox, error) {
	mem, err := s.members.Add(memberID)
	if err != nil {
		return nil, err
	}
	s.updateGauges()
	s.logger.Info("member connected", zap.String("member_id", memberID))
	return mem.Outbox, nil
}

// Disconnect removes the member from its room, with the same notifications
// as an explicit leave, and forgets it. Calling it again is a no-op.
func (s *RelayService) Disconnect(memberID string) {
	s.leave(memberID)
	if err := s.members.Remove(memberID); err != nil {
		s.logger.Debug("disconnect of unknown member", zap.String("member_id", memberID), zap.Error(err))
		return
	}
	s.updateGauges()
	s.logger.Info("member disconnected", zap.String("member_id", memberID))
}

// Handle applies one inbound event from memberID.
//
// Postcondition: Returns nil when the event was applied. Every returned error
// is recoverable; the event is dropped and the member stays connected.
func (s *RelayService) Handle(memberID string, env Envelope) error {
	switch env.Event {
	case EventRequestMatch:
		return s.handleRequestMatch(memberID, env)
	case EventMove:
		return s.handleMove(memberID, env)
	case EventLeaveRoom:
		return s.handleLeaveRoom(memberID, env)
	case EventChatMessage:
		return s.handleChat(memberID, env)
	case EventVoiceStart, EventVoiceEnd:
		return s.handleVoice(memberID, env)
	case EventVoiceOffer, EventVoiceAnswer, EventVoiceCandidate:
		msg, err := DecodeData[SignalPayload](env)
		if err != nil {
			return err
		}
		return s.signal.Forward(memberID, env.Event, msg)
	default:
		return fmt.Errorf("%q from %q: %w", env.Event, memberID, ErrUnknownEvent)
	}
}

// Close drops every room and closes every outbox.
func (s *RelayService) Close() {
	s.registry.Close()
	s.members.CloseAll()
	s.updateGauges()
}

func (s *RelayService) handleRequestMatch(memberID string, env Envelope) error {
	req, err := DecodeData[MatchRequest](env)
	if err != nil {
		return err
	}
	if req.Character != nil {
		desc := req.Character.WithDefaults()
		desc.Name = character.ClampText(desc.Name, character.MaxNameLen)
		if err := desc.Validate(); err != nil {
			s.logger.Debug("ignoring invalid character", zap.String("member_id", memberID), zap.Error(err))
		} else if err := s.members.SetCharacter(memberID, desc); err != nil {
			return err
		}
	}

	if _, in := s.registry.RoomOf(memberID); in {
		s.leave(memberID)
	}
	if _, err := s.matcher.RequestMatch(memberID); err != nil {
		return err
	}
	s.updateGauges()
	return nil
}

func (s *RelayService) handleMove(memberID string, env Envelope) error {
	msg, err := DecodeData[MovePayload](env)
	if err != nil {
		return err
	}
	roomID, err := s.currentRoom(memberID, msg.RoomID, env.Event)
	if err != nil {
		return err
	}

	if msg.Character != nil {
		desc := msg.Character.WithDefaults()
		if desc.Validate() == nil {
			if err := s.members.SetCharacter(memberID, desc); err != nil {
				return err
			}
		}
	}
	health := max(0, min(msg.Health, defaultHealth))
	if err := s.members.SetPose(memberID, msg.X, msg.Y, health); err != nil {
		return err
	}

	out := MovePayload{
		PlayerID: memberID,
		X:        msg.X,
		Y:        msg.Y,
		Health:   health,
		Facing:   msg.Facing,
		Message:  character.ClampText(msg.Message, s.chatMax),
	}
	if mem, ok := s.members.Get(memberID); ok && !mem.Character.IsZero() {
		c := mem.Character
		out.Character = &c
	}
	s.relay.ToRoomExcept(roomID, memberID, EventMove, out)
	return nil
}

func (s *RelayService) handleLeaveRoom(memberID string, env Envelope) error {
	msg, err := DecodeData[RoomPayload](env)
	if err != nil {
		return err
	}
	if _, err := s.currentRoom(memberID, msg.RoomID, env.Event); err != nil {
		return err
	}
	s.leave(memberID)
	return nil
}

func (s *RelayService) handleChat(memberID string, env Envelope) error {
	msg, err := DecodeData[ChatPayload](env)
	if err != nil {
		return err
	}
	roomID, err := s.currentRoom(memberID, msg.RoomID, env.Event)
	if err != nil {
		return err
	}
	text := character.ClampText(msg.Message, s.chatMax)
	if text == "" {
		return fmt.Errorf("chat from %q: %w", memberID, ErrEmptyChat)
	}

	name := character.ClampText(msg.Name, character.MaxNameLen)
	if name == "" {
		name = fallbackName
		if mem, ok := s.members.Get(memberID); ok && mem.Character.Name != "" {
			name = mem.Character.Name
		}
	}

	s.relay.ToRoom(roomID, EventChatMessage, ChatPayload{
		PlayerID: memberID,
		Name:     name,
		Message:  text,
		X:        msg.X,
		Y:        msg.Y,
	})
	return nil
}

func (s *RelayService) handleVoice(memberID string, env Envelope) error {
	msg, err := DecodeData[VoicePayload](env)
	if err != nil {
		return err
	}
	roomID, err := s.currentRoom(memberID, msg.RoomID, env.Event)
	if err != nil {
		return err
	}
	if err := s.members.SetSpeaking(memberID, env.Event == EventVoiceStart); err != nil {
		return err
	}
	s.relay.ToRoomExcept(roomID, memberID, env.Event, VoicePayload{PlayerID: memberID})
	return nil
}

// currentRoom resolves the member's room and checks it against the room the
// client named, if any.
func (s *RelayService) currentRoom(memberID, claimed, event string) (string, error) {
	roomID, ok := s.registry.RoomOf(memberID)
	if !ok || (claimed != "" && claimed != roomID) {
		return "", fmt.Errorf("%s from %q for room %q: %w", event, memberID, claimed, session.ErrRoomNotFound)
	}
	return roomID, nil
}

// leave removes the member from its room and notifies whoever remains:
// player-left to everyone, then partner-left when exactly one member is left.
func (s *RelayService) leave(memberID string) {
	res := s.registry.Leave(memberID)
	if !res.Removed {
		return
	}
	if err := s.members.SetRoom(memberID, ""); err != nil {
		s.logger.Debug("clearing room of unknown member", zap.String("member_id", memberID), zap.Error(err))
	}

	if !res.RoomDeleted {
		s.relay.ToRoom(res.RoomID, EventPlayerLeft, PlayerPayload{PlayerID: memberID})
		if len(res.Remaining) == 1 {
			if err := s.relay.ToMember(res.Remaining[0], EventPartnerLeft, nil); err != nil {
				s.logger.Debug("partner-left not delivered", zap.String("member_id", res.Remaining[0]), zap.Error(err))
			}
		}
	}
	s.updateGauges()
	s.logger.Info("member left room",
		zap.String("member_id", memberID),
		zap.String("room_id", res.RoomID),
		zap.Int("remaining", len(res.Remaining)),
		zap.Bool("room_deleted", res.RoomDeleted),
	)
}

func (s *RelayService) updateGauges() {
	s.metrics.SetRooms(s.registry.RoomCount())
	s.metrics.SetMembers(s.members.Count())
}
