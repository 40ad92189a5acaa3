package gameserver

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/huddle/internal/game/session"
)

// ErrTargetNotConnected is returned when a signaling target is not a
// connected member of the sender's room. The message is dropped.
var ErrTargetNotConnected = errors.New("signaling target not connected")

// ErrNoTarget is returned for an answer or candidate without a target id.
var ErrNoTarget = errors.New("signaling message has no target")

// Signaling forwards offer, answer and ICE-candidate messages between members
// of one room. The cargo is never inspected.
type Signaling struct {
	registry *session.Registry
	members  *session.Manager
	relay    *Relay
}

// NewSignaling creates a Signaling relay.
func NewSignaling(registry *session.Registry, members *session.Manager, relay *Relay) *Signaling {
	return &Signaling{registry: registry, members: members, relay: relay}
}

// Forward routes a signaling message from senderID. With a target it is
// unicast to that target only. An offer without a target goes to the rest of
// the sender's room.
//
// Precondition: event is one of EventVoiceOffer, EventVoiceAnswer, EventVoiceCandidate.
// Postcondition: Returns nil when delivered, or an error wrapping
// session.ErrRoomNotFound, ErrTargetNotConnected or ErrNoTarget.
func (s *Signaling) Forward(senderID, event string, msg SignalPayload) error {
	roomID, ok := s.registry.RoomOf(senderID)
	if !ok || (msg.RoomID != "" && msg.RoomID != roomID) {
		return fmt.Errorf("%s from %q: %w", event, senderID, session.ErrRoomNotFound)
	}

	out := SignalPayload{
		PlayerID:  senderID,
		Offer:     msg.Offer,
		Answer:    msg.Answer,
		Candidate: msg.Candidate,
	}

	if msg.TargetID == "" {
		if event != EventVoiceOffer {
			return fmt.Errorf("%s from %q: %w", event, senderID, ErrNoTarget)
		}
		out.RoomID = roomID
		s.relay.ToRoomExcept(roomID, senderID, event, out)
		return nil
	}

	if msg.TargetID == senderID {
		return fmt.Errorf("%s from %q to itself: %w", event, senderID, ErrTargetNotConnected)
	}
	target, ok := s.members.Get(msg.TargetID)
	if !ok || target.RoomID != roomID {
		return fmt.Errorf("%s from %q to %q: %w", event, senderID, msg.TargetID, ErrTargetNotConnected)
	}
	if err := s.relay.ToMember(msg.TargetID, event, out); err != nil {
		return fmt.Errorf("%s from %q to %q: %w", event, senderID, msg.TargetID, errors.Join(ErrTargetNotConnected, err))
	}
	return nil
}
