// Package gameserver implements the relay server: matchmaking, event fan-out,
// signaling pass-through, and the single-writer dispatcher that serializes
// every registry mutation.
package gameserver

import (
	"encoding/json"
	"fmt"

	"github.com/cory-johannsen/huddle/internal/game/character"
)

// Event names carried in Envelope.Event.
const (
	EventRequestMatch   = "request-match"
	EventRoomCreated    = "room-created"
	EventRoomJoined     = "room-joined"
	EventCurrentPlayers = "current-players"
	EventPlayerJoined   = "player-joined"
	EventPlayerLeft     = "player-left"
	EventPartnerLeft    = "partner-left"
	EventMove           = "move"
	EventLeaveRoom      = "leave-room"
	EventChatMessage    = "chat-message"
	EventVoiceStart     = "voice-chat-start"
	EventVoiceEnd       = "voice-chat-end"
	EventVoiceOffer     = "voice-offer"
	EventVoiceAnswer    = "voice-answer"
	EventVoiceCandidate = "voice-ice-candidate"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals data into an Envelope for event. A nil data omits the payload.
//
// Postcondition: Returns the encoded frame or a marshalling error.
func Encode(event string, data any) ([]byte, error) {
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", event, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// DecodeData unmarshals the envelope payload into T. An absent payload yields the zero T.
func DecodeData[T any](env Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("decoding %s payload: %w", env.Event, err)
	}
	return v, nil
}

// MatchRequest is the optional request-match payload.
type MatchRequest struct {
	Character *character.Descriptor `json:"character,omitempty"`
}

// RoomPayload carries a room id: room-created, room-joined, leave-room.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// PlayerState is one entry of current-players.
type PlayerState struct {
	ID        string                `json:"id"`
	X         float64               `json:"x"`
	Y         float64               `json:"y"`
	Health    int                   `json:"health"`
	Character *character.Descriptor `json:"character,omitempty"`
}

// PlayerPayload identifies a member: player-joined, player-left.
type PlayerPayload struct {
	PlayerID  string                `json:"playerId"`
	Character *character.Descriptor `json:"character,omitempty"`
}

// MovePayload is a position update. Inbound it carries RoomID; outbound the
// server adds PlayerID.
type MovePayload struct {
	RoomID    string                `json:"roomId,omitempty"`
	PlayerID  string                `json:"playerId,omitempty"`
	X         float64               `json:"x"`
	Y         float64               `json:"y"`
	Health    int                   `json:"health"`
	Facing    int                   `json:"facing,omitempty"`
	Character *character.Descriptor `json:"character,omitempty"`
	Message   string                `json:"message,omitempty"`
}

// ChatPayload is a chat line with its author's position.
type ChatPayload struct {
	RoomID   string  `json:"roomId,omitempty"`
	PlayerID string  `json:"playerId,omitempty"`
	Name     string  `json:"name"`
	Message  string  `json:"message"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// VoicePayload is voice-chat-start / voice-chat-end.
type VoicePayload struct {
	RoomID   string `json:"roomId,omitempty"`
	PlayerID string `json:"playerId,omitempty"`
}

// SignalPayload carries opaque WebRTC signaling cargo. Exactly one of Offer,
// Answer and Candidate is set, matching the event.
type SignalPayload struct {
	RoomID    string          `json:"roomId,omitempty"`
	TargetID  string          `json:"targetId,omitempty"`
	PlayerID  string          `json:"playerId,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}
