package gameserver

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/game/session"
	"github.com/cory-johannsen/huddle/internal/observability"
)

// matchAttempts bounds retries when a chosen room fills or vanishes between
// lookup and join.
const matchAttempts = 3

// MatchResult is the outcome of a successful match.
type MatchResult struct {
	RoomID  string
	Created bool
	// Existing is the state of the members already present, in join order.
	Existing []PlayerState
}

// Matchmaker places members into rooms and announces the placement.
type Matchmaker struct {
	registry *session.Registry
	members  *session.Manager
	relay    *Relay
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewMatchmaker creates a Matchmaker.
//
// Precondition: registry, members, relay and logger must be non-nil.
func NewMatchmaker(registry *session.Registry, members *session.Manager, relay *Relay, metrics *observability.Metrics, logger *zap.Logger) *Matchmaker {
	return &Matchmaker{
		registry: registry,
		members:  members,
		relay:    relay,
		metrics:  metrics,
		logger:   logger,
	}
}

// RequestMatch joins memberID to the oldest room with a free slot, or to a
// freshly created room when none has one. The requester receives
// room-created, or room-joined followed by current-players; the other members
// of a joined room receive player-joined. A created room has no one to notify.
//
// Precondition: memberID must be connected and in no room.
// Postcondition: The member is in exactly one room, or an error is returned and membership is unchanged.
func (m *Matchmaker) RequestMatch(memberID string) (MatchResult, error) {
	if roomID, in := m.registry.RoomOf(memberID); in {
		return MatchResult{}, fmt.Errorf("matching %q: already in %q: %w", memberID, roomID, session.ErrAlreadyInRoom)
	}

	var lastErr error
	for attempt := 0; attempt < matchAttempts; attempt++ {
		roomID, ok := m.registry.FindJoinableRoom()
		created := false
		if !ok {
			roomID = m.registry.CreateRoom()
			created = true
		}

		if err := m.registry.Join(roomID, memberID); err != nil {
			if errors.Is(err, session.ErrRoomFull) || errors.Is(err, session.ErrRoomNotFound) {
				lastErr = err
				m.logger.Debug("match attempt lost race, retrying",
					zap.String("member_id", memberID),
					zap.String("room_id", roomID),
					zap.Int("attempt", attempt+1),
					zap.Error(err),
				)
				continue
			}
			return MatchResult{}, fmt.Errorf("matching %q: %w", memberID, err)
		}

		if err := m.members.SetRoom(memberID, roomID); err != nil {
			m.registry.Leave(memberID)
			return MatchResult{}, fmt.Errorf("matching %q: %w", memberID, err)
		}

		result := MatchResult{RoomID: roomID, Created: created}
		m.metrics.Match(created)
		m.announce(memberID, &result)
		return result, nil
	}
	return MatchResult{}, fmt.Errorf("matching %q after %d attempts: %w", memberID, matchAttempts, lastErr)
}

func (m *Matchmaker) announce(memberID string, result *MatchResult) {
	log := m.logger.With(zap.String("member_id", memberID), zap.String("room_id", result.RoomID))

	if result.Created {
		if err := m.relay.ToMember(memberID, EventRoomCreated, RoomPayload{RoomID: result.RoomID}); err != nil {
			log.Debug("room-created not delivered", zap.Error(err))
		}
		log.Info("room created")
		return
	}

	result.Existing = m.snapshot(result.RoomID, memberID)
	if err := m.relay.ToMember(memberID, EventRoomJoined, RoomPayload{RoomID: result.RoomID}); err != nil {
		log.Debug("room-joined not delivered", zap.Error(err))
	}
	if err := m.relay.ToMember(memberID, EventCurrentPlayers, result.Existing); err != nil {
		log.Debug("current-players not delivered", zap.Error(err))
	}

	joined := PlayerPayload{PlayerID: memberID}
	if mem, ok := m.members.Get(memberID); ok && !mem.Character.IsZero() {
		c := mem.Character
		joined.Character = &c
	}
	m.relay.ToRoomExcept(result.RoomID, memberID, EventPlayerJoined, joined)
	log.Info("room joined", zap.Int("existing", len(result.Existing)))
}

// snapshot returns the known state of every member of roomID except memberID.
func (m *Matchmaker) snapshot(roomID, memberID string) []PlayerState {
	ids, _ := m.registry.Members(roomID)
	out := make([]PlayerState, 0, len(ids))
	for _, id := range ids {
		if id == memberID {
			continue
		}
		mem, ok := m.members.Get(id)
		if !ok {
			continue
		}
		ps := PlayerState{ID: id, X: mem.Pose.X, Y: mem.Pose.Y, Health: mem.Pose.Health}
		if !mem.Pose.Known {
			ps.Health = defaultHealth
		}
		if !mem.Character.IsZero() {
			c := mem.Character
			ps.Character = &c
		}
		out = append(out, ps)
	}
	return out
}
