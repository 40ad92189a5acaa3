package gameserver

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/game/session"
	"github.com/cory-johannsen/huddle/internal/observability"
)

// Relay selects recipients and pushes encoded events to their outboxes. It
// never blocks on a recipient: a full or closed outbox drops the event.
type Relay struct {
	registry *session.Registry
	members  *session.Manager
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewRelay creates a Relay.
//
// Precondition: registry, members and logger must be non-nil. metrics may be nil.
func NewRelay(registry *session.Registry, members *session.Manager, metrics *observability.Metrics, logger *zap.Logger) *Relay {
	return &Relay{
		registry: registry,
		members:  members,
		metrics:  metrics,
		logger:   logger,
	}
}

// ToRoomExcept delivers to every member of roomID except excludeID.
//
// Postcondition: Returns the number of outboxes that accepted the event.
func (r *Relay) ToRoomExcept(roomID, excludeID, event string, data any) int {
	ids, ok := r.registry.Members(roomID)
	if !ok {
		r.logger.Debug("relay to missing room", zap.String("room_id", roomID), zap.String("event", event))
		return 0
	}
	payload, err := Encode(event, data)
	if err != nil {
		r.logger.Error("marshaling broadcast event", zap.String("event", event), zap.Error(err))
		return 0
	}
	delivered := 0
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		if r.push(id, event, payload) == nil {
			delivered++
		}
	}
	return delivered
}

// ToRoom delivers to every member of roomID, the sender included.
func (r *Relay) ToRoom(roomID, event string, data any) int {
	return r.ToRoomExcept(roomID, "", event, data)
}

// ToMember delivers to a single member.
//
// Postcondition: Returns nil if the event was enqueued, otherwise an error
// wrapping session.ErrMemberNotFound, session.ErrOutboxFull or session.ErrOutboxClosed.
func (r *Relay) ToMember(memberID, event string, data any) error {
	payload, err := Encode(event, data)
	if err != nil {
		return err
	}
	return r.push(memberID, event, payload)
}

func (r *Relay) push(memberID, event string, payload []byte) error {
	out, ok := r.members.Outbox(memberID)
	if !ok {
		r.metrics.Drop("not_connected")
		return fmt.Errorf("delivering %s to %q: %w", event, memberID, session.ErrMemberNotFound)
	}
	if err := out.Push(payload); err != nil {
		reason := "closed"
		if errors.Is(err, session.ErrOutboxFull) {
			reason = "full"
		}
		r.metrics.Drop(reason)
		r.logger.Debug("push to outbox failed",
			zap.String("member_id", memberID),
			zap.String("event", event),
			zap.Error(err),
		)
		return err
	}
	r.metrics.Delivered(event)
	return nil
}
