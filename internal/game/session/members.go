package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/huddle/internal/game/character"
)

// ErrMemberNotFound is returned when a member id is not connected.
var ErrMemberNotFound = errors.New("member not found")

// Pose is the last state a member reported through a move event.
type Pose struct {
	X      float64
	Y      float64
	Health int
	// Known is false until the first move arrives.
	Known bool
}

// Member tracks one connected client.
type Member struct {
	// ID is the connection identifier.
	ID string
	// Character is the descriptor the client last announced. Zero until known.
	Character character.Descriptor
	// RoomID is the current room, empty when in none.
	RoomID string
	// Pose is the last reported position and health.
	Pose Pose
	// Speaking is the transient voice indicator.
	Speaking bool
	// Outbox receives encoded events for this member.
	Outbox *Outbox
}

// Manager tracks all connected members.
// All methods are safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	members    map[string]*Member
	outboxSize int
}

// NewManager creates an empty member Manager whose outboxes buffer outboxSize events.
func NewManager(outboxSize int) *Manager {
	return &Manager{
		members:    make(map[string]*Member),
		outboxSize: outboxSize,
	}
}

// Add registers a new connected member with an open outbox.
//
// Precondition: id must be non-empty.
// Postcondition: Returns the created Member, or an error if the id is already registered.
func (m *Manager) Add(id string) (*Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.members[id]; exists {
		return nil, fmt.Errorf("member %q already connected", id)
	}
	mem := &Member{
		ID:     id,
		Outbox: NewOutbox(id, m.outboxSize),
	}
	m.members[id] = mem
	return mem, nil
}

// Remove unregisters a member and closes its outbox.
//
// Postcondition: The member is no longer tracked. Returns ErrMemberNotFound if absent.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, exists := m.members[id]
	if !exists {
		return fmt.Errorf("removing %q: %w", id, ErrMemberNotFound)
	}
	mem.Outbox.Close()
	delete(m.members, id)
	return nil
}

// Get returns a copy of the member's state.
//
// Postcondition: Returns (member, true) if found, or (zero, false) otherwise.
func (m *Manager) Get(id string) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[id]
	if !ok {
		return Member{}, false
	}
	return *mem, true
}

// Outbox returns the member's outbox.
func (m *Manager) Outbox(id string) (*Outbox, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[id]
	if !ok {
		return nil, false
	}
	return mem.Outbox, true
}

// SetRoom records the member's current room. An empty roomID means none and
// also clears the speaking flag.
func (m *Manager) SetRoom(id, roomID string) error {
	return m.update(id, func(mem *Member) {
		mem.RoomID = roomID
		if roomID == "" {
			mem.Speaking = false
		}
	})
}

// SetCharacter stores the member's character descriptor.
func (m *Manager) SetCharacter(id string, c character.Descriptor) error {
	return m.update(id, func(mem *Member) {
		mem.Character = c
	})
}

// SetPose stores the member's last reported position and health.
func (m *Manager) SetPose(id string, x, y float64, health int) error {
	return m.update(id, func(mem *Member) {
		mem.Pose = Pose{X: x, Y: y, Health: health, Known: true}
	})
}

// SetSpeaking stores the voice indicator.
func (m *Manager) SetSpeaking(id string, speaking bool) error {
	return m.update(id, func(mem *Member) {
		mem.Speaking = speaking
	})
}

func (m *Manager) update(id string, fn func(*Member)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[id]
	if !ok {
		return fmt.Errorf("updating %q: %w", id, ErrMemberNotFound)
	}
	fn(mem)
	return nil
}

// Count returns the number of connected members.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// CloseAll closes every outbox and forgets all members.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, mem := range m.members {
		mem.Outbox.Close()
		delete(m.members, id)
	}
}
