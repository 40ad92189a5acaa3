package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrRoomFull is returned by Join when the room is at capacity.
	ErrRoomFull = errors.New("room full")
	// ErrRoomNotFound is returned when a room id does not name a live room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrAlreadyInRoom is returned by Join when the member is in a different room.
	ErrAlreadyInRoom = errors.New("member already in another room")
)

// DefaultCapacity is the maximum number of members per room.
const DefaultCapacity = 5

// IDGenerator produces candidate room identifiers.
type IDGenerator func() string

// RoomInfo is a read-only snapshot of a room.
type RoomInfo struct {
	ID       string
	Capacity int
	// Members is in join order.
	Members []string
}

// LeaveResult describes the effect of a Leave call.
type LeaveResult struct {
	// RoomID is the room the member left. Empty when the member was in no room.
	RoomID string
	// Remaining are the members still in the room, in join order.
	Remaining []string
	// Removed is false when the call was a no-op.
	Removed bool
	// RoomDeleted reports that the room emptied and was dropped.
	RoomDeleted bool
}

type room struct {
	id      string
	members []string
}

// Registry owns every live room and the member-to-room index.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	newID    IDGenerator
	rooms    map[string]*room
	// order holds live room ids oldest first.
	order    []string
	memberOf map[string]string
}

// NewRegistry creates an empty Registry. A nil newID selects UUID v4.
//
// Precondition: capacity must be >= 1.
// Postcondition: Returns a Registry with no rooms.
func NewRegistry(capacity int, newID IDGenerator) *Registry {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Registry{
		capacity: capacity,
		newID:    newID,
		rooms:    make(map[string]*room),
		memberOf: make(map[string]string),
	}
}

// Capacity returns the per-room member limit.
func (r *Registry) Capacity() int {
	return r.capacity
}

// CreateRoom allocates an empty room under an id unique among live rooms.
//
// Postcondition: The returned id names a live, empty room.
func (r *Registry) CreateRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked()
}

func (r *Registry) createLocked() string {
	id := r.newID()
	for {
		if _, taken := r.rooms[id]; !taken && id != "" {
			break
		}
		id = r.newID()
	}
	r.rooms[id] = &room{id: id}
	r.order = append(r.order, id)
	return id
}

// FindJoinableRoom returns the oldest room with a free slot.
//
// Postcondition: Returns (id, true) for a room with fewer than Capacity members, or ("", false).
func (r *Registry) FindJoinableRoom() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked()
}

func (r *Registry) findLocked() (string, bool) {
	for _, id := range r.order {
		if len(r.rooms[id].members) < r.capacity {
			return id, true
		}
	}
	return "", false
}

// Join appends memberID to the room. Joining the room the member is already
// in is a no-op.
//
// Precondition: memberID must be non-empty.
// Postcondition: Returns nil with the member appended, or ErrRoomNotFound, ErrRoomFull, ErrAlreadyInRoom.
func (r *Registry) Join(roomID, memberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinLocked(roomID, memberID)
}

func (r *Registry) joinLocked(roomID, memberID string) error {
	rm, ok := r.rooms[roomID]
	if !ok {
		return fmt.Errorf("joining %q: %w", roomID, ErrRoomNotFound)
	}
	if current, in := r.memberOf[memberID]; in {
		if current == roomID {
			return nil
		}
		return fmt.Errorf("joining %q: %w", roomID, ErrAlreadyInRoom)
	}
	if len(rm.members) >= r.capacity {
		return fmt.Errorf("joining %q: %w", roomID, ErrRoomFull)
	}
	rm.members = append(rm.members, memberID)
	r.memberOf[memberID] = roomID
	return nil
}

// Leave removes the member from its room, deleting the room when it empties.
// Leaving while in no room is a no-op.
//
// Postcondition: The member is in no room.
func (r *Registry) Leave(memberID string) LeaveResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.memberOf[memberID]
	if !ok {
		return LeaveResult{}
	}
	delete(r.memberOf, memberID)

	rm, ok := r.rooms[roomID]
	if !ok {
		return LeaveResult{}
	}
	rm.members = slices.DeleteFunc(rm.members, func(id string) bool { return id == memberID })

	res := LeaveResult{
		RoomID:    roomID,
		Remaining: slices.Clone(rm.members),
		Removed:   true,
	}
	if len(rm.members) == 0 {
		r.deleteLocked(roomID)
		res.RoomDeleted = true
	}
	return res
}

func (r *Registry) deleteLocked(roomID string) {
	delete(r.rooms, roomID)
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == roomID })
}

// Members returns the member ids of the room in join order.
//
// Postcondition: Returns (members, true), or (nil, false) when the room does not exist.
func (r *Registry) Members(roomID string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	return slices.Clone(rm.members), true
}

// RoomOf returns the room the member is in.
func (r *Registry) RoomOf(memberID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.memberOf[memberID]
	return id, ok
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Rooms returns a snapshot of every live room, oldest first.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RoomInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, RoomInfo{
			ID:       id,
			Capacity: r.capacity,
			Members:  slices.Clone(r.rooms[id].members),
		})
	}
	return out
}

// Close drops every room.
//
// Postcondition: RoomCount() == 0.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]*room)
	r.memberOf = make(map[string]string)
	r.order = nil
}
