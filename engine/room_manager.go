package engine

import (
	"fmt"
	"sync"

	"pong-engine/models"
)

// RoomManager is a registry of live Rooms guarded by an RWMutex, with a
// buffered event fan-out channel. Adapted directly from the teacher's
// TableManager (engine/table_manager.go).
type RoomManager struct {
	rooms        map[int64]*Room
	mu           sync.RWMutex
	eventChannel chan models.Event
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:        make(map[int64]*Room),
		eventChannel: make(chan models.Event, 256),
	}
}

// CreateRoom registers a new Room under roomID, wiring its onEvent
// callback to the manager's fan-out channel and onEnd to the caller's
// end-of-game handler (the Lifecycle coordinator).
func (rm *RoomManager) CreateRoom(roomID int64, mode models.Mode, onEnd func(models.EndResult), isBound func(int64) bool) (*Room, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.rooms[roomID]; exists {
		return nil, fmt.Errorf("room already exists")
	}

	onEvent := func(event models.Event) {
		select {
		case rm.eventChannel <- event:
		default:
		}
	}

	room := NewRoom(roomID, mode, onEvent, onEnd, isBound)
	rm.rooms[roomID] = room
	return room, nil
}

func (rm *RoomManager) GetRoom(roomID int64) (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	room, exists := rm.rooms[roomID]
	return room, exists
}

// DestroyRoom stops a Room's timers and removes it from the registry.
// Called 30s after a terminal state per §3's Room lifecycle.
func (rm *RoomManager) DestroyRoom(roomID int64) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, exists := rm.rooms[roomID]
	if !exists {
		return fmt.Errorf("room not found")
	}
	room.Stop()
	delete(rm.rooms, roomID)
	return nil
}

// ListRooms returns every live room's ID, for diagnostics and recovery.
func (rm *RoomManager) ListRooms() []int64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	ids := make([]int64, 0, len(rm.rooms))
	for id := range rm.rooms {
		ids = append(ids, id)
	}
	return ids
}

// FindWaitingPublic scans for the first WAITING PUBLIC room with an open
// p2 slot, for joinMatchmaking's pairing step (§4.4). O(n) linear scan
// mirrors the teacher's queue-scan style in matchmaking.go; acceptable at
// core-scope (single process, no horizontal scale per spec Non-goals).
func (rm *RoomManager) FindWaitingPublic() (*Room, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for _, room := range rm.rooms {
		m := room.Model()
		if m.Mode == models.ModePublic && m.Status == models.StatusWaiting && m.P2 == nil {
			return room, true
		}
	}
	return nil, false
}

func (rm *RoomManager) Events() <-chan models.Event {
	return rm.eventChannel
}
