package lifecycle

import (
	"testing"
	"time"

	"pong-engine/engine"

	"pong-platform/backend/internal/clock"
	"pong-platform/backend/internal/hub"
	"pong-platform/backend/internal/store"
)

const testAIUserID = int64(999)

func setup(t *testing.T) (*Coordinator, *engine.RoomManager) {
	s, err := store.New(store.Config{Driver: "sqlite", SQLitePath: "file::memory:?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	rooms := engine.NewRoomManager()
	h := hub.New()
	co := New(rooms, h, s, clock.Real{}, nil, testAIUserID)
	return co, rooms
}

func TestJoinMatchmakingPairsTwoWaitingUsers(t *testing.T) {
	co, rooms := setup(t)

	if err := co.JoinMatchmaking(1); err != nil {
		t.Fatal(err)
	}
	if err := co.JoinMatchmaking(2); err != nil {
		t.Fatal(err)
	}

	ids := rooms.ListRooms()
	if len(ids) != 1 {
		t.Fatalf("expected the second joiner to fill the first's room, got %d rooms", len(ids))
	}

	room, _ := rooms.GetRoom(ids[0])
	m := room.Model()
	if m.P1.UserID != 1 || m.P2.UserID != 2 {
		t.Errorf("expected room to pair users 1 and 2, got p1=%d p2=%d", m.P1.UserID, m.P2.UserID)
	}
}

func TestLeaveGameDuringWaitingCancelsRoom(t *testing.T) {
	co, rooms := setup(t)

	if err := co.JoinMatchmaking(1); err != nil {
		t.Fatal(err)
	}
	ids := rooms.ListRooms()
	roomID := ids[0]

	if err := co.LeaveGame(1); err != nil {
		t.Fatal(err)
	}

	room, _ := rooms.GetRoom(roomID)
	if room.Model().Status != "CANCELLED" {
		t.Errorf("expected room cancelled after sole waiting player leaves, got %s", room.Model().Status)
	}
	if _, ok := co.roomOf(1); ok {
		t.Error("expected user 1 to be released from userToRoom after cancelling")
	}
}

func TestJoinPrivateRejectsOwnGame(t *testing.T) {
	co, _ := setup(t)

	roomID, err := co.CreatePrivate(1)
	if err != nil {
		t.Fatal(err)
	}

	if err := co.JoinPrivate(1, roomID); err == nil {
		t.Error("expected creator joining their own private room to be rejected")
	}
}

func TestCreateLocalStartsImmediately(t *testing.T) {
	co, rooms := setup(t)

	roomID, err := co.CreateLocal(5)
	if err != nil {
		t.Fatal(err)
	}

	room, _ := rooms.GetRoom(roomID)
	if room.Model().Status != "IN_PROGRESS" {
		t.Errorf("expected local room to start immediately, got %s", room.Model().Status)
	}
}

func TestForfeitRequiresInProgress(t *testing.T) {
	co, _ := setup(t)

	roomID, err := co.CreatePrivate(1)
	if err != nil {
		t.Fatal(err)
	}
	_ = roomID

	if err := co.Forfeit(1); err == nil {
		t.Error("expected forfeit to fail before the room reaches IN_PROGRESS")
	}
}

func TestRejoinGameFailsWhenAlreadyBound(t *testing.T) {
	co, rooms := setup(t)

	roomID, err := co.CreateLocal(1)
	if err != nil {
		t.Fatal(err)
	}
	_ = rooms

	if err := co.RejoinGame(1, roomID); err == nil {
		t.Error("expected rejoin to fail for a user already bound to a room")
	}
}

func TestPumpEventsDoesNotBlockOnDisconnectedUser(t *testing.T) {
	co, rooms := setup(t)
	_, err := co.CreateLocal(1)
	if err != nil {
		t.Fatal(err)
	}
	// Gives the background pump goroutine a chance to drain the
	// game-update events without a connected Hub client.
	time.Sleep(20 * time.Millisecond)
	_ = rooms
}
