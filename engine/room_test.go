package engine

import (
	"testing"
	"time"

	"pong-engine/models"
)

func newTestRoom(mode models.Mode) (*Room, *RoomManager) {
	rm := NewRoomManager()
	room, err := rm.CreateRoom(1, mode, nil, func(int64) bool { return true })
	if err != nil {
		panic(err)
	}
	return room, rm
}

func TestApplyInputRejectsNonPlayer(t *testing.T) {
	room, _ := newTestRoom(models.ModePublic)
	room.SetPlayers(10, 20)

	if err := room.ApplyInput(999, models.DirectionUp, 0); err == nil {
		t.Fatal("expected NOT_A_PLAYER error for unrelated user")
	}
}

func TestApplyInputIsIdempotent(t *testing.T) {
	room, _ := newTestRoom(models.ModePublic)
	room.SetPlayers(10, 20)

	if err := room.ApplyInput(10, models.DirectionUp, 0); err != nil {
		t.Fatal(err)
	}
	first := room.Model().P1.Direction
	if err := room.ApplyInput(10, models.DirectionUp, 0); err != nil {
		t.Fatal(err)
	}
	second := room.Model().P1.Direction
	if first != second {
		t.Errorf("expected repeated applyInput with same direction to be idempotent, got %v then %v", first, second)
	}
}

func TestLocalRoomRoutesByPlayerNumber(t *testing.T) {
	room, _ := newTestRoom(models.ModeLocal)
	room.SetPlayers(10, 0)
	room.model.P2 = &models.Slot{UserID: 10, PaddleY: 45}

	if err := room.ApplyInput(10, models.DirectionUp, 2); err != nil {
		t.Fatal(err)
	}
	if room.Model().P2.Direction != models.DirectionUp {
		t.Errorf("expected p2 direction to be set via explicit playerNumber")
	}

	if err := room.ApplyInput(10, models.DirectionDown, 3); err == nil {
		t.Error("expected invalid playerNumber to be rejected")
	}
}

func TestForfeitSetsOpponentScoreAndFinishes(t *testing.T) {
	room, _ := newTestRoom(models.ModePublic)
	room.SetPlayers(10, 20)
	if err := room.Start(); err != nil {
		t.Fatal(err)
	}

	if err := room.Forfeit(10); err != nil {
		t.Fatal(err)
	}

	snap := room.Snapshot()
	if snap.Status != models.StatusFinished {
		t.Fatalf("expected room to finish after forfeit, got status %v", snap.Status)
	}
	if snap.P2Score != winScore {
		t.Errorf("expected forfeit to award opponent %d points, got %d", winScore, snap.P2Score)
	}
}

func TestCancelOnlyAllowedBeforeInProgress(t *testing.T) {
	room, _ := newTestRoom(models.ModePublic)
	room.SetPlayers(10, 0)

	if err := room.Cancel(); err != nil {
		t.Fatal(err)
	}
	if room.Model().Status != models.StatusCancelled {
		t.Errorf("expected CANCELLED status, got %v", room.Model().Status)
	}

	room2, _ := newTestRoom(models.ModeLocal)
	room2.model.RoomID = 2
	room2.SetPlayers(10, 10)
	if err := room2.Start(); err != nil {
		t.Fatal(err)
	}
	defer room2.Stop()
	if err := room2.Cancel(); err == nil {
		t.Error("expected Cancel to fail once the room is IN_PROGRESS")
	}
}

func TestDisconnectAndRejoinClearsFlag(t *testing.T) {
	room, _ := newTestRoom(models.ModePublic)
	room.SetPlayers(10, 20)
	if err := room.Start(); err != nil {
		t.Fatal(err)
	}
	defer room.Stop()

	deadline, err := room.Disconnect(10)
	if err != nil {
		t.Fatal(err)
	}
	if !deadline.After(time.Now()) {
		t.Error("expected reconnect deadline to be in the future")
	}
	if !room.Model().P1.Disconnected {
		t.Error("expected p1 to be marked disconnected")
	}

	if err := room.Rejoin(10); err != nil {
		t.Fatal(err)
	}
	if room.Model().P1.Disconnected {
		t.Error("expected rejoin to clear the disconnected flag")
	}
}

func TestSpectateRequiresInProgress(t *testing.T) {
	room, _ := newTestRoom(models.ModePublic)
	room.SetPlayers(10, 20)

	if err := room.AddSpectator(99); err == nil {
		t.Error("expected spectate to be rejected before IN_PROGRESS")
	}

	if err := room.Start(); err != nil {
		t.Fatal(err)
	}
	defer room.Stop()
	if err := room.AddSpectator(99); err != nil {
		t.Errorf("expected spectate to succeed once IN_PROGRESS: %v", err)
	}
}

func TestRoomManagerFindWaitingPublic(t *testing.T) {
	rm := NewRoomManager()
	room, err := rm.CreateRoom(5, models.ModePublic, nil, func(int64) bool { return true })
	if err != nil {
		t.Fatal(err)
	}
	room.SetPlayers(10, 0)

	found, ok := rm.FindWaitingPublic()
	if !ok || found.Model().RoomID != 5 {
		t.Fatal("expected to find the waiting public room with an open p2 slot")
	}

	found.SetPlayers(10, 20)
	if _, ok := rm.FindWaitingPublic(); ok {
		t.Error("expected no waiting rooms once p2 is filled")
	}
}

func TestJoinSchedulesStartAndIsCancellable(t *testing.T) {
	room, _ := newTestRoom(models.ModePublic)
	room.SetPlayers(10, 0)

	if err := room.Join(20); err != nil {
		t.Fatal(err)
	}
	if room.Model().Status != models.StatusStarting {
		t.Fatalf("expected STARTING after Join, got %v", room.Model().Status)
	}

	// Cancelling during the warmup must make the scheduled start a no-op.
	room.mu.Lock()
	if room.startTimer != nil {
		room.startTimer.Stop()
	}
	room.model.Status = models.StatusCancelled
	room.mu.Unlock()

	room.beginIfStillStarting()
	if room.Model().Status != models.StatusCancelled {
		t.Errorf("expected cancelled room to stay cancelled after the deferred start fires, got %v", room.Model().Status)
	}
}
