// Package lifecycle implements the Matchmaking & Lifecycle Coordinator
// (spec §4.4): joining/leaving/reconnecting, and the userToRoom index that
// guarantees at most one room per user. Grounded on the teacher's
// internal/server/matchmaking/matchmaking.go (in-memory-queue-plus-DB
// bookkeeping, deferred countdown start) and internal/server/game/tables.go
// (registry glue between transport and the engine).
package lifecycle

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"gorm.io/gorm"

	"pong-engine/engine"
	"pong-engine/models"

	"pong-platform/backend/internal/apperrors"
	"pong-platform/backend/internal/clock"
	"pong-platform/backend/internal/hub"
	"pong-platform/backend/internal/ranking"
	"pong-platform/backend/internal/store"
)

const roomDeletionDelay = 30 * time.Second

// Coordinator owns the userToRoom index and is the only writer of Room
// membership outside a Room's own tick (§5: "mutated only through the
// Lifecycle coordinator, which must serialize commands per userId").
type Coordinator struct {
	rooms *engine.RoomManager
	hub   *hub.Hub
	store store.Store
	clock clock.Clock
	rank  *ranking.Service

	mu         sync.Mutex
	userToRoom map[int64]int64

	// userLocks serializes commands per user (one "mailbox" per user,
	// §5), implemented as a striped mutex map rather than a channel
	// actor — cheaper here since commands return synchronously.
	userLocks sync.Map // int64 -> *sync.Mutex

	rng *rand.Rand

	aiUserID int64
}

func New(rooms *engine.RoomManager, h *hub.Hub, st store.Store, c clock.Clock, rank *ranking.Service, aiUserID int64) *Coordinator {
	co := &Coordinator{
		rooms:      rooms,
		hub:        h,
		store:      st,
		clock:      c,
		rank:       rank,
		userToRoom: make(map[int64]int64),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		aiUserID:   aiUserID,
	}
	go co.pumpEvents()
	return co
}

func (co *Coordinator) userLock(userID int64) *sync.Mutex {
	l, _ := co.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// withUserLock runs fn with userID's mailbox lock held, serializing
// commands for that user per §5.
func (co *Coordinator) withUserLock(userID int64, fn func() error) error {
	l := co.userLock(userID)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// withUserPairLocked acquires both users' mailbox locks in a consistent
// lower-userId-first order, per §5's deadlock-avoidance rule for pairing
// two players into a room.
func (co *Coordinator) withUserPairLocked(a, b int64, fn func() error) error {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	l1, l2 := co.userLock(first), co.userLock(second)
	l1.Lock()
	defer l1.Unlock()
	if l1 != l2 {
		l2.Lock()
		defer l2.Unlock()
	}
	return fn()
}

func (co *Coordinator) bindLocked(userID, roomID int64) {
	co.mu.Lock()
	co.userToRoom[userID] = roomID
	co.mu.Unlock()
}

func (co *Coordinator) unbind(userID int64) {
	co.mu.Lock()
	delete(co.userToRoom, userID)
	co.mu.Unlock()
}

func (co *Coordinator) roomOf(userID int64) (int64, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	id, ok := co.userToRoom[userID]
	return id, ok
}

// isBound is passed to every Room as its tick-loop membership check
// (§4.2 step 3).
func (co *Coordinator) isBound(roomID int64) func(int64) bool {
	return func(userID int64) bool {
		id, ok := co.roomOf(userID)
		return ok && id == roomID
	}
}

func (co *Coordinator) newRoomID() int64 {
	for {
		id := int64(co.rng.Intn(1_000_000)) + 1
		if _, exists := co.rooms.GetRoom(id); !exists {
			return id
		}
	}
}

// JoinMatchmaking implements §4.4's joinMatchmaking.
func (co *Coordinator) JoinMatchmaking(userID int64) error {
	return co.withUserLock(userID, func() error {
		if _, ok := co.roomOf(userID); ok {
			if err := co.leaveGameLocked(userID); err != nil {
				return err
			}
		}

		if waiting, ok := co.rooms.FindWaitingPublic(); ok {
			other := waiting.Model().P1.UserID
			return co.withUserPairLocked(userID, other, func() error {
				if err := waiting.Join(userID); err != nil {
					return err
				}
				co.bindLocked(userID, waiting.Model().RoomID)
				co.hub.SetStatus(userID, hub.StatusInGame)
				co.hub.SetStatus(other, hub.StatusInGame)
				co.hub.EmitToUser(userID, "game-starting", waiting.Snapshot())
				co.hub.EmitToUser(other, "game-starting", waiting.Snapshot())
				return nil
			})
		}

		roomID := co.newRoomID()
		room, err := co.rooms.CreateRoom(roomID, models.ModePublic, co.onRoomEnd, co.isBound(roomID))
		if err != nil {
			return err
		}
		room.SetPlayers(userID, 0)
		co.bindLocked(userID, roomID)
		return nil
	})
}

// CreatePrivate implements §4.4's createPrivate.
func (co *Coordinator) CreatePrivate(userID int64) (int64, error) {
	var roomID int64
	err := co.withUserLock(userID, func() error {
		if _, ok := co.roomOf(userID); ok {
			return apperrors.ErrAlreadyInGame
		}
		roomID = co.newRoomID()
		room, err := co.rooms.CreateRoom(roomID, models.ModePrivate, co.onRoomEnd, co.isBound(roomID))
		if err != nil {
			return err
		}
		room.SetPlayers(userID, 0)
		co.bindLocked(userID, roomID)
		return nil
	})
	return roomID, err
}

// JoinPrivate implements §4.4's joinPrivate.
func (co *Coordinator) JoinPrivate(userID, roomID int64) error {
	return co.withUserLock(userID, func() error {
		if _, ok := co.roomOf(userID); ok {
			return apperrors.ErrOwnGame
		}
		room, exists := co.rooms.GetRoom(roomID)
		if !exists {
			return apperrors.ErrGameNotFound
		}
		m := room.Model()
		if m.Mode != models.ModePrivate {
			return apperrors.ErrNotPrivate
		}
		if m.P1 != nil && m.P1.UserID == userID {
			return apperrors.ErrOwnGame
		}
		if m.Status != models.StatusWaiting && m.Status != models.StatusStarting {
			return apperrors.ErrUnavailable
		}
		if m.P2 != nil {
			return apperrors.ErrFull
		}
		creatorID := m.P1.UserID
		return co.withUserPairLocked(userID, creatorID, func() error {
			if err := room.Join(userID); err != nil {
				return apperrors.ErrFull
			}
			co.bindLocked(userID, roomID)
			co.hub.SetStatus(userID, hub.StatusInGame)
			co.hub.SetStatus(creatorID, hub.StatusInGame)
			co.hub.EmitToUser(userID, "game-starting", room.Snapshot())
			co.hub.EmitToUser(creatorID, "game-starting", room.Snapshot())
			return nil
		})
	})
}

// CreateLocal implements §4.4's createLocal; skips the matchmaking queue
// and both sides are the same userId.
func (co *Coordinator) CreateLocal(userID int64) (int64, error) {
	var roomID int64
	err := co.withUserLock(userID, func() error {
		if _, ok := co.roomOf(userID); ok {
			return apperrors.ErrAlreadyInGame
		}
		roomID = co.newRoomID()
		room, err := co.rooms.CreateRoom(roomID, models.ModeLocal, co.onRoomEnd, co.isBound(roomID))
		if err != nil {
			return err
		}
		room.SetPlayers(userID, userID)
		co.bindLocked(userID, roomID)
		if err := room.Start(); err != nil {
			return err
		}
		return nil
	})
	return roomID, err
}

// CreateAIGame implements §4.4's createAIGame: the AI occupies a
// randomly chosen side, and an AI Driver (§4.7) is attached on start.
func (co *Coordinator) CreateAIGame(userID int64, difficulty string) (int64, error) {
	var roomID int64
	err := co.withUserLock(userID, func() error {
		if _, ok := co.roomOf(userID); ok {
			return apperrors.ErrAlreadyInGame
		}
		roomID = co.newRoomID()
		room, err := co.rooms.CreateRoom(roomID, models.ModeAI, co.onRoomEnd, co.isBound(roomID))
		if err != nil {
			return err
		}

		aiSide := models.SideRight
		if co.rng.Intn(2) == 0 {
			aiSide = models.SideLeft
		}
		if aiSide == models.SideLeft {
			room.SetPlayers(co.aiUserID, userID)
		} else {
			room.SetPlayers(userID, co.aiUserID)
		}
		room.Model().AISide = aiSide
		room.Model().Difficulty = difficulty

		co.bindLocked(userID, roomID)
		if err := room.Start(); err != nil {
			return err
		}

		driver := engine.NewAIDriver(room, aiSide, difficulty)
		driver.Attach(co.aiUserID)
		return nil
	})
	return roomID, err
}

// CreateTournamentGame implements §4.4's createTournamentGame: bypasses
// queueing, both sides pre-filled, and a Store row is written immediately
// (id = RoomId) so the Orchestrator can find the linkage later.
func (co *Coordinator) CreateTournamentGame(p1ID, p2ID int64, tournamentID string, round int, matchID string) (int64, error) {
	roomID := co.newRoomID()
	room, err := co.rooms.CreateRoom(roomID, models.ModeTournament, co.onRoomEnd, co.isBound(roomID))
	if err != nil {
		return 0, err
	}
	room.SetPlayers(p1ID, p2ID)
	room.Model().Tournament = &models.TournamentLink{TournamentID: tournamentID, Round: round, MatchID: matchID}

	if err := co.store.CreateGame(&store.Game{
		ID:           roomID,
		Mode:         string(models.ModeTournament),
		P1ID:         p1ID,
		P2ID:         p2ID,
		TournamentID: &tournamentID,
		Round:        round,
		MatchID:      &matchID,
		CreatedAt:    time.Now(),
	}); err != nil {
		log.Printf("[LIFECYCLE] failed to pre-create tournament game row for room %d: %v", roomID, err)
	}

	_ = co.withUserPairLocked(p1ID, p2ID, func() error {
		co.bindLocked(p1ID, roomID)
		co.bindLocked(p2ID, roomID)
		co.hub.SetStatus(p1ID, hub.StatusInGame)
		co.hub.SetStatus(p2ID, hub.StatusInGame)
		return nil
	})

	if err := room.Start(); err != nil {
		return 0, err
	}
	return roomID, nil
}

// LeaveGame implements §4.4's leave/forfeit/disconnect semantics for an
// explicit leaveGame command.
func (co *Coordinator) LeaveGame(userID int64) error {
	return co.withUserLock(userID, func() error {
		return co.leaveGameLocked(userID)
	})
}

func (co *Coordinator) leaveGameLocked(userID int64) error {
	roomID, ok := co.roomOf(userID)
	if !ok {
		return apperrors.ErrNotInGame
	}
	room, exists := co.rooms.GetRoom(roomID)
	if !exists {
		co.unbind(userID)
		return nil
	}

	m := room.Model()
	switch m.Status {
	case models.StatusWaiting, models.StatusStarting:
		if err := room.Cancel(); err != nil {
			return err
		}
		co.unbind(userID)
		if m.P1 != nil && m.P1.UserID != userID {
			co.unbind(m.P1.UserID)
			co.hub.EmitToUser(m.P1.UserID, "game-cancelled", nil)
		}
		if m.P2 != nil && m.P2.UserID != userID {
			co.unbind(m.P2.UserID)
			co.hub.EmitToUser(m.P2.UserID, "game-cancelled", nil)
		}
		return nil

	case models.StatusInProgress:
		deadline, err := room.Disconnect(userID)
		if err != nil {
			return err
		}
		co.unbind(userID)
		co.hub.SetStatus(userID, hub.StatusOnline)

		var opponentID int64
		if m.P1 != nil && m.P1.UserID == userID && m.P2 != nil {
			opponentID = m.P2.UserID
		} else if m.P2 != nil && m.P2.UserID == userID && m.P1 != nil {
			opponentID = m.P1.UserID
		}
		co.hub.EmitToUser(userID, "game-update", map[string]interface{}{"reconnectDeadline": deadline})
		if opponentID != 0 {
			co.hub.EmitToUser(opponentID, "opponent-disconnected", map[string]interface{}{"reconnectDeadline": deadline})
		}
		return nil

	default:
		return apperrors.ErrNotInGame
	}
}

// Forfeit implements §4.4's explicit forfeit command.
func (co *Coordinator) Forfeit(userID int64) error {
	return co.withUserLock(userID, func() error {
		roomID, ok := co.roomOf(userID)
		if !ok {
			return apperrors.ErrNotInGame
		}
		room, exists := co.rooms.GetRoom(roomID)
		if !exists {
			return apperrors.ErrGameNotFound
		}
		return room.Forfeit(userID)
	})
}

// ForfeitRoom ends roomID by forfeit regardless of caller, for
// server-initiated termination (tournament cancellation, §4.6: "active
// matches end via Room Engine forfeit") rather than a player's own
// forfeit command. Forfeiting P1's slot is enough to end the room —
// endGameLocked fires the same onRoomEnd callback either side's
// forfeit would.
func (co *Coordinator) ForfeitRoom(roomID int64) error {
	room, exists := co.rooms.GetRoom(roomID)
	if !exists {
		return apperrors.ErrGameNotFound
	}
	m := room.Model()
	if m.P1 == nil {
		return apperrors.ErrGameNotFound
	}
	return room.Forfeit(m.P1.UserID)
}

// RejoinGame implements §4.4's rejoinGame, only valid within the
// reconnect window and only if the user isn't bound elsewhere.
func (co *Coordinator) RejoinGame(userID, roomID int64) error {
	return co.withUserLock(userID, func() error {
		if _, ok := co.roomOf(userID); ok {
			return apperrors.ErrAlreadyInGame
		}
		room, exists := co.rooms.GetRoom(roomID)
		if !exists {
			return apperrors.ErrGameNotFound
		}
		if err := room.Rejoin(userID); err != nil {
			return err
		}
		co.bindLocked(userID, roomID)
		co.hub.SetStatus(userID, hub.StatusInGame)

		m := room.Model()
		var opponentID int64
		if m.P1 != nil && m.P1.UserID == userID && m.P2 != nil {
			opponentID = m.P2.UserID
		} else if m.P2 != nil && m.P2.UserID == userID && m.P1 != nil {
			opponentID = m.P1.UserID
		}
		if opponentID != 0 {
			co.hub.EmitToUser(opponentID, "opponent-reconnected", nil)
		}
		return nil
	})
}

// Spectate implements §6's game:spectate (IN_PROGRESS only).
func (co *Coordinator) Spectate(userID, roomID int64) error {
	room, exists := co.rooms.GetRoom(roomID)
	if !exists {
		return apperrors.ErrGameNotFound
	}
	return room.AddSpectator(userID)
}

// onRoomEnd is invoked once a Room finishes (§4.3 steps (e)-(i)): persist
// the game, update ranking, notify the tournament orchestrator, release
// both users, and schedule room deletion 30s later.
func (co *Coordinator) onRoomEnd(result models.EndResult) {
	game := &store.Game{
		ID:       result.RoomID,
		Mode:     string(result.Mode),
		P1ID:     result.P1ID,
		P2ID:     result.P2ID,
		P1Score:  result.P1Score,
		P2Score:  result.P2Score,
		WinnerID: result.WinnerID,
		Forfeit:  result.Forfeit,
	}
	now := time.Now()
	game.FinishedAt = &now

	rankable := result.Mode == models.ModePublic || result.Mode == models.ModeTournament
	var tRound, tTotal int
	if result.Tournament != nil {
		tRound = result.Tournament.Round
		if t, err := co.store.GetTournament(result.Tournament.TournamentID); err == nil {
			tTotal = t.TotalRounds
		}
		tournamentID, matchID := result.Tournament.TournamentID, result.Tournament.MatchID
		game.TournamentID, game.MatchID, game.Round = &tournamentID, &matchID, tRound
	}

	err := co.store.RecordGameResult(game, func(tx *gorm.DB) error {
		if !rankable || co.rank == nil {
			return nil
		}
		return co.rank.ApplyResult(tx, ranking.Result{
			WinnerID:    result.WinnerID,
			LoserID:     result.LoserID,
			WinnerIsAI:  result.WinnerID == co.aiUserID,
			LoserIsAI:   result.LoserID == co.aiUserID,
			GameID:      result.RoomID,
			Round:       tRound,
			TotalRounds: tTotal,
		})
	})
	if err != nil {
		// Transient per §7: persistence failure is logged, the game has
		// already terminated for clients, and we still proceed to
		// release the users.
		log.Printf("[LIFECYCLE] failed to record game result for room %d: %v", result.RoomID, err)
	} else if rankable && co.rank != nil {
		if err := co.rank.RecomputeRanks(); err != nil {
			log.Printf("[LIFECYCLE] failed to recompute ranks after room %d: %v", result.RoomID, err)
		}
	}

	if result.Tournament != nil {
		co.hub.Publish("tournament:game-ended", result.WinnerID, result)
	}

	for _, uid := range []int64{result.WinnerID, result.LoserID} {
		if uid == 0 || uid == co.aiUserID {
			continue
		}
		co.unbind(uid)
		co.hub.SetStatus(uid, hub.StatusOnline)
	}

	roomID := result.RoomID
	co.clock.AfterFunc(roomDeletionDelay, func() {
		if err := co.rooms.DestroyRoom(roomID); err != nil {
			log.Printf("[LIFECYCLE] failed to destroy room %d: %v", roomID, err)
		}
	})
}

// pumpEvents drains the RoomManager's fan-out channel and forwards each
// event to the room's players and spectators, per §4.1's "non-blocking;
// never holds a room lock across a send". Every recipient is gated by
// co.roomOf(userID) == event.RoomID (§4.4: "stale callbacks for users who
// moved on must be dropped") — a user who left an IN_PROGRESS room and
// rebound elsewhere via JoinMatchmaking must not keep receiving the old
// room's game-update/game-ended events.
func (co *Coordinator) pumpEvents() {
	for event := range co.rooms.Events() {
		room, exists := co.rooms.GetRoom(event.RoomID)
		if !exists {
			continue
		}
		m := room.Model()
		if m.P1 != nil && co.stillBound(m.P1.UserID, event.RoomID) {
			co.hub.EmitToUser(m.P1.UserID, event.Event, event.Data)
		}
		if m.P2 != nil && m.Mode != models.ModeLocal && co.stillBound(m.P2.UserID, event.RoomID) {
			co.hub.EmitToUser(m.P2.UserID, event.Event, event.Data)
		}
		// Spectators aren't tracked in userToRoom (Spectate never binds
		// them — a user can watch a room while still bound elsewhere),
		// so the stale-binding gate above doesn't apply to them.
		for spectatorID := range m.Spectators {
			co.hub.EmitToUser(spectatorID, event.Event, event.Data)
		}
	}
}

// stillBound reports whether userID's current userToRoom binding is still
// roomID, used to drop stale event deliveries for users who have since
// left or rebound (§4.4).
func (co *Coordinator) stillBound(userID, roomID int64) bool {
	id, ok := co.roomOf(userID)
	return ok && id == roomID
}
