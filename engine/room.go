package engine

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"pong-engine/models"
)

const (
	tickPeriod      = 10 * time.Millisecond
	startupDelay    = 3 * time.Second
	reconnectWindow = 30 * time.Second
)

// Room is the per-game authoritative actor. It is the sole mutator of its
// own state: every exported method takes mu before touching the model, and
// the tick goroutine is the only other reader/writer, serialized behind
// the same mutex. This mirrors the teacher's Game (engine/game.go): a
// plain mutex around every mutating method rather than a channel/mailbox
// actor, with time.Timer/time.Ticker driving scheduled and periodic work.
type Room struct {
	model *models.Room

	mu sync.Mutex

	rng *rand.Rand

	onEvent func(models.Event)
	onEnd   func(models.EndResult)

	// isBound reports whether userID is still mapped to this room in the
	// Lifecycle coordinator's userToRoom index. Consulted by the tick loop
	// (§4.2 step 3) so a room whose both players moved on can finalize
	// without the Room needing to own that index itself.
	isBound func(userID int64) bool

	startTimer *time.Timer
	tickStop   chan struct{}
	ticking    bool
	ended      bool
}

// NewRoom constructs a Room in WAITING status for roomID/mode. onEvent and
// onEnd mirror the teacher's onTimeout/onEvent callback-injection pattern
// (engine/table.go's NewTable), keeping Room free of Hub/Store/Lifecycle
// imports.
func NewRoom(roomID int64, mode models.Mode, onEvent func(models.Event), onEnd func(models.EndResult), isBound func(int64) bool) *Room {
	return &Room{
		model: &models.Room{
			RoomID:     roomID,
			Mode:       mode,
			Status:     models.StatusWaiting,
			P1:         &models.Slot{PaddleY: 45},
			BallX:      50,
			BallY:      50,
			CreatedAt:  time.Now(),
			Spectators: make(map[int64]bool),
		},
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		onEvent: onEvent,
		onEnd:   onEnd,
		isBound: isBound,
	}
}

func (r *Room) emit(event string, data interface{}) {
	if r.onEvent != nil {
		r.onEvent(models.Event{Event: event, RoomID: r.model.RoomID, Data: data})
	}
}

// SetPlayers fills p1/p2 for rooms created with both sides already known
// (private/local/AI/tournament). joinMatchmaking instead fills p2 via Join.
func (r *Room) SetPlayers(p1, p2 int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model.P1 = &models.Slot{UserID: p1, PaddleY: 45}
	if p2 != 0 {
		r.model.P2 = &models.Slot{UserID: p2, PaddleY: 45}
	}
}

// Join fills the p2 slot of a WAITING public room and schedules the
// startup countdown, mirroring matchmaking.go's "ready_to_start_at"
// deferred-start pattern (here via time.AfterFunc rather than a DB
// timestamp, since this layer holds no DB handle).
func (r *Room) Join(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.model.Status != models.StatusWaiting {
		return fmt.Errorf("room unavailable")
	}
	if r.model.P2 != nil {
		return fmt.Errorf("room full")
	}
	r.model.P2 = &models.Slot{UserID: userID, PaddleY: 45}
	r.model.Status = models.StatusStarting
	r.emit("game-starting", nil)

	r.startTimer = time.AfterFunc(startupDelay, func() {
		r.beginIfStillStarting()
	})
	return nil
}

func (r *Room) beginIfStillStarting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model.Status != models.StatusStarting {
		// Cancelled or already moved on during the 3s warmup: no-op, per §5.
		return
	}
	r.startGameLocked()
}

// Start forces the STARTING→IN_PROGRESS transition immediately (used for
// LOCAL/AI/tournament rooms, which skip the matchmaking countdown).
func (r *Room) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model.Status != models.StatusWaiting && r.model.Status != models.StatusStarting {
		return fmt.Errorf("room not startable")
	}
	r.startGameLocked()
	return nil
}

func (r *Room) startGameLocked() {
	now := time.Now()
	r.model.Status = models.StatusInProgress
	r.model.StartedAt = &now
	r.serveLocked()
	r.startTickLocked()
}

func (r *Room) startTickLocked() {
	if r.ticking {
		return
	}
	r.ticking = true
	r.tickStop = make(chan struct{})
	stop := r.tickStop
	go func() {
		ticker := time.NewTicker(tickPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.tick()
			case <-stop:
				return
			}
		}
	}()
}

func (r *Room) stopTickLocked() {
	if r.ticking && r.tickStop != nil {
		close(r.tickStop)
		r.ticking = false
	}
}

// serveLocked resets the ball to center with a random angle/sign, per
// §4.2 step 8 and the re-serve branch of step 5.
func (r *Room) serveLocked() {
	r.model.BallX = tableWidth / 2
	r.model.BallY = tableHeight / 2
	angle := (r.rng.Float64()*2 - 1) * math.Pi / 6
	sign := 1.0
	if r.rng.Intn(2) == 0 {
		sign = -1.0
	}
	r.model.Speed = initialSpeed
	r.model.BallVX = sign * r.model.Speed * math.Cos(angle)
	r.model.BallVY = r.model.Speed * math.Sin(angle)
}

// ApplyInput sets the requesting player's paddle direction. Only the slot
// owner may move their own paddle; LOCAL rooms accept an explicit
// playerNumber from the single owner of both sides.
func (r *Room) ApplyInput(userID int64, dir models.Direction, playerNumber int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	side, err := r.resolveSideLocked(userID, playerNumber)
	if err != nil {
		return err
	}
	switch side {
	case models.SideLeft:
		r.model.P1.Direction = dir
	case models.SideRight:
		r.model.P2.Direction = dir
	}
	return nil
}

func (r *Room) resolveSideLocked(userID int64, playerNumber int) (models.Side, error) {
	if r.model.Mode == models.ModeLocal {
		if r.model.P1 == nil || userID != r.model.P1.UserID {
			return 0, fmt.Errorf("NOT_A_PLAYER")
		}
		switch playerNumber {
		case 1:
			return models.SideLeft, nil
		case 2:
			return models.SideRight, nil
		default:
			return 0, fmt.Errorf("NOT_A_PLAYER")
		}
	}
	if r.model.P1 != nil && r.model.P1.UserID == userID {
		return models.SideLeft, nil
	}
	if r.model.P2 != nil && r.model.P2.UserID == userID {
		return models.SideRight, nil
	}
	return 0, fmt.Errorf("NOT_A_PLAYER")
}

// Snapshot produces the wire-ready GameState (§4.2 snapshot()).
func (r *Room) Snapshot() models.GameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() models.GameState {
	gs := models.GameState{
		GameID: r.model.RoomID,
		BallX:  r.model.BallX,
		BallY:  r.model.BallY,
		Status: r.model.Status,
	}
	if r.model.P1 != nil {
		gs.P1Score = r.model.P1.Score
		gs.PaddleLeft = r.model.P1.PaddleY
	}
	if r.model.P2 != nil {
		gs.P2Score = r.model.P2.Score
		gs.PaddleRight = r.model.P2.PaddleY
	}
	return gs
}

// BallVector returns the ball's current position and velocity under the
// room lock, for the AI Driver's own goroutine to read safely instead of
// racing the tick loop's stepBallLocked mutations (§5).
func (r *Room) BallVector() (x, y, vx, vy float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.model.BallX, r.model.BallY, r.model.BallVX, r.model.BallVY
}

// Model returns the live model pointer for read-only inspection by the
// Lifecycle coordinator (mode, tournament linkage, RoomID). Callers must
// not mutate fields directly; all mutation goes through Room's methods.
func (r *Room) Model() *models.Room {
	return r.model
}

// tick runs one 10ms simulation step, §4.2.
func (r *Room) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.model.Status != models.StatusInProgress {
		r.stopTickLocked()
		return
	}

	r.applyReconnectTimeoutsLocked()

	if r.model.Status == models.StatusFinished {
		return
	}

	if r.bothUnboundLocked() {
		r.finishLocked(models.EndResult{}, false)
		return
	}

	r.movePaddlesLocked()
	r.stepBallLocked()

	r.emit("game-update", r.snapshotLocked())

	if r.model.P1.Score >= winScore || r.model.P2.Score >= winScore {
		r.endGameLocked(false)
	}
}

func (r *Room) applyReconnectTimeoutsLocked() {
	now := time.Now()
	for _, slot := range []*models.Slot{r.model.P1, r.model.P2} {
		if slot == nil || !slot.Disconnected || slot.DisconnectedAt == nil {
			continue
		}
		if now.Sub(*slot.DisconnectedAt) >= reconnectWindow {
			r.forfeitSlotLocked(slot)
		}
	}
}

func (r *Room) forfeitSlotLocked(loser *models.Slot) {
	if r.model.P1 == loser && r.model.P2 != nil {
		r.model.P2.Score = winScore
	} else if r.model.P2 == loser && r.model.P1 != nil {
		r.model.P1.Score = winScore
	}
	r.endGameLocked(true)
}

func (r *Room) bothUnboundLocked() bool {
	if r.isBound == nil {
		return false
	}
	if r.model.Mode == models.ModeLocal {
		return !r.isBound(r.model.P1.UserID)
	}
	p1Gone := r.model.P1 == nil || !r.isBound(r.model.P1.UserID)
	p2Gone := r.model.P2 == nil || !r.isBound(r.model.P2.UserID)
	return p1Gone && p2Gone
}

func (r *Room) movePaddlesLocked() {
	if r.model.P1 != nil && !r.model.P1.Disconnected {
		newY, _ := movePaddle(r.model.P1.PaddleY, int(r.model.P1.Direction))
		r.model.P1.PrevPaddleY = r.model.P1.PaddleY
		r.model.P1.PaddleY = newY
	}
	if r.model.P2 != nil && !r.model.P2.Disconnected {
		newY, _ := movePaddle(r.model.P2.PaddleY, int(r.model.P2.Direction))
		r.model.P2.PrevPaddleY = r.model.P2.PaddleY
		r.model.P2.PaddleY = newY
	}
}

func (r *Room) stepBallLocked() {
	r.model.BallVX *= decay
	r.model.BallVY *= decay
	r.model.Speed *= decay

	mag := math.Hypot(r.model.BallVX, r.model.BallVY)
	if mag < minSpeedRestart {
		r.serveLocked()
		return
	}

	prevX := r.model.BallX
	newX := r.model.BallX + r.model.BallVX
	newY := r.model.BallY + r.model.BallVY

	if newY < ballRadius {
		newY = ballRadius
		r.model.BallVY = -r.model.BallVY
	} else if newY > tableHeight-ballRadius {
		newY = tableHeight - ballRadius
		r.model.BallVY = -r.model.BallVY
	}

	r.model.PrevBallX = prevX

	if r.model.BallVX < 0 {
		if crossed, _, t := sweptCrossing(prevX, newX, leftPaddleX, false); crossed && r.model.P1 != nil {
			hitY := lerp(r.model.BallY, newY, t)
			if withinPaddleSpan(hitY, r.model.P1.PaddleY) {
				r.applyPaddleCollisionLocked(r.model.P1, hitY, 1, leftPaddleX+paddleWidth)
				return
			}
		}
	} else if r.model.BallVX > 0 {
		if crossed, _, t := sweptCrossing(prevX, newX, rightPaddleX, true); crossed && r.model.P2 != nil {
			hitY := lerp(r.model.BallY, newY, t)
			if withinPaddleSpan(hitY, r.model.P2.PaddleY) {
				r.applyPaddleCollisionLocked(r.model.P2, hitY, -1, rightPaddleX-paddleWidth)
				return
			}
		}
	}

	r.model.BallX = newX
	r.model.BallY = newY

	if newX < -ballRadius {
		r.scoreLocked(r.model.P2)
	} else if newX > tableWidth+ballRadius {
		r.scoreLocked(r.model.P1)
	}
}

func (r *Room) applyPaddleCollisionLocked(paddle *models.Slot, hitY float64, dir int, repositionX float64) {
	r.model.BallY = hitY
	r.model.BallX = repositionX

	r.model.Speed = math.Min(r.model.Speed*speedGain+math.Abs(paddle.PaddleY-paddle.PrevPaddleY)*momentumGain, maxSpeed)
	if r.model.Speed < initialSpeed {
		r.model.Speed = initialSpeed
	}

	hit := normalizedHit(hitY, paddle.PaddleY)
	angle := bounceAngle(hit)
	paddleVel := paddle.PaddleY - paddle.PrevPaddleY

	vx := float64(dir) * r.model.Speed * math.Cos(angle)
	vy := r.model.Speed*math.Sin(angle) + paddleVel*0.2
	noise := (r.rng.Float64()*2 - 1) * noiseRange
	vy += noise

	if math.Abs(vx) < minSpeedRestart {
		vx = float64(dir) * initialSpeed
	}

	r.model.BallVX = vx
	r.model.BallVY = vy
}

func (r *Room) scoreLocked(scorer *models.Slot) {
	if scorer != nil {
		scorer.Score++
	}
	r.serveLocked()
}

func (r *Room) endGameLocked(forfeit bool) {
	r.finishLocked(models.EndResult{}, forfeit)
}

// finishLocked executes §4.3 steps (a)-(d): cancel timer, mark FINISHED,
// compute winner/loser, emit game-ended. Steps (e)-(i) are the caller's
// (Lifecycle's) responsibility once onEnd fires, per the spec's ordering
// requirement that clients observe terminal state before stats update.
func (r *Room) finishLocked(_ models.EndResult, forfeit bool) {
	if r.ended {
		return
	}
	r.ended = true
	r.stopTickLocked()
	if r.startTimer != nil {
		r.startTimer.Stop()
	}
	r.model.Status = models.StatusFinished

	result := models.EndResult{
		RoomID:     r.model.RoomID,
		Mode:       r.model.Mode,
		Tournament: r.model.Tournament,
		Forfeit:    forfeit,
	}
	if r.model.P1 != nil {
		result.P1ID, result.P1Score = r.model.P1.UserID, r.model.P1.Score
	}
	if r.model.P2 != nil {
		result.P2ID, result.P2Score = r.model.P2.UserID, r.model.P2.Score
	}
	if r.model.P1 != nil && r.model.P2 != nil {
		if r.model.P1.Score > r.model.P2.Score {
			result.WinnerID, result.LoserID = r.model.P1.UserID, r.model.P2.UserID
			result.WinnerScore, result.LoserScore = r.model.P1.Score, r.model.P2.Score
		} else {
			result.WinnerID, result.LoserID = r.model.P2.UserID, r.model.P1.UserID
			result.WinnerScore, result.LoserScore = r.model.P2.Score, r.model.P1.Score
		}
	}

	r.emit("game-ended", result)
	log.Printf("[ROOM] room %d finished (forfeit=%v winner=%d)", r.model.RoomID, forfeit, result.WinnerID)

	if r.onEnd != nil {
		r.onEnd(result)
	}
}

// Forfeit is the explicit, immediate forfeit command (§4.4).
func (r *Room) Forfeit(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.model.Status != models.StatusInProgress {
		return fmt.Errorf("NOT_IN_GAME")
	}
	side, err := r.resolveSideLocked(userID, 0)
	if err != nil {
		return err
	}
	if side == models.SideLeft {
		r.forfeitSlotLocked(r.model.P1)
	} else {
		r.forfeitSlotLocked(r.model.P2)
	}
	return nil
}

// Disconnect marks userID's slot disconnected, entering reconnection mode
// (§4.4). Returns the reconnect deadline.
func (r *Room) Disconnect(userID int64) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var slot *models.Slot
	if r.model.P1 != nil && r.model.P1.UserID == userID {
		slot = r.model.P1
	} else if r.model.P2 != nil && r.model.P2.UserID == userID {
		slot = r.model.P2
	} else {
		return time.Time{}, fmt.Errorf("NOT_A_PLAYER")
	}
	now := time.Now()
	slot.Disconnected = true
	slot.DisconnectedAt = &now
	deadline := now.Add(reconnectWindow)
	return deadline, nil
}

// Rejoin clears a slot's disconnected flag, per §4.4's reconnection path.
func (r *Room) Rejoin(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.model.Status != models.StatusInProgress {
		return fmt.Errorf("UNAVAILABLE")
	}
	var slot *models.Slot
	if r.model.P1 != nil && r.model.P1.UserID == userID {
		slot = r.model.P1
	} else if r.model.P2 != nil && r.model.P2.UserID == userID {
		slot = r.model.P2
	} else {
		return fmt.Errorf("NOT_A_PLAYER")
	}
	if !slot.Disconnected {
		return nil
	}
	slot.Disconnected = false
	slot.DisconnectedAt = nil
	return nil
}

// Cancel transitions a WAITING/STARTING room straight to CANCELLED
// (leaveGame during matchmaking, §4.4).
func (r *Room) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model.Status != models.StatusWaiting && r.model.Status != models.StatusStarting {
		return fmt.Errorf("UNAVAILABLE")
	}
	if r.startTimer != nil {
		r.startTimer.Stop()
	}
	r.model.Status = models.StatusCancelled
	r.emit("game-cancelled", nil)
	return nil
}

// AddSpectator registers userID on the room's spectator channel. Only
// valid once the room is IN_PROGRESS, per §6's game:spectate contract.
func (r *Room) AddSpectator(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model.Status != models.StatusInProgress {
		return fmt.Errorf("UNAVAILABLE")
	}
	r.model.Spectators[userID] = true
	return nil
}

// Stop cancels all timers without running the end-of-game sequence; used
// by RoomManager when evicting a terminal room after its 30s grace period.
func (r *Room) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTickLocked()
	if r.startTimer != nil {
		r.startTimer.Stop()
	}
}
