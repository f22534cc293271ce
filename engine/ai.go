package engine

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"pong-engine/models"
)

const aiDecisionPeriod = 1 * time.Second

// aiTuning holds the per-difficulty error/deadband parameters from §4.7.
type aiTuning struct {
	errorPct float64
	deadband float64
}

var aiDifficulties = map[string]aiTuning{
	"easy":   {errorPct: 0.35, deadband: 8},
	"medium": {errorPct: 0.15, deadband: 4},
	"hard":   {errorPct: 0.05, deadband: 2},
}

// AIDriver attaches a synthetic opponent to an AI Room. It has no teacher
// analog (poker has no bots); the attach/detach-with-ticker shape follows
// the same idiom the teacher uses elsewhere for periodic background work
// (internal/tournament/blinds.go's ticker loop).
type AIDriver struct {
	room   *Room
	side   models.Side
	tuning aiTuning
	rng    *rand.Rand

	mu      sync.Mutex
	stop    chan struct{}
	running bool
}

// NewAIDriver builds a driver for room, controlling side at the given
// difficulty ("easy", "medium", "hard"; unknown values fall back to medium).
func NewAIDriver(room *Room, side models.Side, difficulty string) *AIDriver {
	tuning, ok := aiDifficulties[difficulty]
	if !ok {
		tuning = aiDifficulties["medium"]
	}
	return &AIDriver{
		room:   room,
		side:   side,
		tuning: tuning,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Attach starts the decision loop. Calling it again while the loop is
// running is a no-op.
func (d *AIDriver) Attach(aiUserID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})
	stop := d.stop

	go func() {
		ticker := time.NewTicker(aiDecisionPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if d.room.Snapshot().Status != models.StatusInProgress {
					d.Detach()
					return
				}
				dir := d.decide()
				_ = d.room.ApplyInput(aiUserID, dir, 0)
			case <-stop:
				return
			}
		}
	}()
}

// Detach stops the decision loop when the room ends.
func (d *AIDriver) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	close(d.stop)
}

// decide predicts the ball's Y at the AI's goal line and returns the
// paddle move that closes the gap, per §4.7.
func (d *AIDriver) decide() models.Direction {
	snap := d.room.Snapshot()

	movingToward := (d.side == models.SideLeft && ballMovingLeft(d.room)) ||
		(d.side == models.SideRight && ballMovingRight(d.room))

	targetY := 50.0
	if movingToward {
		targetY = d.predictY()
		errAmount := (d.rng.Float64()*2 - 1) * d.tuning.errorPct * tableHeight
		targetY += errAmount
	}
	if targetY < 0 {
		targetY = 0
	}
	if targetY > tableHeight {
		targetY = tableHeight
	}

	var paddleCenter float64
	if d.side == models.SideLeft {
		paddleCenter = snap.PaddleLeft + paddleHalfLen/2
	} else {
		paddleCenter = snap.PaddleRight + paddleHalfLen/2
	}

	diff := targetY - paddleCenter
	if math.Abs(diff) <= d.tuning.deadband {
		return models.DirectionNone
	}
	if diff < 0 {
		return models.DirectionUp
	}
	return models.DirectionDown
}

func ballMovingLeft(r *Room) bool {
	_, _, vx, _ := r.BallVector()
	return vx < 0
}

func ballMovingRight(r *Room) bool {
	_, _, vx, _ := r.BallVector()
	return vx > 0
}

// predictY simulates the ball's straight-line path with wall reflections
// until it reaches the AI's goal line, returning the predicted Y.
func (d *AIDriver) predictY() float64 {
	x, y, vx, vy := d.room.BallVector()
	if vx == 0 {
		return 50
	}

	var goalX float64
	if d.side == models.SideLeft {
		goalX = leftPaddleX
	} else {
		goalX = rightPaddleX
	}

	for i := 0; i < 10000; i++ {
		if (vx < 0 && x <= goalX) || (vx > 0 && x >= goalX) {
			return y
		}
		x += vx
		y += vy
		if y < ballRadius {
			y = ballRadius
			vy = -vy
		} else if y > tableHeight-ballRadius {
			y = tableHeight - ballRadius
			vy = -vy
		}
	}
	return y
}
