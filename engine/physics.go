package engine

import "math"

// Physics constants per spec §4.2, the newer/more robust branch per the
// spec's own resolution of the source's two diverging parameter sets.
const (
	tableWidth  = 100.0
	tableHeight = 100.0
	ballRadius  = 1.5

	paddleSpeed   = 1.0
	paddleMin     = 0.0
	paddleMax     = 90.0
	paddleHalfLen = 10.0 // full vertical length of a paddle (top at paddleY), for collision span

	decay           = 0.9995
	minSpeedRestart = 0.1
	initialSpeed    = 0.35
	maxSpeed        = 1.2
	speedGain       = 1.08
	momentumGain    = 0.4
	tolerance       = 3.0

	leftPaddleX  = 4.0
	rightPaddleX = 96.0
	paddleWidth  = 1.0
	aspectRatio  = 16.0 / 9.0

	spinFactor = 0.8
	noiseRange = 0.01

	winScore = 11
)

// clampPaddle keeps a paddle position within [paddleMin, paddleMax].
func clampPaddle(y float64) float64 {
	if y < paddleMin {
		return paddleMin
	}
	if y > paddleMax {
		return paddleMax
	}
	return y
}

// movePaddle advances a paddle one tick toward dir, returning the new
// position and the per-tick delta (paddle velocity) used for momentum
// transfer on collision.
func movePaddle(y float64, dir int) (newY, velocity float64) {
	switch dir {
	case 1: // up
		newY = clampPaddle(y - paddleSpeed)
	case 2: // down
		newY = clampPaddle(y + paddleSpeed)
	default:
		newY = y
	}
	return newY, newY - y
}

// sweptCrossing reports whether the ball's leading edge crossed the
// paddle line (paddleX) between prevX and x this tick, and if so the
// fraction t of the step at which it crossed. hitY is always returned as
// 0; callers interpolate the crossing Y from t. The crossing line is offset
// by the ball radius, horizontally scaled by the table's 16:9 aspect
// ratio (§4.2 step 7), since x is a 0-100 coordinate over a physically
// wider-than-tall table.
func sweptCrossing(prevX, x, paddleX float64, movingRight bool) (crossed bool, hitY float64, t float64) {
	scaledRadius := ballRadius * aspectRatio
	if movingRight {
		edge := paddleX - scaledRadius
		if prevX < edge && x >= edge {
			t = (edge - prevX) / (x - prevX)
			return true, 0, t
		}
		return false, 0, 0
	}
	edge := paddleX + scaledRadius
	if prevX > edge && x <= edge {
		t = (edge - prevX) / (x - prevX)
		return true, 0, t
	}
	return false, 0, 0
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

// withinPaddleSpan reports whether hitY falls within the paddle's
// vertical extent, widened by tolerance on both ends.
func withinPaddleSpan(hitY, paddleY float64) bool {
	top := paddleY - tolerance
	bottom := paddleY + paddleHalfLen + tolerance
	return hitY >= top && hitY <= bottom
}

// normalizedHit maps hitY into [-1, 1] relative to the paddle's center.
func normalizedHit(hitY, paddleY float64) float64 {
	center := paddleY + paddleHalfLen/2
	n := (hitY - center) / (paddleHalfLen/2 + tolerance)
	if n < -1 {
		n = -1
	}
	if n > 1 {
		n = 1
	}
	return n
}

// bounceAngle computes the outgoing angle from a normalized hit position.
func bounceAngle(hit float64) float64 {
	return hit * math.Pi / 3 * spinFactor
}
