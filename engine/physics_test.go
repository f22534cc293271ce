package engine

import "testing"

func TestClampPaddle(t *testing.T) {
	if got := clampPaddle(-5); got != paddleMin {
		t.Errorf("expected clamp to paddleMin, got %v", got)
	}
	if got := clampPaddle(120); got != paddleMax {
		t.Errorf("expected clamp to paddleMax, got %v", got)
	}
	if got := clampPaddle(45); got != 45 {
		t.Errorf("expected unclamped 45, got %v", got)
	}
}

func TestMovePaddleUpDown(t *testing.T) {
	y, vel := movePaddle(50, 1)
	if y != 49 {
		t.Errorf("expected paddle to move up by 1, got %v", y)
	}
	if vel != -1 {
		t.Errorf("expected velocity -1, got %v", vel)
	}

	y, vel = movePaddle(50, 2)
	if y != 51 {
		t.Errorf("expected paddle to move down by 1, got %v", y)
	}
	if vel != 1 {
		t.Errorf("expected velocity 1, got %v", vel)
	}

	y, vel = movePaddle(50, 0)
	if y != 50 || vel != 0 {
		t.Errorf("expected no movement for DirectionNone, got y=%v vel=%v", y, vel)
	}
}

func TestMovePaddleClampsAtBounds(t *testing.T) {
	y, _ := movePaddle(paddleMax, 2)
	if y != paddleMax {
		t.Errorf("expected paddle to stay at max bound, got %v", y)
	}
	y, _ = movePaddle(paddleMin, 1)
	if y != paddleMin {
		t.Errorf("expected paddle to stay at min bound, got %v", y)
	}
}

func TestSweptCrossingDetectsRightwardCrossing(t *testing.T) {
	crossed, _, tFrac := sweptCrossing(90, 98, rightPaddleX, true)
	if !crossed {
		t.Fatal("expected crossing to be detected")
	}
	if tFrac <= 0 || tFrac >= 1 {
		t.Errorf("expected interpolation fraction in (0,1), got %v", tFrac)
	}
}

func TestSweptCrossingMissesWhenNotCrossing(t *testing.T) {
	crossed, _, _ := sweptCrossing(10, 20, rightPaddleX, true)
	if crossed {
		t.Error("expected no crossing when ball stays left of paddle")
	}
}

func TestWithinPaddleSpanBoundary(t *testing.T) {
	paddleY := 40.0
	if !withinPaddleSpan(paddleY-tolerance, paddleY) {
		t.Error("expected hit at top-tolerance edge to be within span")
	}
	if !withinPaddleSpan(paddleY+paddleHalfLen+tolerance, paddleY) {
		t.Error("expected hit at bottom-tolerance edge to be within span")
	}
	if withinPaddleSpan(paddleY-tolerance-1, paddleY) {
		t.Error("expected hit just above the widened span to miss")
	}
}

func TestNormalizedHitRange(t *testing.T) {
	paddleY := 40.0
	n := normalizedHit(paddleY-tolerance, paddleY)
	if n < -1 || n > 1 {
		t.Errorf("expected normalized hit within [-1,1], got %v", n)
	}
}
