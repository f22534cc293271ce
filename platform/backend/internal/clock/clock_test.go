package clock

import (
	"testing"
	"time"
)

func TestFakeClockFiresTimersInOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var fired []string

	c.AfterFunc(3*time.Second, func() { fired = append(fired, "first") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "second") })

	c.Advance(3 * time.Second)
	if len(fired) != 1 || fired[0] != "first" {
		t.Fatalf("expected only the 3s timer to fire, got %v", fired)
	}

	c.Advance(2 * time.Second)
	if len(fired) != 2 || fired[1] != "second" {
		t.Fatalf("expected the 5s timer to fire after advancing past it, got %v", fired)
	}
}

func TestFakeClockStopCancelsTimer(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false

	timer := c.AfterFunc(1*time.Second, func() { fired = true })
	timer.Stop()

	c.Advance(2 * time.Second)
	if fired {
		t.Error("expected stopped timer not to fire")
	}
}
