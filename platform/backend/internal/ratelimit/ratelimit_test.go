package ratelimit

import (
	"testing"
	"time"
)

func TestAllowRespectsBurstThenThrottles(t *testing.T) {
	l := New(Config{RequestsPerSecond: 10, BurstSize: 2, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow(1) {
		t.Fatal("expected first request to be allowed")
	}
	if !l.Allow(1) {
		t.Fatal("expected second request within burst to be allowed")
	}
	if l.Allow(1) {
		t.Fatal("expected third immediate request to be throttled")
	}
}

func TestAllowTracksClientsIndependently(t *testing.T) {
	l := New(Config{RequestsPerSecond: 10, BurstSize: 1, CleanupInterval: time.Minute})
	defer l.Stop()

	if !l.Allow(1) {
		t.Fatal("expected user 1's first request to be allowed")
	}
	if !l.Allow(2) {
		t.Fatal("expected user 2's own limiter to be independent of user 1's")
	}
}
