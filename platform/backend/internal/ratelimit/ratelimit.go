package ratelimit

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter tuning.
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	CleanupInterval   time.Duration
}

// GameActionConfig is the default for game:move and matchmaking commands.
// Retuned from the teacher's WebSocketActionLimiter (5/s burst 10): paddle
// input is a continuous control signal sampled every tick, not a discrete
// turn action, so it needs a much higher ceiling.
var GameActionConfig = Config{
	RequestsPerSecond: 20.0,
	BurstSize:         40,
	CleanupInterval:   5 * time.Minute,
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages a per-client token bucket, adapted from the teacher's
// internal/middleware.RateLimiter, keyed by user ID rather than remote
// address since every command arrives over an authenticated connection.
type Limiter struct {
	limiters    map[int64]*clientLimiter
	mu          sync.RWMutex
	config      Config
	stopCleanup chan struct{}
}

func New(config Config) *Limiter {
	l := &Limiter{
		limiters:    make(map[int64]*clientLimiter),
		config:      config,
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a command from userID should proceed.
func (l *Limiter) Allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, exists := l.limiters[userID]
	if !exists {
		cl = &clientLimiter{
			limiter:  rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize),
			lastSeen: time.Now(),
		}
		l.limiters[userID] = cl
	} else {
		cl.lastSeen = time.Now()
	}

	return cl.limiter.Allow()
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.config.CleanupInterval)
	removed := 0
	for userID, cl := range l.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(l.limiters, userID)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("[RATELIMIT] cleaned up %d inactive limiters", removed)
	}
}

func (l *Limiter) Stop() {
	close(l.stopCleanup)
}
