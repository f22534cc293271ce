package redisx

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis configuration. Package named redisx, not redis, to
// avoid colliding with the go-redis "redis" import it wraps.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Client wraps redis.Client.
type Client struct {
	*redis.Client
}

// New creates a new Redis client.
func New(config Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%s", config.Host, config.Port)
	log.Printf("[REDIS] Connecting to Redis at %s...", addr)

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("[REDIS] Successfully connected to Redis at %s", addr)

	return &Client{Client: client}, nil
}

func (c *Client) Close() error {
	log.Println("[REDIS] Closing Redis connection...")
	return c.Client.Close()
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// LeaderboardEntry is one ranked user's sorted-set member.
type LeaderboardEntry struct {
	UserID int64
	Score  float64
}

// ReplaceLeaderboard atomically clears key and reloads it from entries.
// This is the ranking Service's only use of raw ZSET commands (§4.5's
// leaderboard cache), centralized here so the sorted-set shape lives in
// one place instead of every caller hand-building redis.Z values.
func (c *Client) ReplaceLeaderboard(ctx context.Context, key string, entries []LeaderboardEntry) error {
	_, err := c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		for _, e := range entries {
			pipe.ZAdd(ctx, key, redis.Z{Score: e.Score, Member: e.UserID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace leaderboard cache %s: %w", key, err)
	}
	return nil
}
