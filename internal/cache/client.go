// Package cache wraps the Redis client used by the cache worker for
// invalidation and by the refresh-lock coordinator for locking.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps *redis.Client, following the gateway's one-client,
// constructed-once-and-threaded-down shape.
type Client struct {
	rdb *redis.Client
}

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New creates a Redis client from cfg.
func New(cfg Config) *Client {
	r := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{rdb: r}
}

// Raw exposes the underlying client for packages (like internal/lock)
// that need primitives this wrapper doesn't surface.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(pingCtx).Err()
}

// Cache key prefixes for the read models invalidated by cacheworker.
const (
	KeyStudentHome     = "student:home:%s"
	KeyStudentLearning = "student:learning:%s"
)

// StudentHomeKey returns the cache key for a student's home view.
func StudentHomeKey(studentID string) string {
	return fmt.Sprintf(KeyStudentHome, studentID)
}

// StudentLearningKey returns the cache key for a student's learning view.
func StudentLearningKey(studentID string) string {
	return fmt.Sprintf(KeyStudentLearning, studentID)
}

// Invalidate deletes a cache key, treating a missing key as success (the
// view was already stale/absent).
func (c *Client) Invalidate(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: invalidate %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
