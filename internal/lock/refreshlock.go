// Package lock implements the refresh-lock coordinator: a Redis-backed
// mutual exclusion primitive serialising concurrent token rotations that
// share one session.
//
// Acquire/check/release shape with a logged best-effort release, built on
// a networked SET NX PX / DEL lock rather than a file-based one, since
// refresh rotations must be serialised across worker processes rather
// than one host.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
)

const keyPrefix = "refresh-lock:"

// RefreshLock coordinates token-rotation critical sections over Redis.
type RefreshLock struct {
	rdb *redis.Client
	log zerolog.Logger
}

// New constructs a RefreshLock over the given Redis client.
func New(rdb *redis.Client, log zerolog.Logger) *RefreshLock {
	return &RefreshLock{rdb: rdb, log: log.With().Str("component", "refresh_lock").Logger()}
}

func lockKey(sessionID string) string {
	return keyPrefix + sessionID
}

// Acquire performs SET key NX PX <ttl>, returning true iff the key was
// previously absent (lock acquired).
func (l *RefreshLock) Acquire(ctx context.Context, sessionID string, holder string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKey(sessionID), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock: acquire %s: %w", sessionID, err)
	}
	return ok, nil
}

// Wait polls for the lock's release with a small backoff, up to timeout.
// It returns true once the key is observed absent, false if the deadline
// passes first.
func (l *RefreshLock) Wait(ctx context.Context, sessionID string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	backoff := 25 * time.Millisecond
	const maxBackoff = 200 * time.Millisecond

	for {
		exists, err := l.rdb.Exists(ctx, lockKey(sessionID)).Result()
		if err != nil {
			return false, fmt.Errorf("lock: wait check %s: %w", sessionID, err)
		}
		if exists == 0 {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Release performs a best-effort DEL; failure is logged, never raised,
// treating a missing lock the same as a successfully released one.
func (l *RefreshLock) Release(ctx context.Context, sessionID string) {
	if err := l.rdb.Del(ctx, lockKey(sessionID)).Err(); err != nil {
		l.log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to release refresh lock")
	}
}

// AcquireWithRetry implements the refresh-path protocol step 2: try once,
// wait, try once more, else ErrLockHeld so the caller responds 429.
func (l *RefreshLock) AcquireWithRetry(ctx context.Context, sessionID, holder string, ttl, waitMax time.Duration) error {
	ok, err := l.Acquire(ctx, sessionID, holder, ttl)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if _, err := l.Wait(ctx, sessionID, waitMax); err != nil {
		return err
	}

	ok, err = l.Acquire(ctx, sessionID, holder, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrLockHeld
	}
	return nil
}
