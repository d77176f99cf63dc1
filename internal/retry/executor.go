// Package retry implements the retry executor and dead-letter publisher:
// bounded exponential backoff per worker, with exhaustion routed to the
// dead-letter-queue topic instead of being silently dropped.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
)

// Policy is one worker's retry schedule: delays follow
// initialDelay * multiplier^(attempt-1), capped at maxDelay.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// Policies per worker.
var (
	PurchasePolicy   = Policy{MaxAttempts: 3, Initial: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
	AllocationPolicy = Policy{MaxAttempts: 3, Initial: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
	SessionPolicy    = Policy{MaxAttempts: 3, Initial: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
	CachePolicy      = Policy{MaxAttempts: 3, Initial: 500 * time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Second}
)

// delay returns the backoff before the given attempt number (1-indexed).
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Handler is the unit of work the executor retries. An error wrapping
// domain.ErrPoisonInput is not retried: Run dead-letters it after the
// first attempt. Already-processed events never reach the executor as
// errors, since the idempotency check happens inside the handler itself,
// on the consumer side, and returns nil.
type Handler func(ctx context.Context) error

// Executor runs handlers under a Policy, publishing to the dead-letter
// queue on exhaustion.
type Executor struct {
	dlq *DLQPublisher
	log zerolog.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(dlq *DLQPublisher, log zerolog.Logger) *Executor {
	return &Executor{dlq: dlq, log: log.With().Str("component", "retry_executor").Logger()}
}

// Run executes handler up to policy.MaxAttempts times. On exhaustion (or
// on poison input) it publishes a DLQ message and returns a
// *domain.DeadLetterError wrapping the last error, which the harness
// treats as a terminal outcome and commits past; when swallow is true
// (the cache worker's best-effort policy) it publishes nothing and
// returns nil.
func (e *Executor) Run(ctx context.Context, policy Policy, rec Attempted, handler Handler, swallow bool) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = handler(ctx)
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, domain.ErrPoisonInput) {
			return e.deadLetter(ctx, rec, attempt, lastErr, swallow)
		}

		if attempt < policy.MaxAttempts {
			d := policy.delay(attempt)
			e.log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", d).
				Str("correlationId", rec.CorrelationID).Msg("handler failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
	}

	return e.deadLetter(ctx, rec, policy.MaxAttempts, lastErr, swallow)
}

func (e *Executor) deadLetter(ctx context.Context, rec Attempted, attempts int, cause error, swallow bool) error {
	if swallow {
		e.log.Warn().Err(cause).Int("attempts", attempts).
			Str("correlationId", rec.CorrelationID).
			Msg("best-effort handler exhausted retries, swallowing")
		return nil
	}

	if e.dlq != nil {
		if err := e.dlq.Publish(ctx, rec, attempts, cause); err != nil {
			e.log.Error().Err(err).Str("correlationId", rec.CorrelationID).Msg("failed to publish to dead-letter queue")
		}
	}

	return &domain.DeadLetterError{
		CorrelationID: rec.CorrelationID,
		EventType:     rec.EventType,
		Attempts:      attempts,
		Err:           cause,
	}
}

// Attempted carries the event-log coordinates of the record being
// retried, so a DLQ message can be built without the handler itself
// knowing about DLQ mechanics.
type Attempted struct {
	Topic         string
	Partition     int32
	Offset        int64
	CorrelationID string
	EventType     string
	EventID       string
	RawEvent      []byte
}
