// Package idempotency implements the processed-events ledger and the
// idempotent emitter that sits in front of the event log transport.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tutormesh/coordinator/internal/domain"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the store can
// run inside a caller's transaction (the purchase worker's single-
// transaction write) or standalone.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the processed_events repository.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log.With().Str("component", "idempotency_store").Logger()}
}

// Pool exposes the store's underlying pool as a Querier, for callers that
// need to call the package-level MarkProcessed outside of any
// transaction (e.g. the cache worker's best-effort mark).
func (s *Store) Pool() Querier {
	return s.pool
}

// Lookup returns the stored eventId for (correlationID, eventType), or
// (uuid.Nil, false, nil) if no row exists yet.
func (s *Store) Lookup(ctx context.Context, correlationID, eventType string) (uuid.UUID, bool, error) {
	return lookup(ctx, s.pool, correlationID, eventType)
}

func lookup(ctx context.Context, q Querier, correlationID, eventType string) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := q.QueryRow(ctx,
		`SELECT event_id FROM processed_events WHERE correlation_id = $1 AND event_type = $2`,
		correlationID, eventType,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("idempotency: lookup %s/%s: %w", correlationID, eventType, err)
	}
	return id, true, nil
}

// IsProcessed is the consumer-side check a worker runs before any side
// effect: a cheap indexed lookup on (correlationId, eventType).
func (s *Store) IsProcessed(ctx context.Context, correlationID, eventType string) (bool, error) {
	_, ok, err := s.Lookup(ctx, correlationID, eventType)
	return ok, err
}

// MarkProcessed inserts the ledger row for an event this worker consumed
// and fully handled. q may be the pool or an in-flight transaction so the
// mark lands atomically with the worker's own writes.
func MarkProcessed(ctx context.Context, q Querier, event domain.ProcessedEvent) error {
	_, err := q.Exec(ctx,
		`INSERT INTO processed_events (event_id, event_type, correlation_id, payload, source, version, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (correlation_id, event_type) DO NOTHING`,
		event.EventID, event.EventType, event.CorrelationID, event.Payload, event.Source, event.Version, event.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("idempotency: mark processed %s/%s: %w", event.CorrelationID, event.EventType, err)
	}
	return nil
}

// insertIfAbsent performs the emitter's step 3: insert the ledger row,
// tolerating a unique-violation race against a concurrent emitter call as
// success (the loser reads back the winner's eventId).
func insertIfAbsent(ctx context.Context, q Querier, event domain.ProcessedEvent) (uuid.UUID, error) {
	_, err := q.Exec(ctx,
		`INSERT INTO processed_events (event_id, event_type, correlation_id, payload, source, version, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.EventID, event.EventType, event.CorrelationID, event.Payload, event.Source, event.Version, event.ProcessedAt,
	)
	if err == nil {
		return event.EventID, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		existing, ok, lookupErr := lookup(ctx, q, event.CorrelationID, event.EventType)
		if lookupErr != nil {
			return uuid.Nil, lookupErr
		}
		if ok {
			return existing, nil
		}
	}
	return uuid.Nil, fmt.Errorf("idempotency: insert ledger row for %s/%s: %w", event.CorrelationID, event.EventType, err)
}

// now is overridable in tests; production code always calls time.Now.
var now = time.Now
